package input

import (
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/banshee-data/detection.pipeline/internal/tensor"
)

// Processor maps one raw record to its structured output fields and a bucket
// key. It is invoked concurrently from multiple reader workers and possibly
// out of order, so it must be a pure function of its inputs. A key <= 0 is an
// explicit drop signal, not an error; a returned error is fatal to the
// pipeline.
type Processor func(sourceID int, record []byte) (tensor.NestedMap, int, error)

// Batch is one fixed-shape output batch: every field tensor has a leading
// dimension equal to the bucket's batch limit, and BucketKeys carries the
// per-example bucket keys for diagnostics and downstream dropping logic.
type Batch struct {
	Fields     tensor.NestedMap
	BucketKeys []int
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	RecordsSampled   int64
	RecordsDropped   int64
	BatchesEmitted   int64
	PerSourceRecords []int64
}

// ErrStopped is returned by Next after Close tears the pipeline down.
var ErrStopped = errors.New("input: pipeline stopped")

type processedItem struct {
	fields tensor.NestedMap
	key    int
}

// GenericInput is the randomized sampler/batcher. FileParallelism reader
// workers sample sources by weight, read records through per-source shuffle
// buffers, and run the processor; a single batching stage owns all bucket
// accumulation state, so bucket mutation is serialized even though record
// production is parallel.
type GenericInput struct {
	cfg     Config
	proc    Processor
	sources []Source
	readers []*sourceReader
	seed    int64

	itemCh   chan processedItem
	batchCh  chan *Batch
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool

	mu    sync.Mutex
	err   error
	stats Stats
}

// NewGenericInput validates the configuration, expands the sources and
// prepares (but does not start) the pipeline. Configuration errors are fatal
// here, before any goroutine runs.
func NewGenericInput(cfg Config, proc Processor) (*GenericInput, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if proc == nil {
		return nil, fmt.Errorf("input: processor is required")
	}
	sources, err := ParseFilePattern(cfg.FilePattern, cfg.InputSourceWeights)
	if err != nil {
		return nil, err
	}

	seed := cfg.FileRandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	g := &GenericInput{
		cfg:     cfg,
		proc:    proc,
		sources: sources,
		seed:    seed,
		itemCh:  make(chan processedItem, cfg.FileParallelism*2),
		batchCh: make(chan *Batch, 1),
		stopCh:  make(chan struct{}),
	}
	g.stats.PerSourceRecords = make([]int64, len(sources))

	for i, src := range sources {
		rng := rand.New(rand.NewSource(seed + int64(i+1)*7919))
		reader, err := newSourceReader(i, src, cfg.FileBufferSize, cfg.Repeat, rng)
		if err != nil {
			return nil, err
		}
		g.readers = append(g.readers, reader)
	}
	return g, nil
}

// Start launches the reader workers and the batching stage.
func (g *GenericInput) Start() {
	if g.started {
		return
	}
	g.started = true
	log.Printf("[GenericInput] starting: %d sources, parallelism=%d, buckets=%v",
		len(g.sources), g.cfg.FileParallelism, g.cfg.BucketUpperBound)

	for w := 0; w < g.cfg.FileParallelism; w++ {
		g.wg.Add(1)
		go g.readerWorker(w)
	}
	go func() {
		g.wg.Wait()
		close(g.itemCh)
	}()
	go g.batchWorker()
}

// Next blocks until a bucket fills and returns its batch. It returns io.EOF
// once all sources are exhausted in non-repeat mode, ErrStopped after Close,
// or the pipeline's fatal error.
func (g *GenericInput) Next() (*Batch, error) {
	select {
	case b, ok := <-g.batchCh:
		if !ok {
			if err := g.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		return b, nil
	case <-g.stopCh:
		if err := g.Err(); err != nil {
			return nil, err
		}
		return nil, ErrStopped
	}
}

// Err returns the pipeline's fatal error, if any.
func (g *GenericInput) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

// Stats returns a snapshot of the pipeline counters.
func (g *GenericInput) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.stats
	s.PerSourceRecords = append([]int64(nil), g.stats.PerSourceRecords...)
	return s
}

// Close stops the pipeline and releases open files. Safe to call more than
// once.
func (g *GenericInput) Close() {
	g.stop()
	if g.started {
		g.wg.Wait()
	}
	for _, r := range g.readers {
		r.close()
	}
}

func (g *GenericInput) stop() {
	g.stopOnce.Do(func() { close(g.stopCh) })
}

// fail records the first fatal error and tears the pipeline down.
func (g *GenericInput) fail(err error) {
	g.mu.Lock()
	if g.err == nil {
		g.err = err
		log.Printf("[GenericInput] fatal: %v", err)
	}
	g.mu.Unlock()
	g.stop()
}

// pickSource selects a source index with probability proportional to its
// weight, skipping drained sources. Returns -1 when nothing is left.
func (g *GenericInput) pickSource(rng *rand.Rand) int {
	total := 0.0
	for i, src := range g.sources {
		if !g.readers[i].drained() {
			total += src.Weight
		}
	}
	if total == 0 {
		return -1
	}
	r := rng.Float64() * total
	for i, src := range g.sources {
		if g.readers[i].drained() {
			continue
		}
		r -= src.Weight
		if r < 0 {
			return i
		}
	}
	// Float accumulation can leave r barely positive; take the last active.
	for i := len(g.sources) - 1; i >= 0; i-- {
		if !g.readers[i].drained() {
			return i
		}
	}
	return -1
}

func (g *GenericInput) readerWorker(id int) {
	defer g.wg.Done()
	rng := rand.New(rand.NewSource(g.seed + 104729*int64(id+1)))

	for {
		select {
		case <-g.stopCh:
			return
		default:
		}

		idx := g.pickSource(rng)
		if idx < 0 {
			return
		}
		rec, err := g.readers[idx].next()
		if err == io.EOF {
			// Drained between selection and read; resample.
			continue
		}
		if err != nil {
			g.fail(err)
			return
		}

		g.mu.Lock()
		g.stats.RecordsSampled++
		g.stats.PerSourceRecords[idx]++
		g.mu.Unlock()

		fields, key, err := g.proc(idx, rec)
		if err != nil {
			g.fail(fmt.Errorf("input: processor: %w", err))
			return
		}
		if key <= 0 {
			g.countDrop()
			continue
		}

		select {
		case g.itemCh <- processedItem{fields: fields, key: key}:
		case <-g.stopCh:
			return
		}
	}
}

func (g *GenericInput) countDrop() {
	g.mu.Lock()
	g.stats.RecordsDropped++
	g.mu.Unlock()
}

// batchWorker is the single batching stage. It owns every bucket's
// accumulation slice; no other goroutine touches them.
func (g *GenericInput) batchWorker() {
	defer close(g.batchCh)
	buckets := make([][]processedItem, len(g.cfg.BucketUpperBound))

	for {
		var item processedItem
		var ok bool
		select {
		case <-g.stopCh:
			return
		case item, ok = <-g.itemCh:
			if !ok {
				// End of data. Partially filled buckets are discarded:
				// batches are fixed-shape by contract.
				return
			}
		}

		b := g.routeBucket(item.key)
		if b < 0 {
			g.countDrop()
			continue
		}
		buckets[b] = append(buckets[b], item)
		if len(buckets[b]) < g.cfg.BucketBatchLimit[b] {
			continue
		}

		batch, err := g.flush(buckets[b])
		buckets[b] = nil
		if err != nil {
			g.fail(err)
			return
		}
		select {
		case g.batchCh <- batch:
			g.mu.Lock()
			g.stats.BatchesEmitted++
			g.mu.Unlock()
		case <-g.stopCh:
			return
		}
	}
}

// routeBucket returns the smallest bucket whose upper bound admits the key,
// or -1 when no bucket accommodates it (the record is dropped, never
// emitted). Comparison is inclusive: a key exactly at an upper bound lands
// in that bucket.
func (g *GenericInput) routeBucket(key int) int {
	for i, ub := range g.cfg.BucketUpperBound {
		if key <= ub {
			return i
		}
	}
	return -1
}

// flush pads and stacks one bucket's accumulated items into a fixed-shape
// batch. Any disagreement in field sets, dtypes, or non-padded dimensions is
// a fatal shape-mismatch error; no partial batch is emitted.
func (g *GenericInput) flush(items []processedItem) (*Batch, error) {
	keys := items[0].fields.Keys()
	for i, item := range items[1:] {
		got := item.fields.Keys()
		if len(got) != len(keys) {
			return nil, fmt.Errorf("input: flush: record %d has %d fields, want %d", i+1, len(got), len(keys))
		}
		for j, k := range keys {
			if got[j] != k {
				return nil, fmt.Errorf("input: flush: record %d field %q, want %q", i+1, got[j], k)
			}
		}
	}

	padDims := g.cfg.DynamicPaddingDimensions
	padConsts := g.cfg.DynamicPaddingConstants
	if len(padDims) > 0 && len(padDims) != len(keys) {
		return nil, fmt.Errorf("input: %d dynamic padding dimensions for %d output fields", len(padDims), len(keys))
	}

	stacked := make([]*tensor.Tensor, len(keys))
	for j, k := range keys {
		ts := make([]*tensor.Tensor, len(items))
		for i, item := range items {
			ts[i] = item.fields[k]
		}

		if len(padDims) > 0 && padDims[j] >= 0 {
			dim := padDims[j]
			maxExtent := 0
			for i, t := range ts {
				if dim >= t.Rank() {
					return nil, fmt.Errorf("input: flush: field %q record %d has rank %d, cannot pad dimension %d",
						k, i, t.Rank(), dim)
				}
				if e := t.Dim(dim); e > maxExtent {
					maxExtent = e
				}
			}
			for i, t := range ts {
				padded, err := t.PadTo(dim, maxExtent, padConsts[j])
				if err != nil {
					return nil, fmt.Errorf("input: flush: field %q record %d: %w", k, i, err)
				}
				ts[i] = padded
			}
		}

		out, err := tensor.Stack(ts)
		if err != nil {
			return nil, fmt.Errorf("input: flush: field %q: %w", k, err)
		}
		stacked[j] = out
	}

	fields, err := tensor.Pack(keys, stacked)
	if err != nil {
		return nil, err
	}
	bucketKeys := make([]int, len(items))
	for i, item := range items {
		bucketKeys[i] = item.key
	}
	return &Batch{Fields: fields, BucketKeys: bucketKeys}, nil
}
