package input

import (
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"testing"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/detection.pipeline/internal/recordio"
	"github.com/banshee-data/detection.pipeline/internal/tensor"
)

// writeSourceFile writes one record file with the given payloads.
func writeSourceFile(t *testing.T, path string, payloads []string) {
	t.Helper()
	w, err := recordio.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	for _, p := range payloads {
		if err := w.Write([]byte(p)); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close %s: %v", path, err)
	}
}

// idProcessor parses the record payload as an integer ID and emits it as a
// scalar field with a constant bucket key of 1.
func idProcessor(sourceID int, record []byte) (tensor.NestedMap, int, error) {
	id, err := strconv.Atoi(string(record))
	if err != nil {
		return nil, 0, err
	}
	return tensor.NestedMap{
		"id":     tensor.ScalarInt64(int64(id)),
		"source": tensor.ScalarInt64(int64(sourceID)),
	}, 1, nil
}

func TestSinglePassCoversEveryRecordOnce(t *testing.T) {
	dir := t.TempDir()
	const numRecords = 100
	var payloads []string
	for i := 0; i < numRecords; i++ {
		payloads = append(payloads, strconv.Itoa(i))
	}
	// Split across three files to exercise the file cycling.
	writeSourceFile(t, filepath.Join(dir, "part-0.rec"), payloads[:30])
	writeSourceFile(t, filepath.Join(dir, "part-1.rec"), payloads[30:70])
	writeSourceFile(t, filepath.Join(dir, "part-2.rec"), payloads[70:])

	cfg := DefaultConfig()
	cfg.FilePattern = "recordio:" + filepath.Join(dir, "*.rec")
	cfg.FileRandomSeed = 301
	cfg.BucketUpperBound = []int{1}
	cfg.BucketBatchLimit = []int{10}
	cfg.Repeat = false

	gi, err := NewGenericInput(cfg, idProcessor)
	if err != nil {
		t.Fatalf("NewGenericInput: %v", err)
	}
	gi.Start()
	defer gi.Close()

	seen := map[int64]int{}
	batches := 0
	for {
		batch, err := gi.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		batches++
		ids := batch.Fields["id"]
		if got := ids.Dim(0); got != 10 {
			t.Fatalf("batch size = %d, want 10", got)
		}
		for _, id := range ids.Int64s() {
			seen[id]++
		}
	}

	if batches != numRecords/10 {
		t.Errorf("batches = %d, want %d", batches, numRecords/10)
	}
	if len(seen) != numRecords {
		t.Errorf("distinct records = %d, want %d", len(seen), numRecords)
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("record %d seen %d times, want 1", id, n)
		}
	}
}

func TestWeightedMixingConverges(t *testing.T) {
	dir := t.TempDir()
	var a, b []string
	for i := 0; i < 200; i++ {
		a = append(a, strconv.Itoa(i))
		b = append(b, strconv.Itoa(1000+i))
	}
	writeSourceFile(t, filepath.Join(dir, "a.rec"), a)
	writeSourceFile(t, filepath.Join(dir, "b.rec"), b)

	cfg := DefaultConfig()
	cfg.FilePattern = fmt.Sprintf("recordio:%s,recordio:%s",
		filepath.Join(dir, "a.rec"), filepath.Join(dir, "b.rec"))
	cfg.InputSourceWeights = []float64{3, 1}
	cfg.FileRandomSeed = 7
	cfg.BucketUpperBound = []int{1}
	cfg.BucketBatchLimit = []int{50}

	gi, err := NewGenericInput(cfg, idProcessor)
	if err != nil {
		t.Fatalf("NewGenericInput: %v", err)
	}
	gi.Start()
	defer gi.Close()

	const numBatches = 100
	fractions := make([]float64, 0, numBatches)
	for i := 0; i < numBatches; i++ {
		batch, err := gi.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		sources := batch.Fields["source"].Int64s()
		fromFirst := 0
		for _, s := range sources {
			if s == 0 {
				fromFirst++
			}
		}
		fractions = append(fractions, float64(fromFirst)/float64(len(sources)))
	}

	observed := stat.Mean(fractions, nil)
	if want := 0.75; math.Abs(observed-want) > 0.05 {
		t.Errorf("source 0 mean fraction = %.3f, want %.2f +/- 0.05", observed, want)
	}
}

func TestNonPositiveBucketKeyDropsRecord(t *testing.T) {
	dir := t.TempDir()
	var payloads []string
	for i := 0; i < 40; i++ {
		payloads = append(payloads, strconv.Itoa(i))
	}
	writeSourceFile(t, filepath.Join(dir, "src.rec"), payloads)

	// Even IDs get a valid key, odd IDs are vetoed.
	proc := func(sourceID int, record []byte) (tensor.NestedMap, int, error) {
		id, err := strconv.Atoi(string(record))
		if err != nil {
			return nil, 0, err
		}
		key := 1
		if id%2 == 1 {
			key = 0
		}
		return tensor.NestedMap{"id": tensor.ScalarInt64(int64(id))}, key, nil
	}

	cfg := DefaultConfig()
	cfg.FilePattern = "recordio:" + filepath.Join(dir, "src.rec")
	cfg.FileRandomSeed = 11
	cfg.BucketUpperBound = []int{1}
	cfg.BucketBatchLimit = []int{5}
	cfg.Repeat = false

	gi, err := NewGenericInput(cfg, proc)
	if err != nil {
		t.Fatalf("NewGenericInput: %v", err)
	}
	gi.Start()
	defer gi.Close()

	var emitted []int64
	for {
		batch, err := gi.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		emitted = append(emitted, batch.Fields["id"].Int64s()...)
	}

	if len(emitted) != 20 {
		t.Errorf("emitted %d records, want 20", len(emitted))
	}
	for _, id := range emitted {
		if id%2 == 1 {
			t.Errorf("odd record %d should have been dropped", id)
		}
	}
	if stats := gi.Stats(); stats.RecordsDropped != 20 {
		t.Errorf("RecordsDropped = %d, want 20", stats.RecordsDropped)
	}
}

func TestBucketRoutingInclusiveAndOverflowDrop(t *testing.T) {
	dir := t.TempDir()
	// Keys 1..12; bounds [4, 8]: keys 9..12 have no bucket and are dropped.
	var payloads []string
	for i := 1; i <= 12; i++ {
		payloads = append(payloads, strconv.Itoa(i))
	}
	writeSourceFile(t, filepath.Join(dir, "src.rec"), payloads)

	proc := func(sourceID int, record []byte) (tensor.NestedMap, int, error) {
		key, err := strconv.Atoi(string(record))
		if err != nil {
			return nil, 0, err
		}
		return tensor.NestedMap{"key": tensor.ScalarInt64(int64(key))}, key, nil
	}

	cfg := DefaultConfig()
	cfg.FilePattern = "recordio:" + filepath.Join(dir, "src.rec")
	cfg.FileRandomSeed = 5
	cfg.BucketUpperBound = []int{4, 8}
	cfg.BucketBatchLimit = []int{4, 4}
	cfg.Repeat = false

	gi, err := NewGenericInput(cfg, proc)
	if err != nil {
		t.Fatalf("NewGenericInput: %v", err)
	}
	gi.Start()
	defer gi.Close()

	for {
		batch, err := gi.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		// Every batch must be homogeneous: all keys <= 4 or all in (4, 8].
		low := batch.BucketKeys[0] <= 4
		for _, k := range batch.BucketKeys {
			if k > 8 {
				t.Errorf("key %d above every bound was emitted", k)
			}
			if (k <= 4) != low {
				t.Errorf("mixed buckets in one batch: keys %v", batch.BucketKeys)
			}
		}
	}

	// Keys 9..12 never fit a bucket.
	if stats := gi.Stats(); stats.RecordsDropped != 4 {
		t.Errorf("RecordsDropped = %d, want 4", stats.RecordsDropped)
	}
}

func TestDynamicPaddingFillsToBatchMax(t *testing.T) {
	dir := t.TempDir()
	// Each record is a variable-length run: key n yields an [n] tensor of
	// value n. Lengths 1..4 land in one bucket and one batch.
	var payloads []string
	for i := 1; i <= 4; i++ {
		payloads = append(payloads, strconv.Itoa(i))
	}
	writeSourceFile(t, filepath.Join(dir, "src.rec"), payloads)

	proc := func(sourceID int, record []byte) (tensor.NestedMap, int, error) {
		n, err := strconv.Atoi(string(record))
		if err != nil {
			return nil, 0, err
		}
		vals := make([]float64, n)
		for i := range vals {
			vals[i] = float64(n)
		}
		vt, err := tensor.NewFloat64([]int{n}, vals)
		if err != nil {
			return nil, 0, err
		}
		return tensor.NestedMap{"vals": vt}, n, nil
	}

	cfg := DefaultConfig()
	cfg.FilePattern = "recordio:" + filepath.Join(dir, "src.rec")
	cfg.FileRandomSeed = 17
	cfg.BucketUpperBound = []int{4}
	cfg.BucketBatchLimit = []int{4}
	cfg.DynamicPaddingDimensions = []int{0}
	cfg.DynamicPaddingConstants = []float64{-1}
	cfg.Repeat = false

	gi, err := NewGenericInput(cfg, proc)
	if err != nil {
		t.Fatalf("NewGenericInput: %v", err)
	}
	gi.Start()
	defer gi.Close()

	batch, err := gi.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}

	vals := batch.Fields["vals"]
	if got, want := vals.Shape(), []int{4, 4}; got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("vals shape = %v, want %v", got, want)
	}
	data := vals.Float64s()
	for row := 0; row < 4; row++ {
		n := batch.BucketKeys[row]
		for col := 0; col < 4; col++ {
			got := data[row*4+col]
			want := -1.0
			if col < n {
				want = float64(n)
			}
			if got != want {
				t.Errorf("row %d col %d = %v, want %v", row, col, got, want)
			}
		}
	}
}

func TestProcessorErrorIsFatal(t *testing.T) {
	dir := t.TempDir()
	writeSourceFile(t, filepath.Join(dir, "src.rec"), []string{"1", "2", "3"})

	procErr := errors.New("bad record")
	proc := func(sourceID int, record []byte) (tensor.NestedMap, int, error) {
		return nil, 0, procErr
	}

	cfg := DefaultConfig()
	cfg.FilePattern = "recordio:" + filepath.Join(dir, "src.rec")
	cfg.BucketUpperBound = []int{1}
	cfg.BucketBatchLimit = []int{1}

	gi, err := NewGenericInput(cfg, proc)
	if err != nil {
		t.Fatalf("NewGenericInput: %v", err)
	}
	gi.Start()
	defer gi.Close()

	_, err = gi.Next()
	if err == nil || !errors.Is(err, procErr) {
		t.Fatalf("Next = %v, want wrapped %v", err, procErr)
	}
}

func TestCloseUnblocksNext(t *testing.T) {
	dir := t.TempDir()
	writeSourceFile(t, filepath.Join(dir, "src.rec"), []string{"1"})

	cfg := DefaultConfig()
	cfg.FilePattern = "recordio:" + filepath.Join(dir, "src.rec")
	cfg.BucketUpperBound = []int{1}
	// The limit is never reached, so Next would block forever without Close.
	cfg.BucketBatchLimit = []int{1000}

	gi, err := NewGenericInput(cfg, idProcessor)
	if err != nil {
		t.Fatalf("NewGenericInput: %v", err)
	}
	gi.Start()

	done := make(chan error, 1)
	go func() {
		_, err := gi.Next()
		done <- err
	}()
	gi.Close()

	// Shutdown surfaces as ErrStopped via the stop channel, or as io.EOF if
	// the batch channel close wins the race; both mean the pipeline is down.
	if err := <-done; !errors.Is(err, ErrStopped) && err != io.EOF {
		t.Fatalf("Next after Close = %v, want ErrStopped or io.EOF", err)
	}
}

func TestGlobWithNoMatchesIsFatal(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FilePattern = "recordio:" + filepath.Join(t.TempDir(), "missing-*.rec")
	cfg.BucketUpperBound = []int{1}
	cfg.BucketBatchLimit = []int{1}

	if _, err := NewGenericInput(cfg, idProcessor); err == nil {
		t.Fatal("expected error for glob matching no files")
	}
}
