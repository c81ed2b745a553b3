package input

import (
	"fmt"
	"io"
	"math/rand"
	"sync"

	"github.com/banshee-data/detection.pipeline/internal/recordio"
)

// sourceReader streams records from one source's file list. Files are
// visited in a shuffled order and reshuffled on every cycle; a shuffle
// buffer of configurable capacity breaks up residual file order before
// records are handed to the samplers. It is shared by all reader workers,
// so every method locks.
type sourceReader struct {
	id      int
	src     Source
	bufSize int
	repeat  bool

	mu        sync.Mutex
	rng       *rand.Rand
	files     []string
	fileIdx   int
	cur       *recordio.Reader
	buf       [][]byte
	exhausted bool
}

func newSourceReader(id int, src Source, bufSize int, repeat bool, rng *rand.Rand) (*sourceReader, error) {
	files, err := src.expand()
	if err != nil {
		return nil, err
	}
	r := &sourceReader{
		id:      id,
		src:     src,
		bufSize: bufSize,
		repeat:  repeat,
		rng:     rng,
		files:   files,
	}
	r.shuffleFiles()
	return r, nil
}

// shuffleFiles reorders the file list in place. Caller holds mu (or is the
// constructor).
func (r *sourceReader) shuffleFiles() {
	r.rng.Shuffle(len(r.files), func(i, j int) {
		r.files[i], r.files[j] = r.files[j], r.files[i]
	})
}

// readRecord pulls the next raw record from the underlying file stream,
// advancing through the shuffled file list. Returns io.EOF only when the
// source is exhausted in non-repeat mode. Caller holds mu.
func (r *sourceReader) readRecord() ([]byte, error) {
	for {
		if r.exhausted {
			return nil, io.EOF
		}
		if r.cur == nil {
			reader, err := recordio.Open(r.files[r.fileIdx])
			if err != nil {
				return nil, err
			}
			r.cur = reader
		}
		rec, err := r.cur.Next()
		if err == nil {
			return rec, nil
		}
		r.cur.Close()
		r.cur = nil
		if err != io.EOF {
			// Malformed records are fatal parsing errors, not EOF.
			return nil, err
		}
		r.fileIdx++
		if r.fileIdx >= len(r.files) {
			if !r.repeat {
				r.exhausted = true
				continue
			}
			r.fileIdx = 0
			r.shuffleFiles()
		}
	}
}

// next returns one record drawn at random from the shuffle buffer, refilling
// the buffer from the file stream first. io.EOF means the source is fully
// drained (non-repeat mode only).
func (r *sourceReader) next() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for len(r.buf) < r.bufSize {
		rec, err := r.readRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("input: source %d (%s): %w", r.id, r.src.Pattern, err)
		}
		r.buf = append(r.buf, rec)
	}
	if len(r.buf) == 0 {
		return nil, io.EOF
	}

	i := r.rng.Intn(len(r.buf))
	rec := r.buf[i]
	last := len(r.buf) - 1
	r.buf[i] = r.buf[last]
	r.buf[last] = nil
	r.buf = r.buf[:last]
	return rec, nil
}

// close releases the open file, if any.
func (r *sourceReader) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur != nil {
		r.cur.Close()
		r.cur = nil
	}
}

// drained reports whether the source has no more records to give.
func (r *sourceReader) drained() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exhausted && len(r.buf) == 0
}
