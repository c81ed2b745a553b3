package input

import (
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

// appendGarbage writes a partial frame header at the end of a record file.
func appendGarbage(t *testing.T, path string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open append: %v", err)
	}
	defer f.Close()
	if _, err := f.Write([]byte{0xde, 0xad, 0xbe}); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func newTestSourceReader(t *testing.T, pattern string, bufSize int, repeat bool, seed int64) *sourceReader {
	t.Helper()
	r, err := newSourceReader(0, Source{Format: FormatRecordIO, Pattern: pattern, Weight: 1},
		bufSize, repeat, rand.New(rand.NewSource(seed)))
	if err != nil {
		t.Fatalf("newSourceReader: %v", err)
	}
	t.Cleanup(r.close)
	return r
}

func TestSourceReaderDrainsOnce(t *testing.T) {
	dir := t.TempDir()
	var payloads []string
	for i := 0; i < 50; i++ {
		payloads = append(payloads, strconv.Itoa(i))
	}
	writeSourceFile(t, filepath.Join(dir, "a.rec"), payloads[:20])
	writeSourceFile(t, filepath.Join(dir, "b.rec"), payloads[20:])

	r := newTestSourceReader(t, filepath.Join(dir, "*.rec"), 8, false, 42)

	seen := map[string]bool{}
	for {
		rec, err := r.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if seen[string(rec)] {
			t.Fatalf("record %q emitted twice in a single pass", rec)
		}
		seen[string(rec)] = true
	}
	if len(seen) != 50 {
		t.Errorf("drained %d records, want 50", len(seen))
	}
	if !r.drained() {
		t.Error("reader not drained after EOF")
	}
}

func TestSourceReaderShuffleBufferReorders(t *testing.T) {
	dir := t.TempDir()
	var payloads []string
	for i := 0; i < 100; i++ {
		payloads = append(payloads, strconv.Itoa(i))
	}
	writeSourceFile(t, filepath.Join(dir, "a.rec"), payloads)

	r := newTestSourceReader(t, filepath.Join(dir, "a.rec"), 32, false, 1)

	inOrder := true
	for i := 0; i < 100; i++ {
		rec, err := r.next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if string(rec) != payloads[i] {
			inOrder = false
		}
	}
	if inOrder {
		t.Error("100 records came back in exact file order despite the shuffle buffer")
	}
}

func TestSourceReaderRepeatCycles(t *testing.T) {
	dir := t.TempDir()
	writeSourceFile(t, filepath.Join(dir, "a.rec"), []string{"x", "y", "z"})

	r := newTestSourceReader(t, filepath.Join(dir, "a.rec"), 2, true, 9)

	counts := map[string]int{}
	for i := 0; i < 30; i++ {
		rec, err := r.next()
		if err != nil {
			t.Fatalf("next on cycle %d: %v", i, err)
		}
		counts[string(rec)]++
	}
	for _, k := range []string{"x", "y", "z"} {
		if counts[k] == 0 {
			t.Errorf("record %q never seen across cycles", k)
		}
	}
	if r.drained() {
		t.Error("repeating reader reports drained")
	}
}

func TestSourceReaderCorruptFileIsFatal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.rec")
	writeSourceFile(t, path, []string{"valid"})
	// Append garbage so the second frame is malformed.
	appendGarbage(t, path)

	r := newTestSourceReader(t, path, 8, false, 3)
	if _, err := r.next(); err == nil || err == io.EOF {
		t.Fatalf("next = %v, want a fatal parse error", err)
	}
}
