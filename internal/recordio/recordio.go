// Package recordio implements the record-oriented file format used by the
// input pipeline sources and the decode output sink.
//
// A file is a sequence of framed records:
//
//	uint32 little-endian payload length
//	uint32 little-endian IEEE CRC-32 of the payload
//	payload bytes
//
// Records are opaque byte strings; interpretation is the caller's concern.
package recordio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
)

// MaxRecordSize bounds a single record. A length prefix beyond this is
// treated as file corruption rather than an allocation request.
const MaxRecordSize = 256 << 20 // 256 MiB

// Writer appends framed records to a file sequentially.
type Writer struct {
	f   *os.File
	buf *bufio.Writer
}

// Create opens path for writing, truncating any existing file. Overwrite
// semantics are the caller's responsibility.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("recordio: create %s: %w", path, err)
	}
	return &Writer{f: f, buf: bufio.NewWriter(f)}, nil
}

// NewWriter wraps an already-open file.
func NewWriter(f *os.File) *Writer {
	return &Writer{f: f, buf: bufio.NewWriter(f)}
}

// Write appends one record.
func (w *Writer) Write(rec []byte) error {
	if len(rec) > MaxRecordSize {
		return fmt.Errorf("recordio: record of %d bytes exceeds max %d", len(rec), MaxRecordSize)
	}
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(rec)))
	binary.LittleEndian.PutUint32(hdr[4:8], crc32.ChecksumIEEE(rec))
	if _, err := w.buf.Write(hdr[:]); err != nil {
		return fmt.Errorf("recordio: write header: %w", err)
	}
	if _, err := w.buf.Write(rec); err != nil {
		return fmt.Errorf("recordio: write payload: %w", err)
	}
	return nil
}

// Close flushes buffered data and closes the file.
func (w *Writer) Close() error {
	if err := w.buf.Flush(); err != nil {
		w.f.Close()
		return fmt.Errorf("recordio: flush: %w", err)
	}
	return w.f.Close()
}

// Reader iterates the records of a file in order.
type Reader struct {
	path string
	f    *os.File
	buf  *bufio.Reader
}

// Open opens path for reading.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("recordio: open %s: %w", path, err)
	}
	return &Reader{path: path, f: f, buf: bufio.NewReader(f)}, nil
}

// Next returns the next record, or io.EOF at end of file. A truncated or
// corrupt frame is an error distinct from EOF: malformed input is fatal to
// the stream, not silently skipped.
func (r *Reader) Next() ([]byte, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r.buf, hdr[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("recordio: %s: truncated record header: %w", r.path, err)
	}
	n := binary.LittleEndian.Uint32(hdr[0:4])
	want := binary.LittleEndian.Uint32(hdr[4:8])
	if n > MaxRecordSize {
		return nil, fmt.Errorf("recordio: %s: record length %d exceeds max %d (corrupt file?)", r.path, n, MaxRecordSize)
	}
	rec := make([]byte, n)
	if _, err := io.ReadFull(r.buf, rec); err != nil {
		return nil, fmt.Errorf("recordio: %s: truncated record payload: %w", r.path, err)
	}
	if got := crc32.ChecksumIEEE(rec); got != want {
		return nil, fmt.Errorf("recordio: %s: record checksum mismatch: got %08x want %08x", r.path, got, want)
	}
	return rec, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.f.Close()
}
