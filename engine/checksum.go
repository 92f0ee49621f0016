package engine

import (
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
)

// ChecksumMismatchError indicates that snapshot data failed CRC
// verification, typically from disk corruption or a truncated write.
type ChecksumMismatchError struct {
	Expected uint32
	Actual   uint32
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch: expected %08x, got %08x", e.Expected, e.Actual)
}

// checksumWriter wraps an io.Writer and maintains a running CRC-32
// (Castagnoli) of everything written through it.
type checksumWriter struct {
	w io.Writer
	h hash.Hash32
}

func newChecksumWriter(w io.Writer) *checksumWriter {
	return &checksumWriter{w: w, h: crc32.New(crc32.MakeTable(crc32.Castagnoli))}
}

func (cw *checksumWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.h.Write(p[:n])
	return n, err
}

// WriteTrailer appends the accumulated checksum to the underlying writer.
func (cw *checksumWriter) WriteTrailer() error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], cw.h.Sum32())
	_, err := cw.w.Write(buf[:])
	return err
}

// checksumReader wraps an io.Reader and maintains a running CRC-32 of
// everything read through it.
type checksumReader struct {
	r io.Reader
	h hash.Hash32
}

func newChecksumReader(r io.Reader) *checksumReader {
	return &checksumReader{r: r, h: crc32.New(crc32.MakeTable(crc32.Castagnoli))}
}

func (cr *checksumReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.h.Write(p[:n])
	return n, err
}

// VerifyTrailer reads the stored checksum from r (not through the
// hashing reader) and compares it with the accumulated value.
func (cr *checksumReader) VerifyTrailer(r io.Reader) error {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return fmt.Errorf("read checksum trailer: %w", err)
	}

	expected := binary.LittleEndian.Uint32(buf[:])
	if actual := cr.h.Sum32(); actual != expected {
		return &ChecksumMismatchError{Expected: expected, Actual: actual}
	}

	return nil
}
