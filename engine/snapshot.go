package engine

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/vectorvault/nexus/distance"
	"github.com/vectorvault/nexus/model"
)

// Compression selects the codec for the snapshot body.
type Compression uint8

const (
	// CompressionNone stores the snapshot body uncompressed.
	CompressionNone Compression = iota
	// CompressionZstd compresses with zstd (best ratio).
	CompressionZstd
	// CompressionLZ4 compresses with lz4 (fastest).
	CompressionLZ4
)

// SnapshotFileName is the name of the snapshot file inside the engine
// directory.
const SnapshotFileName = "nexus.snapshot"

// Snapshot file layout:
//
//	magic       [4]byte  "NXS0"
//	version     uint16
//	compression uint8
//	_           [9]byte  reserved
//	body        []byte   possibly compressed, see encodeState
//	crc         uint32   CRC-32C of the stored body bytes
var snapshotMagic = [4]byte{'N', 'X', 'S', '0'}

const (
	snapshotHeaderSize = 16
	snapshotVersion    = 1
)

// saveSnapshot writes the current state to a temporary file and renames
// it into place, so a crash mid-write never clobbers the previous
// snapshot. Caller holds writeMu.
func (e *Engine) saveSnapshot() error {
	tmpPath := filepath.Join(e.dir, SnapshotFileName+".tmp")

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}
	defer os.Remove(tmpPath)

	if err := e.writeSnapshot(f); err != nil {
		f.Close()
		return err
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}

	if err := os.Rename(tmpPath, filepath.Join(e.dir, SnapshotFileName)); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}

	return nil
}

func (e *Engine) writeSnapshot(f *os.File) error {
	var hdr [snapshotHeaderSize]byte
	copy(hdr[0:4], snapshotMagic[:])
	binary.LittleEndian.PutUint16(hdr[4:6], snapshotVersion)
	hdr[6] = uint8(e.opts.SnapshotCompression)

	if _, err := f.Write(hdr[:]); err != nil {
		return fmt.Errorf("write snapshot header: %w", err)
	}

	cw := newChecksumWriter(f)

	var body io.Writer = cw
	var finish func() error

	switch e.opts.SnapshotCompression {
	case CompressionZstd:
		enc, err := zstd.NewWriter(cw)
		if err != nil {
			return fmt.Errorf("create snapshot compressor: %w", err)
		}
		body, finish = enc, enc.Close
	case CompressionLZ4:
		enc := lz4.NewWriter(cw)
		body, finish = enc, enc.Close
	case CompressionNone:
		finish = func() error { return nil }
	default:
		return fmt.Errorf("unknown snapshot compression %d", e.opts.SnapshotCompression)
	}

	bw := bufio.NewWriter(body)
	if err := e.encodeState(bw); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush snapshot body: %w", err)
	}
	if err := finish(); err != nil {
		return fmt.Errorf("finish snapshot compression: %w", err)
	}

	if err := cw.WriteTrailer(); err != nil {
		return fmt.Errorf("write snapshot checksum: %w", err)
	}

	return nil
}

// encodeState serializes the published state. Holds the read lock for
// the duration, which blocks no readers and no one else: Checkpoint
// already holds writeMu.
func (e *Engine) encodeState(w *bufio.Writer) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	writeU64(w, uint64(e.nextID))

	mods := make([]string, 0, len(e.dims))
	for m := range e.dims {
		mods = append(mods, m)
	}
	sort.Strings(mods)

	writeU32(w, uint32(len(mods)))
	for _, m := range mods {
		writeStr(w, m)
		writeU32(w, uint32(e.dims[m]))
	}

	writeU64(w, e.live.GetCardinality())
	it := e.live.Iterator()
	for it.HasNext() {
		rec := e.records[model.ID(it.Next())]

		writeU64(w, uint64(rec.ID))
		writeStr(w, rec.Modality)
		writeU64(w, math.Float64bits(rec.Timestamp))
		writeStr(w, rec.SourceID)

		writeU32(w, uint32(len(rec.Vector)))
		for _, v := range rec.Vector {
			writeU32(w, math.Float32bits(v))
		}

		doc, err := rec.Metadata.MarshalBinary()
		if err != nil {
			return fmt.Errorf("encode metadata for record %d: %w", rec.ID, err)
		}
		writeU32(w, uint32(len(doc)))
		w.Write(doc)
	}

	return nil
}

// loadSnapshot restores state from the snapshot file if one exists.
// Called from Open before the WAL is replayed; no locking needed.
func (e *Engine) loadSnapshot() error {
	path := filepath.Join(e.dir, SnapshotFileName)

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat snapshot: %w", err)
	}
	if info.Size() < snapshotHeaderSize+4 {
		return fmt.Errorf("snapshot file %s is truncated (%d bytes)", path, info.Size())
	}

	var hdr [snapshotHeaderSize]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return fmt.Errorf("read snapshot header: %w", err)
	}
	if [4]byte(hdr[0:4]) != snapshotMagic {
		return fmt.Errorf("snapshot file %s: bad magic %q", path, hdr[0:4])
	}
	if v := binary.LittleEndian.Uint16(hdr[4:6]); v != snapshotVersion {
		return fmt.Errorf("snapshot file %s: unsupported version %d", path, v)
	}

	bodyLen := info.Size() - snapshotHeaderSize - 4
	cr := newChecksumReader(io.LimitReader(f, bodyLen))

	var body io.Reader = cr
	switch Compression(hdr[6]) {
	case CompressionZstd:
		dec, err := zstd.NewReader(cr)
		if err != nil {
			return fmt.Errorf("create snapshot decompressor: %w", err)
		}
		defer dec.Close()
		body = dec
	case CompressionLZ4:
		body = lz4.NewReader(cr)
	case CompressionNone:
	default:
		return fmt.Errorf("snapshot file %s: unknown compression %d", path, hdr[6])
	}

	if err := e.decodeState(bufio.NewReader(body)); err != nil {
		return fmt.Errorf("decode snapshot %s: %w", path, err)
	}

	// Drain any compressed padding so the CRC covers the full body.
	if _, err := io.Copy(io.Discard, cr); err != nil {
		return fmt.Errorf("read snapshot body: %w", err)
	}

	if err := cr.VerifyTrailer(f); err != nil {
		return fmt.Errorf("snapshot file %s: %w", path, err)
	}

	return nil
}

func (e *Engine) decodeState(r *bufio.Reader) error {
	nextID, err := readU64(r)
	if err != nil {
		return err
	}
	e.nextID = model.ID(nextID)

	dimCount, err := readU32(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < dimCount; i++ {
		mod, err := readStr(r)
		if err != nil {
			return err
		}
		dim, err := readU32(r)
		if err != nil {
			return err
		}
		e.dims[mod] = int(dim)
	}

	count, err := readU64(r)
	if err != nil {
		return err
	}

	for i := uint64(0); i < count; i++ {
		rec := &model.Record{}

		id, err := readU64(r)
		if err != nil {
			return err
		}
		rec.ID = model.ID(id)

		if rec.Modality, err = readStr(r); err != nil {
			return err
		}

		ts, err := readU64(r)
		if err != nil {
			return err
		}
		rec.Timestamp = math.Float64frombits(ts)

		if rec.SourceID, err = readStr(r); err != nil {
			return err
		}

		dim, err := readU32(r)
		if err != nil {
			return err
		}
		rec.Vector = make([]float32, dim)
		for j := range rec.Vector {
			bits, err := readU32(r)
			if err != nil {
				return err
			}
			rec.Vector[j] = math.Float32frombits(bits)
		}
		rec.Magnitude = distance.Norm(rec.Vector)

		docLen, err := readU32(r)
		if err != nil {
			return err
		}
		if docLen > 0 {
			buf := make([]byte, docLen)
			if _, err := io.ReadFull(r, buf); err != nil {
				return fmt.Errorf("read metadata for record %d: %w", rec.ID, err)
			}
			if err := rec.Metadata.UnmarshalBinary(buf); err != nil {
				return err
			}
		}

		e.publishLocked(rec)
	}

	return nil
}

func writeU32(w *bufio.Writer, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	w.Write(buf[:])
}

func writeU64(w *bufio.Writer, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	w.Write(buf[:])
}

func writeStr(w *bufio.Writer, s string) {
	writeU32(w, uint32(len(s)))
	w.WriteString(s)
}

func readU32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func readU64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func readStr(r *bufio.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
