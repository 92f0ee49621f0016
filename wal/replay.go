package wal

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

func (w *WAL) openReader() (io.Reader, func(), error) {
	path := filepath.Join(w.opts.Path, FileName)

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open wal for replay: %w", err)
	}

	hdr, err := readHeader(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("wal file %s: %w", path, err)
	}

	if !hdr.compressed() {
		return f, func() { f.Close() }, nil
	}

	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("create wal decompressor: %w", err)
	}

	return dec, func() { dec.Close(); f.Close() }, nil
}

// ReplayCommitted reads the log and invokes fn for every operation whose
// prepare AND commit entries are present, in commit order. The entry
// passed to fn carries the logical operation type (OpInsert,
// OpSetMetadata, OpPurge). Prepares without a matching commit are
// discarded: they belong to operations that were never acknowledged.
//
// A torn frame at the tail ends replay without error; everything before
// it is applied.
func (w *WAL) ReplayCommitted(fn func(*Entry) error) error {
	r, closeFn, err := w.openReader()
	if err != nil {
		return err
	}
	defer closeFn()

	pending := make(map[uint64]*Entry) // prepare seq -> entry

	var (
		scratch []byte
		payload []byte
	)
	for {
		payload, scratch, err = readFrame(r, scratch)
		if err != nil {
			// io.EOF is a clean end; a torn frame is a crash tail.
			return nil
		}

		e, derr := decodeEntry(payload)
		if derr != nil {
			return nil
		}

		switch e.Type {
		case OpPrepareInsert, OpPrepareSetMetadata, OpPreparePurge:
			pending[e.SeqNum] = e

		case OpCommitInsert, OpCommitSetMetadata, OpCommitPurge:
			prep, ok := pending[e.ID]
			if !ok {
				continue
			}
			delete(pending, e.ID)

			prep.Type = logicalTypeFor(prep.Type)
			if err := fn(prep); err != nil {
				return fmt.Errorf("replay entry seq %d: %w", prep.SeqNum, err)
			}

		case OpCheckpoint:
			// snapshot boundary, nothing to apply
		}
	}
}

func logicalTypeFor(prep OperationType) OperationType {
	switch prep {
	case OpPrepareInsert:
		return OpInsert
	case OpPrepareSetMetadata:
		return OpSetMetadata
	default:
		return OpPurge
	}
}
