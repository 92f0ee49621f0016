// Package wal implements a write-ahead log for durable record mutations.
//
// Every mutation is written as a prepare/commit entry pair. Recovery
// replays only pairs whose commit made it to disk, so a crash in the
// middle of an operation never surfaces a torn record.
package wal

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// FileName is the name of the WAL file inside Options.Path.
const FileName = "nexus.wal"

// WAL is a write-ahead log with configurable durability.
type WAL struct {
	mu   sync.Mutex
	opts Options

	file *os.File
	enc  *zstd.Encoder

	seqNum      uint64 // last assigned sequence number
	appendedSeq uint64 // last sequence number written to the OS
	syncedSeq   uint64 // last sequence number known durable
	syncCond    *sync.Cond
	syncErr     error

	opsSinceCheckpoint int
	checkpointFn       func()

	closed bool
	stopCh chan struct{}
	doneCh chan struct{}
}

// New opens (or creates) the WAL file under opts.Path.
//
// When the file already exists, its header decides the compression
// settings and the sequence counter resumes after the last readable
// entry.
func New(opts Options) (*WAL, error) {
	if opts.Path == "" {
		opts.Path = DefaultOptions.Path
	}
	if opts.CompressionLevel == 0 {
		opts.CompressionLevel = DefaultOptions.CompressionLevel
	}
	if opts.GroupCommitInterval <= 0 {
		opts.GroupCommitInterval = DefaultOptions.GroupCommitInterval
	}
	if opts.GroupCommitMaxOps <= 0 {
		opts.GroupCommitMaxOps = DefaultOptions.GroupCommitMaxOps
	}

	path := filepath.Join(opts.Path, FileName)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open wal file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat wal file: %w", err)
	}

	w := &WAL{
		opts:   opts,
		file:   file,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	w.syncCond = sync.NewCond(&w.mu)

	if info.Size() == 0 {
		if err := writeHeader(file, opts.Compress, opts.CompressionLevel); err != nil {
			file.Close()
			return nil, err
		}
		if err := file.Sync(); err != nil {
			file.Close()
			return nil, fmt.Errorf("sync wal header: %w", err)
		}
	} else {
		hdr, err := readHeader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("wal file %s: %w", path, err)
		}
		// The on-disk format wins over the requested options.
		w.opts.Compress = hdr.compressed()
		w.opts.CompressionLevel = int(hdr.level)

		seq, torn, err := w.scanForSeqNum()
		if err != nil {
			file.Close()
			return nil, err
		}
		w.seqNum = seq

		// A torn tail would hide everything appended after it from
		// future replays, so rewrite the log without it.
		if torn {
			if err := w.repairLog(); err != nil {
				file.Close()
				return nil, err
			}
		}

		if _, err := file.Seek(0, io.SeekEnd); err != nil {
			file.Close()
			return nil, fmt.Errorf("seek wal end: %w", err)
		}
	}

	if w.opts.Compress {
		if err := w.startEncoder(); err != nil {
			file.Close()
			return nil, err
		}
	}

	if w.opts.DurabilityMode == DurabilityGroupCommit {
		go w.groupCommitWorker()
	} else {
		close(w.doneCh)
	}

	return w, nil
}

func (w *WAL) startEncoder() error {
	enc, err := zstd.NewWriter(w.file,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(w.opts.CompressionLevel)))
	if err != nil {
		return fmt.Errorf("create wal compressor: %w", err)
	}
	w.enc = enc
	return nil
}

// scanForSeqNum finds the highest sequence number in an existing file.
// A torn tail frame ends the scan; everything before it is valid.
func (w *WAL) scanForSeqNum() (maxSeq uint64, torn bool, err error) {
	r, closeFn, err := w.openReader()
	if err != nil {
		return 0, false, err
	}
	defer closeFn()

	var (
		scratch []byte
		payload []byte
	)
	for {
		payload, scratch, err = readFrame(r, scratch)
		if err == io.EOF {
			return maxSeq, false, nil
		}
		if err != nil {
			return maxSeq, true, nil
		}
		e, derr := decodeEntry(payload)
		if derr != nil {
			return maxSeq, true, nil
		}
		if e.SeqNum > maxSeq {
			maxSeq = e.SeqNum
		}
	}
}

// repairLog rewrites the file with only its readable entries, dropping
// a torn tail left by a crash.
func (w *WAL) repairLog() error {
	var entries []*Entry

	r, closeFn, err := w.openReader()
	if err != nil {
		return err
	}
	var (
		scratch []byte
		payload []byte
	)
	for {
		payload, scratch, err = readFrame(r, scratch)
		if err != nil {
			break
		}
		e, derr := decodeEntry(payload)
		if derr != nil {
			break
		}
		entries = append(entries, e)
	}
	closeFn()

	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("truncate wal for repair: %w", err)
	}
	if _, err := w.file.Seek(0, 0); err != nil {
		return fmt.Errorf("seek wal for repair: %w", err)
	}
	if err := writeHeader(w.file, w.opts.Compress, w.opts.CompressionLevel); err != nil {
		return err
	}

	var enc *zstd.Encoder
	var out io.Writer = w.file
	if w.opts.Compress {
		enc, err = zstd.NewWriter(w.file,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(w.opts.CompressionLevel)))
		if err != nil {
			return fmt.Errorf("create wal compressor: %w", err)
		}
		out = enc
	}

	for _, e := range entries {
		if err := writeFrame(out, encodeEntry(e)); err != nil {
			return fmt.Errorf("rewrite wal entry: %w", err)
		}
	}

	if enc != nil {
		if err := enc.Close(); err != nil {
			return fmt.Errorf("close wal compressor: %w", err)
		}
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("sync repaired wal: %w", err)
	}

	return nil
}

// Append logs one mutation as a prepare/commit pair. The entry's Type
// must be a prepare type; SeqNum is assigned by the WAL. Append returns
// once the pair is durable per the configured DurabilityMode.
func (w *WAL) Append(e *Entry) error {
	switch e.Type {
	case OpPrepareInsert, OpPrepareSetMetadata, OpPreparePurge:
	default:
		return fmt.Errorf("wal: entry type %d is not a prepare type", e.Type)
	}

	w.mu.Lock()

	if w.closed {
		w.mu.Unlock()
		return fmt.Errorf("wal: closed")
	}

	w.seqNum++
	e.SeqNum = w.seqNum

	commit := &Entry{
		Type:   commitTypeFor(e.Type),
		SeqNum: w.seqNum + 1,
		ID:     e.SeqNum, // pairs the commit with its prepare
	}
	w.seqNum++

	if err := w.appendLocked(e); err != nil {
		w.mu.Unlock()
		return err
	}
	if err := w.appendLocked(commit); err != nil {
		w.mu.Unlock()
		return err
	}
	w.appendedSeq = commit.SeqNum
	w.opsSinceCheckpoint++

	var err error
	switch w.opts.DurabilityMode {
	case DurabilitySync:
		err = w.syncLocked()
	case DurabilityGroupCommit:
		err = w.waitForSyncLocked(commit.SeqNum)
	case DurabilityAsync:
		// acknowledged without fsync
	}

	w.maybeCheckpointLocked()
	w.mu.Unlock()

	return err
}

func commitTypeFor(prep OperationType) OperationType {
	switch prep {
	case OpPrepareInsert:
		return OpCommitInsert
	case OpPrepareSetMetadata:
		return OpCommitSetMetadata
	default:
		return OpCommitPurge
	}
}

func (w *WAL) appendLocked(e *Entry) error {
	payload := encodeEntry(e)

	var err error
	if w.enc != nil {
		err = writeFrame(w.enc, payload)
	} else {
		err = writeFrame(w.file, payload)
	}
	if err != nil {
		return fmt.Errorf("append wal entry: %w", err)
	}

	return nil
}

func (w *WAL) syncLocked() error {
	if w.enc != nil {
		if err := w.enc.Flush(); err != nil {
			return fmt.Errorf("flush wal compressor: %w", err)
		}
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("sync wal: %w", err)
	}
	w.syncedSeq = w.appendedSeq
	return nil
}

func (w *WAL) waitForSyncLocked(seq uint64) error {
	// A full batch is synced inline rather than waiting for the ticker.
	if w.appendedSeq-w.syncedSeq >= uint64(2*w.opts.GroupCommitMaxOps) {
		err := w.syncLocked()
		w.syncCond.Broadcast()
		return err
	}

	for w.syncedSeq < seq && w.syncErr == nil && !w.closed {
		w.syncCond.Wait()
	}
	if w.syncErr != nil {
		return w.syncErr
	}
	if w.syncedSeq < seq {
		return fmt.Errorf("wal: closed before sync")
	}
	return nil
}

func (w *WAL) groupCommitWorker() {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.opts.GroupCommitInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.mu.Lock()
			if !w.closed && w.appendedSeq > w.syncedSeq {
				if err := w.syncLocked(); err != nil {
					w.syncErr = err
				}
			}
			w.syncCond.Broadcast()
			w.mu.Unlock()
		}
	}
}

// SetCheckpointCallback registers a function invoked (on its own
// goroutine) when the auto-checkpoint thresholds are exceeded.
func (w *WAL) SetCheckpointCallback(fn func()) {
	w.mu.Lock()
	w.checkpointFn = fn
	w.mu.Unlock()
}

func (w *WAL) maybeCheckpointLocked() {
	if w.checkpointFn == nil {
		return
	}

	trigger := false
	if w.opts.AutoCheckpointOps > 0 && w.opsSinceCheckpoint >= w.opts.AutoCheckpointOps {
		trigger = true
	}
	if !trigger && w.opts.AutoCheckpointMB > 0 {
		if info, err := w.file.Stat(); err == nil {
			trigger = info.Size() > int64(w.opts.AutoCheckpointMB)*1024*1024
		}
	}

	if trigger {
		w.opsSinceCheckpoint = 0
		go w.checkpointFn()
	}
}

// Truncate discards all logged entries. Call it after the state the WAL
// protects has been snapshotted elsewhere. The sequence counter keeps
// increasing across truncations.
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("wal: closed")
	}

	if w.enc != nil {
		if err := w.enc.Close(); err != nil {
			return fmt.Errorf("close wal compressor: %w", err)
		}
		w.enc = nil
	}

	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("truncate wal: %w", err)
	}
	if _, err := w.file.Seek(0, 0); err != nil {
		return fmt.Errorf("seek wal: %w", err)
	}
	if err := writeHeader(w.file, w.opts.Compress, w.opts.CompressionLevel); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("sync wal: %w", err)
	}

	if w.opts.Compress {
		if err := w.startEncoder(); err != nil {
			return err
		}
	}

	w.appendedSeq = w.seqNum
	w.syncedSeq = w.seqNum
	w.opsSinceCheckpoint = 0

	return nil
}

// Size returns the current WAL file size in bytes.
func (w *WAL) Size() (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, fmt.Errorf("wal: closed")
	}

	info, err := w.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat wal: %w", err)
	}
	return info.Size(), nil
}

// Close flushes pending writes and closes the WAL file. Close is
// idempotent.
func (w *WAL) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.stopCh)
	w.syncCond.Broadcast()
	w.mu.Unlock()

	<-w.doneCh

	w.mu.Lock()
	defer w.mu.Unlock()

	var firstErr error

	if w.enc != nil {
		if err := w.enc.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close wal compressor: %w", err)
		}
		w.enc = nil
	}
	if err := w.file.Sync(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("sync wal: %w", err)
	}
	if err := w.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close wal file: %w", err)
	}

	return firstErr
}
