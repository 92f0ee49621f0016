// Package engine implements the durable record store: an in-memory
// corpus of vector records protected by a write-ahead log and periodic
// snapshots.
//
// Concurrency model: mutations are serialized by a writer mutex, with
// WAL appends (including fsync) performed before a brief exclusive
// publish into the in-memory state. Reads take only the read side of
// the publish lock, so a write in progress never blocks reads of
// already-committed records. Published records are immutable; metadata
// updates swap in a fresh record value.
package engine

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/vectorvault/nexus/distance"
	"github.com/vectorvault/nexus/metadata"
	"github.com/vectorvault/nexus/model"
	"github.com/vectorvault/nexus/wal"
)

// Options configures an Engine.
type Options struct {
	// WAL holds write-ahead log settings. WAL.Path is overridden with
	// the engine directory.
	WAL wal.Options

	// SnapshotCompression selects the snapshot body codec.
	SnapshotCompression Compression

	// Logger receives structured engine events. Nil disables logging.
	Logger *slog.Logger
}

// Engine is a durable, modality-partitioned vector record store.
type Engine struct {
	dir  string
	opts Options
	log  *slog.Logger
	wal  *wal.WAL

	// writeMu serializes mutating operations so the WAL-then-publish
	// sequence of one writer never interleaves with another.
	writeMu sync.Mutex

	// mu guards the published in-memory state below. Writers hold it
	// only for the in-memory publish, never across an fsync.
	mu         sync.RWMutex
	records    map[model.ID]*model.Record
	live       *roaring64.Bitmap            // all live record ids
	byModality map[string]*roaring64.Bitmap // modality -> ids
	bySource   map[string]*roaring64.Bitmap // source id -> ids
	dims       map[string]int               // modality -> bound dimension
	nextID     model.ID
	closed     bool
}

// Open loads the engine state from dir, creating it if necessary.
// Recovery applies the latest snapshot, then replays committed WAL
// entries on top of it.
func Open(dir string, opts Options) (*Engine, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create engine directory: %w", err)
	}

	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	e := &Engine{
		dir:        dir,
		opts:       opts,
		log:        log,
		records:    make(map[model.ID]*model.Record),
		live:       roaring64.New(),
		byModality: make(map[string]*roaring64.Bitmap),
		bySource:   make(map[string]*roaring64.Bitmap),
		dims:       make(map[string]int),
		nextID:     1,
	}

	if err := e.loadSnapshot(); err != nil {
		return nil, err
	}

	opts.WAL.Path = dir
	w, err := wal.New(opts.WAL)
	if err != nil {
		return nil, err
	}
	e.wal = w

	if err := e.replayWAL(); err != nil {
		w.Close()
		return nil, err
	}

	w.SetCheckpointCallback(func() {
		if err := e.Checkpoint(context.Background()); err != nil {
			e.log.Error("auto checkpoint failed", "dir", e.dir, "error", err)
		}
	})

	e.log.Info("engine opened",
		"dir", dir,
		"records", e.live.GetCardinality(),
		"modalities", len(e.byModality),
		"next_id", e.nextID)

	return e, nil
}

// Insert appends a record and returns its assigned id. The record is
// durable when Insert returns without error. The first record of a
// modality binds that modality's dimension; later inserts must match it.
func (e *Engine) Insert(ctx context.Context, draft model.RecordDraft) (model.ID, error) {
	if draft.Modality == "" {
		return 0, fmt.Errorf("%w: modality must not be empty", ErrInvalidArgument)
	}
	if len(draft.Vector) == 0 {
		return 0, fmt.Errorf("%w: vector must not be empty", ErrInvalidArgument)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	e.mu.RLock()
	closed := e.closed
	id := e.nextID
	dim, bound := e.dims[draft.Modality]
	e.mu.RUnlock()

	if closed {
		return 0, ErrClosed
	}
	if bound && dim != len(draft.Vector) {
		return 0, &SchemaViolationError{Modality: draft.Modality, Want: dim, Got: len(draft.Vector)}
	}

	rec := &model.Record{
		ID:        id,
		Modality:  draft.Modality,
		Vector:    append([]float32(nil), draft.Vector...),
		Timestamp: draft.Timestamp,
		SourceID:  draft.SourceID,
		Metadata:  metadata.CloneIfNeeded(draft.Metadata),
		Magnitude: distance.Norm(draft.Vector),
	}

	err := e.wal.Append(&wal.Entry{
		Type:      wal.OpPrepareInsert,
		ID:        uint64(id),
		Modality:  rec.Modality,
		Timestamp: rec.Timestamp,
		SourceID:  rec.SourceID,
		Vector:    rec.Vector,
		Metadata:  rec.Metadata,
	})
	if err != nil {
		return 0, &StorageError{Op: "insert", cause: err}
	}

	e.mu.Lock()
	e.publishLocked(rec)
	e.nextID = id + 1
	e.mu.Unlock()

	e.log.Debug("record inserted",
		"id", id, "modality", rec.Modality, "source", rec.SourceID, "dim", len(rec.Vector))

	return id, nil
}

// publishLocked adds rec to the in-memory state. Caller holds mu.
func (e *Engine) publishLocked(rec *model.Record) {
	e.records[rec.ID] = rec
	e.live.Add(uint64(rec.ID))

	bm := e.byModality[rec.Modality]
	if bm == nil {
		bm = roaring64.New()
		e.byModality[rec.Modality] = bm
	}
	bm.Add(uint64(rec.ID))

	if rec.SourceID != "" {
		sm := e.bySource[rec.SourceID]
		if sm == nil {
			sm = roaring64.New()
			e.bySource[rec.SourceID] = sm
		}
		sm.Add(uint64(rec.ID))
	}

	if _, ok := e.dims[rec.Modality]; !ok {
		e.dims[rec.Modality] = len(rec.Vector)
	}
}

// Get returns a deep copy of the record with the given id.
func (e *Engine) Get(ctx context.Context, id model.ID) (model.Record, error) {
	if err := ctx.Err(); err != nil {
		return model.Record{}, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return model.Record{}, ErrClosed
	}

	rec, ok := e.records[id]
	if !ok {
		return model.Record{}, fmt.Errorf("record %d: %w", id, ErrNotFound)
	}

	return rec.Clone(), nil
}

// Scan iterates records matching the filter. OrderByInsertion yields
// ascending ids (ids are assigned in insertion order); OrderByTimestamp
// yields ascending timestamps with ids breaking ties. Each yielded
// record is a deep copy.
func (e *Engine) Scan(ctx context.Context, f model.Filter) iter.Seq2[model.Record, error] {
	return func(yield func(model.Record, error) bool) {
		matches, err := e.collect(f)
		if err != nil {
			yield(model.Record{}, err)
			return
		}

		if f.Order == model.OrderByTimestamp {
			sort.Slice(matches, func(i, j int) bool {
				if matches[i].Timestamp != matches[j].Timestamp {
					return matches[i].Timestamp < matches[j].Timestamp
				}
				return matches[i].ID < matches[j].ID
			})
		}

		for _, rec := range matches {
			if err := ctx.Err(); err != nil {
				yield(model.Record{}, err)
				return
			}
			if !yield(rec.Clone(), nil) {
				return
			}
		}
	}
}

// collect returns pointers to records matching f, ascending by id.
func (e *Engine) collect(f model.Filter) ([]*model.Record, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, ErrClosed
	}

	candidates := e.candidateSetLocked(f.Modality, f.SourceID)
	if candidates == nil {
		return nil, nil
	}

	matches := make([]*model.Record, 0, candidates.GetCardinality())
	it := candidates.Iterator()
	for it.HasNext() {
		rec := e.records[model.ID(it.Next())]
		if f.TimeRange != nil && !f.TimeRange.Contains(rec.Timestamp) {
			continue
		}
		matches = append(matches, rec)
	}

	return matches, nil
}

// candidateSetLocked intersects the posting lists selected by modality
// and source. A nil return means no record can match. Caller holds mu.
func (e *Engine) candidateSetLocked(modality, sourceID string) *roaring64.Bitmap {
	switch {
	case modality != "" && sourceID != "":
		bm, sm := e.byModality[modality], e.bySource[sourceID]
		if bm == nil || sm == nil {
			return nil
		}
		return roaring64.And(bm, sm)
	case modality != "":
		return e.byModality[modality]
	case sourceID != "":
		return e.bySource[sourceID]
	default:
		return e.live
	}
}

// Select returns pointers to records matching f, ascending by id.
// The returned records are shared and must not be mutated; published
// records are immutable, so no lock is needed to read them afterwards.
func (e *Engine) Select(f model.Filter) ([]*model.Record, error) {
	return e.collect(f)
}

// SetMetadata durably sets one metadata key on a record. An existing
// key is overwritten (last write wins).
func (e *Engine) SetMetadata(ctx context.Context, id model.ID, key string, value metadata.Value) error {
	if key == "" {
		return fmt.Errorf("%w: metadata key must not be empty", ErrInvalidArgument)
	}
	if value.Kind == metadata.KindInvalid {
		return fmt.Errorf("%w: metadata value must be typed", ErrInvalidArgument)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	e.mu.RLock()
	closed := e.closed
	rec, ok := e.records[id]
	e.mu.RUnlock()

	if closed {
		return ErrClosed
	}
	if !ok {
		return fmt.Errorf("record %d: %w", id, ErrNotFound)
	}

	err := e.wal.Append(&wal.Entry{
		Type:      wal.OpPrepareSetMetadata,
		ID:        uint64(id),
		MetaKey:   key,
		MetaValue: value,
	})
	if err != nil {
		return &StorageError{Op: "set metadata", cause: err}
	}

	updated := rec.Clone()
	if updated.Metadata == nil {
		updated.Metadata = make(metadata.Document, 1)
	}
	updated.Metadata[key] = value

	e.mu.Lock()
	e.records[id] = &updated
	e.mu.Unlock()

	e.log.Debug("metadata set", "id", id, "key", key)

	return nil
}

// Purge durably removes every record with the given source id and
// returns how many were removed. Purging an unknown source is a no-op
// that returns 0. Dimension bindings survive a purge.
func (e *Engine) Purge(ctx context.Context, sourceID string) (int, error) {
	if sourceID == "" {
		return 0, fmt.Errorf("%w: source id must not be empty", ErrInvalidArgument)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	e.mu.RLock()
	closed := e.closed
	sm := e.bySource[sourceID]
	var count int
	if sm != nil {
		count = int(sm.GetCardinality())
	}
	e.mu.RUnlock()

	if closed {
		return 0, ErrClosed
	}
	if count == 0 {
		return 0, nil
	}

	err := e.wal.Append(&wal.Entry{
		Type:     wal.OpPreparePurge,
		SourceID: sourceID,
	})
	if err != nil {
		return 0, &StorageError{Op: "purge", cause: err}
	}

	e.mu.Lock()
	e.purgeLocked(sourceID)
	e.mu.Unlock()

	e.log.Debug("source purged", "source", sourceID, "removed", count)

	return count, nil
}

// purgeLocked removes all records of sourceID. Caller holds mu.
func (e *Engine) purgeLocked(sourceID string) {
	sm := e.bySource[sourceID]
	if sm == nil {
		return
	}

	it := sm.Iterator()
	for it.HasNext() {
		id := it.Next()
		rec := e.records[model.ID(id)]
		delete(e.records, model.ID(id))
		e.live.Remove(id)
		if bm := e.byModality[rec.Modality]; bm != nil {
			bm.Remove(id)
		}
	}
	delete(e.bySource, sourceID)
}

// Dimension reports the dimension bound to a modality, if any.
func (e *Engine) Dimension(modality string) (int, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	dim, ok := e.dims[modality]
	return dim, ok
}

// ModalityStats summarizes one modality's records. MinTimestamp and
// MaxTimestamp are zero when the modality has no live records.
type ModalityStats struct {
	Records      uint64
	Dimension    int
	MinTimestamp float64
	MaxTimestamp float64
}

// Duration is the timestamp span covered by the modality's records.
func (m ModalityStats) Duration() float64 {
	return m.MaxTimestamp - m.MinTimestamp
}

// Stats describes the engine's current contents.
type Stats struct {
	Records    uint64
	Modalities map[string]ModalityStats // keyed by modality name
	Sources    map[string]uint64        // record count per source id
	NextID     model.ID
	WALBytes   int64
}

// Stats returns a point-in-time summary of the corpus. Modalities with
// a bound dimension but no live records (everything purged) are still
// reported, with zero counts.
func (e *Engine) Stats() (Stats, error) {
	e.mu.RLock()

	if e.closed {
		e.mu.RUnlock()
		return Stats{}, ErrClosed
	}

	s := Stats{
		Records:    e.live.GetCardinality(),
		Modalities: make(map[string]ModalityStats, len(e.dims)),
		Sources:    make(map[string]uint64, len(e.bySource)),
		NextID:     e.nextID,
	}
	for m, d := range e.dims {
		ms := ModalityStats{Dimension: d}
		if bm := e.byModality[m]; bm != nil && bm.GetCardinality() > 0 {
			ms.Records = bm.GetCardinality()
			it := bm.Iterator()
			first := true
			for it.HasNext() {
				ts := e.records[model.ID(it.Next())].Timestamp
				if first || ts < ms.MinTimestamp {
					ms.MinTimestamp = ts
				}
				if first || ts > ms.MaxTimestamp {
					ms.MaxTimestamp = ts
				}
				first = false
			}
		}
		s.Modalities[m] = ms
	}
	for src, bm := range e.bySource {
		s.Sources[src] = bm.GetCardinality()
	}
	e.mu.RUnlock()

	size, err := e.wal.Size()
	if err != nil {
		return Stats{}, err
	}
	s.WALBytes = size

	return s, nil
}

// Checkpoint writes a snapshot of the current state and truncates the
// WAL. Readers are not blocked; writers wait for the snapshot to finish.
func (e *Engine) Checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return ErrClosed
	}
	e.mu.RUnlock()

	if err := e.saveSnapshot(); err != nil {
		return &StorageError{Op: "checkpoint", cause: err}
	}
	if err := e.wal.Truncate(); err != nil {
		return &StorageError{Op: "checkpoint", cause: err}
	}

	e.log.Info("checkpoint complete", "dir", e.dir)

	return nil
}

// Close flushes the WAL and releases resources. Close is idempotent;
// operations on a closed engine return ErrClosed.
func (e *Engine) Close() error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	return e.wal.Close()
}
