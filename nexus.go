// Package nexus is an embedded, durable vector store with cross-modal
// correlation queries.
//
// A Store ingests per-modality feature vectors (audio, visual,
// transcript, journal) tagged with timestamps and source identifiers,
// persists them through a write-ahead log, and answers exact cosine
// similarity searches and theme correlation queries over the corpus:
//
//   - Durable inserts: every acknowledged mutation survives a crash
//     (WAL with prepare/commit entries, configurable fsync batching)
//   - Per-modality dimension binding: the first record of a modality
//     fixes its dimensionality, later inserts are validated against it
//   - Exact similarity search with deterministic ordering (descending
//     score, ascending id on ties)
//   - Theme correlation across modalities or time windows, with a
//     public, configurable scoring formula
//   - Checkpoints (snapshot + WAL truncation) and backups to local,
//     MinIO or S3 blob storage
//
// # Quick Start
//
//	ctx := context.Background()
//	store, err := nexus.Open("./corpus")
//	if err != nil {
//	    panic(err)
//	}
//	defer store.Close()
//
//	id, err := store.Insert(ctx, model.RecordDraft{
//	    Modality:  "audio",
//	    Vector:    []float32{0.12, 0.87, ...},
//	    Timestamp: 42.5,
//	    SourceID:  "recording-001",
//	    Metadata:  metadata.Document{"theme": metadata.String("technology")},
//	})
//
//	hits, err := store.Search(ctx, query, "audio", 10)
//
//	results, err := store.RankThemes(ctx, "audio", "transcript", 5)
package nexus

import (
	"context"
	"fmt"
	"iter"
	"math"
	"time"

	"github.com/vectorvault/nexus/correlate"
	"github.com/vectorvault/nexus/engine"
	"github.com/vectorvault/nexus/metadata"
	"github.com/vectorvault/nexus/model"
	"github.com/vectorvault/nexus/search"
	"github.com/vectorvault/nexus/wal"
)

// Store is a durable vector record store with similarity search and
// theme correlation. All methods are safe for concurrent use: mutations
// are serialized internally, reads run concurrently and are never
// blocked by other reads.
type Store struct {
	engine     *engine.Engine
	index      *search.Index
	correlator *correlate.Correlator
	metrics    MetricsCollector
	logger     *Logger
	dir        string
}

// Open loads (or creates) a store in the given directory. The previous
// state is recovered from the latest snapshot plus the committed tail
// of the write-ahead log; mutations that never finished committing are
// rolled back, never completed.
func Open(dir string, optFns ...Option) (*Store, error) {
	opts := applyOptions(optFns)

	walOpts := wal.DefaultOptions
	for _, fn := range opts.walOptions {
		fn(&walOpts)
	}

	eng, err := engine.Open(dir, engine.Options{
		WAL:                 walOpts,
		SnapshotCompression: opts.snapshotCompression,
		Logger:              opts.logger.Logger,
	})
	if err != nil {
		return nil, translateError(err)
	}

	return &Store{
		engine:     eng,
		index:      search.New(eng, search.WithParallelism(opts.searchParallelism)),
		correlator: correlate.New(eng, opts.correlator),
		metrics:    opts.metricsCollector,
		logger:     opts.logger,
		dir:        dir,
	}, nil
}

// Dir returns the store's directory.
func (s *Store) Dir() string { return s.dir }

// Insert appends a record and returns its assigned id. Ids are unique,
// assigned in insertion order, and never reused, even across restarts.
// The record is durable and visible to readers when Insert returns.
func (s *Store) Insert(ctx context.Context, draft model.RecordDraft) (model.ID, error) {
	start := time.Now()
	id, err := s.engine.Insert(ctx, draft)
	err = translateError(err)
	s.metrics.RecordInsert(time.Since(start), err)
	s.logger.LogInsert(ctx, uint64(id), draft.Modality, len(draft.Vector), err)
	return id, err
}

// Get returns the record with the given id. The returned record is a
// copy; mutating it does not affect the store.
func (s *Store) Get(ctx context.Context, id model.ID) (model.Record, error) {
	rec, err := s.engine.Get(ctx, id)
	return rec, translateError(err)
}

// Scan iterates records matching the filter. Each call starts a fresh
// traversal over the records committed at call time; there is no shared
// cursor state between calls.
func (s *Store) Scan(ctx context.Context, f model.Filter) iter.Seq2[model.Record, error] {
	return func(yield func(model.Record, error) bool) {
		for rec, err := range s.engine.Scan(ctx, f) {
			if !yield(rec, translateError(err)) {
				return
			}
		}
	}
}

// SetMetadata durably sets one metadata key on a record. Overwriting an
// existing key is explicit and last-write-wins.
func (s *Store) SetMetadata(ctx context.Context, id model.ID, key string, value metadata.Value) error {
	start := time.Now()
	err := translateError(s.engine.SetMetadata(ctx, id, key, value))
	s.metrics.RecordSetMetadata(time.Since(start), err)
	return err
}

// Purge durably removes all records of a source and returns how many
// were removed. Purging an unknown source returns 0, not an error.
func (s *Store) Purge(ctx context.Context, sourceID string) (int, error) {
	start := time.Now()
	removed, err := s.engine.Purge(ctx, sourceID)
	err = translateError(err)
	s.metrics.RecordPurge(removed, time.Since(start), err)
	s.logger.LogPurge(ctx, sourceID, removed, err)
	return removed, err
}

// Dimension reports the dimension bound to a modality, if any. The
// first inserted record of a modality binds it.
func (s *Store) Dimension(modality string) (int, bool) {
	return s.engine.Dimension(modality)
}

// Stats returns a point-in-time summary of the corpus.
func (s *Store) Stats() (engine.Stats, error) {
	stats, err := s.engine.Stats()
	return stats, translateError(err)
}

// SearchResult is a similarity search hit, enriched with the matching
// record.
type SearchResult struct {
	ID     model.ID
	Score  float32
	Record model.Record
}

// SearchOptions narrows a search's candidate set.
type SearchOptions struct {
	// SourceID restricts candidates to one source when non-empty.
	SourceID string

	// TimeRange restricts candidates to [Start, End) when non-nil.
	TimeRange *model.TimeRange
}

// Search returns the topK records of a modality most similar to query
// by cosine similarity, ordered by descending score with ascending id
// breaking ties. topK larger than the candidate count returns all
// candidates; a modality with no records yields an empty slice.
func (s *Store) Search(ctx context.Context, query []float32, modality string, topK int, optFns ...func(o *SearchOptions)) ([]SearchResult, error) {
	start := time.Now()

	var opts SearchOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	hits, err := s.index.Search(ctx, query, modality, topK, model.Filter{
		SourceID:  opts.SourceID,
		TimeRange: opts.TimeRange,
	})
	if err != nil {
		err = translateError(err)
		s.metrics.RecordSearch(topK, time.Since(start), err)
		s.logger.LogSearch(ctx, modality, topK, 0, err)
		return nil, err
	}

	results, err := s.enrich(ctx, hits)
	if err != nil {
		err = translateError(err)
		s.metrics.RecordSearch(topK, time.Since(start), err)
		s.logger.LogSearch(ctx, modality, topK, 0, err)
		return nil, err
	}

	s.metrics.RecordSearch(topK, time.Since(start), nil)
	s.logger.LogSearch(ctx, modality, topK, len(results), nil)

	return results, nil
}

func (s *Store) enrich(ctx context.Context, hits []search.Result) ([]SearchResult, error) {
	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		rec, err := s.engine.Get(ctx, hit.ID)
		if err != nil {
			return nil, err
		}
		results = append(results, SearchResult{ID: hit.ID, Score: hit.Score, Record: rec})
	}
	return results, nil
}

// SimilarMomentsOptions tunes a SimilarMoments query. The zero value
// selects the documented defaults.
type SimilarMomentsOptions struct {
	// Window excludes results within ±Window seconds of the target
	// time, so the trivially adjacent moments do not crowd out the
	// interesting distant ones. Defaults to 30.
	Window float64

	// AnchorRadius is how far around the target time to look for the
	// record whose vector represents the moment. Defaults to 5.
	AnchorRadius float64

	// SourceID restricts results to one source when non-empty.
	SourceID string
}

const (
	defaultSimilarWindow = 30.0
	defaultAnchorRadius  = 5.0
)

// SimilarMoments finds the topK moments of a modality most similar to
// the moment at targetTime, excluding everything within ±Window of it.
// The query vector is the earliest record within ±AnchorRadius of the
// target; a target with no nearby records yields an empty slice.
func (s *Store) SimilarMoments(ctx context.Context, modality string, targetTime float64, topK int, optFns ...func(o *SimilarMomentsOptions)) ([]SearchResult, error) {
	if topK < 1 {
		return nil, fmt.Errorf("%w: top_k must be at least 1, got %d", ErrInvalidArgument, topK)
	}
	if modality == "" {
		return nil, fmt.Errorf("%w: modality must not be empty", ErrInvalidArgument)
	}

	opts := SimilarMomentsOptions{
		Window:       defaultSimilarWindow,
		AnchorRadius: defaultAnchorRadius,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	anchor, ok, err := s.anchorMoment(modality, targetTime, opts.AnchorRadius)
	if err != nil {
		return nil, translateError(err)
	}
	if !ok {
		return []SearchResult{}, nil
	}

	// A per-call index over a source that hides the excluded window
	// keeps the top-k exact without over-fetching.
	excluded := search.New(&windowExcludingSource{
		src:    s.engine,
		center: targetTime,
		radius: opts.Window,
	})

	hits, err := excluded.Search(ctx, anchor.Vector, modality, topK, model.Filter{SourceID: opts.SourceID})
	if err != nil {
		return nil, translateError(err)
	}

	results, err := s.enrich(ctx, hits)
	if err != nil {
		return nil, translateError(err)
	}

	return results, nil
}

// anchorMoment picks the record representing the moment at targetTime:
// the earliest record within ±radius, ties broken by lower id.
func (s *Store) anchorMoment(modality string, targetTime, radius float64) (*model.Record, bool, error) {
	window := model.TimeRange{Start: targetTime - radius, End: targetTime + radius}
	recs, err := s.engine.Select(model.Filter{Modality: modality, TimeRange: &window})
	if err != nil {
		return nil, false, err
	}
	if len(recs) == 0 {
		return nil, false, nil
	}

	anchor := recs[0]
	for _, rec := range recs[1:] {
		if rec.Timestamp < anchor.Timestamp {
			anchor = rec
		}
	}
	return anchor, true, nil
}

// windowExcludingSource serves search candidates minus the records
// within ±radius of a center timestamp.
type windowExcludingSource struct {
	src    search.Source
	center float64
	radius float64
}

func (s *windowExcludingSource) Dimension(modality string) (int, bool) {
	return s.src.Dimension(modality)
}

func (s *windowExcludingSource) Select(f model.Filter) ([]*model.Record, error) {
	recs, err := s.src.Select(f)
	if err != nil {
		return nil, err
	}

	kept := make([]*model.Record, 0, len(recs))
	for _, rec := range recs {
		if math.Abs(rec.Timestamp-s.center) < s.radius {
			continue
		}
		kept = append(kept, rec)
	}
	return kept, nil
}

// Correlate computes the correlation of a theme across a scope's two
// partitions. See the correlate package for scope constructors and the
// scoring formula.
func (s *Store) Correlate(ctx context.Context, theme string, scope correlate.Scope) (correlate.Result, error) {
	start := time.Now()
	res, err := s.correlator.Correlate(ctx, theme, scope)
	err = translateError(err)
	s.metrics.RecordCorrelation(time.Since(start), err)
	s.logger.LogCorrelate(ctx, theme, res.Counterpart, res.Score, err)
	return res, err
}

// RankThemes correlates every theme present in either modality and
// returns the topN results ordered by descending score, ties broken by
// theme name.
func (s *Store) RankThemes(ctx context.Context, modalityA, modalityB string, topN int) ([]correlate.Result, error) {
	start := time.Now()
	results, err := s.correlator.RankThemes(ctx, modalityA, modalityB, topN)
	err = translateError(err)
	s.metrics.RecordCorrelation(time.Since(start), err)
	return results, err
}

// Coherence measures how evenly a theme occurs across partitions;
// 1.0 means identical occurrence rates everywhere.
func (s *Store) Coherence(ctx context.Context, theme string, partitions []model.Filter) (float64, error) {
	start := time.Now()
	coherence, err := s.correlator.Coherence(ctx, theme, partitions)
	err = translateError(err)
	s.metrics.RecordCorrelation(time.Since(start), err)
	return coherence, err
}

// ActivityPeaks buckets a theme's occurrences over time and returns the
// busiest buckets first.
func (s *Store) ActivityPeaks(ctx context.Context, theme string, f model.Filter, bucketWidth float64) ([]correlate.Peak, error) {
	start := time.Now()
	peaks, err := s.correlator.ActivityPeaks(ctx, theme, f, bucketWidth)
	err = translateError(err)
	s.metrics.RecordCorrelation(time.Since(start), err)
	return peaks, err
}

// Checkpoint writes a snapshot of the current state and truncates the
// write-ahead log. Restart recovery then starts from the snapshot
// instead of replaying the full log.
func (s *Store) Checkpoint(ctx context.Context) error {
	err := translateError(s.engine.Checkpoint(ctx))
	s.logger.LogCheckpoint(ctx, err)
	return err
}

// Close flushes pending writes and releases resources. Close is
// idempotent; operations on a closed store return ErrStoreClosed.
func (s *Store) Close() error {
	return translateError(s.engine.Close())
}
