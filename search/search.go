// Package search implements exact cosine similarity search over a
// record source. Every query scans all candidates of the target
// modality; scores are computed with float64 accumulation and results
// are ordered by descending score with ascending id on ties, so the
// same corpus and query always produce the same result list.
package search

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/vectorvault/nexus/distance"
	"github.com/vectorvault/nexus/engine"
	"github.com/vectorvault/nexus/model"
)

// Source provides the candidate records for a search. *engine.Engine
// satisfies it.
type Source interface {
	// Dimension reports the dimension bound to a modality, if any.
	Dimension(modality string) (int, bool)
	// Select returns records matching f, ascending by id. The returned
	// records are shared and must not be mutated.
	Select(f model.Filter) ([]*model.Record, error)
}

// Option configures an Index.
type Option func(*Index)

// WithParallelism sets the number of scoring goroutines used for large
// candidate sets. Values below 1 fall back to sequential scanning.
func WithParallelism(n int) Option {
	return func(ix *Index) { ix.parallelism = n }
}

// parallelThreshold is the candidate count below which partitioning
// costs more than it saves.
const parallelThreshold = 4096

// Index performs exact searches against a Source.
type Index struct {
	src         Source
	parallelism int
}

// New creates an Index over src.
func New(src Source, opts ...Option) *Index {
	ix := &Index{src: src, parallelism: 1}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Search returns the topK records of the given modality most similar to
// query by cosine similarity. The filter narrows the candidate set; its
// Modality field is overridden by the modality argument.
//
// A modality with no records yields an empty slice. Zero-magnitude
// vectors (query or candidate) score 0 rather than NaN.
func (ix *Index) Search(ctx context.Context, query []float32, modality string, topK int, f model.Filter) ([]Result, error) {
	if topK < 1 {
		return nil, fmt.Errorf("%w: top_k must be at least 1, got %d", engine.ErrInvalidArgument, topK)
	}
	if len(query) == 0 {
		return nil, fmt.Errorf("%w: query vector must not be empty", engine.ErrInvalidArgument)
	}
	if modality == "" {
		return nil, fmt.Errorf("%w: modality must not be empty", engine.ErrInvalidArgument)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if dim, bound := ix.src.Dimension(modality); bound && dim != len(query) {
		return nil, &engine.SchemaViolationError{Modality: modality, Want: dim, Got: len(query)}
	}

	f.Modality = modality
	candidates, err := ix.src.Select(f)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []Result{}, nil
	}

	queryMag := distance.Norm(query)

	var results []Result
	if ix.parallelism > 1 && len(candidates) >= parallelThreshold {
		results, err = ix.searchParallel(ctx, query, queryMag, topK, candidates)
		if err != nil {
			return nil, err
		}
	} else {
		results = scorePartition(query, queryMag, topK, candidates)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].less(results[j]) })

	return results, nil
}

// searchParallel splits the candidates into contiguous partitions and
// scores them concurrently. Each partition keeps its own local top-k;
// the merged winners are identical to a sequential scan because scoring
// is per-record deterministic and the final ordering is total.
func (ix *Index) searchParallel(ctx context.Context, query []float32, queryMag float32, topK int, candidates []*model.Record) ([]Result, error) {
	parts := ix.parallelism
	if parts > len(candidates) {
		parts = len(candidates)
	}

	partials := make([][]Result, parts)
	chunk := (len(candidates) + parts - 1) / parts

	g, ctx := errgroup.WithContext(ctx)
	for p := 0; p < parts; p++ {
		lo := p * chunk
		hi := min(lo+chunk, len(candidates))
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			partials[p] = scorePartition(query, queryMag, topK, candidates[lo:hi])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := newTopK(topK)
	for _, part := range partials {
		for _, r := range part {
			merged.push(r)
		}
	}
	return merged.drain(), nil
}

func scorePartition(query []float32, queryMag float32, topK int, candidates []*model.Record) []Result {
	q := newTopK(topK)
	for _, rec := range candidates {
		score := distance.CosineWithMagnitudes(query, rec.Vector, queryMag, rec.Magnitude)
		q.push(Result{ID: rec.ID, Score: score})
	}
	return q.drain()
}
