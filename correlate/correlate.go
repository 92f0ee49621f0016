// Package correlate quantifies how strongly themes co-occur across
// modalities or time windows.
//
// The correlator holds no state between calls: every result is a pure
// function of the current corpus and the explicit arguments, so
// repeated calls on an unchanged corpus return bit-identical results.
package correlate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/vectorvault/nexus/engine"
	"github.com/vectorvault/nexus/model"
)

// ErrEmptyScope is returned when a scope selects zero records in total.
// It distinguishes "nothing to correlate" from a genuine zero
// correlation, which is reported as a score of 0.
var ErrEmptyScope = errors.New("correlation scope selects no records")

// MatchFunc decides whether a record counts as an occurrence of a
// theme. The correlator only aggregates counts; how an occurrence is
// detected is the caller's business.
type MatchFunc func(theme string, rec *model.Record) bool

// Config holds the correlator's scoring parameters. Every constant in
// the formula is named here rather than embedded in the computation.
type Config struct {
	// ThemeKey is the metadata key holding a record's theme label.
	// Used by the default match predicate and by theme enumeration in
	// RankThemes. Defaults to "theme".
	ThemeKey string

	// DensityScale multiplies the geometric mean of the per-partition
	// occurrence densities, lifting scores into a readable range.
	// Defaults to 100.
	DensityScale float64

	// Match overrides occurrence detection. Nil selects the default:
	// metadata[ThemeKey] equals the theme string.
	Match MatchFunc
}

// DefaultConfig returns the documented default parameters.
func DefaultConfig() Config {
	return Config{ThemeKey: "theme", DensityScale: 100}
}

// Source provides the records a correlation reads. *engine.Engine
// satisfies it.
type Source interface {
	// Select returns records matching f, ascending by id. The returned
	// records are shared and must not be mutated.
	Select(f model.Filter) ([]*model.Record, error)
}

// Scope selects the two partitions a correlation compares.
type Scope struct {
	// PartA and PartB select the records of each partition.
	PartA model.Filter
	PartB model.Filter

	// LabelA and LabelB name the partitions in results
	// (modality names, or rendered time windows).
	LabelA string
	LabelB string
}

// CrossModal builds a scope comparing a theme's recurrence across two
// modalities, optionally restricted to a time window.
func CrossModal(modalityA, modalityB string, window *model.TimeRange) Scope {
	return Scope{
		PartA:  model.Filter{Modality: modalityA, TimeRange: window},
		PartB:  model.Filter{Modality: modalityB, TimeRange: window},
		LabelA: modalityA,
		LabelB: modalityB,
	}
}

// CrossTemporal builds a scope comparing a theme's recurrence across
// two time windows over the same modality. An empty modality spans the
// whole corpus.
func CrossTemporal(modality string, windowA, windowB model.TimeRange) Scope {
	return Scope{
		PartA:  model.Filter{Modality: modality, TimeRange: &windowA},
		PartB:  model.Filter{Modality: modality, TimeRange: &windowB},
		LabelA: windowA.String(),
		LabelB: windowB.String(),
	}
}

// Result is one correlation outcome. Results are produced fresh per
// call and never mutated afterwards.
type Result struct {
	// Theme is the correlated theme label.
	Theme string

	// Counterpart names the comparison axis ("audio/transcript" for a
	// cross-modal scope, the two windows for a cross-temporal one).
	Counterpart string

	// Score is DensityScale * sqrt(densityA * densityB), where each
	// density is the partition's occurrence count over its record
	// count. Zero when the theme is absent from either partition.
	Score float64

	// SupportingIDs lists the matching records of both partitions,
	// ascending and deduplicated.
	SupportingIDs []model.ID

	// Window spans the timestamps of the supporting records. Zero when
	// there are none.
	Window model.TimeRange

	// Per-partition occurrence statistics.
	CountA, TotalA int
	CountB, TotalB int
}

// Correlator aggregates theme occurrence statistics over a Source.
type Correlator struct {
	src Source
	cfg Config
}

// New creates a Correlator. Zero-valued config fields fall back to
// DefaultConfig.
func New(src Source, cfg Config) *Correlator {
	def := DefaultConfig()
	if cfg.ThemeKey == "" {
		cfg.ThemeKey = def.ThemeKey
	}
	if cfg.DensityScale == 0 {
		cfg.DensityScale = def.DensityScale
	}
	return &Correlator{src: src, cfg: cfg}
}

func (c *Correlator) match(theme string, rec *model.Record) bool {
	if c.cfg.Match != nil {
		return c.cfg.Match(theme, rec)
	}
	v, ok := rec.Metadata[c.cfg.ThemeKey]
	if !ok {
		return false
	}
	s, ok := v.AsString()
	return ok && s == theme
}

// Correlate computes the correlation of one theme across the scope's
// two partitions. It fails with ErrEmptyScope when the scope selects
// zero records in total; a theme that simply never occurs yields a
// result with score 0.
func (c *Correlator) Correlate(ctx context.Context, theme string, scope Scope) (Result, error) {
	if theme == "" {
		return Result{}, fmt.Errorf("%w: theme must not be empty", engine.ErrInvalidArgument)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	partA, err := c.src.Select(scope.PartA)
	if err != nil {
		return Result{}, err
	}
	partB, err := c.src.Select(scope.PartB)
	if err != nil {
		return Result{}, err
	}

	if len(partA)+len(partB) == 0 {
		return Result{}, fmt.Errorf("%s/%s: %w", scope.LabelA, scope.LabelB, ErrEmptyScope)
	}

	res := Result{
		Theme:       theme,
		Counterpart: scope.LabelA + "/" + scope.LabelB,
		TotalA:      len(partA),
		TotalB:      len(partB),
	}

	var supporting []*model.Record
	for _, rec := range partA {
		if c.match(theme, rec) {
			res.CountA++
			supporting = append(supporting, rec)
		}
	}
	for _, rec := range partB {
		if c.match(theme, rec) {
			res.CountB++
			supporting = append(supporting, rec)
		}
	}

	res.Score = c.score(res.CountA, res.TotalA, res.CountB, res.TotalB)
	res.SupportingIDs, res.Window = supportStats(supporting)

	return res, nil
}

// score is the public correlation formula: the geometric mean of the
// per-partition occurrence densities, scaled by DensityScale.
func (c *Correlator) score(countA, totalA, countB, totalB int) float64 {
	if countA == 0 || countB == 0 || totalA == 0 || totalB == 0 {
		return 0
	}
	densityA := float64(countA) / float64(totalA)
	densityB := float64(countB) / float64(totalB)
	return c.cfg.DensityScale * math.Sqrt(densityA*densityB)
}

func supportStats(supporting []*model.Record) ([]model.ID, model.TimeRange) {
	if len(supporting) == 0 {
		return nil, model.TimeRange{}
	}

	window := model.TimeRange{Start: supporting[0].Timestamp, End: supporting[0].Timestamp}
	ids := make([]model.ID, 0, len(supporting))
	for _, rec := range supporting {
		ids = append(ids, rec.ID)
		if rec.Timestamp < window.Start {
			window.Start = rec.Timestamp
		}
		if rec.Timestamp > window.End {
			window.End = rec.Timestamp
		}
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	// A record can land in both partitions of an overlapping
	// cross-temporal scope.
	dedup := ids[:1]
	for _, id := range ids[1:] {
		if id != dedup[len(dedup)-1] {
			dedup = append(dedup, id)
		}
	}

	return dedup, window
}

// RankThemes correlates every theme present in either modality of the
// pair and returns the topN results ordered by descending score, with
// lexicographic theme order breaking ties. Themes are enumerated from
// the ThemeKey metadata values; records matched only by a custom
// predicate do not introduce new theme labels.
func (c *Correlator) RankThemes(ctx context.Context, modalityA, modalityB string, topN int) ([]Result, error) {
	if topN < 1 {
		return nil, fmt.Errorf("%w: top_n must be at least 1, got %d", engine.ErrInvalidArgument, topN)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scope := CrossModal(modalityA, modalityB, nil)

	partA, err := c.src.Select(scope.PartA)
	if err != nil {
		return nil, err
	}
	partB, err := c.src.Select(scope.PartB)
	if err != nil {
		return nil, err
	}
	if len(partA)+len(partB) == 0 {
		return nil, fmt.Errorf("%s/%s: %w", scope.LabelA, scope.LabelB, ErrEmptyScope)
	}

	themes := make(map[string]struct{})
	collectThemes(themes, partA, c.cfg.ThemeKey)
	collectThemes(themes, partB, c.cfg.ThemeKey)

	ordered := make([]string, 0, len(themes))
	for t := range themes {
		ordered = append(ordered, t)
	}
	sort.Strings(ordered)

	results := make([]Result, 0, len(ordered))
	for _, theme := range ordered {
		res, err := c.Correlate(ctx, theme, scope)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Theme < results[j].Theme
	})

	if len(results) > topN {
		results = results[:topN]
	}

	return results, nil
}

func collectThemes(into map[string]struct{}, recs []*model.Record, themeKey string) {
	for _, rec := range recs {
		if v, ok := rec.Metadata[themeKey]; ok {
			if s, ok := v.AsString(); ok && s != "" {
				into[s] = struct{}{}
			}
		}
	}
}
