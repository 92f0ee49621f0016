package correlate

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/vectorvault/nexus/engine"
	"github.com/vectorvault/nexus/model"
)

// Coherence measures how evenly a theme occurs across a set of
// partitions. Per-partition occurrence densities are normalized by the
// highest density; the result is 1 minus the variance of the normalized
// densities, so 1.0 means the theme recurs at identical rates
// everywhere and values near 0 mean it is concentrated in one
// partition. A theme absent from every partition scores 0.
func (c *Correlator) Coherence(ctx context.Context, theme string, partitions []model.Filter) (float64, error) {
	if theme == "" {
		return 0, fmt.Errorf("%w: theme must not be empty", engine.ErrInvalidArgument)
	}
	if len(partitions) < 2 {
		return 0, fmt.Errorf("%w: coherence needs at least 2 partitions, got %d", engine.ErrInvalidArgument, len(partitions))
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	densities := make([]float64, len(partitions))
	total := 0

	for i, f := range partitions {
		recs, err := c.src.Select(f)
		if err != nil {
			return 0, err
		}
		total += len(recs)

		if len(recs) == 0 {
			continue
		}
		count := 0
		for _, rec := range recs {
			if c.match(theme, rec) {
				count++
			}
		}
		densities[i] = float64(count) / float64(len(recs))
	}

	if total == 0 {
		return 0, ErrEmptyScope
	}

	maxDensity := 0.0
	for _, d := range densities {
		maxDensity = math.Max(maxDensity, d)
	}
	if maxDensity == 0 {
		return 0, nil
	}

	var mean float64
	for i := range densities {
		densities[i] /= maxDensity
		mean += densities[i]
	}
	mean /= float64(len(densities))

	var variance float64
	for _, d := range densities {
		variance += (d - mean) * (d - mean)
	}
	variance /= float64(len(densities))

	return 1 - variance, nil
}

// Peak is one time bucket of theme activity.
type Peak struct {
	Window model.TimeRange
	Count  int
	IDs    []model.ID // matching records in the bucket, ascending
}

// ActivityPeaks buckets a theme's occurrences over time and returns the
// busiest buckets first (count descending, then bucket start ascending).
// bucketWidth is in the same unit as record timestamps. Buckets with no
// occurrences are omitted.
func (c *Correlator) ActivityPeaks(ctx context.Context, theme string, f model.Filter, bucketWidth float64) ([]Peak, error) {
	if theme == "" {
		return nil, fmt.Errorf("%w: theme must not be empty", engine.ErrInvalidArgument)
	}
	if bucketWidth <= 0 {
		return nil, fmt.Errorf("%w: bucket width must be positive, got %g", engine.ErrInvalidArgument, bucketWidth)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	recs, err := c.src.Select(f)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrEmptyScope
	}

	buckets := make(map[int64]*Peak)
	for _, rec := range recs {
		if !c.match(theme, rec) {
			continue
		}
		slot := int64(math.Floor(rec.Timestamp / bucketWidth))
		p := buckets[slot]
		if p == nil {
			p = &Peak{Window: model.TimeRange{
				Start: float64(slot) * bucketWidth,
				End:   float64(slot+1) * bucketWidth,
			}}
			buckets[slot] = p
		}
		p.Count++
		p.IDs = append(p.IDs, rec.ID) // Select yields ascending ids
	}

	peaks := make([]Peak, 0, len(buckets))
	for _, p := range buckets {
		peaks = append(peaks, *p)
	}
	sort.Slice(peaks, func(i, j int) bool {
		if peaks[i].Count != peaks[j].Count {
			return peaks[i].Count > peaks[j].Count
		}
		return peaks[i].Window.Start < peaks[j].Window.Start
	})

	return peaks, nil
}
