package correlate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectorvault/nexus/engine"
	"github.com/vectorvault/nexus/metadata"
	"github.com/vectorvault/nexus/model"
)

type fakeSource struct {
	records []*model.Record
}

func (s *fakeSource) add(modality, theme string, ts float64) model.ID {
	id := model.ID(len(s.records) + 1)
	rec := &model.Record{
		ID:        id,
		Modality:  modality,
		Timestamp: ts,
		SourceID:  "rec",
	}
	if theme != "" {
		rec.Metadata = metadata.Document{"theme": metadata.String(theme)}
	}
	s.records = append(s.records, rec)
	return id
}

func (s *fakeSource) Select(f model.Filter) ([]*model.Record, error) {
	var out []*model.Record
	for _, rec := range s.records {
		if f.Matches(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func TestCorrelateCrossModal(t *testing.T) {
	src := &fakeSource{}
	idA := src.add("audio", "technology", 10)
	src.add("audio", "weather", 20)
	idB := src.add("transcript", "technology", 30)
	src.add("transcript", "technology", 40)

	c := New(src, DefaultConfig())
	res, err := c.Correlate(context.Background(), "technology", CrossModal("audio", "transcript", nil))
	require.NoError(t, err)

	assert.Equal(t, "technology", res.Theme)
	assert.Equal(t, "audio/transcript", res.Counterpart)
	assert.Equal(t, 1, res.CountA)
	assert.Equal(t, 2, res.TotalA)
	assert.Equal(t, 2, res.CountB)
	assert.Equal(t, 2, res.TotalB)
	// 100 * sqrt(0.5 * 1.0)
	assert.InDelta(t, 70.710678, res.Score, 1e-6)
	assert.Equal(t, []model.ID{idA, idB, 4}, res.SupportingIDs)
	assert.Equal(t, model.TimeRange{Start: 10, End: 40}, res.Window)
}

func TestCorrelateAbsentThemeScoresZero(t *testing.T) {
	src := &fakeSource{}
	src.add("audio", "weather", 0)
	src.add("transcript", "weather", 1)

	c := New(src, DefaultConfig())
	res, err := c.Correlate(context.Background(), "nonexistent", CrossModal("audio", "transcript", nil))
	require.NoError(t, err)

	assert.Equal(t, float64(0), res.Score)
	assert.Empty(t, res.SupportingIDs)
	assert.Equal(t, model.TimeRange{}, res.Window)
}

func TestCorrelateEmptyScope(t *testing.T) {
	c := New(&fakeSource{}, DefaultConfig())
	_, err := c.Correlate(context.Background(), "anything", CrossModal("audio", "transcript", nil))
	assert.ErrorIs(t, err, ErrEmptyScope)
}

func TestCorrelateOneSidedScope(t *testing.T) {
	src := &fakeSource{}
	src.add("audio", "technology", 0)

	// One non-empty partition is enough scope; the empty side just
	// zeroes the score.
	c := New(src, DefaultConfig())
	res, err := c.Correlate(context.Background(), "technology", CrossModal("audio", "transcript", nil))
	require.NoError(t, err)
	assert.Equal(t, float64(0), res.Score)
	assert.Equal(t, 1, res.CountA)
	assert.Equal(t, 0, res.TotalB)
}

func TestCorrelateEmptyTheme(t *testing.T) {
	src := &fakeSource{}
	src.add("audio", "x", 0)

	c := New(src, DefaultConfig())
	_, err := c.Correlate(context.Background(), "", CrossModal("audio", "transcript", nil))
	assert.ErrorIs(t, err, engine.ErrInvalidArgument)
}

func TestCorrelateDeterministic(t *testing.T) {
	src := &fakeSource{}
	for i := 0; i < 20; i++ {
		theme := "travel"
		if i%3 == 0 {
			theme = "technology"
		}
		mod := "audio"
		if i%2 == 0 {
			mod = "transcript"
		}
		src.add(mod, theme, float64(i))
	}

	c := New(src, DefaultConfig())
	scope := CrossModal("audio", "transcript", nil)

	first, err := c.Correlate(context.Background(), "technology", scope)
	require.NoError(t, err)
	second, err := c.Correlate(context.Background(), "technology", scope)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCorrelateCrossTemporal(t *testing.T) {
	src := &fakeSource{}
	src.add("audio", "technology", 5)
	src.add("audio", "weather", 15)
	src.add("audio", "technology", 25)

	c := New(src, DefaultConfig())
	scope := CrossTemporal("audio", model.TimeRange{Start: 0, End: 10}, model.TimeRange{Start: 20, End: 30})

	res, err := c.Correlate(context.Background(), "technology", scope)
	require.NoError(t, err)
	assert.Equal(t, 1, res.CountA)
	assert.Equal(t, 1, res.TotalA)
	assert.Equal(t, 1, res.CountB)
	assert.Equal(t, 1, res.TotalB)
	assert.InDelta(t, 100.0, res.Score, 1e-9)
}

func TestCorrelateOverlappingWindowsDeduplicate(t *testing.T) {
	src := &fakeSource{}
	id := src.add("audio", "technology", 10)

	c := New(src, DefaultConfig())
	scope := CrossTemporal("audio", model.TimeRange{Start: 0, End: 20}, model.TimeRange{Start: 5, End: 25})

	res, err := c.Correlate(context.Background(), "technology", scope)
	require.NoError(t, err)
	assert.Equal(t, []model.ID{id}, res.SupportingIDs)
}

func TestCustomMatchFunc(t *testing.T) {
	src := &fakeSource{}
	src.add("audio", "", 0)
	src.add("transcript", "", 1)

	cfg := DefaultConfig()
	cfg.Match = func(theme string, rec *model.Record) bool {
		return theme == "everything"
	}

	c := New(src, cfg)
	res, err := c.Correlate(context.Background(), "everything", CrossModal("audio", "transcript", nil))
	require.NoError(t, err)
	assert.InDelta(t, 100.0, res.Score, 1e-9)
}

func TestCustomDensityScale(t *testing.T) {
	src := &fakeSource{}
	src.add("audio", "technology", 0)
	src.add("transcript", "technology", 1)

	cfg := DefaultConfig()
	cfg.DensityScale = 1

	c := New(src, cfg)
	res, err := c.Correlate(context.Background(), "technology", CrossModal("audio", "transcript", nil))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, res.Score, 1e-9)
}

func TestRankThemes(t *testing.T) {
	src := &fakeSource{}
	// "technology" occurs in both modalities, "weather" only in audio,
	// "travel" in both but more sparsely.
	src.add("audio", "technology", 0)
	src.add("audio", "technology", 1)
	src.add("audio", "weather", 2)
	src.add("audio", "travel", 3)
	src.add("transcript", "technology", 4)
	src.add("transcript", "travel", 5)
	src.add("transcript", "technology", 6)

	c := New(src, DefaultConfig())
	results, err := c.RankThemes(context.Background(), "audio", "transcript", 10)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "technology", results[0].Theme)
	assert.Equal(t, "travel", results[1].Theme)
	assert.Equal(t, "weather", results[2].Theme)
	assert.Equal(t, float64(0), results[2].Score)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestRankThemesTruncatesAndValidates(t *testing.T) {
	src := &fakeSource{}
	src.add("audio", "a", 0)
	src.add("audio", "b", 1)
	src.add("transcript", "a", 2)

	c := New(src, DefaultConfig())
	ctx := context.Background()

	results, err := c.RankThemes(ctx, "audio", "transcript", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].Theme)

	_, err = c.RankThemes(ctx, "audio", "transcript", 0)
	assert.ErrorIs(t, err, engine.ErrInvalidArgument)

	_, err = c.RankThemes(ctx, "visual", "thermal", 3)
	assert.ErrorIs(t, err, ErrEmptyScope)
}

func TestRankThemesTieBreaksByThemeName(t *testing.T) {
	src := &fakeSource{}
	src.add("audio", "zebra", 0)
	src.add("audio", "apple", 1)
	src.add("transcript", "zebra", 2)
	src.add("transcript", "apple", 3)

	c := New(src, DefaultConfig())
	results, err := c.RankThemes(context.Background(), "audio", "transcript", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "apple", results[0].Theme)
	assert.Equal(t, "zebra", results[1].Theme)
}

func TestCoherence(t *testing.T) {
	src := &fakeSource{}
	src.add("audio", "technology", 0)
	src.add("transcript", "technology", 1)
	src.add("visual", "technology", 2)

	c := New(src, DefaultConfig())
	parts := []model.Filter{
		{Modality: "audio"},
		{Modality: "transcript"},
		{Modality: "visual"},
	}

	// Identical density in every partition.
	coh, err := c.Coherence(context.Background(), "technology", parts)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, coh, 1e-9)

	// Absent theme.
	coh, err = c.Coherence(context.Background(), "nonexistent", parts)
	require.NoError(t, err)
	assert.Equal(t, float64(0), coh)

	_, err = c.Coherence(context.Background(), "technology", parts[:1])
	assert.ErrorIs(t, err, engine.ErrInvalidArgument)

	_, err = c.Coherence(context.Background(), "technology", []model.Filter{
		{Modality: "thermal"}, {Modality: "sonar"},
	})
	assert.ErrorIs(t, err, ErrEmptyScope)
}

func TestCoherenceConcentrated(t *testing.T) {
	src := &fakeSource{}
	src.add("audio", "technology", 0)
	src.add("transcript", "weather", 1)

	c := New(src, DefaultConfig())
	coh, err := c.Coherence(context.Background(), "technology", []model.Filter{
		{Modality: "audio"},
		{Modality: "transcript"},
	})
	require.NoError(t, err)
	// Normalized densities are 1 and 0: variance 0.25.
	assert.InDelta(t, 0.75, coh, 1e-9)
}

func TestActivityPeaks(t *testing.T) {
	src := &fakeSource{}
	src.add("audio", "technology", 1)
	src.add("audio", "technology", 2)
	src.add("audio", "technology", 3)
	src.add("audio", "weather", 4)
	src.add("audio", "technology", 12)
	src.add("audio", "technology", 25)
	src.add("audio", "technology", 26)
	src.add("audio", "technology", 27)

	c := New(src, DefaultConfig())
	peaks, err := c.ActivityPeaks(context.Background(), "technology", model.Filter{Modality: "audio"}, 10)
	require.NoError(t, err)
	require.Len(t, peaks, 3)

	// Two buckets tie at 3 occurrences; the earlier one comes first.
	assert.Equal(t, model.TimeRange{Start: 0, End: 10}, peaks[0].Window)
	assert.Equal(t, 3, peaks[0].Count)
	assert.Equal(t, []model.ID{1, 2, 3}, peaks[0].IDs)

	assert.Equal(t, model.TimeRange{Start: 20, End: 30}, peaks[1].Window)
	assert.Equal(t, 3, peaks[1].Count)

	assert.Equal(t, model.TimeRange{Start: 10, End: 20}, peaks[2].Window)
	assert.Equal(t, 1, peaks[2].Count)
}

func TestActivityPeaksValidation(t *testing.T) {
	src := &fakeSource{}
	src.add("audio", "technology", 0)

	c := New(src, DefaultConfig())
	ctx := context.Background()

	_, err := c.ActivityPeaks(ctx, "technology", model.Filter{}, 0)
	assert.ErrorIs(t, err, engine.ErrInvalidArgument)

	_, err = c.ActivityPeaks(ctx, "technology", model.Filter{Modality: "thermal"}, 10)
	assert.ErrorIs(t, err, ErrEmptyScope)
}
