package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectorvault/nexus/metadata"
	"github.com/vectorvault/nexus/model"
)

func openTestEngine(t *testing.T, dir string) *Engine {
	t.Helper()

	e, err := Open(dir, Options{})
	require.NoError(t, err)
	return e
}

func draft(modality string, vec []float32, ts float64, source string) model.RecordDraft {
	return model.RecordDraft{
		Modality:  modality,
		Vector:    vec,
		Timestamp: ts,
		SourceID:  source,
	}
}

func TestOpenEmptyDirectory(t *testing.T) {
	e := openTestEngine(t, t.TempDir())
	defer e.Close()

	stats, err := e.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), stats.Records)
	assert.Equal(t, model.ID(1), stats.NextID)
}

func TestReopenEmptyStore(t *testing.T) {
	dir := t.TempDir()

	e := openTestEngine(t, dir)
	require.NoError(t, e.Close())

	// Reopen with nothing but a header in the WAL.
	e2 := openTestEngine(t, dir)
	defer e2.Close()

	id, err := e2.Insert(context.Background(), draft("audio", []float32{1}, 0, "s"))
	require.NoError(t, err)
	assert.Equal(t, model.ID(1), id)
}

func TestReopenAfterFullPurge(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	e := openTestEngine(t, dir)
	_, err := e.Insert(ctx, draft("audio", []float32{1}, 0, "gone"))
	require.NoError(t, err)
	_, err = e.Insert(ctx, draft("audio", []float32{2}, 1, "gone"))
	require.NoError(t, err)
	removed, err := e.Purge(ctx, "gone")
	require.NoError(t, err)
	require.Equal(t, 2, removed)
	require.NoError(t, e.Close())

	// Recovery replays onto an empty live set; the id counter still
	// resumes past the purged records.
	e2 := openTestEngine(t, dir)
	defer e2.Close()

	stats, err := e2.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), stats.Records)

	id, err := e2.Insert(ctx, draft("audio", []float32{3}, 2, "s"))
	require.NoError(t, err)
	assert.Equal(t, model.ID(3), id)
}

func TestInsertGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t, t.TempDir())
	defer e.Close()

	d := draft("audio", []float32{1, 2, 3}, 10.5, "rec-001")
	d.Metadata = metadata.Document{"theme": metadata.String("technology")}

	id, err := e.Insert(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, model.ID(1), id)

	rec, err := e.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "audio", rec.Modality)
	assert.Equal(t, []float32{1, 2, 3}, rec.Vector)
	assert.Equal(t, 10.5, rec.Timestamp)
	assert.Equal(t, "rec-001", rec.SourceID)
	theme, _ := rec.Metadata["theme"].AsString()
	assert.Equal(t, "technology", theme)
	assert.InDelta(t, 3.7416, rec.Magnitude, 1e-3)
}

func TestGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t, t.TempDir())
	defer e.Close()

	id, err := e.Insert(ctx, draft("audio", []float32{1, 0}, 0, "s"))
	require.NoError(t, err)

	rec, err := e.Get(ctx, id)
	require.NoError(t, err)
	rec.Vector[0] = 99

	again, err := e.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, float32(1), again.Vector[0])
}

func TestGetNotFound(t *testing.T) {
	e := openTestEngine(t, t.TempDir())
	defer e.Close()

	_, err := e.Get(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSchemaViolationLeavesStoreUnchanged(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t, t.TempDir())
	defer e.Close()

	_, err := e.Insert(ctx, draft("audio", []float32{1, 2, 3}, 0, "s"))
	require.NoError(t, err)

	_, err = e.Insert(ctx, draft("audio", []float32{1, 2}, 0, "s"))
	var sv *SchemaViolationError
	require.ErrorAs(t, err, &sv)
	assert.Equal(t, "audio", sv.Modality)
	assert.Equal(t, 3, sv.Want)
	assert.Equal(t, 2, sv.Got)

	stats, err := e.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.Records)
	assert.Equal(t, model.ID(2), stats.NextID)
}

func TestPerModalityDimensions(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t, t.TempDir())
	defer e.Close()

	_, err := e.Insert(ctx, draft("audio", []float32{1, 2, 3}, 0, "s"))
	require.NoError(t, err)
	// A different modality may use a different dimension.
	_, err = e.Insert(ctx, draft("transcript", []float32{1, 2}, 0, "s"))
	require.NoError(t, err)

	dim, ok := e.Dimension("audio")
	require.True(t, ok)
	assert.Equal(t, 3, dim)

	dim, ok = e.Dimension("transcript")
	require.True(t, ok)
	assert.Equal(t, 2, dim)

	_, ok = e.Dimension("visual")
	assert.False(t, ok)
}

func TestInsertValidation(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t, t.TempDir())
	defer e.Close()

	_, err := e.Insert(ctx, draft("", []float32{1}, 0, "s"))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = e.Insert(ctx, draft("audio", nil, 0, "s"))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSetMetadata(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t, t.TempDir())
	defer e.Close()

	id, err := e.Insert(ctx, draft("audio", []float32{1}, 0, "s"))
	require.NoError(t, err)

	require.NoError(t, e.SetMetadata(ctx, id, "theme", metadata.String("travel")))
	// Last write wins.
	require.NoError(t, e.SetMetadata(ctx, id, "theme", metadata.String("technology")))

	rec, err := e.Get(ctx, id)
	require.NoError(t, err)
	theme, _ := rec.Metadata["theme"].AsString()
	assert.Equal(t, "technology", theme)

	err = e.SetMetadata(ctx, 999, "theme", metadata.String("x"))
	assert.ErrorIs(t, err, ErrNotFound)

	err = e.SetMetadata(ctx, id, "", metadata.String("x"))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t, t.TempDir())
	defer e.Close()

	_, err := e.Insert(ctx, draft("audio", []float32{1}, 0, "keep"))
	require.NoError(t, err)
	_, err = e.Insert(ctx, draft("audio", []float32{2}, 1, "gone"))
	require.NoError(t, err)
	_, err = e.Insert(ctx, draft("visual", []float32{1, 2}, 2, "gone"))
	require.NoError(t, err)

	removed, err := e.Purge(ctx, "gone")
	require.NoError(t, err)
	assert.Equal(t, 3-1, removed)

	// Idempotent: a second purge removes nothing and is not an error.
	removed, err = e.Purge(ctx, "gone")
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	stats, err := e.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.Records)

	// Dimension bindings survive the purge.
	dim, ok := e.Dimension("visual")
	require.True(t, ok)
	assert.Equal(t, 2, dim)
}

func TestScanFilters(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t, t.TempDir())
	defer e.Close()

	_, err := e.Insert(ctx, draft("audio", []float32{1}, 30, "a"))
	require.NoError(t, err)
	_, err = e.Insert(ctx, draft("audio", []float32{2}, 10, "b"))
	require.NoError(t, err)
	_, err = e.Insert(ctx, draft("transcript", []float32{3}, 20, "a"))
	require.NoError(t, err)

	collect := func(f model.Filter) []model.Record {
		var out []model.Record
		for rec, err := range e.Scan(ctx, f) {
			require.NoError(t, err)
			out = append(out, rec)
		}
		return out
	}

	// Insertion order is ascending id.
	all := collect(model.Filter{})
	require.Len(t, all, 3)
	assert.Equal(t, model.ID(1), all[0].ID)
	assert.Equal(t, model.ID(3), all[2].ID)

	audio := collect(model.Filter{Modality: "audio"})
	assert.Len(t, audio, 2)

	sourceA := collect(model.Filter{SourceID: "a"})
	assert.Len(t, sourceA, 2)

	both := collect(model.Filter{Modality: "audio", SourceID: "a"})
	require.Len(t, both, 1)
	assert.Equal(t, model.ID(1), both[0].ID)

	// Half-open time range.
	windowed := collect(model.Filter{TimeRange: &model.TimeRange{Start: 10, End: 30}})
	require.Len(t, windowed, 2)

	byTime := collect(model.Filter{Order: model.OrderByTimestamp})
	require.Len(t, byTime, 3)
	assert.Equal(t, model.ID(2), byTime[0].ID)
	assert.Equal(t, model.ID(3), byTime[1].ID)
	assert.Equal(t, model.ID(1), byTime[2].ID)
}

func TestScanIsRestartable(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t, t.TempDir())
	defer e.Close()

	_, err := e.Insert(ctx, draft("audio", []float32{1}, 0, "s"))
	require.NoError(t, err)

	seq := e.Scan(ctx, model.Filter{})
	for range 2 {
		var count int
		for _, err := range seq {
			require.NoError(t, err)
			count++
		}
		assert.Equal(t, 1, count)
	}
}

func TestReopenRecoversState(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	e := openTestEngine(t, dir)
	id1, err := e.Insert(ctx, draft("audio", []float32{1, 0}, 5, "rec"))
	require.NoError(t, err)
	require.NoError(t, e.SetMetadata(ctx, id1, "theme", metadata.String("travel")))
	_, err = e.Insert(ctx, draft("audio", []float32{0, 1}, 6, "other"))
	require.NoError(t, err)
	_, err = e.Purge(ctx, "other")
	require.NoError(t, err)
	require.NoError(t, e.Close())

	e2 := openTestEngine(t, dir)
	defer e2.Close()

	rec, err := e2.Get(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, rec.Vector)
	theme, _ := rec.Metadata["theme"].AsString()
	assert.Equal(t, "travel", theme)

	stats, err := e2.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.Records)

	// Ids are never reused across restarts.
	id3, err := e2.Insert(ctx, draft("audio", []float32{1, 1}, 7, "rec"))
	require.NoError(t, err)
	assert.Equal(t, model.ID(3), id3)
}

func TestCheckpointAndRecovery(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	e := openTestEngine(t, dir)
	_, err := e.Insert(ctx, draft("audio", []float32{1, 0}, 0, "rec"))
	require.NoError(t, err)

	require.NoError(t, e.Checkpoint(ctx))

	// Mutations after the checkpoint land in the fresh WAL.
	id2, err := e.Insert(ctx, draft("audio", []float32{0, 1}, 1, "rec"))
	require.NoError(t, err)
	require.NoError(t, e.Close())

	e2 := openTestEngine(t, dir)
	defer e2.Close()

	stats, err := e2.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.Records)

	rec, err := e2.Get(ctx, id2)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, rec.Vector)
}

func TestSnapshotCompressionCodecs(t *testing.T) {
	ctx := context.Background()

	for _, c := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
		dir := t.TempDir()

		e, err := Open(dir, Options{SnapshotCompression: c})
		require.NoError(t, err)

		_, err = e.Insert(ctx, draft("audio", []float32{1, 2, 3}, 0, "rec"))
		require.NoError(t, err)
		require.NoError(t, e.Checkpoint(ctx))
		require.NoError(t, e.Close())

		e2, err := Open(dir, Options{SnapshotCompression: c})
		require.NoError(t, err)

		rec, err := e2.Get(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, []float32{1, 2, 3}, rec.Vector, "compression %d", c)
		require.NoError(t, e2.Close())
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t, t.TempDir())
	defer e.Close()

	_, err := e.Insert(ctx, draft("audio", []float32{1, 0}, 12.5, "a"))
	require.NoError(t, err)
	_, err = e.Insert(ctx, draft("audio", []float32{0, 1}, 47.25, "b"))
	require.NoError(t, err)
	_, err = e.Insert(ctx, draft("transcript", []float32{1}, 30, "a"))
	require.NoError(t, err)

	stats, err := e.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), stats.Records)
	assert.Equal(t, model.ID(4), stats.NextID)
	assert.Equal(t, uint64(2), stats.Sources["a"])
	assert.Equal(t, uint64(1), stats.Sources["b"])

	audio := stats.Modalities["audio"]
	assert.Equal(t, uint64(2), audio.Records)
	assert.Equal(t, 2, audio.Dimension)
	assert.Equal(t, 12.5, audio.MinTimestamp)
	assert.Equal(t, 47.25, audio.MaxTimestamp)
	assert.Equal(t, 34.75, audio.Duration())

	transcript := stats.Modalities["transcript"]
	assert.Equal(t, uint64(1), transcript.Records)
	assert.Equal(t, 30.0, transcript.MinTimestamp)
	assert.Equal(t, 30.0, transcript.MaxTimestamp)

	// A fully purged modality keeps its dimension binding but reports
	// zero records and a zero time span.
	_, err = e.Insert(ctx, draft("visual", []float32{1, 2, 3}, 99, "gone"))
	require.NoError(t, err)
	_, err = e.Purge(ctx, "gone")
	require.NoError(t, err)

	stats, err = e.Stats()
	require.NoError(t, err)
	visual := stats.Modalities["visual"]
	assert.Equal(t, uint64(0), visual.Records)
	assert.Equal(t, 3, visual.Dimension)
	assert.Equal(t, float64(0), visual.MinTimestamp)
	assert.Equal(t, float64(0), visual.MaxTimestamp)
}

func TestClosedEngine(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t, t.TempDir())
	require.NoError(t, e.Close())
	require.NoError(t, e.Close()) // idempotent

	_, err := e.Insert(ctx, draft("audio", []float32{1}, 0, "s"))
	assert.ErrorIs(t, err, ErrClosed)

	_, err = e.Get(ctx, 1)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = e.Purge(ctx, "s")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConcurrentReadersAndWriter(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t, t.TempDir())
	defer e.Close()

	_, err := e.Insert(ctx, draft("audio", []float32{1, 0}, 0, "s"))
	require.NoError(t, err)

	done := make(chan error, 2)

	go func() {
		for i := 0; i < 50; i++ {
			if _, err := e.Insert(ctx, draft("audio", []float32{float32(i), 1}, float64(i), "s")); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()
	go func() {
		for i := 0; i < 200; i++ {
			if _, err := e.Get(ctx, 1); err != nil {
				done <- err
				return
			}
			for _, err := range e.Scan(ctx, model.Filter{Modality: "audio"}) {
				if err != nil {
					done <- err
					return
				}
			}
		}
		done <- nil
	}()

	for i := 0; i < 2; i++ {
		require.NoError(t, <-done)
	}
}

func TestChecksumMismatchError(t *testing.T) {
	err := &ChecksumMismatchError{Expected: 1, Actual: 2}
	assert.Contains(t, err.Error(), "checksum mismatch")
	assert.False(t, errors.Is(err, ErrNotFound))
}
