package nexus

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordInsert is called after each insert operation.
	// duration is the total time taken, err is nil if successful.
	RecordInsert(duration time.Duration, err error)

	// RecordSearch is called after each similarity search.
	// topK is the number of results requested.
	RecordSearch(topK int, duration time.Duration, err error)

	// RecordSetMetadata is called after each metadata augmentation.
	RecordSetMetadata(duration time.Duration, err error)

	// RecordPurge is called after each source purge.
	// removed is the number of records removed.
	RecordPurge(removed int, duration time.Duration, err error)

	// RecordCorrelation is called after each correlation computation
	// (Correlate, RankThemes, Coherence, ActivityPeaks).
	RecordCorrelation(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordInsert(time.Duration, error)      {}
func (NoopMetricsCollector) RecordSearch(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordSetMetadata(time.Duration, error) {}
func (NoopMetricsCollector) RecordPurge(int, time.Duration, error)  {}
func (NoopMetricsCollector) RecordCorrelation(time.Duration, error) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	InsertCount      atomic.Int64
	InsertErrors     atomic.Int64
	InsertTotalNanos atomic.Int64
	SearchCount      atomic.Int64
	SearchErrors     atomic.Int64
	SearchTotalNanos atomic.Int64
	MetadataCount    atomic.Int64
	MetadataErrors   atomic.Int64
	PurgeCount       atomic.Int64
	PurgeErrors      atomic.Int64
	PurgedRecords    atomic.Int64
	CorrelationCount atomic.Int64
	CorrelationErrs  atomic.Int64
}

// RecordInsert implements MetricsCollector.
func (b *BasicMetricsCollector) RecordInsert(duration time.Duration, err error) {
	b.InsertCount.Add(1)
	b.InsertTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.InsertErrors.Add(1)
	}
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(topK int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// RecordSetMetadata implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSetMetadata(duration time.Duration, err error) {
	b.MetadataCount.Add(1)
	if err != nil {
		b.MetadataErrors.Add(1)
	}
}

// RecordPurge implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPurge(removed int, duration time.Duration, err error) {
	b.PurgeCount.Add(1)
	b.PurgedRecords.Add(int64(removed))
	if err != nil {
		b.PurgeErrors.Add(1)
	}
}

// RecordCorrelation implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCorrelation(duration time.Duration, err error) {
	b.CorrelationCount.Add(1)
	if err != nil {
		b.CorrelationErrs.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		InsertCount:      b.InsertCount.Load(),
		InsertErrors:     b.InsertErrors.Load(),
		InsertAvgNanos:   avg(b.InsertTotalNanos.Load(), b.InsertCount.Load()),
		SearchCount:      b.SearchCount.Load(),
		SearchErrors:     b.SearchErrors.Load(),
		SearchAvgNanos:   avg(b.SearchTotalNanos.Load(), b.SearchCount.Load()),
		MetadataCount:    b.MetadataCount.Load(),
		MetadataErrors:   b.MetadataErrors.Load(),
		PurgeCount:       b.PurgeCount.Load(),
		PurgeErrors:      b.PurgeErrors.Load(),
		PurgedRecords:    b.PurgedRecords.Load(),
		CorrelationCount: b.CorrelationCount.Load(),
		CorrelationErrs:  b.CorrelationErrs.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	InsertCount      int64
	InsertErrors     int64
	InsertAvgNanos   int64
	SearchCount      int64
	SearchErrors     int64
	SearchAvgNanos   int64
	MetadataCount    int64
	MetadataErrors   int64
	PurgeCount       int64
	PurgeErrors      int64
	PurgedRecords    int64
	CorrelationCount int64
	CorrelationErrs  int64
}
