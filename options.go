package nexus

import (
	"log/slog"

	"github.com/vectorvault/nexus/correlate"
	"github.com/vectorvault/nexus/engine"
	"github.com/vectorvault/nexus/wal"
)

type options struct {
	walOptions          []func(*wal.Options)
	snapshotCompression engine.Compression
	searchParallelism   int
	correlator          correlate.Config
	metricsCollector    MetricsCollector
	logger              *Logger
}

// Option configures Store constructor behavior.
type Option func(*options)

// WithWAL tunes the write-ahead log (durability mode, group-commit
// interval, compression, auto-checkpoint thresholds). The WAL itself is
// always on; the default durability mode is Sync, which fsyncs every
// mutation before acknowledging it.
//
// Example:
//
//	nexus.Open("./corpus",
//	    nexus.WithWAL(func(o *wal.Options) {
//	        o.DurabilityMode = wal.DurabilityGroupCommit
//	        o.GroupCommitInterval = 10 * time.Millisecond
//	    }))
func WithWAL(optFns ...func(*wal.Options)) Option {
	return func(o *options) {
		o.walOptions = append(o.walOptions, optFns...)
	}
}

// WithSnapshotCompression selects the codec used for checkpoint
// snapshots. The default is zstd.
func WithSnapshotCompression(c engine.Compression) Option {
	return func(o *options) {
		o.snapshotCompression = c
	}
}

// WithSearchParallelism sets the number of goroutines used to score
// large candidate sets. Results are identical to a sequential scan
// regardless of the value. Values below 2 disable partitioning.
func WithSearchParallelism(n int) Option {
	return func(o *options) {
		o.searchParallelism = n
	}
}

// WithCorrelator overrides the correlation configuration (theme key,
// density scale, occurrence predicate).
func WithCorrelator(cfg correlate.Config) Option {
	return func(o *options) {
		o.correlator = cfg
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
//
// Example with JSON logging:
//
//	logger := nexus.NewJSONLogger(slog.LevelInfo)
//	store, _ := nexus.Open("./corpus", nexus.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		snapshotCompression: engine.CompressionZstd,
		searchParallelism:   1,
		correlator:          correlate.DefaultConfig(),
		metricsCollector:    NoopMetricsCollector{},
		logger:              NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
