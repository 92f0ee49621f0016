package wal

import (
	"time"

	"github.com/vectorvault/nexus/metadata"
)

// DurabilityMode defines the fsync behavior for WAL writes.
type DurabilityMode int

const (
	// DurabilitySync fsyncs after every committed operation.
	// Slowest but strongest guarantee: a mutation acknowledged to the
	// caller survives a crash. This is the default, because the store
	// contract promises durability before returning success.
	DurabilitySync DurabilityMode = iota

	// DurabilityGroupCommit batches fsyncs at regular intervals,
	// amortizing their cost across operations. Callers block until the
	// batch containing their operation has been synced.
	DurabilityGroupCommit

	// DurabilityAsync never fsyncs explicitly. Fastest writes, but
	// acknowledged operations may be lost on crash. Use only when the
	// corpus can be rebuilt from upstream extractors.
	DurabilityAsync
)

// OperationType represents the type of operation in the WAL.
type OperationType uint8

const (
	// OpInsert is a logical record insertion, emitted by ReplayCommitted.
	OpInsert OperationType = iota
	// OpSetMetadata is a logical metadata augmentation, emitted by ReplayCommitted.
	OpSetMetadata
	// OpPurge is a logical source purge, emitted by ReplayCommitted.
	OpPurge
	// OpCheckpoint marks a snapshot boundary; replay stops here.
	OpCheckpoint

	// Prepare/Commit protocol (atomic recovery):
	// a prepare entry records the intended mutation, a commit entry marks
	// it as applied. Recovery replays only committed operations, so a
	// crash mid-insert never leaves a torn record.

	// OpPrepareInsert is the prepare half of an insert.
	OpPrepareInsert
	// OpPrepareSetMetadata is the prepare half of a metadata augmentation.
	OpPrepareSetMetadata
	// OpPreparePurge is the prepare half of a source purge.
	OpPreparePurge
	// OpCommitInsert is the commit half of an insert.
	OpCommitInsert
	// OpCommitSetMetadata is the commit half of a metadata augmentation.
	OpCommitSetMetadata
	// OpCommitPurge is the commit half of a source purge.
	OpCommitPurge
)

// Entry represents a single entry in the WAL.
//
// Not every field is populated for every operation type: inserts carry
// the full record draft, metadata augmentations carry MetaKey/MetaValue,
// purges carry only SourceID.
type Entry struct {
	Type   OperationType
	SeqNum uint64 // sequence number for ordering

	ID        uint64 // record id (inserts, metadata augmentations)
	Modality  string
	Timestamp float64
	SourceID  string
	Vector    []float32
	Metadata  metadata.Document

	MetaKey   string
	MetaValue metadata.Value
}

// Options contains configuration for the WAL.
type Options struct {
	// Path is the directory where the WAL file is stored.
	Path string

	// Compress enables zstd compression of the entry stream.
	// Recommended for large corpora to reduce disk I/O.
	Compress bool

	// CompressionLevel sets the zstd compression level (1-22).
	// The default (3) balances ratio and write speed.
	CompressionLevel int

	// AutoCheckpointOps triggers the checkpoint callback after N committed
	// operations. 0 disables operation-based checkpoints.
	AutoCheckpointOps int

	// AutoCheckpointMB triggers the checkpoint callback when the WAL file
	// exceeds N megabytes. 0 disables size-based checkpoints.
	AutoCheckpointMB int

	// DurabilityMode controls fsync behavior (Sync, GroupCommit, Async).
	DurabilityMode DurabilityMode

	// GroupCommitInterval is the maximum time an operation waits for a
	// batched fsync in GroupCommit mode.
	GroupCommitInterval time.Duration

	// GroupCommitMaxOps is the maximum number of operations batched before
	// an immediate fsync in GroupCommit mode.
	GroupCommitMaxOps int
}

// DefaultOptions returns default WAL options.
var DefaultOptions = Options{
	Path:                ".",
	Compress:            false,
	CompressionLevel:    3,
	AutoCheckpointOps:   10000,
	AutoCheckpointMB:    100,
	DurabilityMode:      DurabilitySync,
	GroupCommitInterval: 10 * time.Millisecond,
	GroupCommitMaxOps:   100,
}
