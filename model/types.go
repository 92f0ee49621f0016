// Package model defines the shared data types of the nexus engine.
package model

import (
	"fmt"

	"github.com/vectorvault/nexus/metadata"
)

// ID is the stable, user-facing identifier of a stored record.
// IDs are assigned at insertion, strictly increasing, and never reused,
// even across restarts and purges.
type ID = uint64

// TimeRange is a half-open timestamp interval [Start, End).
// Timestamps are seconds, either absolute (Unix epoch) or a relative
// offset into a source recording; the engine does not interpret them
// beyond ordering and range checks.
type TimeRange struct {
	Start float64
	End   float64
}

// Contains reports whether ts falls inside the range.
func (r TimeRange) Contains(ts float64) bool {
	return ts >= r.Start && ts < r.End
}

// String returns a string representation of the TimeRange.
func (r TimeRange) String() string {
	return fmt.Sprintf("[%g,%g)", r.Start, r.End)
}

// RecordDraft is a record as supplied by an upstream feature extractor,
// before an ID has been assigned.
type RecordDraft struct {
	// Modality tags the vector's source category (e.g. "audio", "visual",
	// "transcript", "journal"). The set is open; the engine only enforces
	// that all vectors of one modality share a dimension.
	Modality string

	// Vector is the feature vector. Its dimension is fixed per modality
	// by the first insertion.
	Vector []float32

	// Timestamp locates the vector in time (seconds).
	Timestamp float64

	// SourceID identifies the originating document or recording.
	SourceID string

	// Metadata holds free-form scalar tags (theme labels, confidence
	// scores). May be nil.
	Metadata metadata.Document
}

// Record is a stored feature vector with its identity and cached norm.
//
// Vector, Modality, Timestamp and SourceID are immutable after insertion.
// Metadata may grow via explicit augmentation; it is never overwritten
// implicitly.
type Record struct {
	ID        ID
	Modality  string
	Vector    []float32
	Timestamp float64
	SourceID  string
	Metadata  metadata.Document

	// Magnitude is the Euclidean norm of Vector, cached at insertion so
	// similarity search never recomputes it.
	Magnitude float32
}

// Clone returns a deep copy of the record. The engine hands out clones so
// no caller ever holds a mutable reference into the store.
func (r Record) Clone() Record {
	c := r
	c.Vector = make([]float32, len(r.Vector))
	copy(c.Vector, r.Vector)
	c.Metadata = r.Metadata.Clone()
	return c
}

// ScanOrder selects the traversal order of a scan.
type ScanOrder int

const (
	// OrderByInsertion yields records in insertion order (ascending ID).
	OrderByInsertion ScanOrder = iota

	// OrderByTimestamp yields records by ascending timestamp, ties broken
	// by ascending ID.
	OrderByTimestamp
)

// Filter narrows a scan. Zero-valued fields are inactive; active fields
// compose by conjunction.
type Filter struct {
	// Modality restricts the scan to one modality when non-empty.
	Modality string

	// SourceID restricts the scan to one source when non-empty.
	SourceID string

	// TimeRange restricts the scan to [Start, End) when non-nil.
	TimeRange *TimeRange

	// Order selects the traversal order. Default is insertion order.
	Order ScanOrder
}

// Matches reports whether the record passes the filter's predicates.
// Ordering is not a predicate and is ignored here.
func (f Filter) Matches(r *Record) bool {
	if f.Modality != "" && r.Modality != f.Modality {
		return false
	}
	if f.SourceID != "" && r.SourceID != f.SourceID {
		return false
	}
	if f.TimeRange != nil && !f.TimeRange.Contains(r.Timestamp) {
		return false
	}
	return true
}
