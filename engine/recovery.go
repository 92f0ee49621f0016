package engine

import (
	"github.com/vectorvault/nexus/distance"
	"github.com/vectorvault/nexus/metadata"
	"github.com/vectorvault/nexus/model"
	"github.com/vectorvault/nexus/wal"
)

// replayWAL applies committed WAL operations on top of the snapshot
// state. Called from Open before the engine is published; no locking
// needed.
//
// After a crash between snapshot save and WAL truncation the log can
// contain operations already captured by the snapshot, so replay is
// idempotent: duplicate inserts and updates to missing records are
// skipped.
func (e *Engine) replayWAL() error {
	var applied, skipped int

	err := e.wal.ReplayCommitted(func(entry *wal.Entry) error {
		switch entry.Type {
		case wal.OpInsert:
			id := model.ID(entry.ID)
			if _, exists := e.records[id]; exists {
				skipped++
				return nil
			}
			e.publishLocked(&model.Record{
				ID:        id,
				Modality:  entry.Modality,
				Vector:    entry.Vector,
				Timestamp: entry.Timestamp,
				SourceID:  entry.SourceID,
				Metadata:  entry.Metadata,
				Magnitude: distance.Norm(entry.Vector),
			})
			if id >= e.nextID {
				e.nextID = id + 1
			}
			applied++

		case wal.OpSetMetadata:
			rec, exists := e.records[model.ID(entry.ID)]
			if !exists {
				skipped++
				return nil
			}
			if rec.Metadata == nil {
				rec.Metadata = make(metadata.Document, 1)
			}
			rec.Metadata[entry.MetaKey] = entry.MetaValue
			applied++

		case wal.OpPurge:
			e.purgeLocked(entry.SourceID)
			applied++
		}

		return nil
	})
	if err != nil {
		return err
	}

	// Ids never repeat across restarts, even when the tail of the log
	// was lost to a crash in async mode. Maximum() requires a non-empty
	// bitmap.
	if e.live.GetCardinality() > 0 {
		if m := model.ID(e.live.Maximum()); m >= e.nextID {
			e.nextID = m + 1
		}
	}

	if applied > 0 || skipped > 0 {
		e.log.Info("wal replay complete", "applied", applied, "skipped", skipped)
	}

	return nil
}
