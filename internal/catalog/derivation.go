package catalog

import (
	"context"
	"database/sql"

	"github.com/roach88/bsky-store/internal/bskyerr"
	"github.com/roach88/bsky-store/internal/model"
)

// DerivationCheckpoint is one row of derivation_checkpoints: the resume
// position and running counters for one named view projecting sourceStore
// into targetStore through a filter (spec.md §3.1, §4.5). Unlike
// SyncCheckpoint it spans two stores, so it lives in the catalog rather
// than either store's own database.
type DerivationCheckpoint struct {
	ViewName           model.StoreName
	SourceStore        model.StoreName
	TargetStore        model.StoreName
	FilterHash         string
	EvaluationMode     string // "EventTime" | "DeriveTime"
	LastSourceEventSeq *uint64
	EventsProcessed    uint64
	EventsMatched      uint64
	EventsSkipped      uint64
	DeletesPropagated  uint64
	UpdatedAt          model.Timestamp
}

// GetDerivationCheckpoint returns the checkpoint for viewName, or nil if
// the view has never been derived.
func (c *Catalog) GetDerivationCheckpoint(ctx context.Context, viewName model.StoreName) (*DerivationCheckpoint, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT view_name, source_store, target_store, filter_hash, evaluation_mode,
		       last_source_event_seq, events_processed, events_matched, events_skipped,
		       deletes_propagated, updated_at
		FROM derivation_checkpoints WHERE view_name = ?
	`, string(viewName))

	var cp DerivationCheckpoint
	var view, source, target, updatedAt string
	var lastSeq sql.NullInt64

	if err := row.Scan(&view, &source, &target, &cp.FilterHash, &cp.EvaluationMode,
		&lastSeq, &cp.EventsProcessed, &cp.EventsMatched, &cp.EventsSkipped,
		&cp.DeletesPropagated, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, bskyerr.NewStoreIoError(string(viewName), "getDerivationCheckpoint", err)
	}

	name, err := model.NewStoreName(view)
	if err != nil {
		return nil, bskyerr.NewStoreIoError(string(viewName), "getDerivationCheckpoint", err)
	}
	cp.ViewName = name
	if cp.SourceStore, err = model.NewStoreName(source); err != nil {
		return nil, bskyerr.NewStoreIoError(string(viewName), "getDerivationCheckpoint", err)
	}
	if cp.TargetStore, err = model.NewStoreName(target); err != nil {
		return nil, bskyerr.NewStoreIoError(string(viewName), "getDerivationCheckpoint", err)
	}
	if lastSeq.Valid {
		v := uint64(lastSeq.Int64)
		cp.LastSourceEventSeq = &v
	}
	ts, err := model.NewTimestamp(updatedAt)
	if err != nil {
		return nil, bskyerr.NewStoreIoError(string(viewName), "getDerivationCheckpoint", err)
	}
	cp.UpdatedAt = ts

	return &cp, nil
}

// SaveDerivationCheckpoint upserts a view's derivation checkpoint.
func (c *Catalog) SaveDerivationCheckpoint(ctx context.Context, cp DerivationCheckpoint) error {
	var lastSeq any
	if cp.LastSourceEventSeq != nil {
		lastSeq = int64(*cp.LastSourceEventSeq)
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO derivation_checkpoints (
			view_name, source_store, target_store, filter_hash, evaluation_mode,
			last_source_event_seq, events_processed, events_matched, events_skipped,
			deletes_propagated, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(view_name) DO UPDATE SET
			source_store          = excluded.source_store,
			target_store          = excluded.target_store,
			filter_hash           = excluded.filter_hash,
			evaluation_mode       = excluded.evaluation_mode,
			last_source_event_seq = excluded.last_source_event_seq,
			events_processed      = excluded.events_processed,
			events_matched        = excluded.events_matched,
			events_skipped        = excluded.events_skipped,
			deletes_propagated    = excluded.deletes_propagated,
			updated_at            = excluded.updated_at
	`, string(cp.ViewName), string(cp.SourceStore), string(cp.TargetStore), cp.FilterHash, cp.EvaluationMode,
		lastSeq, cp.EventsProcessed, cp.EventsMatched, cp.EventsSkipped, cp.DeletesPropagated, cp.UpdatedAt.String())
	if err != nil {
		return bskyerr.NewStoreIoError(string(cp.ViewName), "saveDerivationCheckpoint", err)
	}
	return nil
}

// IsStale reports whether a view needs re-derivation: true if no checkpoint
// exists, or if sourceMaxSeq exceeds the checkpoint's last processed seq
// (spec.md §4.5 "isStale").
func (cp *DerivationCheckpoint) IsStale(sourceMaxSeq *uint64) bool {
	if cp == nil {
		return true
	}
	if sourceMaxSeq == nil {
		return false
	}
	if cp.LastSourceEventSeq == nil {
		return true
	}
	return *sourceMaxSeq > *cp.LastSourceEventSeq
}
