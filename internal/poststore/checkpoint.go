package poststore

import (
	"context"
	"database/sql"

	"github.com/roach88/bsky-store/internal/bskyerr"
	"github.com/roach88/bsky-store/internal/model"
)

// SyncCheckpoint is one row of sync_checkpoints (C10): a per-(store,source)
// resume position. SourceKey is a deterministic string the sync engine
// derives from a DataSource variant and its parameters.
type SyncCheckpoint struct {
	SourceKey    string
	SourceJSON   string
	Cursor       *string
	LastEventSeq *uint64
	FilterHash   *string
	UpdatedAt    model.Timestamp
}

// GetCheckpoint returns the checkpoint for sourceKey, or nil if none exists.
func (s *Store) GetCheckpoint(ctx context.Context, sourceKey string) (*SyncCheckpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT source_key, source_json, cursor, last_event_seq, filter_hash, updated_at
		FROM sync_checkpoints WHERE source_key = ?
	`, sourceKey)

	var cp SyncCheckpoint
	var cursor, filterHash sql.NullString
	var lastSeq sql.NullInt64
	var updatedAt string

	if err := row.Scan(&cp.SourceKey, &cp.SourceJSON, &cursor, &lastSeq, &filterHash, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, bskyerr.NewStoreIoError(sourceKey, "getCheckpoint", err)
	}

	if cursor.Valid {
		cp.Cursor = &cursor.String
	}
	if filterHash.Valid {
		cp.FilterHash = &filterHash.String
	}
	if lastSeq.Valid {
		v := uint64(lastSeq.Int64)
		cp.LastEventSeq = &v
	}
	ts, err := model.NewTimestamp(updatedAt)
	if err != nil {
		return nil, bskyerr.NewStoreIoError(sourceKey, "getCheckpoint", err)
	}
	cp.UpdatedAt = ts

	return &cp, nil
}

// SaveCheckpoint upserts a checkpoint, never letting last_event_seq regress
// (per spec.md §4.7: "last_event_seq is MAX(existing, new)").
func (s *Store) SaveCheckpoint(ctx context.Context, cp SyncCheckpoint) error {
	var lastSeq any
	if cp.LastEventSeq != nil {
		lastSeq = int64(*cp.LastEventSeq)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_checkpoints (source_key, source_json, cursor, last_event_seq, filter_hash, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_key) DO UPDATE SET
			source_json = excluded.source_json,
			cursor = excluded.cursor,
			last_event_seq = MAX(COALESCE(sync_checkpoints.last_event_seq, 0), COALESCE(excluded.last_event_seq, 0)),
			filter_hash = excluded.filter_hash,
			updated_at = excluded.updated_at
	`, cp.SourceKey, cp.SourceJSON, cp.Cursor, lastSeq, cp.FilterHash, cp.UpdatedAt.String())
	if err != nil {
		return bskyerr.NewStoreIoError(cp.SourceKey, "saveCheckpoint", err)
	}
	return nil
}
