package poststore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/bsky-store/internal/bskyerr"
	"github.com/roach88/bsky-store/internal/model"
)

// GetPost returns the post stored for uri, or nil if absent. Used by the
// derivation engine to check prior membership before propagating a delete.
func (s *Store) GetPost(ctx context.Context, uri model.PostURI) (*model.Post, error) {
	row := s.db.QueryRowContext(ctx, `SELECT post_json FROM posts WHERE uri = ?`, string(uri))
	var postJSON string
	if err := row.Scan(&postJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, bskyerr.NewStoreIoError(string(uri), "getPost", err)
	}
	p, err := model.UnmarshalPost([]byte(postJSON))
	if err != nil {
		return nil, bskyerr.NewStoreIoError(string(uri), "getPost", err)
	}
	return &p, nil
}

// Count returns the number of rows in posts.
func (s *Store) Count(ctx context.Context) (uint64, error) {
	var n uint64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts`).Scan(&n); err != nil {
		return 0, bskyerr.NewStoreIoError("", "count", err)
	}
	return n, nil
}

// MaxEventSeq returns the highest seq in event_log, or nil if the log is empty.
func (s *Store) MaxEventSeq(ctx context.Context) (*uint64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM event_log`).Scan(&seq); err != nil {
		return nil, bskyerr.NewStoreIoError("", "maxEventSeq", err)
	}
	if !seq.Valid {
		return nil, nil
	}
	v := uint64(seq.Int64)
	return &v, nil
}

// ListEventsAfter returns event_log entries with seq > afterSeq, ordered by
// seq ascending, decoding each entry's post payload for upserts. Used by
// the derivation engine to replay a source store's log.
func (s *Store) ListEventsAfter(ctx context.Context, afterSeq uint64, limit int) ([]EventLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, version, kind, uri, meta_json, event_json, created_at
		FROM event_log
		WHERE seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, afterSeq, limit)
	if err != nil {
		return nil, bskyerr.NewStoreIoError("", "listEventsAfter", err)
	}
	defer rows.Close()

	entries := []EventLogEntry{}
	for rows.Next() {
		entry, err := scanEventLogEntry(rows)
		if err != nil {
			return nil, bskyerr.NewStoreIoError("", "listEventsAfter", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, bskyerr.NewStoreIoError("", "listEventsAfter", err)
	}
	return entries, nil
}

// DecodePostJSON decodes a posts.post_json column value into a Post. Exposed
// for the query planner, which scans post_json directly out of rows it
// builds from pushed-down filter leaves.
func DecodePostJSON(postJSON string) (model.Post, error) {
	return model.UnmarshalPost([]byte(postJSON))
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEventLogEntry(s scannable) (EventLogEntry, error) {
	var seq int64
	var id, kindRaw, uriRaw, metaJSON, eventJSON, createdAtRaw string
	var version int

	if err := s.Scan(&seq, &id, &version, &kindRaw, &uriRaw, &metaJSON, &eventJSON, &createdAtRaw); err != nil {
		return EventLogEntry{}, err
	}

	kind := EventKind(kindRaw)
	uri := model.PostURI(uriRaw)

	meta, err := unmarshalMeta(metaJSON)
	if err != nil {
		return EventLogEntry{}, fmt.Errorf("scan event_log row %d: %w", seq, err)
	}

	createdAt, err := model.NewTimestamp(createdAtRaw)
	if err != nil {
		return EventLogEntry{}, fmt.Errorf("scan event_log row %d: created_at: %w", seq, err)
	}

	post, err := unmarshalEvent(kind, uri, eventJSON)
	if err != nil {
		return EventLogEntry{}, fmt.Errorf("scan event_log row %d: %w", seq, err)
	}

	return EventLogEntry{
		Seq: model.EventSeq(seq), ID: id, Version: version, Kind: kind,
		URI: uri, Meta: meta, Post: post, CreatedAt: createdAt,
	}, nil
}
