package poststore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/roach88/bsky-store/internal/bskyerr"
	"github.com/roach88/bsky-store/internal/model"
)

// AppendUpsert upserts a post's index row and appends an event_log entry,
// all in one transaction. Hashtag rows are deleted and reinserted so that
// post_hashtag always reflects the latest stored post JSON (invariant b).
func (s *Store) AppendUpsert(ctx context.Context, p model.Post, meta EventMeta) (EventLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return EventLogEntry{}, bskyerr.NewStoreIoError(string(p.URI), "appendUpsert", err)
	}
	defer tx.Rollback()

	entry, err := upsertPostTx(tx, p, meta)
	if err != nil {
		return EventLogEntry{}, err
	}

	if err := tx.Commit(); err != nil {
		return EventLogEntry{}, bskyerr.NewStoreIoError(string(p.URI), "appendUpsert", err)
	}
	return entry, nil
}

// AppendUpsertIfMissing inserts the post only if its uri is not already
// present. Returns nil, nil when the uri already existed (used for
// ingestion-time dedupe).
func (s *Store) AppendUpsertIfMissing(ctx context.Context, p model.Post, meta EventMeta) (*EventLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, bskyerr.NewStoreIoError(string(p.URI), "appendUpsertIfMissing", err)
	}
	defer tx.Rollback()

	existing, err := getPostTx(tx, p.URI)
	if err != nil {
		return nil, bskyerr.NewStoreIoError(string(p.URI), "appendUpsertIfMissing", err)
	}
	if existing != nil {
		return nil, nil
	}

	entry, err := upsertPostTx(tx, p, meta)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, bskyerr.NewStoreIoError(string(p.URI), "appendUpsertIfMissing", err)
	}
	return &entry, nil
}

// PostWithMeta pairs a post with the event metadata it should be committed
// with, for the batch append operations.
type PostWithMeta struct {
	Post model.Post
	Meta EventMeta
}

// AppendUpserts commits N posts in a single transaction, preserving input
// order, returning one entry per input.
func (s *Store) AppendUpserts(ctx context.Context, items []PostWithMeta) ([]EventLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, bskyerr.NewStoreIoError("", "appendUpserts", err)
	}
	defer tx.Rollback()

	entries := make([]EventLogEntry, len(items))
	for i, item := range items {
		entry, err := upsertPostTx(tx, item.Post, item.Meta)
		if err != nil {
			return nil, err
		}
		entries[i] = entry
	}
	if err := tx.Commit(); err != nil {
		return nil, bskyerr.NewStoreIoError("", "appendUpserts", err)
	}
	return entries, nil
}

// AppendUpsertsIfMissing commits N posts in a single transaction, skipping
// any uri already present; preserves input order with a nil slot per skip.
func (s *Store) AppendUpsertsIfMissing(ctx context.Context, items []PostWithMeta) ([]*EventLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, bskyerr.NewStoreIoError("", "appendUpsertsIfMissing", err)
	}
	defer tx.Rollback()

	entries := make([]*EventLogEntry, len(items))
	for i, item := range items {
		existing, err := getPostTx(tx, item.Post.URI)
		if err != nil {
			return nil, bskyerr.NewStoreIoError(string(item.Post.URI), "appendUpsertsIfMissing", err)
		}
		if existing != nil {
			continue
		}
		entry, err := upsertPostTx(tx, item.Post, item.Meta)
		if err != nil {
			return nil, err
		}
		entries[i] = &entry
	}
	if err := tx.Commit(); err != nil {
		return nil, bskyerr.NewStoreIoError("", "appendUpsertsIfMissing", err)
	}
	return entries, nil
}

// AppendDelete removes a post's index row (cascading to post_hashtag) and
// appends a PostDelete event_log entry.
func (s *Store) AppendDelete(ctx context.Context, uri model.PostURI, meta EventMeta) (EventLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return EventLogEntry{}, bskyerr.NewStoreIoError(string(uri), "appendDelete", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM posts WHERE uri = ?`, string(uri)); err != nil {
		return EventLogEntry{}, bskyerr.NewStoreIoError(string(uri), "appendDelete", err)
	}

	entry, err := appendDeleteEventTx(tx, uri, meta)
	if err != nil {
		return EventLogEntry{}, err
	}

	if err := tx.Commit(); err != nil {
		return EventLogEntry{}, bskyerr.NewStoreIoError(string(uri), "appendDelete", err)
	}
	return entry, nil
}

// Clear deletes every row from posts, post_hashtag, and event_log, leaving
// checkpoints untouched. Used by the derivation engine before a full
// replay into a target store whose filter or evaluation mode changed.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return bskyerr.NewStoreIoError("", "clear", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"post_hashtag", "posts", "event_log"} {
		if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
			return bskyerr.NewStoreIoError("", "clear", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return bskyerr.NewStoreIoError("", "clear", err)
	}
	return nil
}

// Apply replays an already-logged entry into the index without appending a
// new event_log row. Used by the derivation engine (and index rebuilds)
// when the entry came from reading another store's log.
func (s *Store) Apply(ctx context.Context, entry EventLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return bskyerr.NewStoreIoError(string(entry.URI), "apply", err)
	}
	defer tx.Rollback()

	switch entry.Kind {
	case KindUpsert:
		if entry.Post == nil {
			return bskyerr.NewStoreIoError(string(entry.URI), "apply", fmt.Errorf("upsert entry missing post payload"))
		}
		if err := writePostRowTx(tx, *entry.Post); err != nil {
			return bskyerr.NewStoreIoError(string(entry.URI), "apply", err)
		}
	case KindDelete:
		if _, err := tx.Exec(`DELETE FROM posts WHERE uri = ?`, string(entry.URI)); err != nil {
			return bskyerr.NewStoreIoError(string(entry.URI), "apply", err)
		}
	default:
		return bskyerr.NewStoreIoError(string(entry.URI), "apply", fmt.Errorf("unknown event kind %q", entry.Kind))
	}

	if err := tx.Commit(); err != nil {
		return bskyerr.NewStoreIoError(string(entry.URI), "apply", err)
	}
	return nil
}

func upsertPostTx(tx *sql.Tx, p model.Post, meta EventMeta) (EventLogEntry, error) {
	if err := writePostRowTx(tx, p); err != nil {
		return EventLogEntry{}, bskyerr.NewStoreIoError(string(p.URI), "upsertPost", err)
	}

	eventJSON, metaJSON, err := marshalUpsertEvent(p, meta)
	if err != nil {
		return EventLogEntry{}, bskyerr.NewStoreIoError(string(p.URI), "upsertPost", err)
	}

	id := uuid.Must(uuid.NewV7()).String()
	res, err := tx.Exec(`
		INSERT INTO event_log (id, version, kind, uri, meta_json, event_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, currentSchemaVersion, string(KindUpsert), string(p.URI), metaJSON, eventJSON, meta.CreatedAt.String())
	if err != nil {
		return EventLogEntry{}, bskyerr.NewStoreIoError(string(p.URI), "upsertPost", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return EventLogEntry{}, bskyerr.NewStoreIoError(string(p.URI), "upsertPost", err)
	}

	post := p
	return EventLogEntry{
		Seq: model.EventSeq(seq), ID: id, Version: currentSchemaVersion,
		Kind: KindUpsert, URI: p.URI, Meta: meta, Post: &post, CreatedAt: meta.CreatedAt,
	}, nil
}

func appendDeleteEventTx(tx *sql.Tx, uri model.PostURI, meta EventMeta) (EventLogEntry, error) {
	eventJSON, metaJSON, err := marshalDeleteEvent(uri, meta)
	if err != nil {
		return EventLogEntry{}, bskyerr.NewStoreIoError(string(uri), "appendDelete", err)
	}

	id := uuid.Must(uuid.NewV7()).String()
	res, err := tx.Exec(`
		INSERT INTO event_log (id, version, kind, uri, meta_json, event_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, currentSchemaVersion, string(KindDelete), string(uri), metaJSON, eventJSON, meta.CreatedAt.String())
	if err != nil {
		return EventLogEntry{}, bskyerr.NewStoreIoError(string(uri), "appendDelete", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return EventLogEntry{}, bskyerr.NewStoreIoError(string(uri), "appendDelete", err)
	}

	return EventLogEntry{
		Seq: model.EventSeq(seq), ID: id, Version: currentSchemaVersion,
		Kind: KindDelete, URI: uri, Meta: meta, CreatedAt: meta.CreatedAt,
	}, nil
}

// writePostRowTx replaces the posts row and its post_hashtag rows for p.URI.
func writePostRowTx(tx *sql.Tx, p model.Post) error {
	postJSON, err := model.MarshalPost(p)
	if err != nil {
		return fmt.Errorf("marshal post: %w", err)
	}

	createdDate := p.CreatedAt.Time().UTC().Format("2006-01-02")
	_, err = tx.Exec(`
		INSERT INTO posts (uri, created_at, created_date, author, post_json)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(uri) DO UPDATE SET
			created_at = excluded.created_at,
			created_date = excluded.created_date,
			author = excluded.author,
			post_json = excluded.post_json
	`, string(p.URI), p.CreatedAt.String(), createdDate, string(p.Author), string(postJSON))
	if err != nil {
		return fmt.Errorf("upsert posts row: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM post_hashtag WHERE uri = ?`, string(p.URI)); err != nil {
		return fmt.Errorf("clear post_hashtag: %w", err)
	}
	for _, tag := range p.Hashtags {
		if _, err := tx.Exec(`
			INSERT INTO post_hashtag (uri, tag) VALUES (?, ?)
			ON CONFLICT(uri, tag) DO NOTHING
		`, string(p.URI), string(tag)); err != nil {
			return fmt.Errorf("insert post_hashtag: %w", err)
		}
	}
	return nil
}

func getPostTx(tx *sql.Tx, uri model.PostURI) (*model.Post, error) {
	row := tx.QueryRow(`SELECT post_json FROM posts WHERE uri = ?`, string(uri))
	var postJSON string
	if err := row.Scan(&postJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	p, err := model.UnmarshalPost([]byte(postJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal post: %w", err)
	}
	return &p, nil
}
