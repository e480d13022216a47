package poststore

import (
	"github.com/roach88/bsky-store/internal/model"
)

// EventKind tags an event_log row as an upsert or a delete.
type EventKind string

const (
	KindUpsert EventKind = "upsert"
	KindDelete EventKind = "delete"
)

// EventMeta is the meta_json payload attached to every event_log row.
type EventMeta struct {
	Source         string
	Command        string
	FilterExprHash string
	CreatedAt      model.Timestamp
}

// EventLogEntry is one row of event_log, optionally carrying the post it
// upserted (nil for deletes, and nil when only seq/id metadata was read).
type EventLogEntry struct {
	Seq       model.EventSeq
	ID        string
	Version   int
	Kind      EventKind
	URI       model.PostURI
	Meta      EventMeta
	Post      *model.Post
	CreatedAt model.Timestamp
}
