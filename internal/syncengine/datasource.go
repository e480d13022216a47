package syncengine

import (
	"fmt"
	"sort"

	"github.com/roach88/bsky-store/internal/canon"
)

// DataSource is a closed sum type identifying where raw posts come from.
// Only the variants in this file implement it; adding a new one requires a
// matching unexported method here.
type DataSource interface {
	dataSource()
	canonPairs() []canon.Pair
}

// Timeline is the authenticated user's home timeline.
type Timeline struct{}

func (Timeline) dataSource() {}
func (Timeline) canonPairs() []canon.Pair {
	return []canon.Pair{canon.P("kind", canon.String("timeline"))}
}

// Feed is a custom feed generator's output, identified by its AT-URI.
type Feed struct{ URI string }

func (Feed) dataSource() {}
func (f Feed) canonPairs() []canon.Pair {
	return []canon.Pair{
		canon.P("kind", canon.String("feed")),
		canon.P("uri", canon.String(f.URI)),
	}
}

// List is a user list's feed, identified by the list's AT-URI.
type List struct{ URI string }

func (List) dataSource() {}
func (l List) canonPairs() []canon.Pair {
	return []canon.Pair{
		canon.P("kind", canon.String("list")),
		canon.P("uri", canon.String(l.URI)),
	}
}

// Notifications is the authenticated user's notification feed.
type Notifications struct{}

func (Notifications) dataSource() {}
func (Notifications) canonPairs() []canon.Pair {
	return []canon.Pair{canon.P("kind", canon.String("notifications"))}
}

// Author is one author's post feed, optionally narrowed by a reply filter.
type Author struct {
	Actor       string
	Filter      string // "posts_with_replies" | "posts_no_replies" | ""
	IncludePins bool
}

func (Author) dataSource() {}
func (a Author) canonPairs() []canon.Pair {
	return []canon.Pair{
		canon.P("kind", canon.String("author")),
		canon.P("actor", canon.String(a.Actor)),
		canon.P("filter", canon.String(a.Filter)),
		canon.P("includePins", canon.Bool(a.IncludePins)),
	}
}

// Thread is a finite fetch of one post's thread.
type Thread struct {
	URI          string
	Depth        int
	ParentHeight int
}

func (Thread) dataSource() {}
func (t Thread) canonPairs() []canon.Pair {
	return []canon.Pair{
		canon.P("kind", canon.String("thread")),
		canon.P("uri", canon.String(t.URI)),
		canon.P("depth", canon.Int(int64(t.Depth))),
		canon.P("parentHeight", canon.Int(int64(t.ParentHeight))),
	}
}

// Jetstream is the firehose consumer's source identity.
type Jetstream struct {
	Endpoint            string
	Collections         []string
	Dids                []string
	Compress            bool
	MaxMessageSizeBytes int
}

func (Jetstream) dataSource() {}
func (j Jetstream) canonPairs() []canon.Pair {
	collections := append([]string(nil), j.Collections...)
	sort.Strings(collections)
	dids := append([]string(nil), j.Dids...)
	sort.Strings(dids)

	return []canon.Pair{
		canon.P("kind", canon.String("jetstream")),
		canon.P("endpoint", canon.String(j.Endpoint)),
		canon.P("collections", canon.Array(stringsToValues(collections))),
		canon.P("dids", canon.Array(stringsToValues(dids))),
		canon.P("compress", canon.Bool(j.Compress)),
		canon.P("maxMessageSizeBytes", canon.Int(int64(j.MaxMessageSizeBytes))),
	}
}

func stringsToValues(ss []string) []canon.Value {
	values := make([]canon.Value, len(ss))
	for i, s := range ss {
		values[i] = canon.String(s)
	}
	return values
}

// DomainSourceKey is the hash domain used to derive deterministic source
// keys, separate from filter.DomainSignature so the two hash spaces never
// collide even given identical input bytes.
const DomainSourceKey = "bsky-store/sync/source-key/v1"

// SourceKey derives a deterministic string identity for src, with array
// fields sorted and optional fields normalized, per spec.md §4.7. It is
// the primary key of sync_checkpoints.source_key.
func SourceKey(src DataSource) (string, error) {
	obj := canon.Obj(src.canonPairs()...)
	hash, err := canon.HashValue(DomainSourceKey, obj)
	if err != nil {
		return "", fmt.Errorf("syncengine: source key: %w", err)
	}
	return hash, nil
}
