package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
)

// RawPost is an unparsed post record pulled from a feed, carrying an
// opaque page cursor at page boundaries so the engine can checkpoint
// mid-page-fetch (spec.md §6.1).
type RawPost struct {
	Raw        json.RawMessage
	PageCursor string // non-empty only on the last item of a page
}

// RawPostSource is a lazy, pull-based sequence of RawPost, obtained from a
// Feed method. Next returns ok=false once the source is exhausted.
type RawPostSource interface {
	Next(ctx context.Context) (post RawPost, ok bool, err error)
}

// FeedOptions narrows a feed request, mirroring the options the AT Protocol
// XRPC endpoints accept.
type FeedOptions struct {
	Cursor      string
	Limit       int
	ReplyFilter string // "posts_with_replies" | "posts_no_replies" | ""
	IncludePins bool
}

// FeedClient is the capability the sync engine pulls raw posts from. The
// actual HTTP/XRPC client is out of scope (spec.md §1); callers inject
// their own implementation.
type FeedClient interface {
	GetTimeline(ctx context.Context, opts FeedOptions) (RawPostSource, error)
	GetFeed(ctx context.Context, uri string, opts FeedOptions) (RawPostSource, error)
	GetListFeed(ctx context.Context, uri string, opts FeedOptions) (RawPostSource, error)
	GetNotifications(ctx context.Context, opts FeedOptions) (RawPostSource, error)
	GetAuthorFeed(ctx context.Context, actor string, opts FeedOptions) (RawPostSource, error)
	// GetPostThread is a finite fetch: a whole thread, not a stream.
	GetPostThread(ctx context.Context, uri string, opts FeedOptions) ([]RawPost, error)
	// JetstreamSource opens the firehose commit stream.
	JetstreamSource(ctx context.Context, opts JetstreamOptions) (CommitMessageSource, error)
}

// JetstreamOptions narrows a firehose subscription.
type JetstreamOptions struct {
	Endpoint            string
	Collections         []string
	Dids                []string
	Compress            bool
	MaxMessageSizeBytes int
	Cursor              string // time_us as a decimal string
}

// CommitOp identifies the kind of repo mutation a Jetstream commit message
// carries.
type CommitOp string

const (
	CommitCreate CommitOp = "create"
	CommitUpdate CommitOp = "update"
	CommitDelete CommitOp = "delete"
)

// CommitMessage is one Jetstream firehose event (spec.md §4.4's Jetstream
// sub-pipeline).
type CommitMessage struct {
	TimeUs     int64
	Did        string
	Collection string
	RKey       string
	Operation  CommitOp
	Record     json.RawMessage // nil for delete
}

// CommitMessageSource is a lazy, pull-based sequence of CommitMessage.
type CommitMessageSource interface {
	Next(ctx context.Context) (msg CommitMessage, ok bool, err error)
}

// sourceStream opens the RawPostSource for src against feed, using cursor
// as the starting position if the source supports one.
func sourceStream(ctx context.Context, feed FeedClient, src DataSource, opts FeedOptions) (RawPostSource, error) {
	switch s := src.(type) {
	case Timeline:
		return feed.GetTimeline(ctx, opts)
	case Feed:
		return feed.GetFeed(ctx, s.URI, opts)
	case List:
		return feed.GetListFeed(ctx, s.URI, opts)
	case Notifications:
		return feed.GetNotifications(ctx, opts)
	case Author:
		opts.ReplyFilter = s.Filter
		opts.IncludePins = s.IncludePins
		return feed.GetAuthorFeed(ctx, s.Actor, opts)
	case Thread:
		posts, err := feed.GetPostThread(ctx, s.URI, opts)
		if err != nil {
			return nil, err
		}
		return &sliceSource{posts: posts}, nil
	default:
		return nil, errUnsupportedSource(src)
	}
}

// sliceSource adapts a finite, already-fetched []RawPost (e.g. a thread) to
// the RawPostSource interface.
type sliceSource struct {
	posts []RawPost
	next  int
}

func (s *sliceSource) Next(ctx context.Context) (RawPost, bool, error) {
	if err := ctx.Err(); err != nil {
		return RawPost{}, false, err
	}
	if s.next >= len(s.posts) {
		return RawPost{}, false, nil
	}
	p := s.posts[s.next]
	s.next++
	return p, true, nil
}

func errUnsupportedSource(src DataSource) error {
	return fmt.Errorf("syncengine: %T is not a paginated feed source (did you mean to run the Jetstream sub-pipeline?)", src)
}
