package queryplan

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/bsky-store/internal/filter"
	"github.com/roach88/bsky-store/internal/model"
	"github.com/roach88/bsky-store/internal/poststore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *poststore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "posts.sqlite")
	s, err := poststore.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func mustTimestamp(t *testing.T, raw string) model.Timestamp {
	t.Helper()
	ts, err := model.NewTimestamp(raw)
	require.NoError(t, err)
	return ts
}

func seedPost(t *testing.T, s *poststore.Store, rkey, authorHandle, text string, createdAt string, tags ...string) model.Post {
	t.Helper()
	uri, err := model.NewPostURI("at://did:plc:author/app.bsky.feed.post/" + rkey)
	require.NoError(t, err)
	author, err := model.NewHandle(authorHandle)
	require.NoError(t, err)
	authorDid, err := model.NewDid("did:plc:author")
	require.NoError(t, err)

	var hashtags []model.Hashtag
	for _, raw := range tags {
		h, err := model.NewHashtag(raw)
		require.NoError(t, err)
		hashtags = append(hashtags, h)
	}

	post := model.Post{
		URI: uri, CID: "bafy" + rkey, Author: author, AuthorDid: authorDid,
		Text: text, CreatedAt: mustTimestamp(t, createdAt), Hashtags: hashtags,
	}

	meta := poststore.EventMeta{Source: "timeline", Command: "test seed", CreatedAt: mustTimestamp(t, createdAt)}
	_, err = s.AppendUpsert(context.Background(), post, meta)
	require.NoError(t, err)
	return post
}

func TestExecutePushesAuthorDownToSQL(t *testing.T) {
	s := openTestStore(t)
	seedPost(t, s, "a1", "alice.bsky.social", "hello", "2026-01-01T00:00:00Z")
	seedPost(t, s, "a2", "bob.bsky.social", "hello", "2026-01-01T00:00:01Z")

	runtime := filter.NewRuntime(nil, nil, 0)
	res, err := Execute(context.Background(), s, runtime, StoreQuery{
		Filter: filter.Author{Handle: model.Handle("alice.bsky.social")},
	})
	require.NoError(t, err)
	require.Len(t, res.Posts, 1)
	assert.Equal(t, model.Handle("alice.bsky.social"), res.Posts[0].Author)
	assert.Equal(t, res.Stats.Scanned, res.Stats.Matched, "fully pushed filter means nothing left for residual evaluation")
}

func TestExecutePushesHashtagDownToSQL(t *testing.T) {
	s := openTestStore(t)
	seedPost(t, s, "a1", "alice.bsky.social", "hello", "2026-01-01T00:00:00Z", "golang")
	seedPost(t, s, "a2", "alice.bsky.social", "hello", "2026-01-01T00:00:01Z", "rust")

	runtime := filter.NewRuntime(nil, nil, 0)
	res, err := Execute(context.Background(), s, runtime, StoreQuery{
		Filter: filter.Hashtag{Tag: model.Hashtag("golang")},
	})
	require.NoError(t, err)
	require.Len(t, res.Posts, 1)
	assert.Contains(t, res.Posts[0].Hashtags, model.Hashtag("golang"))
}

func TestExecuteOrdersByCreatedAtThenURI(t *testing.T) {
	s := openTestStore(t)
	seedPost(t, s, "a2", "alice.bsky.social", "second", "2026-01-01T00:00:02Z")
	seedPost(t, s, "a1", "alice.bsky.social", "first", "2026-01-01T00:00:01Z")

	runtime := filter.NewRuntime(nil, nil, 0)
	res, err := Execute(context.Background(), s, runtime, StoreQuery{})
	require.NoError(t, err)
	require.Len(t, res.Posts, 2)
	assert.Equal(t, "first", res.Posts[0].Text)
	assert.Equal(t, "second", res.Posts[1].Text)
}

func TestExecuteDescOrder(t *testing.T) {
	s := openTestStore(t)
	seedPost(t, s, "a1", "alice.bsky.social", "first", "2026-01-01T00:00:01Z")
	seedPost(t, s, "a2", "alice.bsky.social", "second", "2026-01-01T00:00:02Z")

	runtime := filter.NewRuntime(nil, nil, 0)
	res, err := Execute(context.Background(), s, runtime, StoreQuery{Order: Desc})
	require.NoError(t, err)
	require.Len(t, res.Posts, 2)
	assert.Equal(t, "second", res.Posts[0].Text)
}

func TestExecuteResidualEvaluatesUnpushedLeaf(t *testing.T) {
	s := openTestStore(t)
	seedPost(t, s, "a1", "alice.bsky.social", "Hello World", "2026-01-01T00:00:00Z")
	seedPost(t, s, "a2", "alice.bsky.social", "goodbye", "2026-01-01T00:00:01Z")

	runtime := filter.NewRuntime(nil, nil, 0)
	// Unicode-default Contains (case-insensitive) is not pushable.
	res, err := Execute(context.Background(), s, runtime, StoreQuery{
		Filter: filter.Contains{Text: "hello"},
	})
	require.NoError(t, err)
	require.Len(t, res.Posts, 1)
	assert.Equal(t, "Hello World", res.Posts[0].Text)
	assert.Equal(t, 2, res.Stats.Scanned)
	assert.Equal(t, 1, res.Stats.Matched)
	assert.NotEmpty(t, res.Warnings)
}

func TestExecutePushesCaseSensitiveASCIIContains(t *testing.T) {
	s := openTestStore(t)
	seedPost(t, s, "a1", "alice.bsky.social", "Hello World", "2026-01-01T00:00:00Z")
	seedPost(t, s, "a2", "alice.bsky.social", "hello world", "2026-01-01T00:00:01Z")

	runtime := filter.NewRuntime(nil, nil, 0)
	res, err := Execute(context.Background(), s, runtime, StoreQuery{
		Filter: filter.Contains{Text: "Hello", CaseSensitive: true},
	})
	require.NoError(t, err)
	require.Len(t, res.Posts, 1)
	assert.Equal(t, "Hello World", res.Posts[0].Text)
	assert.Empty(t, res.Warnings)
}

func TestExecuteCombinesPushedAndResidual(t *testing.T) {
	s := openTestStore(t)
	seedPost(t, s, "a1", "alice.bsky.social", "hello", "2026-01-01T00:00:00Z", "golang")
	seedPost(t, s, "a2", "alice.bsky.social", "goodbye", "2026-01-01T00:00:01Z", "golang")
	seedPost(t, s, "a3", "bob.bsky.social", "hello", "2026-01-01T00:00:02Z", "golang")

	runtime := filter.NewRuntime(nil, nil, 0)
	res, err := Execute(context.Background(), s, runtime, StoreQuery{
		Filter: filter.And{Exprs: []filter.Expr{
			filter.Author{Handle: model.Handle("alice.bsky.social")},
			filter.Contains{Text: "hello"},
		}},
	})
	require.NoError(t, err)
	require.Len(t, res.Posts, 1)
	assert.Equal(t, "hello", res.Posts[0].Text)
	assert.Equal(t, 2, res.Stats.Scanned, "only alice's 2 posts should reach SQL scan")
}

func TestExecuteScanLimitBoundsSQL(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 5; i++ {
		seedPost(t, s, string(rune('a'+i)), "alice.bsky.social", "hello", "2026-01-01T00:00:0"+string(rune('0'+i))+"Z")
	}

	limit := 2
	runtime := filter.NewRuntime(nil, nil, 0)
	res, err := Execute(context.Background(), s, runtime, StoreQuery{ScanLimit: &limit})
	require.NoError(t, err)
	assert.Len(t, res.Posts, 2)
}
