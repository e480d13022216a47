package poststore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/bsky-store/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "posts.sqlite")
	s, err := Open(path)
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

func testPost(t *testing.T, rkey string) model.Post {
	t.Helper()
	uri, err := model.NewPostURI("at://did:plc:alice/app.bsky.feed.post/" + rkey)
	require.NoError(t, err)
	author, err := model.NewHandle("alice.bsky.social")
	require.NoError(t, err)
	authorDid, err := model.NewDid("did:plc:alice")
	require.NoError(t, err)
	tag, err := model.NewHashtag("golang")
	require.NoError(t, err)
	return model.Post{
		URI: uri, CID: "bafy" + rkey, Author: author, AuthorDid: authorDid,
		Text: "hello world #golang", CreatedAt: mustTimestamp(t, "2026-01-01T00:00:00Z"),
		Hashtags: []model.Hashtag{tag},
	}
}

func testMeta(t *testing.T) EventMeta {
	t.Helper()
	return EventMeta{Source: "timeline", Command: "sync timeline", CreatedAt: mustTimestamp(t, "2026-01-01T00:00:01Z")}
}

func TestAppendUpsertThenGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	post := testPost(t, "a1")

	entry, err := s.AppendUpsert(ctx, post, testMeta(t))
	require.NoError(t, err)
	assert.Equal(t, model.EventSeq(1), entry.Seq)
	assert.Equal(t, KindUpsert, entry.Kind)

	got, err := s.GetPost(ctx, post.URI)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, post.Text, got.Text)
	assert.Equal(t, post.Hashtags, got.Hashtags)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestAppendUpsertReplacesHashtags(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	post := testPost(t, "a1")

	_, err := s.AppendUpsert(ctx, post, testMeta(t))
	require.NoError(t, err)

	newTag, err := model.NewHashtag("rust")
	require.NoError(t, err)
	post.Hashtags = []model.Hashtag{newTag}
	post.Text = "edited"
	_, err = s.AppendUpsert(ctx, post, testMeta(t))
	require.NoError(t, err)

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM post_hashtag WHERE uri = ?`, string(post.URI)).Scan(&count))
	assert.Equal(t, 1, count)

	var tag string
	require.NoError(t, s.db.QueryRow(`SELECT tag FROM post_hashtag WHERE uri = ?`, string(post.URI)).Scan(&tag))
	assert.Equal(t, "rust", tag)
}

func TestAppendUpsertIfMissingSkipsExisting(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	post := testPost(t, "a1")

	entry, err := s.AppendUpsertIfMissing(ctx, post, testMeta(t))
	require.NoError(t, err)
	require.NotNil(t, entry)

	again, err := s.AppendUpsertIfMissing(ctx, post, testMeta(t))
	require.NoError(t, err)
	assert.Nil(t, again)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestAppendUpsertsPreservesOrderAndSkipsDuplicates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	p1, p2, p3 := testPost(t, "a1"), testPost(t, "a2"), testPost(t, "a1")

	entries, err := s.AppendUpsertsIfMissing(ctx, []PostWithMeta{
		{Post: p1, Meta: testMeta(t)},
		{Post: p2, Meta: testMeta(t)},
		{Post: p3, Meta: testMeta(t)},
	})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.NotNil(t, entries[0])
	assert.NotNil(t, entries[1])
	assert.Nil(t, entries[2], "duplicate uri in same batch should be skipped")

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
}

func TestAppendDeleteCascadesHashtags(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	post := testPost(t, "a1")

	_, err := s.AppendUpsert(ctx, post, testMeta(t))
	require.NoError(t, err)

	entry, err := s.AppendDelete(ctx, post.URI, testMeta(t))
	require.NoError(t, err)
	assert.Equal(t, KindDelete, entry.Kind)

	got, err := s.GetPost(ctx, post.URI)
	require.NoError(t, err)
	assert.Nil(t, got)

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM post_hashtag WHERE uri = ?`, string(post.URI)).Scan(&count))
	assert.Equal(t, 0, count)
}

func TestMaxEventSeq(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seq, err := s.MaxEventSeq(ctx)
	require.NoError(t, err)
	assert.Nil(t, seq)

	_, err = s.AppendUpsert(ctx, testPost(t, "a1"), testMeta(t))
	require.NoError(t, err)
	_, err = s.AppendUpsert(ctx, testPost(t, "a2"), testMeta(t))
	require.NoError(t, err)

	seq, err = s.MaxEventSeq(ctx)
	require.NoError(t, err)
	require.NotNil(t, seq)
	assert.Equal(t, uint64(2), *seq)
}

func TestListEventsAfterOrdersBySeq(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.AppendUpsert(ctx, testPost(t, "a1"), testMeta(t))
	require.NoError(t, err)
	_, err = s.AppendUpsert(ctx, testPost(t, "a2"), testMeta(t))
	require.NoError(t, err)
	_, err = s.AppendDelete(ctx, testPost(t, "a1").URI, testMeta(t))
	require.NoError(t, err)

	entries, err := s.ListEventsAfter(ctx, 0, 100)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, model.EventSeq(1), entries[0].Seq)
	assert.Equal(t, model.EventSeq(2), entries[1].Seq)
	assert.Equal(t, model.EventSeq(3), entries[2].Seq)
	assert.Equal(t, KindDelete, entries[2].Kind)
	require.NotNil(t, entries[0].Post)
	assert.Equal(t, testPost(t, "a1").Text, entries[0].Post.Text)
}

func TestApplyReplaysUpsertAndDelete(t *testing.T) {
	source := openTestStore(t)
	target := openTestStore(t)
	ctx := context.Background()

	_, err := source.AppendUpsert(ctx, testPost(t, "a1"), testMeta(t))
	require.NoError(t, err)
	_, err = source.AppendDelete(ctx, testPost(t, "a1").URI, testMeta(t))
	require.NoError(t, err)

	entries, err := source.ListEventsAfter(ctx, 0, 100)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	for _, e := range entries {
		require.NoError(t, target.Apply(ctx, e))
	}

	got, err := target.GetPost(ctx, testPost(t, "a1").URI)
	require.NoError(t, err)
	assert.Nil(t, got, "replaying upsert then delete should leave no post")
}

func TestCheckpointNeverRegresses(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	hi := uint64(10)
	err := s.SaveCheckpoint(ctx, SyncCheckpoint{
		SourceKey: "timeline", SourceJSON: `{"tag":"Timeline"}`,
		LastEventSeq: &hi, UpdatedAt: mustTimestamp(t, "2026-01-01T00:00:00Z"),
	})
	require.NoError(t, err)

	lo := uint64(3)
	err = s.SaveCheckpoint(ctx, SyncCheckpoint{
		SourceKey: "timeline", SourceJSON: `{"tag":"Timeline"}`,
		LastEventSeq: &lo, UpdatedAt: mustTimestamp(t, "2026-01-02T00:00:00Z"),
	})
	require.NoError(t, err)

	cp, err := s.GetCheckpoint(ctx, "timeline")
	require.NoError(t, err)
	require.NotNil(t, cp)
	require.NotNil(t, cp.LastEventSeq)
	assert.Equal(t, uint64(10), *cp.LastEventSeq, "checkpoint must not regress below its prior high-water mark")
}

func TestGetCheckpointMissingReturnsNil(t *testing.T) {
	s := openTestStore(t)
	cp, err := s.GetCheckpoint(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, cp)
}
