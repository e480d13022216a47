package syncengine

import (
	"context"
	"encoding/json"
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
	s, err := poststore.Open(filepath.Join(t.TempDir(), "posts.sqlite"))
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
	return model.Post{
		URI: uri, CID: "bafy" + rkey, Author: author, AuthorDid: authorDid,
		Text: "hello world " + rkey, CreatedAt: mustTimestamp(t, "2026-01-01T00:00:00Z"),
	}
}

// fakeRawPostSource replays a fixed slice of RawPost.
type fakeRawPostSource struct {
	posts []RawPost
	next  int
}

func (s *fakeRawPostSource) Next(ctx context.Context) (RawPost, bool, error) {
	if s.next >= len(s.posts) {
		return RawPost{}, false, nil
	}
	p := s.posts[s.next]
	s.next++
	return p, true, nil
}

// fakeFeed implements FeedClient over an in-memory timeline, constant
// across calls regardless of cursor (tests don't exercise multi-page
// resume against the fake).
type fakeFeed struct {
	timeline []RawPost
}

func (f *fakeFeed) GetTimeline(ctx context.Context, opts FeedOptions) (RawPostSource, error) {
	return &fakeRawPostSource{posts: f.timeline}, nil
}
func (f *fakeFeed) GetFeed(ctx context.Context, uri string, opts FeedOptions) (RawPostSource, error) {
	return &fakeRawPostSource{posts: f.timeline}, nil
}
func (f *fakeFeed) GetListFeed(ctx context.Context, uri string, opts FeedOptions) (RawPostSource, error) {
	return &fakeRawPostSource{posts: f.timeline}, nil
}
func (f *fakeFeed) GetNotifications(ctx context.Context, opts FeedOptions) (RawPostSource, error) {
	return &fakeRawPostSource{posts: f.timeline}, nil
}
func (f *fakeFeed) GetAuthorFeed(ctx context.Context, actor string, opts FeedOptions) (RawPostSource, error) {
	return &fakeRawPostSource{posts: f.timeline}, nil
}
func (f *fakeFeed) GetPostThread(ctx context.Context, uri string, opts FeedOptions) ([]RawPost, error) {
	return f.timeline, nil
}
func (f *fakeFeed) JetstreamSource(ctx context.Context, opts JetstreamOptions) (CommitMessageSource, error) {
	return nil, nil
}

// rawPostsForRkeys builds one RawPost per rkey, JSON-encoding the rkey as
// the post's only field; the fake parser below reads it back out.
func rawPostsForRkeys(t *testing.T, rkeys ...string) []RawPost {
	t.Helper()
	out := make([]RawPost, len(rkeys))
	for i, rkey := range rkeys {
		raw, err := json.Marshal(map[string]string{"rkey": rkey})
		require.NoError(t, err)
		out[i] = RawPost{Raw: raw}
	}
	return out
}

func fakeParser(t *testing.T) Parser {
	return ParserFunc(func(ctx context.Context, raw RawPost) (model.Post, error) {
		var body struct {
			Rkey string `json:"rkey"`
		}
		if err := json.Unmarshal(raw.Raw, &body); err != nil {
			return model.Post{}, err
		}
		return testPost(t, body.Rkey), nil
	})
}

func newTestRuntime() *filter.Runtime {
	return filter.NewRuntime(nil, nil, 4)
}

func TestSourceKeyIsDeterministicAndOrderIndependent(t *testing.T) {
	a := Jetstream{Endpoint: "wss://a", Collections: []string{"app.bsky.feed.post", "app.bsky.feed.like"}, Dids: []string{"did:plc:b", "did:plc:a"}}
	b := Jetstream{Endpoint: "wss://a", Collections: []string{"app.bsky.feed.like", "app.bsky.feed.post"}, Dids: []string{"did:plc:a", "did:plc:b"}}

	keyA, err := SourceKey(a)
	require.NoError(t, err)
	keyB, err := SourceKey(b)
	require.NoError(t, err)
	assert.Equal(t, keyA, keyB, "array order must not affect the derived source key")

	keyTimeline1, err := SourceKey(Timeline{})
	require.NoError(t, err)
	keyTimeline2, err := SourceKey(Timeline{})
	require.NoError(t, err)
	assert.Equal(t, keyTimeline1, keyTimeline2)

	keyFeed, err := SourceKey(Feed{URI: "at://did:plc:x/app.bsky.feed.generator/y"})
	require.NoError(t, err)
	assert.NotEqual(t, keyTimeline1, keyFeed, "distinct source kinds must derive distinct keys")
}

func TestEngineRunDedupeSyncSkipsRepeatedURI(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	feed := &fakeFeed{timeline: rawPostsForRkeys(t, "a1", "b1", "a1")}
	engine := NewEngine(store, feed, fakeParser(t), newTestRuntime(), nil)

	result, err := engine.Run(ctx, SyncRequest{
		Source:  Timeline{},
		Filter:  filter.All{},
		Policy:  PolicyDedupe,
		Command: "sync timeline",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.PostsAdded)
	assert.Equal(t, 1, result.PostsSkipped)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestEngineRunRefreshSyncOverwritesRepeatedURI(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	feed := &fakeFeed{timeline: rawPostsForRkeys(t, "a1", "b1", "a1")}
	engine := NewEngine(store, feed, fakeParser(t), newTestRuntime(), nil)

	result, err := engine.Run(ctx, SyncRequest{
		Source:  Timeline{},
		Filter:  filter.All{},
		Policy:  PolicyRefresh,
		Command: "sync timeline",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.PostsAdded)
	assert.Equal(t, 0, result.PostsSkipped)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count, "refresh still collapses to one row per uri in the index")
}

func TestEngineRunFilterExcludesAllWithoutOracleInvocation(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	feed := &fakeFeed{timeline: rawPostsForRkeys(t, "a1", "b1", "c1")}
	engine := NewEngine(store, feed, fakeParser(t), newTestRuntime(), nil)

	oracleCalled := false
	_ = oracleCalled // the fake filter.All/None combo never reaches an oracle leaf

	result, err := engine.Run(ctx, SyncRequest{
		Source: Timeline{},
		Filter: filter.And{Exprs: []filter.Expr{
			filter.None{},
			filter.HasValidLinks{OnError: filter.ErrorPolicy{Kind: filter.PolicyExclude}},
		}},
		Policy: PolicyDedupe,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.PostsAdded)
	assert.Equal(t, 3, result.PostsSkipped, "And short-circuits on the leading None leaf")

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)
}

func TestEngineRunHonorsCheckpointOnlyWhenFilterHashMatches(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	feed := &fakeFeed{timeline: rawPostsForRkeys(t, "a1")}
	engine := NewEngine(store, feed, fakeParser(t), newTestRuntime(), nil)

	_, err := engine.Run(ctx, SyncRequest{Source: Timeline{}, Filter: filter.All{}, Policy: PolicyDedupe})
	require.NoError(t, err)

	sourceKey, err := SourceKey(Timeline{})
	require.NoError(t, err)
	cpAfterFirst, err := store.GetCheckpoint(ctx, sourceKey)
	require.NoError(t, err)
	require.NotNil(t, cpAfterFirst)
	firstHash := *cpAfterFirst.FilterHash

	hashtag, err := filter.Signature(filter.Hashtag{Tag: "golang"})
	require.NoError(t, err)
	assert.NotEqual(t, firstHash, hashtag, "sanity: a different expr signs to a different hash")

	result, err := engine.Run(ctx, SyncRequest{Source: Timeline{}, Filter: filter.Hashtag{Tag: "golang"}, Policy: PolicyDedupe})
	require.NoError(t, err)
	assert.Equal(t, 0, result.PostsAdded, "post text never contains #golang, so the changed filter excludes it")
	assert.Equal(t, 1, result.PostsSkipped)
}

// fakeCommitSource replays a fixed slice of CommitMessage.
type fakeCommitSource struct {
	msgs []CommitMessage
	next int
}

func (s *fakeCommitSource) Next(ctx context.Context) (CommitMessage, bool, error) {
	if s.next >= len(s.msgs) {
		return CommitMessage{}, false, nil
	}
	m := s.msgs[s.next]
	s.next++
	return m, true, nil
}

type fakeJetstreamFeed struct {
	msgs []CommitMessage
}

func (f *fakeJetstreamFeed) GetTimeline(ctx context.Context, opts FeedOptions) (RawPostSource, error) {
	return nil, nil
}
func (f *fakeJetstreamFeed) GetFeed(ctx context.Context, uri string, opts FeedOptions) (RawPostSource, error) {
	return nil, nil
}
func (f *fakeJetstreamFeed) GetListFeed(ctx context.Context, uri string, opts FeedOptions) (RawPostSource, error) {
	return nil, nil
}
func (f *fakeJetstreamFeed) GetNotifications(ctx context.Context, opts FeedOptions) (RawPostSource, error) {
	return nil, nil
}
func (f *fakeJetstreamFeed) GetAuthorFeed(ctx context.Context, actor string, opts FeedOptions) (RawPostSource, error) {
	return nil, nil
}
func (f *fakeJetstreamFeed) GetPostThread(ctx context.Context, uri string, opts FeedOptions) ([]RawPost, error) {
	return nil, nil
}
func (f *fakeJetstreamFeed) JetstreamSource(ctx context.Context, opts JetstreamOptions) (CommitMessageSource, error) {
	return &fakeCommitSource{msgs: f.msgs}, nil
}

func fakeJetstreamParser(t *testing.T) JetstreamParser {
	return JetstreamParserFunc(func(ctx context.Context, msg CommitMessage) (model.Post, error) {
		var body struct {
			Rkey string `json:"rkey"`
		}
		if err := json.Unmarshal(msg.Record, &body); err != nil {
			return model.Post{}, err
		}
		return testPost(t, body.Rkey), nil
	})
}

func commitRecord(t *testing.T, rkey string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(map[string]string{"rkey": rkey})
	require.NoError(t, err)
	return raw
}

func TestJetstreamConsumerCreateUpdateDelete(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	msgs := []CommitMessage{
		{TimeUs: 1, Did: "did:plc:alice", Collection: "app.bsky.feed.post", RKey: "a1", Operation: CommitCreate, Record: commitRecord(t, "a1")},
		{TimeUs: 2, Did: "did:plc:alice", Collection: "app.bsky.feed.post", RKey: "a1", Operation: CommitCreate, Record: commitRecord(t, "a1")},
		{TimeUs: 3, Did: "did:plc:alice", Collection: "app.bsky.feed.post", RKey: "b1", Operation: CommitUpdate, Record: commitRecord(t, "b1")},
		{TimeUs: 4, Did: "did:plc:alice", Collection: "app.bsky.feed.post", RKey: "a1", Operation: CommitDelete},
	}
	feed := &fakeJetstreamFeed{msgs: msgs}
	consumer := NewJetstreamConsumer(store, feed, fakeJetstreamParser(t), newTestRuntime(), nil)

	result, err := consumer.Run(ctx, JetstreamRequest{
		Source: Jetstream{Endpoint: "wss://jetstream.example"},
		Filter: filter.All{},
		Policy: PolicyDedupe,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.PostsAdded, "first create adds, the update always overwrites")
	assert.Equal(t, 1, result.PostsDeleted)
	assert.Equal(t, 1, result.PostsSkipped, "the repeated create of a1 is deduped under PolicyDedupe")

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count, "a1 was deleted, leaving only b1")

	sourceKey, err := SourceKey(Jetstream{Endpoint: "wss://jetstream.example"})
	require.NoError(t, err)
	cp, err := store.GetCheckpoint(ctx, sourceKey)
	require.NoError(t, err)
	require.NotNil(t, cp)
	require.NotNil(t, cp.Cursor)
	assert.Equal(t, "4", *cp.Cursor, "cursor is the last message's time_us")
}

func TestJetstreamConsumerDedupePolicySkipsRepeatedCreate(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	msgs := []CommitMessage{
		{TimeUs: 1, Did: "did:plc:alice", Collection: "app.bsky.feed.post", RKey: "a1", Operation: CommitCreate, Record: commitRecord(t, "a1")},
		{TimeUs: 2, Did: "did:plc:alice", Collection: "app.bsky.feed.post", RKey: "a1", Operation: CommitCreate, Record: commitRecord(t, "a1")},
	}
	feed := &fakeJetstreamFeed{msgs: msgs}
	consumer := NewJetstreamConsumer(store, feed, fakeJetstreamParser(t), newTestRuntime(), nil)

	result, err := consumer.Run(ctx, JetstreamRequest{
		Source: Jetstream{Endpoint: "wss://jetstream.example"},
		Filter: filter.All{},
		Policy: PolicyDedupe,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.PostsAdded)
	assert.Equal(t, 1, result.PostsSkipped, "second create of the same uri is deduped under PolicyDedupe")
}

func TestJetstreamConsumerStrictModeAbortsOnFirstError(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	msgs := []CommitMessage{
		{TimeUs: 1, Did: "did:plc:alice", Collection: "app.bsky.feed.post", RKey: "a1", Operation: CommitCreate, Record: json.RawMessage(`not json`)},
		{TimeUs: 2, Did: "did:plc:alice", Collection: "app.bsky.feed.post", RKey: "b1", Operation: CommitCreate, Record: commitRecord(t, "b1")},
	}
	feed := &fakeJetstreamFeed{msgs: msgs}
	consumer := NewJetstreamConsumer(store, feed, fakeJetstreamParser(t), newTestRuntime(), nil)

	result, err := consumer.Run(ctx, JetstreamRequest{
		Source:   Jetstream{Endpoint: "wss://jetstream.example"},
		Filter:   filter.All{},
		Policy:   PolicyDedupe,
		Settings: JetstreamSettings{Strict: true},
	})
	require.Error(t, err)
	assert.Equal(t, 0, result.PostsAdded, "the second, valid message is never reached in strict mode")
}

func TestJetstreamConsumerNonStrictAccumulatesUpToMaxErrors(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	msgs := []CommitMessage{
		{TimeUs: 1, Did: "did:plc:alice", Collection: "app.bsky.feed.post", RKey: "a1", Operation: CommitCreate, Record: json.RawMessage(`not json`)},
		{TimeUs: 2, Did: "did:plc:alice", Collection: "app.bsky.feed.post", RKey: "b1", Operation: CommitCreate, Record: commitRecord(t, "b1")},
	}
	feed := &fakeJetstreamFeed{msgs: msgs}
	consumer := NewJetstreamConsumer(store, feed, fakeJetstreamParser(t), newTestRuntime(), nil)

	result, err := consumer.Run(ctx, JetstreamRequest{
		Source:   Jetstream{Endpoint: "wss://jetstream.example"},
		Filter:   filter.All{},
		Policy:   PolicyDedupe,
		Settings: JetstreamSettings{MaxErrors: 5},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.PostsAdded, "the later valid message still commits after a non-strict decode error")
	assert.Len(t, result.Errors, 1)
}
