package cli

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/bsky-store/internal/catalog"
	"github.com/roach88/bsky-store/internal/model"
	"github.com/roach88/bsky-store/internal/poststore"
)

func TestDeriveCommandProjectsHashtagFilter(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	_, err := execRoot(t, dir, "store", "create", "raw")
	require.NoError(t, err)
	_, err = execRoot(t, dir, "store", "create", "golang-only")
	require.NoError(t, err)

	cat, err := catalog.Open(filepath.Join(dir, "catalog.sqlite"), nil)
	require.NoError(t, err)
	defer cat.Close()
	rawName, err := model.NewStoreName("raw")
	require.NoError(t, err)
	rec, err := cat.Get(ctx, rawName)
	require.NoError(t, err)

	source, err := poststore.Open(rec.Root)
	require.NoError(t, err)
	uri, err := model.NewPostURI("at://did:plc:alice/app.bsky.feed.post/a1")
	require.NoError(t, err)
	author, err := model.NewHandle("alice.bsky.social")
	require.NoError(t, err)
	authorDid, err := model.NewDid("did:plc:alice")
	require.NoError(t, err)
	createdAt, err := model.NewTimestamp("2026-01-01T00:00:00Z")
	require.NoError(t, err)
	post := model.Post{
		URI: uri, CID: "bafy1", Author: author, AuthorDid: authorDid,
		Text: "hello", CreatedAt: createdAt, Hashtags: []model.Hashtag{"golang"},
	}
	_, err = source.AppendUpsert(ctx, post, poststore.EventMeta{Source: "test", Command: "seed", CreatedAt: createdAt})
	require.NoError(t, err)
	require.NoError(t, source.Close())

	out, err := execRoot(t, dir, "--format", "json", "derive",
		"--view", "golang-only", "--source", "raw", "--target", "golang-only", "--hashtag", "golang")
	require.NoError(t, err)
	assert.Contains(t, out, `"EventsMatched":1`)
}
