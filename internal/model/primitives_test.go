package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHandle(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Handle
		wantErr bool
	}{
		{name: "valid lowercase", raw: "alice.bsky.social", want: "alice.bsky.social"},
		{name: "normalizes case", raw: "Alice.Bsky.Social", want: "alice.bsky.social"},
		{name: "trims whitespace", raw: "  alice.bsky.social  ", want: "alice.bsky.social"},
		{name: "rejects empty", raw: "", wantErr: true},
		{name: "rejects missing dot", raw: "alice", wantErr: true},
		{name: "rejects leading dash", raw: "-alice.bsky.social", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewHandle(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewDid(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "valid plc did", raw: "did:plc:abc123xyz"},
		{name: "valid web did", raw: "did:web:example.com"},
		{name: "rejects missing method", raw: "did::abc123", wantErr: true},
		{name: "rejects no prefix", raw: "abc123", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewDid(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.raw, string(got))
		})
	}
}

func TestNewPostURI(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantErr    bool
		collection string
		did        string
	}{
		{
			name:       "valid post uri",
			raw:        "at://did:plc:abc123/app.bsky.feed.post/3jzfcijpj2z2a",
			collection: "app.bsky.feed.post",
			did:        "did:plc:abc123",
		},
		{name: "rejects missing scheme", raw: "did:plc:abc123/app.bsky.feed.post/rkey", wantErr: true},
		{name: "rejects missing rkey", raw: "at://did:plc:abc123/app.bsky.feed.post", wantErr: true},
		{name: "rejects invalid did", raw: "at://notadid/app.bsky.feed.post/rkey", wantErr: true},
		{name: "rejects empty rkey", raw: "at://did:plc:abc123/app.bsky.feed.post/", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewPostURI(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.collection, got.Collection())
			assert.Equal(t, tt.did, string(got.Did()))
		})
	}
}

func TestNewHashtag(t *testing.T) {
	got, err := NewHashtag("#GoLang")
	require.NoError(t, err)
	assert.Equal(t, Hashtag("golang"), got)

	got, err = NewHashtag("nohash")
	require.NoError(t, err)
	assert.Equal(t, Hashtag("nohash"), got)

	_, err = NewHashtag("  #  ")
	assert.Error(t, err)
}

func TestTimestampRoundTrip(t *testing.T) {
	ts, err := NewTimestamp("2026-01-15T10:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, "2026-01-15T10:30:00Z", ts.String())

	later, err := NewTimestamp("2026-01-15T10:30:01Z")
	require.NoError(t, err)
	assert.True(t, ts.Before(later))
	assert.True(t, later.After(ts))
}

func TestNewStoreName(t *testing.T) {
	_, err := NewStoreName("My Store")
	assert.Error(t, err)

	got, err := NewStoreName("climate-posts")
	require.NoError(t, err)
	assert.Equal(t, StoreName("climate-posts"), got)
}
