package oracle

import (
	"context"
	"testing"
	"time"

	"github.com/roach88/bsky-store/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T, successTTL, failureTTL time.Duration) *Cache {
	t.Helper()
	c, err := OpenCache("", successTTL, failureTTL)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestLookupBoolCachesSuccessAndSkipsRecompute(t *testing.T) {
	c := openTestCache(t, time.Hour, time.Minute)
	calls := 0
	compute := func(ctx context.Context) (bool, error) {
		calls++
		return true, nil
	}

	ok, err := c.lookupBool(context.Background(), "ns", "key", compute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.lookupBool(context.Background(), "ns", "key", compute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, calls, "second lookup should hit the cache, not recompute")
}

func TestLookupBoolReplaysCachedFailure(t *testing.T) {
	c := openTestCache(t, time.Hour, time.Minute)
	calls := 0
	compute := func(ctx context.Context) (bool, error) {
		calls++
		return false, assert.AnError
	}

	_, err := c.lookupBool(context.Background(), "ns", "key", compute)
	require.Error(t, err)

	_, err = c.lookupBool(context.Background(), "ns", "key", compute)
	require.Error(t, err)
	assert.Equal(t, 1, calls, "second lookup should replay the cached failure, not recompute")
}

func TestLookupBoolDistinguishesKeys(t *testing.T) {
	c := openTestCache(t, time.Hour, time.Minute)
	ok, err := c.lookupBool(context.Background(), "ns", "a", func(ctx context.Context) (bool, error) { return true, nil })
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.lookupBool(context.Background(), "ns", "b", func(ctx context.Context) (bool, error) { return false, nil })
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCachedLinkValidatorIsValid(t *testing.T) {
	c := openTestCache(t, time.Hour, time.Minute)
	v := NewCachedLinkValidator(c, func(ctx context.Context, url string) (bool, error) {
		return url == "https://good.example", nil
	})

	ok, err := v.IsValid(context.Background(), "https://good.example")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = v.IsValid(context.Background(), "https://bad.example")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCachedLinkValidatorHasValidLinkShortCircuits(t *testing.T) {
	c := openTestCache(t, time.Hour, time.Minute)
	checked := []string{}
	v := NewCachedLinkValidator(c, func(ctx context.Context, url string) (bool, error) {
		checked = append(checked, url)
		return url == "https://good.example", nil
	})

	ok, err := v.HasValidLink(context.Background(), []string{"https://bad.example", "https://good.example", "https://never.example"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"https://bad.example", "https://good.example"}, checked, "should short-circuit on first valid url")
}

func TestCachedLinkValidatorHasValidLinkAllInvalid(t *testing.T) {
	c := openTestCache(t, time.Hour, time.Minute)
	v := NewCachedLinkValidator(c, func(ctx context.Context, url string) (bool, error) {
		return false, nil
	})

	ok, err := v.HasValidLink(context.Background(), []string{"https://a.example", "https://b.example"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCachedTrendingTopicsIsTrending(t *testing.T) {
	c := openTestCache(t, time.Hour, time.Minute)
	golang := model.Hashtag("golang")
	tt := NewCachedTrendingTopics(c, func(ctx context.Context, tag model.Hashtag) (bool, error) {
		return tag == golang, nil
	})

	ok, err := tt.IsTrending(context.Background(), golang)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tt.IsTrending(context.Background(), model.Hashtag("rust"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIdentityResolverRoundTrip(t *testing.T) {
	c := openTestCache(t, time.Hour, time.Minute)
	handle, err := model.NewHandle("alice.bsky.social")
	require.NoError(t, err)
	did, err := model.NewDid("did:plc:alice")
	require.NoError(t, err)

	didCalls, handleCalls := 0, 0
	r := NewIdentityResolver(c,
		func(ctx context.Context, h model.Handle) (model.Did, error) {
			didCalls++
			return did, nil
		},
		func(ctx context.Context, d model.Did) (model.Handle, error) {
			handleCalls++
			return handle, nil
		},
	)

	gotDid, err := r.ResolveDid(context.Background(), handle)
	require.NoError(t, err)
	assert.Equal(t, did, gotDid)

	gotDid, err = r.ResolveDid(context.Background(), handle)
	require.NoError(t, err)
	assert.Equal(t, did, gotDid)
	assert.Equal(t, 1, didCalls, "second resolve should hit the in-memory layer")

	gotHandle, err := r.ResolveHandle(context.Background(), did)
	require.NoError(t, err)
	assert.Equal(t, handle, gotHandle)
	assert.Equal(t, 0, handleCalls, "resolving the did already known from ResolveDid should not call resolveHandle")
}

func TestIdentityResolverResolveIdentityDispatchesByForm(t *testing.T) {
	c := openTestCache(t, time.Hour, time.Minute)
	handle, err := model.NewHandle("alice.bsky.social")
	require.NoError(t, err)
	did, err := model.NewDid("did:plc:alice")
	require.NoError(t, err)

	r := NewIdentityResolver(c,
		func(ctx context.Context, h model.Handle) (model.Did, error) { return did, nil },
		func(ctx context.Context, d model.Did) (model.Handle, error) { return handle, nil },
	)

	gotDid, gotHandle, err := r.ResolveIdentity(context.Background(), "alice.bsky.social")
	require.NoError(t, err)
	assert.Equal(t, did, gotDid)
	assert.Equal(t, handle, gotHandle)

	gotDid, gotHandle, err = r.ResolveIdentity(context.Background(), "did:plc:alice")
	require.NoError(t, err)
	assert.Equal(t, did, gotDid)
	assert.Equal(t, handle, gotHandle)
}

func TestIdentityResolverResolveIdentityRejectsGarbage(t *testing.T) {
	c := openTestCache(t, time.Hour, time.Minute)
	r := NewIdentityResolver(c,
		func(ctx context.Context, h model.Handle) (model.Did, error) { return model.Did(""), nil },
		func(ctx context.Context, d model.Did) (model.Handle, error) { return model.Handle(""), nil },
	)

	_, _, err := r.ResolveIdentity(context.Background(), "not a handle or did!!")
	assert.Error(t, err)
}
