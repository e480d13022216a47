package oracle

import (
	"context"

	"github.com/roach88/bsky-store/internal/model"
)

// TrendingCheckFunc is the caller-supplied capability that actually checks
// whether a hashtag is currently trending on the network.
type TrendingCheckFunc func(ctx context.Context, tag model.Hashtag) (bool, error)

// CachedTrendingTopics implements filter.TrendingTopics with a TTL cache in
// front of a caller-supplied check function.
type CachedTrendingTopics struct {
	cache *Cache
	check TrendingCheckFunc
}

// NewCachedTrendingTopics wraps check in cache.
func NewCachedTrendingTopics(cache *Cache, check TrendingCheckFunc) *CachedTrendingTopics {
	return &CachedTrendingTopics{cache: cache, check: check}
}

// IsTrending reports whether tag is currently trending, per the cached
// check function.
func (t *CachedTrendingTopics) IsTrending(ctx context.Context, tag model.Hashtag) (bool, error) {
	return t.cache.lookupBool(ctx, "trending", string(tag), func(ctx context.Context) (bool, error) {
		return t.check(ctx, tag)
	})
}
