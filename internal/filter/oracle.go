package filter

import (
	"context"

	"github.com/roach88/bsky-store/internal/model"
)

// LinkValidator is the pluggable capability backing the HasValidLinks leaf.
// Implementations typically wrap an HTTP HEAD/GET with a cache; bsky-store's
// own cached implementation lives in internal/oracle.
type LinkValidator interface {
	IsValid(ctx context.Context, url string) (bool, error)
	HasValidLink(ctx context.Context, urls []string) (bool, error)
}

// TrendingTopics is the pluggable capability backing the Trending leaf.
type TrendingTopics interface {
	IsTrending(ctx context.Context, tag model.Hashtag) (bool, error)
}

// OracleCall records one effectful lookup made while evaluating a post, for
// callers that want to audit or replay oracle decisions (EvaluateWithMetadata).
type OracleCall struct {
	Leaf    string
	Key     string
	Result  bool
	Err     error
	Retries int
}
