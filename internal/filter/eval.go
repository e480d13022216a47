package filter

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/roach88/bsky-store/internal/bskyerr"
	"github.com/roach88/bsky-store/internal/model"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Runtime evaluates Compiled filter expressions against posts, fanning out
// to the oracle capabilities for effectful leaves.
type Runtime struct {
	Links       LinkValidator
	Trending    TrendingTopics
	Concurrency int // EvaluateBatch's bound on concurrent posts; 0 means sequential
}

// NewRuntime constructs a Runtime. links/trending may be nil if the
// compiled expression tree contains no effectful leaves; a nil oracle
// referenced at evaluation time surfaces as a FilterEvalError.
func NewRuntime(links LinkValidator, trending TrendingTopics, concurrency int) *Runtime {
	return &Runtime{Links: links, Trending: trending, Concurrency: concurrency}
}

// EvalResult is the outcome of EvaluateWithMetadata: the match decision plus
// every oracle call made while reaching it.
type EvalResult struct {
	Ok         bool
	OracleMeta []OracleCall
}

var caseFold = cases.Fold()

// Evaluate reports whether post matches c, with no metadata collection.
func (r *Runtime) Evaluate(ctx context.Context, c Compiled, post model.Post) (bool, error) {
	res, err := r.EvaluateWithMetadata(ctx, c, post)
	return res.Ok, err
}

// EvaluateWithMetadata reports whether post matches c and records every
// oracle call made along the way (e.g. link validation outcomes), so
// callers can audit filter decisions without re-running the filter.
func (r *Runtime) EvaluateWithMetadata(ctx context.Context, c Compiled, post model.Post) (EvalResult, error) {
	var meta []OracleCall
	ok, err := r.match(ctx, c, c.expr, post, &meta)
	return EvalResult{Ok: ok, OracleMeta: meta}, err
}

// EvaluateBatch evaluates c against every post in posts, preserving input
// order in the result. Posts are evaluated with up to r.Concurrency workers
// (0 or 1 means strictly sequential); oracle calls within a single post's
// evaluation are not parallelized, since effectful leaves usually compose
// with Or/And's short-circuit and running them concurrently would call
// oracles that short-circuit evaluation would otherwise skip.
func (r *Runtime) EvaluateBatch(ctx context.Context, c Compiled, posts []model.Post) ([]bool, error) {
	out := make([]bool, len(posts))
	if len(posts) == 0 {
		return out, nil
	}

	workers := r.Concurrency
	if workers <= 0 {
		workers = 1
	}
	if workers > len(posts) {
		workers = len(posts)
	}

	type job struct {
		idx  int
		post model.Post
	}
	jobs := make(chan job)
	errCh := make(chan error, workers)
	done := make(chan struct{})

	for w := 0; w < workers; w++ {
		go func() {
			for j := range jobs {
				ok, err := r.Evaluate(ctx, c, j.post)
				if err != nil {
					select {
					case errCh <- fmt.Errorf("post %d: %w", j.idx, err):
					default:
					}
					continue
				}
				out[j.idx] = ok
			}
			done <- struct{}{}
		}()
	}

	go func() {
		defer close(jobs)
		for i, p := range posts {
			select {
			case jobs <- job{idx: i, post: p}:
			case <-ctx.Done():
				return
			}
		}
	}()

	for w := 0; w < workers; w++ {
		<-done
	}

	select {
	case err := <-errCh:
		return out, err
	default:
		return out, nil
	}
}

func (r *Runtime) match(ctx context.Context, c Compiled, expr Expr, post model.Post, meta *[]OracleCall) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	switch e := expr.(type) {
	case All:
		return true, nil
	case None:
		return false, nil

	case And:
		for _, child := range e.Exprs {
			ok, err := r.match(ctx, c, child, post, meta)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case Or:
		for _, child := range e.Exprs {
			ok, err := r.match(ctx, c, child, post, meta)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case Not:
		ok, err := r.match(ctx, c, e.Expr, post, meta)
		if err != nil {
			return false, err
		}
		return !ok, nil

	case Author:
		return post.Author == e.Handle, nil

	case AuthorIn:
		for _, h := range e.Handles {
			if post.Author == h {
				return true, nil
			}
		}
		return false, nil

	case Hashtag:
		return containsHashtag(post.Hashtags, e.Tag), nil

	case HashtagIn:
		for _, t := range e.Tags {
			if containsHashtag(post.Hashtags, t) {
				return true, nil
			}
		}
		return false, nil

	case Contains:
		return matchContains(post.Text, e.Text, e.CaseSensitive), nil

	case IsReply:
		return post.IsReply(), nil
	case IsQuote:
		return post.IsQuote(), nil
	case IsRepost:
		return post.IsRepost(), nil
	case IsOriginal:
		return post.IsOriginal(), nil

	case Engagement:
		return matchEngagement(post, e), nil

	case HasImages:
		return countImages(post.Embed) > 0, nil
	case MinImages:
		return countImages(post.Embed) >= e.Min, nil
	case HasAltText:
		return allImagesHaveAlt(post.Embed), nil
	case NoAltText:
		return anyImageMissingAlt(post.Embed), nil
	case AltText:
		return anyAltTextContains(post.Embed, e.Text), nil
	case AltTextRegex:
		re := c.regexes[regexKey("AltTextRegex", e.Pattern)]
		return anyAltTextMatches(post.Embed, re), nil
	case HasVideo:
		return hasVideo(post.Embed), nil
	case HasLinks:
		return hasLinks(post.Embed, post.Links), nil
	case HasMedia:
		return hasMedia(post), nil
	case HasEmbed:
		return post.Embed != nil, nil

	case Language:
		for _, l := range post.Langs {
			if strings.EqualFold(l, e.Lang) {
				return true, nil
			}
		}
		return false, nil

	case Regex:
		for _, pat := range e.Patterns {
			re := c.regexes[regexKey("Regex", pat)]
			if re.MatchString(post.Text) {
				return true, nil
			}
		}
		return false, nil

	case DateRange:
		ts := post.CreatedAt
		return !ts.Before(e.Start) && !ts.After(e.End), nil

	case HasValidLinks:
		return r.matchHasValidLinks(ctx, e, post, meta)

	case Trending:
		return r.matchTrending(ctx, e, post, meta)

	default:
		return false, bskyerr.NewFilterEvalError(expr.exprTag(), fmt.Sprintf("unknown expr type %T", expr), nil)
	}
}

func containsHashtag(tags []model.Hashtag, want model.Hashtag) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}

// matchContains performs Unicode-aware substring matching. Case-insensitive
// comparisons fold both operands (golang.org/x/text/cases) after NFC
// normalization, which is the only comparison that is correct across
// combining-character forms; a byte-wise strings.Contains after
// strings.ToLower is ASCII-only and misses e.g. Turkish dotless-i or
// precomposed vs decomposed accents.
func matchContains(text, substr string, caseSensitive bool) bool {
	if caseSensitive {
		return strings.Contains(text, substr)
	}
	nt := norm.NFC.String(text)
	ns := norm.NFC.String(substr)
	return strings.Contains(caseFold.String(nt), caseFold.String(ns))
}

func matchEngagement(post model.Post, e Engagement) bool {
	if post.Metrics == nil {
		return e.MinLikes == nil && e.MinReposts == nil && e.MinReplies == nil
	}
	if e.MinLikes != nil && post.Metrics.LikeCount < *e.MinLikes {
		return false
	}
	if e.MinReposts != nil && post.Metrics.RepostCount < *e.MinReposts {
		return false
	}
	if e.MinReplies != nil && post.Metrics.ReplyCount < *e.MinReplies {
		return false
	}
	return true
}

// matchHasValidLinks applies e.OnError around r.Links, treating a post with
// no extracted links as vacuously valid (there is nothing to invalidate it).
func (r *Runtime) matchHasValidLinks(ctx context.Context, e HasValidLinks, post model.Post, meta *[]OracleCall) (bool, error) {
	if len(post.Links) == 0 {
		return true, nil
	}
	if r.Links == nil {
		return false, bskyerr.NewFilterEvalError("HasValidLinks", "no LinkValidator configured", nil)
	}

	key := strings.Join(post.Links, ",")
	ok, retries, err := callWithPolicy(ctx, e.OnError, func(ctx context.Context) (bool, error) {
		return r.Links.HasValidLink(ctx, post.Links)
	})
	*meta = append(*meta, OracleCall{Leaf: "HasValidLinks", Key: key, Result: ok, Err: err, Retries: retries})
	if err != nil {
		return applyPolicyOnError(e.OnError), nil
	}
	return ok, nil
}

// matchTrending reports whether e.Tag is currently trending, independent of
// the post's own hashtags - composes with Hashtag(tag) to mean "posts tagged
// X, where X is trending right now".
func (r *Runtime) matchTrending(ctx context.Context, e Trending, post model.Post, meta *[]OracleCall) (bool, error) {
	if r.Trending == nil {
		return false, bskyerr.NewFilterEvalError("Trending", "no TrendingTopics configured", nil)
	}

	ok, retries, err := callWithPolicy(ctx, e.OnError, func(ctx context.Context) (bool, error) {
		return r.Trending.IsTrending(ctx, e.Tag)
	})
	*meta = append(*meta, OracleCall{Leaf: "Trending", Key: string(e.Tag), Result: ok, Err: err, Retries: retries})
	if err != nil {
		return applyPolicyOnError(e.OnError), nil
	}
	return ok, nil
}

// callWithPolicy invokes fn, retrying per policy on error. Retry spacing is
// fixed (policy.BaseDelay between attempts, not exponential) per the
// "fixed base-delay spacing" requirement. Returns the last result/error and
// how many retries were actually spent.
func callWithPolicy(ctx context.Context, policy ErrorPolicy, fn func(context.Context) (bool, error)) (ok bool, retries int, err error) {
	ok, err = fn(ctx)
	if err == nil || policy.Kind != PolicyRetry {
		return ok, 0, err
	}

	for retries = 1; retries <= policy.MaxRetries; retries++ {
		select {
		case <-ctx.Done():
			return false, retries - 1, ctx.Err()
		case <-time.After(policy.BaseDelay):
		}
		ok, err = fn(ctx)
		if err == nil {
			return ok, retries, nil
		}
	}
	return false, retries - 1, err
}

// applyPolicyOnError maps a policy to the match decision when the oracle
// call ultimately failed (including a Retry policy that exhausted its budget).
func applyPolicyOnError(policy ErrorPolicy) bool {
	return policy.Kind == PolicyInclude
}

func countImages(embed model.EmbedVariant) int {
	switch e := embed.(type) {
	case model.EmbedImages:
		return len(e.Images)
	case model.EmbedRecordWithMedia:
		return countImages(e.Media)
	default:
		return 0
	}
}

func imagesOf(embed model.EmbedVariant) []model.EmbedImage {
	switch e := embed.(type) {
	case model.EmbedImages:
		return e.Images
	case model.EmbedRecordWithMedia:
		return imagesOf(e.Media)
	default:
		return nil
	}
}

func allImagesHaveAlt(embed model.EmbedVariant) bool {
	images := imagesOf(embed)
	if len(images) == 0 {
		return false
	}
	for _, img := range images {
		if strings.TrimSpace(img.Alt) == "" {
			return false
		}
	}
	return true
}

func anyImageMissingAlt(embed model.EmbedVariant) bool {
	images := imagesOf(embed)
	for _, img := range images {
		if strings.TrimSpace(img.Alt) == "" {
			return true
		}
	}
	return false
}

func anyAltTextContains(embed model.EmbedVariant, substr string) bool {
	for _, img := range imagesOf(embed) {
		if matchContains(img.Alt, substr, false) {
			return true
		}
	}
	return false
}

func anyAltTextMatches(embed model.EmbedVariant, re *regexp.Regexp) bool {
	if re == nil {
		return false
	}
	for _, img := range imagesOf(embed) {
		if re.MatchString(img.Alt) {
			return true
		}
	}
	return false
}

func hasVideo(embed model.EmbedVariant) bool {
	switch e := embed.(type) {
	case model.EmbedVideo:
		return true
	case model.EmbedRecordWithMedia:
		return hasVideo(e.Media)
	default:
		return false
	}
}

func hasLinks(embed model.EmbedVariant, links []string) bool {
	if len(links) > 0 {
		return true
	}
	switch e := embed.(type) {
	case model.EmbedExternal:
		return true
	case model.EmbedRecordWithMedia:
		return hasLinks(e.Media, nil)
	default:
		return false
	}
}

func hasMedia(post model.Post) bool {
	if countImages(post.Embed) > 0 || hasVideo(post.Embed) || len(post.Links) > 0 {
		return true
	}
	switch post.Embed.(type) {
	case model.EmbedExternal:
		return true
	default:
		return false
	}
}

