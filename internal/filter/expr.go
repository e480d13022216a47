// Package filter implements the post filter expression language: a closed
// algebraic tree (Expr), its JSON wire codec, a canonical signature hash,
// a structural compiler, and a batched evaluator with short-circuit
// semantics and oracle error policies.
package filter

import (
	"time"

	"github.com/roach88/bsky-store/internal/model"
)

// Expr is a sealed interface over the filter expression variants. Only the
// types in this file implement it (via the unexported exprTag method), so
// adding a new variant without updating every exhaustive switch in this
// package is a compile-time break.
type Expr interface {
	exprTag() string
}

// All matches every post.
type All struct{}

func (All) exprTag() string { return "All" }

// None matches no post.
type None struct{}

func (None) exprTag() string { return "None" }

// And matches a post iff every child matches. Evaluated left-to-right with
// short-circuit: the first false child stops evaluation.
type And struct {
	Exprs []Expr
}

func (And) exprTag() string { return "And" }

// Or matches a post iff any child matches. Evaluated left-to-right with
// short-circuit: the first true child stops evaluation.
type Or struct {
	Exprs []Expr
}

func (Or) exprTag() string { return "Or" }

// Not negates its child.
type Not struct {
	Expr Expr
}

func (Not) exprTag() string { return "Not" }

// Author matches posts by a single author handle.
type Author struct {
	Handle model.Handle
}

func (Author) exprTag() string { return "Author" }

// AuthorIn matches posts whose author is any of the given handles.
type AuthorIn struct {
	Handles []model.Handle
}

func (AuthorIn) exprTag() string { return "AuthorIn" }

// Hashtag matches posts tagged with a single hashtag.
type Hashtag struct {
	Tag model.Hashtag
}

func (Hashtag) exprTag() string { return "Hashtag" }

// HashtagIn matches posts tagged with any of the given hashtags.
type HashtagIn struct {
	Tags []model.Hashtag
}

func (HashtagIn) exprTag() string { return "HashtagIn" }

// Contains matches posts whose text contains the given substring.
// Case-insensitive on Unicode scalar values unless CaseSensitive is set.
type Contains struct {
	Text          string
	CaseSensitive bool
}

func (Contains) exprTag() string { return "Contains" }

// IsReply matches posts that are replies.
type IsReply struct{}

func (IsReply) exprTag() string { return "IsReply" }

// IsQuote matches posts embedding a quoted record.
type IsQuote struct{}

func (IsQuote) exprTag() string { return "IsQuote" }

// IsRepost matches posts surfaced via a repost feed reason.
type IsRepost struct{}

func (IsRepost) exprTag() string { return "IsRepost" }

// IsOriginal matches posts that are neither a reply, a quote, nor a repost.
type IsOriginal struct{}

func (IsOriginal) exprTag() string { return "IsOriginal" }

// Engagement matches posts meeting every specified minimum (AND semantics
// across the thresholds that are set).
type Engagement struct {
	MinLikes   *int
	MinReposts *int
	MinReplies *int
}

func (Engagement) exprTag() string { return "Engagement" }

// HasImages matches posts with at least one direct or record-with-media image.
type HasImages struct{}

func (HasImages) exprTag() string { return "HasImages" }

// MinImages matches posts with at least Min images.
type MinImages struct {
	Min int
}

func (MinImages) exprTag() string { return "MinImages" }

// HasAltText matches posts where every image carries non-empty alt text.
type HasAltText struct{}

func (HasAltText) exprTag() string { return "HasAltText" }

// NoAltText matches posts with at least one image missing alt text.
type NoAltText struct{}

func (NoAltText) exprTag() string { return "NoAltText" }

// AltText matches posts with an image whose alt text contains the given substring.
type AltText struct {
	Text string
}

func (AltText) exprTag() string { return "AltText" }

// AltTextRegex matches posts with an image whose alt text matches the given pattern.
type AltTextRegex struct {
	Pattern string
}

func (AltTextRegex) exprTag() string { return "AltTextRegex" }

// HasVideo matches posts with a direct or record-with-media video.
type HasVideo struct{}

func (HasVideo) exprTag() string { return "HasVideo" }

// HasLinks matches posts with at least one extracted link or an
// external-link embed.
type HasLinks struct{}

func (HasLinks) exprTag() string { return "HasLinks" }

// HasMedia matches posts with images, video, an external-link embed, or links.
type HasMedia struct{}

func (HasMedia) exprTag() string { return "HasMedia" }

// HasEmbed matches posts carrying any embed variant.
type HasEmbed struct{}

func (HasEmbed) exprTag() string { return "HasEmbed" }

// Language matches posts whose Langs include the given language tag.
type Language struct {
	Lang string
}

func (Language) exprTag() string { return "Language" }

// Regex matches post text against one or more patterns, OR-ed together.
type Regex struct {
	Patterns []string
}

func (Regex) exprTag() string { return "Regex" }

// DateRange matches posts with CreatedAt in [Start, End], inclusive on both ends.
type DateRange struct {
	Start model.Timestamp
	End   model.Timestamp
}

func (DateRange) exprTag() string { return "DateRange" }

// HasValidLinks matches posts with at least one extracted link that
// resolves via the LinkValidator oracle (a post with no links is vacuously
// valid). OnError governs behavior when the oracle call fails.
type HasValidLinks struct {
	OnError ErrorPolicy
}

func (HasValidLinks) exprTag() string { return "HasValidLinks" }

// Trending matches when Tag is currently trending per the TrendingTopics
// oracle, independent of the post's own hashtags. OnError governs behavior
// when the oracle call fails.
type Trending struct {
	Tag     model.Hashtag
	OnError ErrorPolicy
}

func (Trending) exprTag() string { return "Trending" }

// ErrorPolicyKind discriminates the ErrorPolicy sum type.
type ErrorPolicyKind string

const (
	PolicyInclude ErrorPolicyKind = "Include"
	PolicyExclude ErrorPolicyKind = "Exclude"
	PolicyRetry   ErrorPolicyKind = "Retry"
)

// ErrorPolicy governs how an effectful (oracle-backed) leaf handles a
// failed capability call.
type ErrorPolicy struct {
	Kind       ErrorPolicyKind
	MaxRetries int           // only meaningful when Kind == PolicyRetry
	BaseDelay  time.Duration // only meaningful when Kind == PolicyRetry
}

// Include is the "treat oracle failure as a match" policy.
func Include() ErrorPolicy { return ErrorPolicy{Kind: PolicyInclude} }

// Exclude is the "treat oracle failure as a non-match" policy.
func Exclude() ErrorPolicy { return ErrorPolicy{Kind: PolicyExclude} }

// Retry retries up to maxRetries times with fixed spacing baseDelay, then fails.
func Retry(maxRetries int, baseDelay time.Duration) ErrorPolicy {
	return ErrorPolicy{Kind: PolicyRetry, MaxRetries: maxRetries, BaseDelay: baseDelay}
}

// Effectful reports whether expr (or any descendant) invokes an oracle.
func Effectful(expr Expr) bool {
	switch e := expr.(type) {
	case HasValidLinks, Trending:
		return true
	case And:
		return anyEffectful(e.Exprs)
	case Or:
		return anyEffectful(e.Exprs)
	case Not:
		return Effectful(e.Expr)
	default:
		return false
	}
}

func anyEffectful(exprs []Expr) bool {
	for _, e := range exprs {
		if Effectful(e) {
			return true
		}
	}
	return false
}
