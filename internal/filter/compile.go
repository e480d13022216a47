package filter

import (
	"fmt"
	"regexp"

	"github.com/roach88/bsky-store/internal/bskyerr"
)

// Compiled wraps an Expr that has passed structural validation. Evaluate*
// only accepts a Compiled value, so a caller cannot accidentally run an
// unvalidated tree (e.g. one with a DateRange.Start after End, or a Regex
// pattern that fails to compile) through the runtime.
type Compiled struct {
	expr     Expr
	regexes  map[string]*regexp.Regexp // cache of compiled Regex/AltTextRegex patterns
}

// Expr returns the underlying, unmodified expression tree.
func (c Compiled) Expr() Expr { return c.expr }

// Compile validates expr's structural constraints and returns a Compiled
// ready for Evaluate/EvaluateWithMetadata/EvaluateBatch. Validation walks
// the whole tree and reports the first violation found, depth-first,
// left-to-right.
func Compile(expr Expr) (Compiled, error) {
	regexes := make(map[string]*regexp.Regexp)
	if err := validate(expr, "", regexes); err != nil {
		return Compiled{}, err
	}
	return Compiled{expr: expr, regexes: regexes}, nil
}

func validate(expr Expr, path string, regexes map[string]*regexp.Regexp) error {
	at := func(node string) string {
		if path == "" {
			return node
		}
		return path + "." + node
	}

	switch e := expr.(type) {
	case And:
		for i, child := range e.Exprs {
			if err := validate(child, fmt.Sprintf("%s[%d]", at("And"), i), regexes); err != nil {
				return err
			}
		}
	case Or:
		for i, child := range e.Exprs {
			if err := validate(child, fmt.Sprintf("%s[%d]", at("Or"), i), regexes); err != nil {
				return err
			}
		}
	case Not:
		return validate(e.Expr, at("Not"), regexes)

	case AuthorIn:
		if len(e.Handles) == 0 {
			return bskyerr.NewFilterCompileError(at("AuthorIn"), "handles must be non-empty")
		}
	case HashtagIn:
		if len(e.Tags) == 0 {
			return bskyerr.NewFilterCompileError(at("HashtagIn"), "tags must be non-empty")
		}
	case Engagement:
		if e.MinLikes == nil && e.MinReposts == nil && e.MinReplies == nil {
			return bskyerr.NewFilterCompileError(at("Engagement"), "at least one threshold must be set")
		}
	case MinImages:
		if e.Min < 1 {
			return bskyerr.NewFilterCompileError(at("MinImages"), "min must be >= 1")
		}
	case Regex:
		if len(e.Patterns) == 0 {
			return bskyerr.NewFilterCompileError(at("Regex"), "patterns must be non-empty")
		}
		for _, pat := range e.Patterns {
			re, err := regexp.Compile(pat)
			if err != nil {
				return bskyerr.NewFilterCompileError(at("Regex"), fmt.Sprintf("invalid pattern %q: %v", pat, err))
			}
			regexes[regexKey("Regex", pat)] = re
		}
	case AltTextRegex:
		re, err := regexp.Compile(e.Pattern)
		if err != nil {
			return bskyerr.NewFilterCompileError(at("AltTextRegex"), fmt.Sprintf("invalid pattern %q: %v", e.Pattern, err))
		}
		regexes[regexKey("AltTextRegex", e.Pattern)] = re
	case DateRange:
		// Inclusive range: Start == End is valid (matches posts at that instant).
		if e.End.Before(e.Start) {
			return bskyerr.NewFilterCompileError(at("DateRange"), "start must be <= end")
		}
	case HasValidLinks:
		if err := validatePolicy(e.OnError, at("HasValidLinks.onError")); err != nil {
			return err
		}
	case Trending:
		if err := validatePolicy(e.OnError, at("Trending.onError")); err != nil {
			return err
		}
	}

	return nil
}

func validatePolicy(p ErrorPolicy, path string) error {
	switch p.Kind {
	case PolicyInclude, PolicyExclude:
		return nil
	case PolicyRetry:
		if p.MaxRetries < 0 {
			return bskyerr.NewFilterCompileError(path, "maxRetries must be >= 0")
		}
		if p.BaseDelay < 0 {
			return bskyerr.NewFilterCompileError(path, "baseDelay must be >= 0")
		}
		return nil
	default:
		return bskyerr.NewFilterCompileError(path, fmt.Sprintf("unknown policy kind %q", p.Kind))
	}
}

func regexKey(kind, pattern string) string {
	return kind + "\x00" + pattern
}
