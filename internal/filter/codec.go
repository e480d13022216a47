package filter

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/bsky-store/internal/model"
)

// wireEnvelope is the on-the-wire shape for every Expr variant: a
// discriminator tag plus a variant-specific field bag. Fields unused by a
// given tag are simply omitted (encoding/json's omitempty keeps the
// envelope compact and keeps Encode deterministic for identical Exprs).
type wireEnvelope struct {
	Tag string `json:"_tag"`

	Exprs   []json.RawMessage `json:"exprs,omitempty"`
	Expr    json.RawMessage   `json:"expr,omitempty"`
	Handle  string            `json:"handle,omitempty"`
	Handles []string          `json:"handles,omitempty"`
	Tag2    string            `json:"tag,omitempty"` // Hashtag.Tag (avoid colliding with _tag)
	Tags    []string          `json:"tags,omitempty"`

	Text          string `json:"text,omitempty"`
	CaseSensitive bool   `json:"caseSensitive,omitempty"`

	MinLikes   *int `json:"minLikes,omitempty"`
	MinReposts *int `json:"minReposts,omitempty"`
	MinReplies *int `json:"minReplies,omitempty"`

	Min int `json:"min,omitempty"`

	Pattern  string   `json:"pattern,omitempty"`
	Patterns []string `json:"patterns,omitempty"`

	Lang string `json:"lang,omitempty"`

	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`

	OnError *wireErrorPolicy `json:"onError,omitempty"`
}

type wireErrorPolicy struct {
	Kind       string `json:"kind"`
	MaxRetries int    `json:"maxRetries,omitempty"`
	BaseDelay  string `json:"baseDelay,omitempty"` // e.g. "500ms"
}

func encodePolicy(p ErrorPolicy) *wireErrorPolicy {
	return &wireErrorPolicy{
		Kind:       string(p.Kind),
		MaxRetries: p.MaxRetries,
		BaseDelay:  p.BaseDelay.String(),
	}
}

func decodePolicy(w *wireErrorPolicy) (ErrorPolicy, error) {
	if w == nil {
		return ErrorPolicy{}, fmt.Errorf("missing onError policy")
	}
	switch ErrorPolicyKind(w.Kind) {
	case PolicyInclude:
		return Include(), nil
	case PolicyExclude:
		return Exclude(), nil
	case PolicyRetry:
		var delay time.Duration
		if w.BaseDelay != "" {
			d, err := time.ParseDuration(w.BaseDelay)
			if err != nil {
				return ErrorPolicy{}, fmt.Errorf("onError.baseDelay: %w", err)
			}
			delay = d
		}
		return Retry(w.MaxRetries, delay), nil
	default:
		return ErrorPolicy{}, fmt.Errorf("unknown onError.kind %q", w.Kind)
	}
}

// Encode produces the deterministic JSON wire form of expr.
func Encode(expr Expr) ([]byte, error) {
	env, err := toEnvelope(expr)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Decode parses the JSON wire form into an Expr tree.
func Decode(data []byte) (Expr, error) {
	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("filter decode: %w", err)
	}
	return fromEnvelope(env)
}

func toEnvelope(expr Expr) (wireEnvelope, error) {
	env := wireEnvelope{Tag: expr.exprTag()}

	switch e := expr.(type) {
	case All, None, IsReply, IsQuote, IsRepost, IsOriginal,
		HasImages, HasAltText, NoAltText, HasVideo, HasLinks, HasMedia, HasEmbed:
		// no fields

	case And:
		raws, err := encodeChildren(e.Exprs)
		if err != nil {
			return env, err
		}
		env.Exprs = raws
	case Or:
		raws, err := encodeChildren(e.Exprs)
		if err != nil {
			return env, err
		}
		env.Exprs = raws
	case Not:
		raw, err := Encode(e.Expr)
		if err != nil {
			return env, err
		}
		env.Expr = raw

	case Author:
		env.Handle = string(e.Handle)
	case AuthorIn:
		for _, h := range e.Handles {
			env.Handles = append(env.Handles, string(h))
		}
	case Hashtag:
		env.Tag2 = string(e.Tag)
	case HashtagIn:
		for _, t := range e.Tags {
			env.Tags = append(env.Tags, string(t))
		}
	case Contains:
		env.Text = e.Text
		env.CaseSensitive = e.CaseSensitive
	case Engagement:
		env.MinLikes = e.MinLikes
		env.MinReposts = e.MinReposts
		env.MinReplies = e.MinReplies
	case MinImages:
		env.Min = e.Min
	case AltText:
		env.Text = e.Text
	case AltTextRegex:
		env.Pattern = e.Pattern
	case Language:
		env.Lang = e.Lang
	case Regex:
		env.Patterns = e.Patterns
	case DateRange:
		env.Start = e.Start.String()
		env.End = e.End.String()
	case HasValidLinks:
		env.OnError = encodePolicy(e.OnError)
	case Trending:
		env.Tag2 = string(e.Tag)
		env.OnError = encodePolicy(e.OnError)
	default:
		return env, fmt.Errorf("filter encode: unknown expr type %T", expr)
	}

	return env, nil
}

func encodeChildren(exprs []Expr) ([]json.RawMessage, error) {
	raws := make([]json.RawMessage, len(exprs))
	for i, child := range exprs {
		b, err := Encode(child)
		if err != nil {
			return nil, fmt.Errorf("child[%d]: %w", i, err)
		}
		raws[i] = b
	}
	return raws, nil
}

func fromEnvelope(env wireEnvelope) (Expr, error) {
	switch env.Tag {
	case "All":
		return All{}, nil
	case "None":
		return None{}, nil
	case "IsReply":
		return IsReply{}, nil
	case "IsQuote":
		return IsQuote{}, nil
	case "IsRepost":
		return IsRepost{}, nil
	case "IsOriginal":
		return IsOriginal{}, nil
	case "HasImages":
		return HasImages{}, nil
	case "HasAltText":
		return HasAltText{}, nil
	case "NoAltText":
		return NoAltText{}, nil
	case "HasVideo":
		return HasVideo{}, nil
	case "HasLinks":
		return HasLinks{}, nil
	case "HasMedia":
		return HasMedia{}, nil
	case "HasEmbed":
		return HasEmbed{}, nil

	case "And":
		children, err := decodeChildren(env.Exprs)
		if err != nil {
			return nil, err
		}
		return And{Exprs: children}, nil
	case "Or":
		children, err := decodeChildren(env.Exprs)
		if err != nil {
			return nil, err
		}
		return Or{Exprs: children}, nil
	case "Not":
		child, err := Decode(env.Expr)
		if err != nil {
			return nil, fmt.Errorf("Not.expr: %w", err)
		}
		return Not{Expr: child}, nil

	case "Author":
		h, err := model.NewHandle(env.Handle)
		if err != nil {
			return nil, fmt.Errorf("Author.handle: %w", err)
		}
		return Author{Handle: h}, nil
	case "AuthorIn":
		handles := make([]model.Handle, 0, len(env.Handles))
		for _, raw := range env.Handles {
			h, err := model.NewHandle(raw)
			if err != nil {
				return nil, fmt.Errorf("AuthorIn.handles: %w", err)
			}
			handles = append(handles, h)
		}
		return AuthorIn{Handles: handles}, nil
	case "Hashtag":
		t, err := model.NewHashtag(env.Tag2)
		if err != nil {
			return nil, fmt.Errorf("Hashtag.tag: %w", err)
		}
		return Hashtag{Tag: t}, nil
	case "HashtagIn":
		tags := make([]model.Hashtag, 0, len(env.Tags))
		for _, raw := range env.Tags {
			t, err := model.NewHashtag(raw)
			if err != nil {
				return nil, fmt.Errorf("HashtagIn.tags: %w", err)
			}
			tags = append(tags, t)
		}
		return HashtagIn{Tags: tags}, nil
	case "Contains":
		return Contains{Text: env.Text, CaseSensitive: env.CaseSensitive}, nil
	case "Engagement":
		return Engagement{MinLikes: env.MinLikes, MinReposts: env.MinReposts, MinReplies: env.MinReplies}, nil
	case "MinImages":
		return MinImages{Min: env.Min}, nil
	case "AltText":
		return AltText{Text: env.Text}, nil
	case "AltTextRegex":
		return AltTextRegex{Pattern: env.Pattern}, nil
	case "Language":
		return Language{Lang: env.Lang}, nil
	case "Regex":
		return Regex{Patterns: env.Patterns}, nil
	case "DateRange":
		start, err := model.NewTimestamp(env.Start)
		if err != nil {
			return nil, fmt.Errorf("DateRange.start: %w", err)
		}
		end, err := model.NewTimestamp(env.End)
		if err != nil {
			return nil, fmt.Errorf("DateRange.end: %w", err)
		}
		return DateRange{Start: start, End: end}, nil
	case "HasValidLinks":
		policy, err := decodePolicy(env.OnError)
		if err != nil {
			return nil, fmt.Errorf("HasValidLinks.onError: %w", err)
		}
		return HasValidLinks{OnError: policy}, nil
	case "Trending":
		t, err := model.NewHashtag(env.Tag2)
		if err != nil {
			return nil, fmt.Errorf("Trending.tag: %w", err)
		}
		policy, err := decodePolicy(env.OnError)
		if err != nil {
			return nil, fmt.Errorf("Trending.onError: %w", err)
		}
		return Trending{Tag: t, OnError: policy}, nil

	default:
		return nil, fmt.Errorf("filter decode: unknown _tag %q", env.Tag)
	}
}

func decodeChildren(raws []json.RawMessage) ([]Expr, error) {
	children := make([]Expr, 0, len(raws))
	for i, raw := range raws {
		child, err := Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("child[%d]: %w", i, err)
		}
		children = append(children, child)
	}
	return children, nil
}
