// Package model defines the branded primitive types and the normalized post
// entity that every other package in bsky-store builds on.
package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Handle is a normalized, lower-cased AT Protocol handle (e.g. "alice.bsky.social").
type Handle string

var handlePattern = regexp.MustCompile(`^[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,62}\.)+[a-zA-Z]{2,63}$`)

// NewHandle validates and normalizes a raw handle string.
func NewHandle(raw string) (Handle, error) {
	h := strings.ToLower(strings.TrimSpace(raw))
	if h == "" {
		return "", fmt.Errorf("handle: empty")
	}
	if !handlePattern.MatchString(h) {
		return "", fmt.Errorf("handle: %q is not a valid dotted handle", raw)
	}
	return Handle(h), nil
}

// Did is an AT Protocol decentralized identifier, e.g. "did:plc:abc123".
type Did string

var didPattern = regexp.MustCompile(`^did:[a-z0-9]+:[A-Za-z0-9._:%-]+$`)

// NewDid validates a raw DID string.
func NewDid(raw string) (Did, error) {
	d := strings.TrimSpace(raw)
	if !didPattern.MatchString(d) {
		return "", fmt.Errorf("did: %q is not a valid DID", raw)
	}
	return Did(d), nil
}

// PostURI is an AT-URI identifying a post record: at://did/collection/rkey.
type PostURI string

var rkeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~:-]+$`)

// NewPostURI validates the at://did/collection/rkey structure.
func NewPostURI(raw string) (PostURI, error) {
	const scheme = "at://"
	if !strings.HasPrefix(raw, scheme) {
		return "", fmt.Errorf("post uri: %q must start with %q", raw, scheme)
	}
	rest := strings.TrimPrefix(raw, scheme)
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) != 3 {
		return "", fmt.Errorf("post uri: %q must have form at://did/collection/rkey", raw)
	}
	did, collection, rkey := parts[0], parts[1], parts[2]
	if _, err := NewDid(did); err != nil {
		return "", fmt.Errorf("post uri: %w", err)
	}
	if collection == "" {
		return "", fmt.Errorf("post uri: %q missing collection segment", raw)
	}
	if rkey == "" || !rkeyPattern.MatchString(rkey) {
		return "", fmt.Errorf("post uri: %q has invalid rkey segment", raw)
	}
	return PostURI(raw), nil
}

// Did extracts the repo DID from a validated PostURI.
func (u PostURI) Did() Did {
	rest := strings.TrimPrefix(string(u), "at://")
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) == 0 {
		return ""
	}
	return Did(parts[0])
}

// Collection extracts the collection NSID from a validated PostURI.
func (u PostURI) Collection() string {
	rest := strings.TrimPrefix(string(u), "at://")
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// Hashtag is a normalized hashtag, stored without its leading '#', lower-cased.
type Hashtag string

// NewHashtag normalizes a raw hashtag (with or without leading '#').
func NewHashtag(raw string) (Hashtag, error) {
	h := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "#")))
	if h == "" {
		return "", fmt.Errorf("hashtag: empty")
	}
	return Hashtag(h), nil
}

// Timestamp is a UTC instant serialized as RFC 3339 with a timezone offset.
type Timestamp time.Time

// NewTimestamp parses an RFC 3339 timestamp string.
func NewTimestamp(raw string) (Timestamp, error) {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return Timestamp{}, fmt.Errorf("timestamp: %w", err)
	}
	return Timestamp(t.UTC()), nil
}

// String renders the timestamp in RFC 3339 with a "Z" UTC offset.
func (t Timestamp) String() string {
	return time.Time(t).UTC().Format(time.RFC3339)
}

// Time returns the underlying time.Time.
func (t Timestamp) Time() time.Time { return time.Time(t) }

// Before reports whether t occurs before other.
func (t Timestamp) Before(other Timestamp) bool {
	return time.Time(t).Before(time.Time(other))
}

// After reports whether t occurs after other.
func (t Timestamp) After(other Timestamp) bool {
	return time.Time(t).After(time.Time(other))
}

// StoreName is a validated store slug: lowercase alphanumerics, '-', '_'.
type StoreName string

var storeNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// NewStoreName validates a raw store name.
func NewStoreName(raw string) (StoreName, error) {
	n := strings.TrimSpace(raw)
	if !storeNamePattern.MatchString(n) {
		return "", fmt.Errorf("store name: %q must be a lowercase slug (1-64 chars, [a-z0-9_-])", raw)
	}
	return StoreName(n), nil
}

// EventSeq is a monotone per-store sequence number assigned by the event log.
type EventSeq uint64
