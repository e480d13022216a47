package poststore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/bsky-store/internal/model"
)

// wireEventMeta is the JSON shape of an event_log row's meta_json column
// and the "meta" field inside event_json, per spec.md §6.4.
type wireEventMeta struct {
	Source         string `json:"source"`
	Command        string `json:"command,omitempty"`
	FilterExprHash string `json:"filterExprHash,omitempty"`
	CreatedAt      string `json:"createdAt"`
}

// wireEvent is the JSON shape of the event_log.event_json column: a
// _tag-discriminated union of PostUpsert and PostDelete.
type wireEvent struct {
	Tag  string          `json:"_tag"`
	Post json.RawMessage `json:"post,omitempty"`
	URI  string          `json:"uri,omitempty"`
	Meta wireEventMeta   `json:"meta"`
}

func encodeNoHTMLEscape(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

func marshalMeta(meta EventMeta) (string, error) {
	w := wireEventMeta{
		Source: meta.Source, Command: meta.Command,
		FilterExprHash: meta.FilterExprHash, CreatedAt: meta.CreatedAt.String(),
	}
	s, err := encodeNoHTMLEscape(w)
	if err != nil {
		return "", fmt.Errorf("marshal meta: %w", err)
	}
	return s, nil
}

func unmarshalMeta(data string) (EventMeta, error) {
	var w wireEventMeta
	if err := json.Unmarshal([]byte(data), &w); err != nil {
		return EventMeta{}, fmt.Errorf("unmarshal meta: %w", err)
	}
	ts, err := model.NewTimestamp(w.CreatedAt)
	if err != nil {
		return EventMeta{}, fmt.Errorf("unmarshal meta: createdAt: %w", err)
	}
	return EventMeta{
		Source: w.Source, Command: w.Command,
		FilterExprHash: w.FilterExprHash, CreatedAt: ts,
	}, nil
}

func marshalUpsertEvent(p model.Post, meta EventMeta) (eventJSON, metaJSON string, err error) {
	postJSON, err := model.MarshalPost(p)
	if err != nil {
		return "", "", fmt.Errorf("marshal upsert event: %w", err)
	}
	metaJSON, err = marshalMeta(meta)
	if err != nil {
		return "", "", fmt.Errorf("marshal upsert event: %w", err)
	}
	w := wireEvent{
		Tag:  "PostUpsert",
		Post: json.RawMessage(postJSON),
		Meta: wireEventMeta{Source: meta.Source, Command: meta.Command, FilterExprHash: meta.FilterExprHash, CreatedAt: meta.CreatedAt.String()},
	}
	eventJSON, err = encodeNoHTMLEscape(w)
	if err != nil {
		return "", "", fmt.Errorf("marshal upsert event: %w", err)
	}
	return eventJSON, metaJSON, nil
}

func marshalDeleteEvent(uri model.PostURI, meta EventMeta) (eventJSON, metaJSON string, err error) {
	metaJSON, err = marshalMeta(meta)
	if err != nil {
		return "", "", fmt.Errorf("marshal delete event: %w", err)
	}
	w := wireEvent{
		Tag: "PostDelete",
		URI: string(uri),
		Meta: wireEventMeta{Source: meta.Source, Command: meta.Command, FilterExprHash: meta.FilterExprHash, CreatedAt: meta.CreatedAt.String()},
	}
	eventJSON, err = encodeNoHTMLEscape(w)
	if err != nil {
		return "", "", fmt.Errorf("marshal delete event: %w", err)
	}
	return eventJSON, metaJSON, nil
}

// unmarshalEvent decodes event_log.event_json, returning the embedded post
// (for upserts) and a bare URI (for deletes).
func unmarshalEvent(kind EventKind, uri model.PostURI, eventJSON string) (*model.Post, error) {
	if kind != KindUpsert {
		return nil, nil
	}
	var w wireEvent
	if err := json.Unmarshal([]byte(eventJSON), &w); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	if len(w.Post) == 0 {
		return nil, fmt.Errorf("unmarshal event: upsert event for %s missing post payload", uri)
	}
	p, err := model.UnmarshalPost(w.Post)
	if err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	return &p, nil
}
