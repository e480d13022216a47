package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// wirePost is the JSON storage shape of a Post (the posts.post_json column).
// Disabling HTML escaping on encode matches the teacher's
// internal/store/marshal.go convention for deterministic, readable JSON TEXT.
type wirePost struct {
	URI       string         `json:"uri"`
	CID       string         `json:"cid"`
	Author    string         `json:"author"`
	AuthorDid string         `json:"authorDid"`
	Text      string         `json:"text"`
	CreatedAt string         `json:"createdAt"`
	Hashtags  []string       `json:"hashtags,omitempty"`
	Mentions  []string       `json:"mentions,omitempty"`
	Links     []string       `json:"links,omitempty"`
	Embed     *wireEmbed     `json:"embed,omitempty"`
	Reply     *wireReply     `json:"reply,omitempty"`
	Metrics   *Metrics       `json:"metrics,omitempty"`
	Langs     []string       `json:"langs,omitempty"`
	Reason    *wireFeedReason `json:"reason,omitempty"`
}

type wireReply struct {
	RootURI   string `json:"rootUri"`
	RootCID   string `json:"rootCid"`
	ParentURI string `json:"parentUri"`
	ParentCID string `json:"parentCid"`
}

type wireFeedReason struct {
	Tag    string `json:"tag"`
	ByDid  string `json:"byDid"`
	ByTime string `json:"byTime"`
}

type wireAspectRatio struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type wireEmbedImage struct {
	Alt         string           `json:"alt"`
	Fullsize    string           `json:"fullsize"`
	Thumb       string           `json:"thumb"`
	AspectRatio *wireAspectRatio `json:"aspectRatio,omitempty"`
}

type wireEmbed struct {
	Tag string `json:"_tag"`

	Images []wireEmbedImage `json:"images,omitempty"`

	// Video
	Playlist    string           `json:"playlist,omitempty"`
	AspectRatio *wireAspectRatio `json:"aspectRatio,omitempty"`
	Alt         string           `json:"alt,omitempty"`

	// External
	ExternalURI string `json:"externalUri,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Thumb       string `json:"thumb,omitempty"`

	// Record
	RecordURI string `json:"recordUri,omitempty"`
	RecordCID string `json:"recordCid,omitempty"`

	// RecordWithMedia
	Record *wireEmbed `json:"record,omitempty"`
	Media  *wireEmbed `json:"media,omitempty"`
}

func encodeAspectRatio(ar *AspectRatio) *wireAspectRatio {
	if ar == nil {
		return nil
	}
	return &wireAspectRatio{Width: ar.Width, Height: ar.Height}
}

func decodeAspectRatio(w *wireAspectRatio) *AspectRatio {
	if w == nil {
		return nil
	}
	return &AspectRatio{Width: w.Width, Height: w.Height}
}

func encodeEmbed(embed EmbedVariant) (*wireEmbed, error) {
	if embed == nil {
		return nil, nil
	}
	switch e := embed.(type) {
	case EmbedImages:
		images := make([]wireEmbedImage, len(e.Images))
		for i, img := range e.Images {
			images[i] = wireEmbedImage{
				Alt: img.Alt, Fullsize: img.Fullsize, Thumb: img.Thumb,
				AspectRatio: encodeAspectRatio(img.AspectRatio),
			}
		}
		return &wireEmbed{Tag: "Images", Images: images}, nil
	case EmbedVideo:
		return &wireEmbed{
			Tag: "Video", Alt: e.Alt, Playlist: e.Playlist,
			AspectRatio: encodeAspectRatio(e.AspectRatio),
		}, nil
	case EmbedExternal:
		return &wireEmbed{
			Tag: "External", ExternalURI: e.URI, Title: e.Title,
			Description: e.Description, Thumb: e.Thumb,
		}, nil
	case EmbedRecord:
		return &wireEmbed{Tag: "Record", RecordURI: e.URI, RecordCID: e.CID}, nil
	case EmbedRecordWithMedia:
		record, err := encodeEmbed(e.Record)
		if err != nil {
			return nil, err
		}
		media, err := encodeEmbed(e.Media)
		if err != nil {
			return nil, err
		}
		return &wireEmbed{Tag: "RecordWithMedia", Record: record, Media: media}, nil
	default:
		return nil, fmt.Errorf("encode embed: unknown variant %T", embed)
	}
}

func decodeEmbed(w *wireEmbed) (EmbedVariant, error) {
	if w == nil {
		return nil, nil
	}
	switch w.Tag {
	case "Images":
		images := make([]EmbedImage, len(w.Images))
		for i, img := range w.Images {
			images[i] = EmbedImage{
				Alt: img.Alt, Fullsize: img.Fullsize, Thumb: img.Thumb,
				AspectRatio: decodeAspectRatio(img.AspectRatio),
			}
		}
		return EmbedImages{Images: images}, nil
	case "Video":
		return EmbedVideo{Alt: w.Alt, Playlist: w.Playlist, AspectRatio: decodeAspectRatio(w.AspectRatio)}, nil
	case "External":
		return EmbedExternal{URI: w.ExternalURI, Title: w.Title, Description: w.Description, Thumb: w.Thumb}, nil
	case "Record":
		return EmbedRecord{URI: w.RecordURI, CID: w.RecordCID}, nil
	case "RecordWithMedia":
		record, err := decodeEmbed(w.Record)
		if err != nil {
			return nil, err
		}
		media, err := decodeEmbed(w.Media)
		if err != nil {
			return nil, err
		}
		rec, ok := record.(EmbedRecord)
		if !ok {
			return nil, fmt.Errorf("decode embed: RecordWithMedia.record must be a Record, got %T", record)
		}
		return EmbedRecordWithMedia{Record: rec, Media: media}, nil
	default:
		return nil, fmt.Errorf("decode embed: unknown _tag %q", w.Tag)
	}
}

// MarshalPost encodes a Post into its storage JSON form (the posts.post_json
// column). HTML escaping is disabled to match the teacher's JSON-as-TEXT
// storage convention (internal/store/marshal.go).
func MarshalPost(p Post) ([]byte, error) {
	embed, err := encodeEmbed(p.Embed)
	if err != nil {
		return nil, fmt.Errorf("marshal post: %w", err)
	}

	w := wirePost{
		URI:       string(p.URI),
		CID:       p.CID,
		Author:    string(p.Author),
		AuthorDid: string(p.AuthorDid),
		Text:      p.Text,
		CreatedAt: p.CreatedAt.String(),
		Embed:     embed,
		Metrics:   p.Metrics,
		Langs:     p.Langs,
	}
	for _, h := range p.Hashtags {
		w.Hashtags = append(w.Hashtags, string(h))
	}
	for _, m := range p.Mentions {
		w.Mentions = append(w.Mentions, string(m))
	}
	w.Links = p.Links

	if p.Reply != nil {
		w.Reply = &wireReply{
			RootURI: string(p.Reply.RootURI), RootCID: p.Reply.RootCID,
			ParentURI: string(p.Reply.ParentURI), ParentCID: p.Reply.ParentCID,
		}
	}
	if p.Reason != nil {
		w.Reason = &wireFeedReason{
			Tag: string(p.Reason.Tag), ByDid: string(p.Reason.ByDid), ByTime: p.Reason.ByTime.String(),
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(w); err != nil {
		return nil, fmt.Errorf("marshal post: %w", err)
	}
	return []byte(strings.TrimSpace(buf.String())), nil
}

// UnmarshalPost decodes a Post from its storage JSON form.
func UnmarshalPost(data []byte) (Post, error) {
	var w wirePost
	if err := json.Unmarshal(data, &w); err != nil {
		return Post{}, fmt.Errorf("unmarshal post: %w", err)
	}

	uri, err := NewPostURI(w.URI)
	if err != nil {
		return Post{}, fmt.Errorf("unmarshal post: uri: %w", err)
	}
	author, err := NewHandle(w.Author)
	if err != nil {
		return Post{}, fmt.Errorf("unmarshal post: author: %w", err)
	}
	authorDid, err := NewDid(w.AuthorDid)
	if err != nil {
		return Post{}, fmt.Errorf("unmarshal post: authorDid: %w", err)
	}
	createdAt, err := NewTimestamp(w.CreatedAt)
	if err != nil {
		return Post{}, fmt.Errorf("unmarshal post: createdAt: %w", err)
	}
	embed, err := decodeEmbed(w.Embed)
	if err != nil {
		return Post{}, fmt.Errorf("unmarshal post: %w", err)
	}

	p := Post{
		URI: uri, CID: w.CID, Author: author, AuthorDid: authorDid,
		Text: w.Text, CreatedAt: createdAt, Links: w.Links,
		Embed: embed, Metrics: w.Metrics, Langs: w.Langs,
	}

	for _, raw := range w.Hashtags {
		h, err := NewHashtag(raw)
		if err != nil {
			return Post{}, fmt.Errorf("unmarshal post: hashtags: %w", err)
		}
		p.Hashtags = append(p.Hashtags, h)
	}
	for _, raw := range w.Mentions {
		d, err := NewDid(raw)
		if err != nil {
			return Post{}, fmt.Errorf("unmarshal post: mentions: %w", err)
		}
		p.Mentions = append(p.Mentions, d)
	}

	if w.Reply != nil {
		rootURI, err := NewPostURI(w.Reply.RootURI)
		if err != nil {
			return Post{}, fmt.Errorf("unmarshal post: reply.rootUri: %w", err)
		}
		parentURI, err := NewPostURI(w.Reply.ParentURI)
		if err != nil {
			return Post{}, fmt.Errorf("unmarshal post: reply.parentUri: %w", err)
		}
		p.Reply = &ReplyRef{
			RootURI: rootURI, RootCID: w.Reply.RootCID,
			ParentURI: parentURI, ParentCID: w.Reply.ParentCID,
		}
	}

	if w.Reason != nil {
		byDid, err := NewDid(w.Reason.ByDid)
		if err != nil {
			return Post{}, fmt.Errorf("unmarshal post: reason.byDid: %w", err)
		}
		byTime, err := NewTimestamp(w.Reason.ByTime)
		if err != nil {
			return Post{}, fmt.Errorf("unmarshal post: reason.byTime: %w", err)
		}
		p.Reason = &FeedReason{Tag: FeedReasonTag(w.Reason.Tag), ByDid: byDid, ByTime: byTime}
	}

	return p, nil
}
