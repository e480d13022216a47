package syncengine

import (
	"context"

	"github.com/roach88/bsky-store/internal/model"
)

// Parser maps a RawPost into a normalized model.Post. Actual lexicon
// decoding lives with the caller's XRPC client; this seam lets the engine
// stay independent of the wire format.
type Parser interface {
	Parse(ctx context.Context, raw RawPost) (model.Post, error)
}

// ParserFunc adapts a plain function to Parser.
type ParserFunc func(ctx context.Context, raw RawPost) (model.Post, error)

func (f ParserFunc) Parse(ctx context.Context, raw RawPost) (model.Post, error) {
	return f(ctx, raw)
}

// JetstreamParser maps one firehose commit's record bytes into a
// normalized model.Post. Only called for create/update operations;
// deletes carry no record to parse.
type JetstreamParser interface {
	ParseCommit(ctx context.Context, msg CommitMessage) (model.Post, error)
}

// JetstreamParserFunc adapts a plain function to JetstreamParser.
type JetstreamParserFunc func(ctx context.Context, msg CommitMessage) (model.Post, error)

func (f JetstreamParserFunc) ParseCommit(ctx context.Context, msg CommitMessage) (model.Post, error) {
	return f(ctx, msg)
}
