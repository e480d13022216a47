package syncengine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/roach88/bsky-store/internal/bskyerr"
	"github.com/roach88/bsky-store/internal/filter"
	"github.com/roach88/bsky-store/internal/model"
	"github.com/roach88/bsky-store/internal/poststore"
)

// JetstreamSettings tunes the firehose sub-pipeline. Strict mode aborts on
// the first decode error; otherwise up to MaxErrors accumulate before the
// run aborts (spec.md §4.4's Jetstream sub-pipeline). Messages are applied
// strictly in arrival order (unlike the paginated-feed pipeline) since a
// create/update/delete sequence for the same uri must not be reordered.
type JetstreamSettings struct {
	CheckpointEvery    int
	CheckpointInterval time.Duration
	HeartbeatInterval  time.Duration
	Strict             bool
	MaxErrors          int
}

// DefaultJetstreamSettings mirrors DefaultSettings' cadence.
func DefaultJetstreamSettings() JetstreamSettings {
	return JetstreamSettings{
		CheckpointEvery:    200,
		CheckpointInterval: 5 * time.Second,
		HeartbeatInterval:  5 * time.Second,
		MaxErrors:          50,
	}
}

// JetstreamRequest is one run of the firehose consumer.
type JetstreamRequest struct {
	Source   Jetstream
	Filter   filter.Expr
	Policy   Policy // applied to "create" operations only; "update" always overwrites
	Settings JetstreamSettings
	Command  string
}

// JetstreamConsumer runs the Jetstream sub-pipeline: create/update map to
// PostUpsert, delete maps to PostDelete, and the checkpoint cursor is the
// message's time_us.
type JetstreamConsumer struct {
	Store    *poststore.Store
	Feed     FeedClient
	Parser   JetstreamParser
	Runtime  *filter.Runtime
	Reporter ProgressReporter
}

// NewJetstreamConsumer constructs a JetstreamConsumer. reporter may be nil.
func NewJetstreamConsumer(store *poststore.Store, feed FeedClient, parser JetstreamParser, runtime *filter.Runtime, reporter ProgressReporter) *JetstreamConsumer {
	if reporter == nil {
		reporter = NoopReporter{}
	}
	return &JetstreamConsumer{Store: store, Feed: feed, Parser: parser, Runtime: runtime, Reporter: reporter}
}

// Run consumes req.Source until the feed closes, ctx is cancelled, or
// (in non-strict mode) req.Settings.MaxErrors decode/filter failures
// accumulate.
func (c *JetstreamConsumer) Run(ctx context.Context, req JetstreamRequest) (SyncResult, error) {
	settings := req.Settings
	defaults := DefaultJetstreamSettings()
	if settings.CheckpointEvery <= 0 {
		settings.CheckpointEvery = defaults.CheckpointEvery
	}
	if settings.CheckpointInterval <= 0 {
		settings.CheckpointInterval = defaults.CheckpointInterval
	}
	if settings.HeartbeatInterval <= 0 {
		settings.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if settings.MaxErrors == 0 {
		settings.MaxErrors = defaults.MaxErrors
	}

	sourceKey, err := SourceKey(req.Source)
	if err != nil {
		return SyncResult{}, err
	}
	filterHash, err := filter.Signature(req.Filter)
	if err != nil {
		return SyncResult{}, bskyerr.NewFilterCompileError("", err.Error())
	}
	compiled, err := filter.Compile(req.Filter)
	if err != nil {
		return SyncResult{}, bskyerr.NewFilterCompileError("", err.Error())
	}

	opts := JetstreamOptions{
		Endpoint:            req.Source.Endpoint,
		Collections:         req.Source.Collections,
		Dids:                req.Source.Dids,
		Compress:            req.Source.Compress,
		MaxMessageSizeBytes: req.Source.MaxMessageSizeBytes,
	}
	if checkpoint, err := c.Store.GetCheckpoint(ctx, sourceKey); err == nil && checkpoint != nil {
		if checkpoint.FilterHash != nil && *checkpoint.FilterHash == filterHash && checkpoint.Cursor != nil {
			opts.Cursor = *checkpoint.Cursor
		}
	}

	stream, err := c.Feed.JetstreamSource(ctx, opts)
	if err != nil {
		return SyncResult{}, bskyerr.NewBskyError("feed_open", "opening jetstream source", err)
	}

	result := SyncResult{}
	totalErrors := 0
	cursor := opts.Cursor
	start := time.Now().UTC()
	sinceCheckpoint := 0
	lastCheckpointAt := start

	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	defer cancelHeartbeat()
	state := &runState{sourceKey: sourceKey, filterHash: filterHash, cursor: cursor, start: start}
	go c.runHeartbeat(heartbeatCtx, settings.HeartbeatInterval, state)

	flush := func() error {
		cp := poststore.SyncCheckpoint{
			SourceKey:  sourceKey,
			Cursor:     &cursor,
			FilterHash: &filterHash,
			UpdatedAt:  mustTimestamp(time.Now().UTC()),
		}
		if seq, err := c.Store.MaxEventSeq(ctx); err == nil && seq != nil {
			cp.LastEventSeq = seq
		}
		if err := c.Store.SaveCheckpoint(ctx, cp); err != nil {
			return bskyerr.NewStoreIoError("", "save_checkpoint", err)
		}
		return nil
	}

	for {
		msg, ok, err := stream.Next(ctx)
		if err != nil {
			flush()
			return result, bskyerr.NewSyncError(bskyerr.StageSource, "reading jetstream", err)
		}
		if !ok {
			break
		}

		cursor = strconv.FormatInt(msg.TimeUs, 10)
		state.cursor = cursor
		state.processed++

		if err := c.processOne(ctx, req, compiled, msg, &result); err != nil {
			result.Errors = append(result.Errors, err)
			totalErrors++
			state.errs = totalErrors
			if settings.Strict {
				flush()
				return result, err
			}
			if settings.MaxErrors > 0 && totalErrors >= settings.MaxErrors {
				flush()
				return result, fmt.Errorf("syncengine: jetstream aborted after %d errors: %w", totalErrors, err)
			}
			continue
		}
		state.added = result.PostsAdded
		state.deleted = result.PostsDeleted
		state.skipped = result.PostsSkipped

		sinceCheckpoint++
		dueByCount := sinceCheckpoint >= settings.CheckpointEvery
		dueByTime := time.Since(lastCheckpointAt) >= settings.CheckpointInterval
		if dueByCount || dueByTime {
			if err := flush(); err != nil {
				return result, err
			}
			sinceCheckpoint = 0
			lastCheckpointAt = time.Now().UTC()
		}

		if err := ctx.Err(); err != nil {
			flush()
			return result, err
		}
	}

	if err := flush(); err != nil {
		return result, err
	}
	return result, nil
}

func (c *JetstreamConsumer) processOne(ctx context.Context, req JetstreamRequest, compiled filter.Compiled, msg CommitMessage, result *SyncResult) error {
	uri, err := commitURI(msg)
	if err != nil {
		return bskyerr.NewSyncError(bskyerr.StageParse, "building post uri", err)
	}

	if msg.Operation == CommitDelete {
		meta := poststore.EventMeta{Source: "jetstream", Command: req.Command, FilterExprHash: "", CreatedAt: mustTimestamp(time.Now().UTC())}
		if _, err := c.Store.AppendDelete(ctx, uri, meta); err != nil {
			return bskyerr.NewStoreIoError("", "append_delete", err)
		}
		result.PostsDeleted++
		return nil
	}

	post, err := c.Parser.ParseCommit(ctx, msg)
	if err != nil {
		return bskyerr.NewSyncError(bskyerr.StageParse, "parsing commit record", err)
	}

	evalResult, err := c.Runtime.EvaluateWithMetadata(ctx, compiled, post)
	if err != nil {
		return bskyerr.NewSyncError(bskyerr.StageFilter, "evaluating filter", err)
	}
	if !evalResult.Ok {
		result.PostsSkipped++
		return nil
	}

	filterHash, _ := filter.Signature(req.Filter)
	meta := poststore.EventMeta{Source: "jetstream", Command: req.Command, FilterExprHash: filterHash, CreatedAt: mustTimestamp(time.Now().UTC())}

	switch msg.Operation {
	case CommitCreate:
		policy := req.Policy
		if policy == "" {
			policy = PolicyDedupe
		}
		if policy == PolicyRefresh {
			if _, err := c.Store.AppendUpsert(ctx, post, meta); err != nil {
				return bskyerr.NewStoreIoError("", "append_upsert", err)
			}
			result.PostsAdded++
			return nil
		}
		entry, err := c.Store.AppendUpsertIfMissing(ctx, post, meta)
		if err != nil {
			return bskyerr.NewStoreIoError("", "append_upsert_if_missing", err)
		}
		if entry != nil {
			result.PostsAdded++
		} else {
			result.PostsSkipped++
		}
		return nil
	case CommitUpdate:
		if _, err := c.Store.AppendUpsert(ctx, post, meta); err != nil {
			return bskyerr.NewStoreIoError("", "append_upsert", err)
		}
		result.PostsAdded++
		return nil
	default:
		return fmt.Errorf("syncengine: unknown commit operation %q", msg.Operation)
	}
}

func (c *JetstreamConsumer) runHeartbeat(ctx context.Context, interval time.Duration, state *runState) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Reporter.Report(ctx, SyncProgress{
				SourceKey: state.sourceKey,
				Processed: state.processed,
				Added:     state.added,
				Deleted:   state.deleted,
				Skipped:   state.skipped,
				Errors:    state.errs,
				Elapsed:   time.Since(state.start),
			})
		}
	}
}

func commitURI(msg CommitMessage) (model.PostURI, error) {
	raw := fmt.Sprintf("at://%s/%s/%s", msg.Did, msg.Collection, msg.RKey)
	return model.NewPostURI(raw)
}

func mustTimestamp(t time.Time) model.Timestamp {
	ts, _ := model.NewTimestamp(t.Format(time.RFC3339))
	return ts
}
