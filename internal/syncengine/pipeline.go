// Package syncengine implements the sync engine (C8): a streaming
// pipeline that fetches raw posts from a paginated feed or the firehose,
// parses, filters, commits accepted posts into a per-store post index, and
// advances a resumable per-source checkpoint. Grounded on the teacher's
// internal/engine package for its queue/cycle shape, generalized from a
// single-process rule engine into an I/O-bound fetch/parse/filter/commit
// pipeline, and on other_examples/80b8569f_sandwichfarm-nophr's sync
// engine for the fetch-then-commit-then-checkpoint loop structure.
package syncengine

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/bsky-store/internal/bskyerr"
	"github.com/roach88/bsky-store/internal/filter"
	"github.com/roach88/bsky-store/internal/model"
	"github.com/roach88/bsky-store/internal/poststore"
	"golang.org/x/sync/errgroup"
)

// Policy governs how accepted posts are committed.
type Policy string

const (
	// PolicyDedupe skips posts whose uri already exists in the target store.
	PolicyDedupe Policy = "dedupe"
	// PolicyRefresh always upserts, overwriting any existing row for uri.
	PolicyRefresh Policy = "refresh"
)

// Settings tunes the pipeline's batching, concurrency, and checkpoint
// cadence (spec.md §4.4 step 5-7).
type Settings struct {
	BatchSize          int
	Concurrency        int
	PageLimit          int
	CheckpointEvery    int
	CheckpointInterval time.Duration
	HeartbeatInterval  time.Duration
}

// DefaultSettings returns the settings the teacher's engine defaults
// resemble: modest batch sizes, bounded worker fan-out.
func DefaultSettings() Settings {
	return Settings{
		BatchSize:          100,
		Concurrency:        8,
		PageLimit:          100,
		CheckpointEvery:    100,
		CheckpointInterval: 5 * time.Second,
		HeartbeatInterval:  5 * time.Second,
	}
}

// SyncRequest is one invocation of the sync pipeline against a target store.
type SyncRequest struct {
	Source   DataSource
	Filter   filter.Expr
	Policy   Policy
	Limit    *int
	Settings Settings
	Command  string // free-form description recorded in each event's meta
}

// SyncResult is the structured outcome of a sync run (spec.md §7).
type SyncResult struct {
	PostsAdded   int
	PostsDeleted int
	PostsSkipped int
	Errors       []error
}

// Engine runs the sync pipeline against one target store.
type Engine struct {
	Store    *poststore.Store
	Feed     FeedClient
	Parser   Parser
	Runtime  *filter.Runtime
	Reporter ProgressReporter
}

// NewEngine constructs an Engine. reporter may be nil, in which case
// progress reports are discarded.
func NewEngine(store *poststore.Store, feed FeedClient, parser Parser, runtime *filter.Runtime, reporter ProgressReporter) *Engine {
	if reporter == nil {
		reporter = NoopReporter{}
	}
	return &Engine{Store: store, Feed: feed, Parser: parser, Runtime: runtime, Reporter: reporter}
}

type decision struct {
	post    model.Post
	include bool
	err     error
}

// Run executes req's pipeline to completion: checkpoint load, raw stream,
// parse, filter, batch, commit, checkpoint advance, repeating until the
// source is exhausted, req.Limit is reached, or ctx is cancelled.
func (e *Engine) Run(ctx context.Context, req SyncRequest) (SyncResult, error) {
	settings := req.Settings
	if settings.BatchSize <= 0 {
		settings = DefaultSettings()
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

	checkpoint, err := e.Store.GetCheckpoint(ctx, sourceKey)
	if err != nil {
		return SyncResult{}, bskyerr.NewStoreIoError("", "get_checkpoint", err)
	}
	cursor := ""
	if checkpoint != nil && checkpoint.FilterHash != nil && *checkpoint.FilterHash == filterHash {
		if checkpoint.Cursor != nil {
			cursor = *checkpoint.Cursor
		}
	}

	stream, err := sourceStream(ctx, e.Feed, req.Source, FeedOptions{Cursor: cursor, Limit: settings.PageLimit})
	if err != nil {
		return SyncResult{}, bskyerr.NewBskyError("feed_open", "opening source stream", err)
	}

	runCtx, cancelHeartbeat := context.WithCancel(ctx)
	defer cancelHeartbeat()

	state := &runState{sourceKey: sourceKey, filterHash: filterHash, cursor: cursor, start: e.now()}
	go e.runHeartbeat(runCtx, settings.HeartbeatInterval, state)

	result := SyncResult{}
	sinceCheckpoint := 0
	lastCheckpointAt := e.now()

	for {
		if req.Limit != nil && state.processed >= *req.Limit {
			break
		}
		batch, lastCursor, more, err := pullBatch(ctx, stream, settings.BatchSize)
		if err != nil {
			return result, bskyerr.NewSyncError(bskyerr.StageSource, "reading raw stream", err)
		}
		if len(batch) == 0 && !more {
			break
		}

		decisions := e.parseAndFilter(ctx, batch, compiled, settings.Concurrency)

		var toCommit []poststore.PostWithMeta
		for _, d := range decisions {
			state.processed++
			if d.err != nil {
				result.Errors = append(result.Errors, d.err)
				continue
			}
			if !d.include {
				result.PostsSkipped++
				continue
			}
			toCommit = append(toCommit, poststore.PostWithMeta{
				Post: d.post,
				Meta: poststore.EventMeta{
					Source:         sourceName(req.Source),
					Command:        req.Command,
					FilterExprHash: filterHash,
					CreatedAt:      e.nowTimestamp(),
				},
			})
		}

		added, skipped, err := e.commit(ctx, req.Policy, toCommit)
		if err != nil {
			// Storage errors abort the batch; flush the last-known-good
			// checkpoint before surfacing to the caller (spec.md §7).
			e.flushCheckpoint(ctx, state)
			return result, bskyerr.NewStoreIoError("", "commit_batch", err)
		}
		result.PostsAdded += added
		result.PostsSkipped += skipped
		state.added += added

		if lastCursor != "" {
			state.cursor = lastCursor
		}
		if seq, err := e.Store.MaxEventSeq(ctx); err == nil && seq != nil {
			state.lastEventSeq = *seq
		}

		sinceCheckpoint += len(batch)
		dueByCount := sinceCheckpoint >= settings.CheckpointEvery
		dueByTime := e.now().Sub(lastCheckpointAt) >= settings.CheckpointInterval
		if dueByCount || dueByTime {
			if err := e.flushCheckpoint(ctx, state); err != nil {
				return result, err
			}
			sinceCheckpoint = 0
			lastCheckpointAt = e.now()
		}

		if !more {
			break
		}
		if err := ctx.Err(); err != nil {
			e.flushCheckpoint(ctx, state)
			return result, err
		}
	}

	if err := e.flushCheckpoint(ctx, state); err != nil {
		return result, err
	}
	return result, nil
}

// parseAndFilter maps raw posts to include/exclude decisions with up to
// concurrency workers, preserving input order (spec.md §4.4 step 3-4,
// §5 "ordered output").
func (e *Engine) parseAndFilter(ctx context.Context, batch []RawPost, compiled filter.Compiled, concurrency int) []decision {
	results := make([]decision, len(batch))
	if len(batch) == 0 {
		return results
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, raw := range batch {
		i, raw := i, raw
		g.Go(func() error {
			post, err := e.Parser.Parse(gctx, raw)
			if err != nil {
				results[i] = decision{err: bskyerr.NewSyncError(bskyerr.StageParse, "parsing raw post", err)}
				return nil
			}
			evalResult, err := e.Runtime.EvaluateWithMetadata(gctx, compiled, post)
			if err != nil {
				results[i] = decision{err: bskyerr.NewSyncError(bskyerr.StageFilter, "evaluating filter", err)}
				return nil
			}
			results[i] = decision{post: post, include: evalResult.Ok}
			return nil
		})
	}
	// Errors are carried per-item in results, not via the group; g.Wait only
	// surfaces context cancellation, which callers already check via ctx.Err.
	_ = g.Wait()
	return results
}

// commit applies policy to toCommit, returning counts of added and
// skipped-as-duplicate posts.
func (e *Engine) commit(ctx context.Context, policy Policy, toCommit []poststore.PostWithMeta) (added, skipped int, err error) {
	if len(toCommit) == 0 {
		return 0, 0, nil
	}
	switch policy {
	case PolicyRefresh:
		entries, err := e.Store.AppendUpserts(ctx, toCommit)
		if err != nil {
			return 0, 0, err
		}
		return len(entries), 0, nil
	case PolicyDedupe, "":
		entries, err := e.Store.AppendUpsertsIfMissing(ctx, toCommit)
		if err != nil {
			return 0, 0, err
		}
		for _, entry := range entries {
			if entry != nil {
				added++
			} else {
				skipped++
			}
		}
		return added, skipped, nil
	default:
		return 0, 0, fmt.Errorf("syncengine: unknown policy %q", policy)
	}
}

// runState tracks the in-memory position the engine advances as batches
// commit; it is flushed to the checkpoint table periodically, never ahead
// of committed events (spec.md §4.4 step 9).
type runState struct {
	sourceKey    string
	filterHash   string
	cursor       string
	lastEventSeq uint64
	processed    int
	added        int
	deleted      int
	skipped      int
	errs         int
	start        time.Time
}

func (e *Engine) flushCheckpoint(ctx context.Context, state *runState) error {
	cursor := state.cursor
	seq := state.lastEventSeq
	filterHash := state.filterHash
	cp := poststore.SyncCheckpoint{
		SourceKey:    state.sourceKey,
		SourceJSON:   "",
		Cursor:       &cursor,
		LastEventSeq: &seq,
		FilterHash:   &filterHash,
		UpdatedAt:    e.nowTimestamp(),
	}
	if err := e.Store.SaveCheckpoint(ctx, cp); err != nil {
		return bskyerr.NewStoreIoError("", "save_checkpoint", err)
	}
	return nil
}

func (e *Engine) runHeartbeat(ctx context.Context, interval time.Duration, state *runState) {
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
			e.Reporter.Report(ctx, SyncProgress{
				SourceKey: state.sourceKey,
				Processed: state.processed,
				Added:     state.added,
				Deleted:   state.deleted,
				Skipped:   state.skipped,
				Errors:    state.errs,
				Elapsed:   e.now().Sub(state.start),
			})
		}
	}
}

func (e *Engine) now() time.Time { return time.Now().UTC() }

func (e *Engine) nowTimestamp() model.Timestamp {
	ts, _ := model.NewTimestamp(e.now().Format(time.RFC3339))
	return ts
}

// pullBatch drains up to n items from stream, returning the items, the
// last page cursor observed (if any), and whether the stream has more.
func pullBatch(ctx context.Context, stream RawPostSource, n int) ([]RawPost, string, bool, error) {
	batch := make([]RawPost, 0, n)
	lastCursor := ""
	for len(batch) < n {
		post, ok, err := stream.Next(ctx)
		if err != nil {
			return batch, lastCursor, false, err
		}
		if !ok {
			return batch, lastCursor, false, nil
		}
		batch = append(batch, post)
		if post.PageCursor != "" {
			lastCursor = post.PageCursor
		}
	}
	return batch, lastCursor, true, nil
}

func sourceName(src DataSource) string {
	switch src.(type) {
	case Timeline:
		return "timeline"
	case Feed:
		return "feed"
	case List:
		return "list"
	case Notifications:
		return "notifications"
	case Author:
		return "author"
	case Thread:
		return "thread"
	case Jetstream:
		return "jetstream"
	default:
		return "unknown"
	}
}
