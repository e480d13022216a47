// Package derive implements the derivation engine (C9): it projects one
// store's event log into a second store through a filter, propagating
// deletes for posts that fall out of the filter on re-evaluation. Grounded
// on internal/store/replay.go's seq-ordered log replay and resume-from-seq
// pattern, and on internal/engine/cycle.go's mutex-guarded "have we seen
// this before" membership tracking, adapted here into a target-index
// membership lookup instead of an in-memory map.
package derive

import (
	"context"
	"time"

	"github.com/roach88/bsky-store/internal/bskyerr"
	"github.com/roach88/bsky-store/internal/catalog"
	"github.com/roach88/bsky-store/internal/filter"
	"github.com/roach88/bsky-store/internal/model"
	"github.com/roach88/bsky-store/internal/poststore"
)

// EvaluationMode governs which filter leaves a derivation run may use.
type EvaluationMode string

const (
	// EventTime forbids effectful oracle leaves (HasValidLinks, Trending):
	// the view must be reproducible from the log alone, independent of
	// network state at derive time.
	EventTime EvaluationMode = "EventTime"
	// DeriveTime allows any filter, oracle leaves included.
	DeriveTime EvaluationMode = "DeriveTime"
)

// Request is one derivation run of sourceStore's log through filter into
// targetStore, recorded under viewName in the catalog.
type Request struct {
	ViewName    model.StoreName
	SourceStore model.StoreName
	TargetStore model.StoreName
	Filter      filter.Expr
	Mode        EvaluationMode
	BatchSize   int // events read per ListEventsAfter page; defaults to 500
}

// Result is the structured outcome of a derivation run (spec.md §4.5 /
// §7's DerivationResult).
type Result struct {
	EventsProcessed   int
	EventsMatched     int
	EventsSkipped     int
	DeletesPropagated int
	DurationMs        int64
}

// Engine runs derivation requests against a catalog (for checkpoints) and
// the source/target stores it is handed.
type Engine struct {
	Catalog *catalog.Catalog
	Runtime *filter.Runtime
}

// NewEngine constructs an Engine.
func NewEngine(cat *catalog.Catalog, runtime *filter.Runtime) *Engine {
	return &Engine{Catalog: cat, Runtime: runtime}
}

// Run projects req.SourceStore's log through req.Filter into
// req.TargetStore, resuming from the view's checkpoint when its filterHash
// and mode still match, and replaying from scratch into a clean target
// otherwise (spec.md §4.5's algorithm).
func (e *Engine) Run(ctx context.Context, req Request, source, target *poststore.Store) (Result, error) {
	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}

	if req.Mode == EventTime && filter.Effectful(req.Filter) {
		return Result{}, bskyerr.NewFilterCompileError(string(req.ViewName), "EventTime views cannot use oracle-effectful filter leaves")
	}

	filterHash, err := filter.Signature(req.Filter)
	if err != nil {
		return Result{}, bskyerr.NewFilterCompileError(string(req.ViewName), err.Error())
	}
	compiled, err := filter.Compile(req.Filter)
	if err != nil {
		return Result{}, bskyerr.NewFilterCompileError(string(req.ViewName), err.Error())
	}

	start := time.Now().UTC()
	nowTs, _ := model.NewTimestamp(start.Format(time.RFC3339))
	meta := poststore.EventMeta{
		Source:         "derivation",
		Command:        "derive " + string(req.ViewName),
		FilterExprHash: filterHash,
		CreatedAt:      nowTs,
	}

	checkpoint, err := e.Catalog.GetDerivationCheckpoint(ctx, req.ViewName)
	if err != nil {
		return Result{}, err
	}

	// counters covers this run only and is what Run returns; base carries the
	// checkpoint's totals from earlier runs so the saved checkpoint stays
	// cumulative.
	var afterSeq uint64
	var base, counters Result
	resuming := checkpoint != nil && checkpoint.FilterHash == filterHash && string(checkpoint.EvaluationMode) == string(req.Mode)
	if resuming && checkpoint.LastSourceEventSeq != nil {
		afterSeq = *checkpoint.LastSourceEventSeq
		base = Result{
			EventsProcessed:   int(checkpoint.EventsProcessed),
			EventsMatched:     int(checkpoint.EventsMatched),
			EventsSkipped:     int(checkpoint.EventsSkipped),
			DeletesPropagated: int(checkpoint.DeletesPropagated),
		}
	} else {
		// Filter or mode changed (or this is the first run): replay from
		// scratch into a clean target, per spec.md §4.5.
		if err := target.Clear(ctx); err != nil {
			return Result{}, bskyerr.NewStoreIoError(string(req.TargetStore), "clear_target", err)
		}
		afterSeq = 0
		counters = Result{}
	}

	for {
		entries, err := source.ListEventsAfter(ctx, afterSeq, batchSize)
		if err != nil {
			return toResult(counters, start), bskyerr.NewStoreIoError(string(req.SourceStore), "list_events_after", err)
		}
		if len(entries) == 0 {
			break
		}

		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				e.flush(ctx, req, filterHash, afterSeq, base, counters)
				return toResult(counters, start), err
			}

			switch entry.Kind {
			case poststore.KindUpsert:
				counters.EventsProcessed++
				if entry.Post == nil {
					counters.EventsSkipped++
					break
				}
				ok, err := e.Runtime.Evaluate(ctx, compiled, *entry.Post)
				if err != nil {
					return toResult(counters, start), bskyerr.NewFilterEvalError(string(entry.URI), "evaluating filter", err)
				}
				if ok {
					if _, err := target.AppendUpsertIfMissing(ctx, *entry.Post, meta); err != nil {
						return toResult(counters, start), bskyerr.NewStoreIoError(string(entry.URI), "append_upsert_if_missing", err)
					}
					counters.EventsMatched++
				} else {
					existing, err := target.GetPost(ctx, entry.URI)
					if err != nil {
						return toResult(counters, start), bskyerr.NewStoreIoError(string(entry.URI), "get_post", err)
					}
					if existing != nil {
						if _, err := target.AppendDelete(ctx, entry.URI, meta); err != nil {
							return toResult(counters, start), bskyerr.NewStoreIoError(string(entry.URI), "append_delete", err)
						}
						counters.DeletesPropagated++
					} else {
						counters.EventsSkipped++
					}
				}
			case poststore.KindDelete:
				counters.EventsProcessed++
				if _, err := target.AppendDelete(ctx, entry.URI, meta); err != nil {
					return toResult(counters, start), bskyerr.NewStoreIoError(string(entry.URI), "append_delete", err)
				}
				counters.DeletesPropagated++
			}

			afterSeq = uint64(entry.Seq)
		}

		if err := e.flush(ctx, req, filterHash, afterSeq, base, counters); err != nil {
			return toResult(counters, start), err
		}
	}

	if err := e.flush(ctx, req, filterHash, afterSeq, base, counters); err != nil {
		return toResult(counters, start), err
	}
	return toResult(counters, start), nil
}

// IsStale reports whether req's view needs re-derivation against source's
// current log position.
func (e *Engine) IsStale(ctx context.Context, viewName model.StoreName, source *poststore.Store) (bool, error) {
	checkpoint, err := e.Catalog.GetDerivationCheckpoint(ctx, viewName)
	if err != nil {
		return false, err
	}
	maxSeq, err := source.MaxEventSeq(ctx)
	if err != nil {
		return false, err
	}
	return checkpoint.IsStale(maxSeq), nil
}

func (e *Engine) flush(ctx context.Context, req Request, filterHash string, afterSeq uint64, base, counters Result) error {
	seq := afterSeq
	now, _ := model.NewTimestamp(time.Now().UTC().Format(time.RFC3339))
	cp := catalog.DerivationCheckpoint{
		ViewName:           req.ViewName,
		SourceStore:        req.SourceStore,
		TargetStore:        req.TargetStore,
		FilterHash:         filterHash,
		EvaluationMode:     string(req.Mode),
		LastSourceEventSeq: &seq,
		EventsProcessed:    uint64(base.EventsProcessed + counters.EventsProcessed),
		EventsMatched:      uint64(base.EventsMatched + counters.EventsMatched),
		EventsSkipped:      uint64(base.EventsSkipped + counters.EventsSkipped),
		DeletesPropagated:  uint64(base.DeletesPropagated + counters.DeletesPropagated),
		UpdatedAt:          now,
	}
	return e.Catalog.SaveDerivationCheckpoint(ctx, cp)
}

func toResult(counters Result, start time.Time) Result {
	counters.DurationMs = time.Since(start).Milliseconds()
	return counters
}
