package queryplan

import (
	"context"
	"fmt"

	"github.com/roach88/bsky-store/internal/bskyerr"
	"github.com/roach88/bsky-store/internal/filter"
	"github.com/roach88/bsky-store/internal/model"
	"github.com/roach88/bsky-store/internal/poststore"
)

// residualBatchSize is the in-memory evaluation chunk size for unpushed
// residual expressions, per spec.md §4.2 ("batches of 50").
const residualBatchSize = 50

// Execute runs q against store: pushable leaves become SQL, any residual is
// evaluated in memory via runtime. Results are ordered by created_at, uri
// (tie-broken by uri for determinism) in the direction q.Order requests.
func Execute(ctx context.Context, store *poststore.Store, runtime *filter.Runtime, q StoreQuery) (Result, error) {
	p := buildPlan(q)

	direction := "ASC"
	if q.Order == Desc {
		direction = "DESC"
	}

	sql := "SELECT uri, post_json FROM posts"
	if p.whereSQL != "" {
		sql += " WHERE " + p.whereSQL
	}
	sql += fmt.Sprintf(" ORDER BY posts.created_at %s, posts.uri COLLATE BINARY %s", direction, direction)
	if q.ScanLimit != nil {
		sql += " LIMIT ?"
		p.args = append(p.args, *q.ScanLimit)
	}

	rows, err := store.QueryRows(ctx, sql, p.args...)
	if err != nil {
		return Result{}, bskyerr.NewStoreIoError("", "query", err)
	}
	defer rows.Close()

	scanned := []model.Post{}
	for rows.Next() {
		var uri, postJSON string
		if err := rows.Scan(&uri, &postJSON); err != nil {
			return Result{}, bskyerr.NewStoreIoError("", "query", err)
		}
		post, err := poststore.DecodePostJSON(postJSON)
		if err != nil {
			return Result{}, bskyerr.NewStoreIoError(uri, "query", err)
		}
		scanned = append(scanned, post)
	}
	if err := rows.Err(); err != nil {
		return Result{}, bskyerr.NewStoreIoError("", "query", err)
	}

	if p.residual == nil {
		return Result{Posts: scanned, Stats: Stats{Scanned: len(scanned), Matched: len(scanned)}, Warnings: p.warnings}, nil
	}

	compiled, err := filter.Compile(p.residual)
	if err != nil {
		return Result{}, err
	}

	matched := make([]model.Post, 0, len(scanned))
	for start := 0; start < len(scanned); start += residualBatchSize {
		end := start + residualBatchSize
		if end > len(scanned) {
			end = len(scanned)
		}
		chunk := scanned[start:end]
		ok, err := runtime.EvaluateBatch(ctx, compiled, chunk)
		if err != nil {
			return Result{}, err
		}
		for i, post := range chunk {
			if ok[i] {
				matched = append(matched, post)
			}
		}
	}

	return Result{
		Posts:    matched,
		Stats:    Stats{Scanned: len(scanned), Matched: len(matched)},
		Warnings: p.warnings,
	}, nil
}
