// Package queryplan implements the query planner (C7): it decomposes a
// StoreQuery's filter into SQL-pushable leaves and an in-memory residual,
// compiles the pushable part to parameterized SQL mirroring the teacher's
// querysql.SQLCompiler discipline (mandatory ORDER BY, never-interpolated
// parameters), and evaluates the residual with the filter runtime.
package queryplan

import (
	"github.com/roach88/bsky-store/internal/filter"
	"github.com/roach88/bsky-store/internal/model"
)

// Order is the sort direction for a StoreQuery's results.
type Order string

const (
	Asc  Order = "asc"
	Desc Order = "desc"
)

// DateRange bounds a query to posts created within [Start, End], inclusive.
type DateRange struct {
	Start model.Timestamp
	End   model.Timestamp
}

// StoreQuery is the input to Execute: an optional date range, an optional
// filter expression, an optional scan limit, and a sort order.
type StoreQuery struct {
	Range     *DateRange
	Filter    filter.Expr
	ScanLimit *int
	Order     Order
}

// Stats reports how many posts the plan scanned and how many matched the
// residual (in-memory) filter, so callers can warn when a scanLimit clipped
// results before the residual filter had a chance to evaluate everything.
type Stats struct {
	Scanned int
	Matched int
}

// Result is the output of Execute.
type Result struct {
	Posts    []model.Post
	Stats    Stats
	Warnings []string
}
