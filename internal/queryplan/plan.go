package queryplan

import (
	"fmt"
	"strings"

	"github.com/roach88/bsky-store/internal/filter"
)

// plan is the compiled result of decomposing a StoreQuery: a parameterized
// SQL WHERE fragment for the pushed leaves, plus whatever residual
// expression the filter runtime must still evaluate in memory.
type plan struct {
	whereSQL string
	args     []any
	residual filter.Expr
	warnings []string
}

// buildPlan decomposes q.Filter into a conjunction of pushable leaves and a
// residual, per spec.md §4.2. The top-level And is flattened so each direct
// conjunct is classified independently; non-And expressions are treated as
// a single conjunct.
func buildPlan(q StoreQuery) plan {
	conjuncts := flattenAnd(q.Filter)

	var whereParts []string
	var args []any
	var residualParts []filter.Expr
	var warnings []string

	if q.Range != nil {
		whereParts = append(whereParts, "posts.created_at BETWEEN ? AND ?")
		args = append(args, q.Range.Start.String(), q.Range.End.String())
	}

	for _, c := range conjuncts {
		sql, leafArgs, ok := pushLeaf(c)
		if ok {
			whereParts = append(whereParts, sql)
			args = append(args, leafArgs...)
			continue
		}
		residualParts = append(residualParts, c)
		if w := warnFor(c); w != "" {
			warnings = append(warnings, w)
		}
	}

	p := plan{args: args, warnings: warnings}
	if len(whereParts) > 0 {
		p.whereSQL = strings.Join(whereParts, " AND ")
	}
	p.residual = combineResidual(residualParts)
	return p
}

// flattenAnd decomposes expr into its top-level conjuncts: an And's
// children (recursively flattened), a bare non-And leaf as a singleton, or
// nothing for a nil expression or All (which constrains nothing).
func flattenAnd(expr filter.Expr) []filter.Expr {
	if expr == nil {
		return nil
	}
	switch e := expr.(type) {
	case filter.All:
		return nil
	case filter.And:
		var out []filter.Expr
		for _, child := range e.Exprs {
			out = append(out, flattenAnd(child)...)
		}
		return out
	default:
		return []filter.Expr{expr}
	}
}

// combineResidual rebuilds a single expression from the residual conjuncts,
// or nil if there are none.
func combineResidual(parts []filter.Expr) filter.Expr {
	switch len(parts) {
	case 0:
		return nil
	case 1:
		return parts[0]
	default:
		return filter.And{Exprs: parts}
	}
}

// pushLeaf returns the SQL fragment and arguments for a pushable leaf, or
// ok=false if the leaf cannot be pushed down. Pushable leaves per
// spec.md §4.2: Author, AuthorIn, Hashtag, HashtagIn, DateRange, and
// case-sensitive ASCII Contains on text.
func pushLeaf(e filter.Expr) (sql string, args []any, ok bool) {
	switch v := e.(type) {
	case filter.Author:
		return "posts.author = ?", []any{string(v.Handle)}, true

	case filter.AuthorIn:
		if len(v.Handles) == 0 {
			return "0 = 1", nil, true
		}
		placeholders := make([]string, len(v.Handles))
		args = make([]any, len(v.Handles))
		for i, h := range v.Handles {
			placeholders[i] = "?"
			args[i] = string(h)
		}
		return fmt.Sprintf("posts.author IN (%s)", strings.Join(placeholders, ", ")), args, true

	case filter.Hashtag:
		return "EXISTS (SELECT 1 FROM post_hashtag pht WHERE pht.uri = posts.uri AND pht.tag = ?)",
			[]any{string(v.Tag)}, true

	case filter.HashtagIn:
		if len(v.Tags) == 0 {
			return "0 = 1", nil, true
		}
		placeholders := make([]string, len(v.Tags))
		args = make([]any, len(v.Tags))
		for i, t := range v.Tags {
			placeholders[i] = "?"
			args[i] = string(t)
		}
		return fmt.Sprintf("EXISTS (SELECT 1 FROM post_hashtag pht WHERE pht.uri = posts.uri AND pht.tag IN (%s))",
			strings.Join(placeholders, ", ")), args, true

	case filter.DateRange:
		return "posts.created_at BETWEEN ? AND ?", []any{v.Start.String(), v.End.String()}, true

	case filter.Contains:
		if !v.CaseSensitive || !isASCII(v.Text) {
			return "", nil, false
		}
		return "instr(json_extract(posts.post_json, '$.text'), ?) > 0", []any{v.Text}, true

	default:
		return "", nil, false
	}
}

func warnFor(e filter.Expr) string {
	if c, ok := e.(filter.Contains); ok && !(c.CaseSensitive && isASCII(c.Text)) {
		return "Contains is case-insensitive or non-ASCII and was not pushed down; evaluated in-memory"
	}
	return ""
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return false
		}
	}
	return true
}
