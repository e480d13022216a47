package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEffectful(t *testing.T) {
	tests := []struct {
		name string
		expr Expr
		want bool
	}{
		{"all is not effectful", All{}, false},
		{"bare trending is effectful", Trending{OnError: Exclude()}, true},
		{"bare hasvalidlinks is effectful", HasValidLinks{OnError: Include()}, true},
		{
			name: "and with effectful child",
			expr: And{Exprs: []Expr{Author{}, Trending{OnError: Exclude()}}},
			want: true,
		},
		{
			name: "or with effectful child",
			expr: Or{Exprs: []Expr{HasValidLinks{OnError: Exclude()}, Author{}}},
			want: true,
		},
		{
			name: "and with no effectful children",
			expr: And{Exprs: []Expr{Author{}, IsReply{}}},
			want: false,
		},
		{
			name: "not wrapping effectful child",
			expr: Not{Expr: Trending{OnError: Exclude()}},
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Effectful(tt.expr))
		})
	}
}
