package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/klauselwerk/core/pkg/content"
)

func cond(q string, op content.Operator, value any) *content.Condition {
	return &content.Condition{QuestionID: q, Operator: op, Value: value}
}

func TestEvalConditionOperators(t *testing.T) {
	answers := map[string]any{
		"count":    15,
		"country":  "DE",
		"services": []any{"consulting", "development"},
	}

	tests := []struct {
		name string
		c    *content.Condition
		want bool
	}{
		{"nil condition always holds", nil, true},
		{"equals match", cond("country", content.OpEquals, "DE"), true},
		{"equals mismatch", cond("country", content.OpEquals, "AT"), false},
		{"not_equals", cond("country", content.OpNotEquals, "AT"), true},
		{"greater_than", cond("count", content.OpGreaterThan, 10), true},
		{"greater_than boundary", cond("count", content.OpGreaterThan, 15), false},
		{"less_than", cond("count", content.OpLessThan, 20), true},
		{"contains on slice", cond("services", content.OpContains, "consulting"), true},
		{"contains miss", cond("services", content.OpContains, "hosting"), false},
		{"contains substring", cond("country", content.OpContains, "D"), true},
		{"in", cond("country", content.OpIn, []any{"DE", "AT"}), true},
		{"in miss", cond("country", content.OpIn, []any{"CH"}), false},
		{"missing answer fails", cond("missing", content.OpEquals, "x"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, evalCondition(tt.c, answers))
		})
	}
}

// JSON round-trips turn ints into float64; numeric comparison must not
// care about the concrete type.
func TestEvalConditionCoercesNumericTypes(t *testing.T) {
	answers := map[string]any{"count": float64(15)}
	assert.True(t, evalCondition(cond("count", content.OpEquals, 15), answers))
	assert.True(t, evalCondition(cond("count", content.OpGreaterThan, int64(10)), answers))
	assert.False(t, evalCondition(cond("count", content.OpLessThan, 10), answers))
}
