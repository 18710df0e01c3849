package validation

import (
	"encoding/json"
	"strings"

	"github.com/klauselwerk/core/pkg/content"
)

// evalCondition interprets a data-only answer condition against the answer
// snapshot. A missing answer, a type mismatch or a failed comparison all
// count as unmet; the interpreter is closed over the six operators and
// never executes content-supplied code.
func evalCondition(c *content.Condition, answers map[string]any) bool {
	if c == nil {
		return true
	}
	answer, ok := answers[c.QuestionID]
	if !ok {
		return false
	}

	switch c.Operator {
	case content.OpEquals:
		return looseEqual(answer, c.Value)
	case content.OpNotEquals:
		return !looseEqual(answer, c.Value)
	case content.OpGreaterThan:
		a, okA := toFloat(answer)
		b, okB := toFloat(c.Value)
		return okA && okB && a > b
	case content.OpLessThan:
		a, okA := toFloat(answer)
		b, okB := toFloat(c.Value)
		return okA && okB && a < b
	case content.OpContains:
		return contains(answer, c.Value)
	case content.OpIn:
		list, ok := toSlice(c.Value)
		if !ok {
			return false
		}
		for _, item := range list {
			if looseEqual(answer, item) {
				return true
			}
		}
		return false
	}
	return false
}

// looseEqual compares across the representations an answer value can take
// after a JSON round-trip: numbers compare numerically, everything else by
// exact value.
func looseEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	}
	return 0, false
}

func toSlice(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

// contains handles the two answer shapes the operator is defined for:
// substring match on strings, membership on multi-select answers.
func contains(answer, needle any) bool {
	switch t := answer.(type) {
	case string:
		n, ok := needle.(string)
		return ok && strings.Contains(t, n)
	default:
		list, ok := toSlice(answer)
		if !ok {
			return false
		}
		for _, item := range list {
			if looseEqual(item, needle) {
				return true
			}
		}
		return false
	}
}
