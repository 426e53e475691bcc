package store

import (
	"fmt"
	"math"
	"strings"
)

// Matches reports whether doc satisfies every equality constraint in params.
// A key may be a dotted path; arrays on the way match when any element does.
func Matches(doc map[string]any, params map[string]any) bool {
	for k, want := range params {
		if !matchPath(map[string]any(doc), strings.Split(k, "."), want) {
			return false
		}
	}
	return true
}

func matchPath(v any, path []string, want any) bool {
	if arr, ok := v.([]any); ok {
		for _, el := range arr {
			if matchPath(el, path, want) {
				return true
			}
		}
		return false
	}
	if len(path) == 0 {
		return Equal(v, want)
	}
	m, ok := asMap(v)
	if !ok {
		return false
	}
	next, ok := m[path[0]]
	if !ok {
		return false
	}
	return matchPath(next, path[1:], want)
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Document:
		return m, true
	}
	return nil, false
}

// Equal compares two scalar values. Numbers compare by value, and a string
// compares equal to a scalar whose printed form matches, so query-string
// values match stored booleans and numbers.
func Equal(left, right any) bool {
	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if lok && rok {
		return math.Abs(lf-rf) < 1e-9
	}
	if lb, ok := left.(bool); ok {
		if rb, ok := right.(bool); ok {
			return lb == rb
		}
	}
	if !isScalar(left) || !isScalar(right) {
		return false
	}
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	return fmt.Sprint(left) == fmt.Sprint(right)
}

func isScalar(v any) bool {
	switch v.(type) {
	case []any, map[string]any, Document:
		return false
	}
	return true
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// Truthy mirrors loose truthiness: nil, false, zero, "" and empty
// collections are false.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	if f, ok := toFloat64(v); ok {
		return f != 0
	}
	return true
}
