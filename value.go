package racer

import (
	"reflect"
	"time"
)

// StrictEqual mirrors the source model's strict-equality predicate: NaN
// equals NaN, primitives compare by value, and containers compare by
// reference identity rather than structurally, except that any two empty
// arrays compare equal.
func StrictEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case float64:
		bv, ok := toFloat(b)
		if !ok {
			return false
		}
		if av != av && bv != bv {
			return true
		}
		return av == bv
	case int:
		return StrictEqual(float64(av), b)
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	case map[string]any:
		bv, ok := b.(map[string]any)
		return ok && sameMap(av, bv)
	case []any:
		bv, ok := b.([]any)
		return ok && sameSlice(av, bv)
	default:
		return a == b
	}
}

// DeepEqual is the recursive structural-equality predicate: arrays
// compare element-wise, mappings compare by identical key sets with
// deep-equal values, Dates compare by time value.
func DeepEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case float64, int:
		af, _ := toFloat(av)
		bf, ok := toFloat(b)
		if !ok {
			return false
		}
		if af != af && bf != bf {
			return true
		}
		return af == bf
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bvv, present := bv[k]
			if !present || !DeepEqual(v, bvv) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !DeepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func sameMap(a, b map[string]any) bool {
	// map values compare by reference identity: two distinct maps are
	// never strictly equal, even with identical contents.
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

func sameSlice(a, b []any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

// isNoValue implements setNull's "no value" predicate: null and missing
// are distinct at the Tree level but equivalent here.
func isNoValue(v any) bool {
	return v == nil
}

// shallowCopy returns a new container with the same immediate children by
// reference; primitives are returned as-is; time.Time values are value
// types in Go and are copied automatically on return.
func shallowCopy(v any) any {
	switch c := v.(type) {
	case map[string]any:
		return shallowCopyMap(c)
	case []any:
		return append([]any(nil), c...)
	default:
		return v
	}
}

func shallowCopyMap(m map[string]any) map[string]any {
	nm := make(map[string]any, len(m))
	for k, v := range m {
		nm[k] = v
	}
	return nm
}

// deepCopy returns a full recursive structural copy of v.
func deepCopy(v any) any {
	switch c := v.(type) {
	case map[string]any:
		nm := make(map[string]any, len(c))
		for k, cv := range c {
			nm[k] = deepCopy(cv)
		}
		return nm
	case []any:
		na := make([]any, len(c))
		for i, cv := range c {
			na[i] = deepCopy(cv)
		}
		return na
	default:
		return v
	}
}
