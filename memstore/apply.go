package memstore

import (
	"fmt"

	"github.com/racersync/racer"
)

// applyOp applies a JSON0-shaped op to a decoded document, returning the
// resulting document. This mirrors the path walk in the core Tree's
// writeAt, except that maps are updated in place rather than copied
// along the spine; it is duplicated here because a DocStore has no access to
// the core's unexported tree internals — a real backend would apply the
// same op shape against its own storage encoding.
func applyOp(doc any, op racer.Op) (any, error) {
	switch op.Kind {
	case racer.OpSet:
		return writeAt(doc, op.Path, op.OI)
	case racer.OpDel:
		return deleteAt(doc, op.Path)
	case racer.OpNumAdd:
		cur := lookup(doc, op.Path)
		f, _ := cur.(float64)
		return writeAt(doc, op.Path, f+op.NA)
	case racer.OpListInsert:
		listPath, index, err := splitIndexed(op.Path)
		if err != nil {
			return nil, err
		}
		return insertAt(doc, listPath, index, op.LI)
	case racer.OpListRemove:
		listPath, index, err := splitIndexed(op.Path)
		if err != nil {
			return nil, err
		}
		return removeAt(doc, listPath, index)
	case racer.OpListMove:
		listPath, from, err := splitIndexed(op.Path)
		if err != nil {
			return nil, err
		}
		return moveAt(doc, listPath, from, op.LM)
	default:
		return nil, fmt.Errorf("memstore: unknown op kind %v", op.Kind)
	}
}

func splitIndexed(path racer.Path) (racer.Path, int, error) {
	if len(path) == 0 {
		return nil, 0, fmt.Errorf("memstore: op path missing list index")
	}
	idx, ok := path[len(path)-1].(int)
	if !ok {
		return nil, 0, fmt.Errorf("memstore: op path's last segment must be an int index")
	}
	return path[:len(path)-1], idx, nil
}

func lookup(cur any, path racer.Path) any {
	for _, seg := range path {
		switch c := cur.(type) {
		case map[string]any:
			s, ok := seg.(string)
			if !ok {
				return nil
			}
			cur = c[s]
		case []any:
			i, ok := seg.(int)
			if !ok || i < 0 || i >= len(c) {
				return nil
			}
			cur = c[i]
		default:
			return nil
		}
	}
	return cur
}

func writeAt(cur any, path racer.Path, value any) (any, error) {
	if len(path) == 0 {
		return value, nil
	}
	switch seg := path[0].(type) {
	case string:
		m, ok := asMap(cur)
		if !ok {
			return nil, fmt.Errorf("memstore: write through a scalar intermediate at %v", path)
		}
		child, err := writeAt(m[seg], path[1:], value)
		if err != nil {
			return nil, err
		}
		m[seg] = child
		return m, nil
	case int:
		arr, ok := asSlice(cur, seg+1)
		if !ok {
			return nil, fmt.Errorf("memstore: write through a scalar intermediate at %v", path)
		}
		child, err := writeAt(arr[seg], path[1:], value)
		if err != nil {
			return nil, err
		}
		arr[seg] = child
		return arr, nil
	default:
		return nil, fmt.Errorf("memstore: invalid path segment %v (%T)", seg, seg)
	}
}

func deleteAt(cur any, path racer.Path) (any, error) {
	if len(path) == 0 {
		return nil, nil
	}
	if len(path) == 1 {
		switch c := cur.(type) {
		case map[string]any:
			if s, ok := path[0].(string); ok {
				delete(c, s)
			}
			return c, nil
		case []any:
			if i, ok := path[0].(int); ok && i >= 0 && i < len(c) {
				c[i] = nil
			}
			return c, nil
		}
		return cur, nil
	}
	switch seg := path[0].(type) {
	case string:
		m, ok := asMap(cur)
		if !ok {
			return cur, nil
		}
		child, err := deleteAt(m[seg], path[1:])
		if err != nil {
			return nil, err
		}
		m[seg] = child
		return m, nil
	case int:
		arr, ok := cur.([]any)
		if !ok || seg < 0 || seg >= len(arr) {
			return cur, nil
		}
		child, err := deleteAt(arr[seg], path[1:])
		if err != nil {
			return nil, err
		}
		arr[seg] = child
		return arr, nil
	}
	return cur, nil
}

func insertAt(cur any, listPath racer.Path, index int, value any) (any, error) {
	if len(listPath) == 0 {
		arr, _ := cur.([]any)
		return spliceInsert(arr, index, value), nil
	}
	m, ok := asMap(cur)
	if !ok {
		return nil, fmt.Errorf("memstore: list-insert through a scalar intermediate")
	}
	key := listPath[0].(string)
	child, err := insertAt(m[key], listPath[1:], index, value)
	if err != nil {
		return nil, err
	}
	m[key] = child
	return m, nil
}

func removeAt(cur any, listPath racer.Path, index int) (any, error) {
	if len(listPath) == 0 {
		arr, _ := cur.([]any)
		if index < 0 || index >= len(arr) {
			return arr, nil
		}
		return append(arr[:index:index], arr[index+1:]...), nil
	}
	m, ok := asMap(cur)
	if !ok {
		return nil, fmt.Errorf("memstore: list-remove through a scalar intermediate")
	}
	key := listPath[0].(string)
	child, err := removeAt(m[key], listPath[1:], index)
	if err != nil {
		return nil, err
	}
	m[key] = child
	return m, nil
}

func moveAt(cur any, listPath racer.Path, from, to int) (any, error) {
	if len(listPath) == 0 {
		arr, _ := cur.([]any)
		if from < 0 || from >= len(arr) || to < 0 || to >= len(arr) {
			return arr, nil
		}
		v := arr[from]
		arr = append(arr[:from:from], arr[from+1:]...)
		return spliceInsert(arr, to, v), nil
	}
	m, ok := asMap(cur)
	if !ok {
		return nil, fmt.Errorf("memstore: list-move through a scalar intermediate")
	}
	key := listPath[0].(string)
	child, err := moveAt(m[key], listPath[1:], from, to)
	if err != nil {
		return nil, err
	}
	m[key] = child
	return m, nil
}

func spliceInsert(arr []any, index int, value any) []any {
	if index < 0 {
		index = 0
	}
	if index > len(arr) {
		index = len(arr)
	}
	out := make([]any, 0, len(arr)+1)
	out = append(out, arr[:index]...)
	out = append(out, value)
	out = append(out, arr[index:]...)
	return out
}

func asMap(v any) (map[string]any, bool) {
	if v == nil {
		return map[string]any{}, true
	}
	m, ok := v.(map[string]any)
	return m, ok
}

func asSlice(v any, minLen int) ([]any, bool) {
	switch c := v.(type) {
	case nil:
		return make([]any, minLen), true
	case []any:
		if minLen <= len(c) {
			return append([]any(nil), c...), true
		}
		return nil, false
	default:
		return nil, false
	}
}
