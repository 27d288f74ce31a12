package racer

import "sync"

// Tree is the copy-on-write in-memory value store underlying a Model:
// collection name -> document id -> document, with the rest of a path
// indexing into the document's own JSON shape. Local-only state (paths
// whose first two segments are not both strings) lives in the same
// structure; Mutator decides whether a path also addresses a document
// worth forwarding to the DocStore, see docAddress in path.go.
//
// Every write replaces the containers along the path spine with fresh
// copies rather than mutating in place, so a live reference returned by
// Lookup before a write is never retroactively changed by that write.
//
// The design this implements assumes one logical, single-threaded event
// loop (see SPEC_FULL.md's Concurrency & Resource Model). A Go DocStore's
// fetch/subscribe callbacks arrive on arbitrary goroutines, so Tree
// serializes access with a mutex rather than relying on true
// single-threadedness. EventBus and Model guard their own state with
// separate mutexes.
type Tree struct {
	mu   sync.Mutex
	root map[string]any
}

func newTree() *Tree {
	return &Tree{root: map[string]any{}}
}

// replaceRoot atomically swaps the entire tree contents, used by
// SnapshotCodec.Unbundle to restore a bundle in one step.
func (t *Tree) replaceRoot(root map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.root = root
}

// Lookup returns the live value at path, or nil if absent. The caller
// must not mutate the result.
func (t *Tree) Lookup(path Path) any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lookupLocked(path)
}

func (t *Tree) lookupLocked(path Path) any {
	var cur any = t.root
	for _, seg := range path {
		cur = childOf(cur, seg)
		if cur == nil {
			return nil
		}
	}
	return cur
}

func childOf(cur any, seg any) any {
	switch c := cur.(type) {
	case map[string]any:
		s, ok := seg.(string)
		if !ok {
			return nil
		}
		return c[s]
	case []any:
		i, ok := seg.(int)
		if !ok || i < 0 || i >= len(c) {
			return nil
		}
		return c[i]
	default:
		return nil
	}
}

// GetCopy returns a shallow copy of the value at path.
func (t *Tree) GetCopy(path Path) any {
	return shallowCopy(t.Lookup(path))
}

// GetDeepCopy returns a full recursive copy of the value at path.
func (t *Tree) GetDeepCopy(path Path) any {
	return deepCopy(t.Lookup(path))
}

// Snapshot returns a deep copy of the entire tree, keyed by top-level
// collection/local-state name.
func (t *Tree) Snapshot() map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return deepCopy(t.root).(map[string]any)
}

// Length returns the length of the array at path, or 0 if absent or not
// an array.
func (t *Tree) Length(path Path) int {
	if a, ok := t.Lookup(path).([]any); ok {
		return len(a)
	}
	return 0
}

// setAt writes value at path, creating intermediate mappings for missing
// string segments and intermediate arrays for missing integer segments.
// It returns the previous value at path.
func (t *Tree) setAt(path Path, value any) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.setAtLocked(path, value)
}

func (t *Tree) setAtLocked(path Path, value any) (any, error) {
	if len(path) == 0 {
		return nil, &PathError{Kind: InvalidPath, Msg: "cannot set the tree root"}
	}
	key, ok := path[0].(string)
	if !ok {
		return nil, &PathError{Kind: InvalidPath, Path: path, Msg: "top-level segment must be a string"}
	}
	nm := shallowCopyMap(t.root)
	child := nm[key]
	if len(path) == 1 {
		nm[key] = value
		t.root = nm
		return child, nil
	}
	newChild, previous, err := writeAt(child, path[1:], value)
	if err != nil {
		return nil, err
	}
	nm[key] = newChild
	t.root = nm
	return previous, nil
}

func writeAt(current any, segs Path, value any) (any, any, error) {
	if len(segs) == 0 {
		return value, current, nil
	}
	switch seg := segs[0].(type) {
	case string:
		var nm map[string]any
		switch c := current.(type) {
		case nil:
			nm = map[string]any{}
		case map[string]any:
			nm = shallowCopyMap(c)
		default:
			return nil, nil, &MutationError{Kind: PathTypeMismatch, Path: segs, Msg: "write through a scalar intermediate"}
		}
		newChild, previous, err := writeAt(nm[seg], segs[1:], value)
		if err != nil {
			return nil, nil, err
		}
		nm[seg] = newChild
		return nm, previous, nil
	case int:
		var arr []any
		switch c := current.(type) {
		case nil:
			arr = make([]any, seg+1)
		case []any:
			if seg >= len(c) {
				return nil, nil, &MutationError{Kind: NotAnArray, Path: segs, Msg: "index out of range for setAt (use push/insert to extend)"}
			}
			arr = append([]any(nil), c...)
		default:
			return nil, nil, &MutationError{Kind: PathTypeMismatch, Path: segs, Msg: "write through a scalar intermediate"}
		}
		newChild, previous, err := writeAt(arr[seg], segs[1:], value)
		if err != nil {
			return nil, nil, err
		}
		arr[seg] = newChild
		return arr, previous, nil
	default:
		return nil, nil, &PathError{Kind: InvalidPath, Path: segs}
	}
}

// delAt removes the value at path, returning the previous value. It is a
// no-op (returns nil) if path was already absent.
func (t *Tree) delAt(path Path) any {
	t.mu.Lock()
	defer t.mu.Unlock()
	previous := t.lookupLocked(path)
	if previous == nil || len(path) == 0 {
		return previous
	}
	key := path[0].(string)
	nm := shallowCopyMap(t.root)
	if len(path) == 1 {
		delete(nm, key)
	} else {
		nm[key] = deleteIn(nm[key], path[1:])
	}
	t.root = nm
	return previous
}

// deleteIn returns a copy of container with segs removed. segs is
// guaranteed by delAt's caller to already resolve to a present value.
func deleteIn(container any, segs Path) any {
	if len(segs) == 1 {
		switch c := container.(type) {
		case map[string]any:
			nm := shallowCopyMap(c)
			delete(nm, segs[0].(string))
			return nm
		case []any:
			arr := append([]any(nil), c...)
			arr[segs[0].(int)] = nil
			return arr
		}
	}
	switch c := container.(type) {
	case map[string]any:
		key := segs[0].(string)
		nm := shallowCopyMap(c)
		nm[key] = deleteIn(nm[key], segs[1:])
		return nm
	case []any:
		idx := segs[0].(int)
		arr := append([]any(nil), c...)
		arr[idx] = deleteIn(arr[idx], segs[1:])
		return arr
	}
	return container
}

// spliceAt replaces items[index:index+howMany] at the array found at path
// with items, creating the array (and its ancestors) if path was absent.
// It returns the removed items and the resulting array length.
func (t *Tree) spliceAt(path Path, index, howMany int, items []any) ([]any, int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := t.lookupLocked(path)
	var arr []any
	switch c := cur.(type) {
	case nil:
		arr = nil
	case []any:
		arr = c
	default:
		return nil, 0, &MutationError{Kind: NotAnArray, Path: path, Msg: "splice target is not an array"}
	}
	n := len(arr)
	if index < 0 || index > n {
		return nil, 0, &PathError{Kind: InvalidPath, Path: path, Msg: "splice index out of range"}
	}
	if howMany < 0 {
		howMany = 0
	}
	end := index + howMany
	if end > n {
		end = n
	}
	removed := append([]any(nil), arr[index:end]...)
	newArr := make([]any, 0, n-(end-index)+len(items))
	newArr = append(newArr, arr[:index]...)
	newArr = append(newArr, items...)
	newArr = append(newArr, arr[end:]...)
	if _, err := t.setAtLocked(path, newArr); err != nil {
		return nil, 0, err
	}
	return removed, len(newArr), nil
}

// incrementAt adds delta to the number at path (treating an absent value
// as 0) and returns the new value.
func (t *Tree) incrementAt(path Path, delta float64) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := t.lookupLocked(path)
	var old float64
	switch v := cur.(type) {
	case nil:
		old = 0
	case float64:
		old = v
	case int:
		old = float64(v)
	default:
		return 0, &MutationError{Kind: NotANumber, Path: path, Value: cur}
	}
	newVal := old + delta
	if _, err := t.setAtLocked(path, newVal); err != nil {
		return 0, err
	}
	return newVal, nil
}
