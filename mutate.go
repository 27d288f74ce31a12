package racer

import (
	"context"
	"fmt"
	"sync"
)

// commit performs the shared tail of the Mutator pipeline: forward to the
// DocStore if path addresses inside a document (step 5), emit the event
// (step 6), and invoke the completion callback once the DocStore
// acknowledges, or immediately for local-only paths (step 7).
func (m *Model) commit(h Handle, kind EventKind, path Path, value, previous any, op *Op, cb func(error)) {
	collection, id, _, isDoc := docAddress(path)
	if isDoc && op != nil {
		// a subscribed doc's own SubmitOp gets echoed straight back to us
		// through the same DocStore subscription (docstore.go's onOp
		// contract says so explicitly); mark one echo as expected so
		// applyRemoteOp can drop it instead of double-applying our own
		// write.
		key := docItemKey(collection, id)
		m.addPendingEcho(key)
		m.pending.inc()
		m.SubmitCount.Add(1)
		m.store.SubmitOp(context.Background(), collection, id, *op, func(err error) {
			m.pending.dec()
			if err != nil {
				// a rejected op is never echoed back, so nothing will
				// consume the pending marker on its own.
				m.releasePendingEcho(key)
				be := &BackendError{Op: op.Kind.String(), Path: path, Err: err}
				if cb != nil {
					cb(be)
				} else {
					m.raiseAsync(be)
				}
				return
			}
			if cb != nil {
				cb(nil)
			}
		})
	}

	m.bus.Emit(Event{Kind: kind, Path: path, Value: value, Previous: previous, Passed: h.flags.Pass}, h.flags.EventContext, h.flags.Silent)

	if m.verbose {
		m.logf("racer: %s %s => %v", kind, path, value)
	}

	if !(isDoc && op != nil) && cb != nil {
		cb(nil)
	}
}

func (m *Model) mutateSet(h Handle, value any, cb func(error)) any {
	previous, err := m.tree.setAt(h.path, value)
	if err != nil {
		if cb != nil {
			cb(err)
		} else {
			m.raiseAsync(err)
		}
		return nil
	}
	op := newSetOp(nil, previous, value)
	m.forwardAndEmit(h, EventChange, value, previous, &op, cb)
	return previous
}

func (m *Model) mutateDel(h Handle, cb func(error)) any {
	previous := m.tree.delAt(h.path)
	if previous == nil {
		if cb != nil {
			cb(nil)
		}
		return nil
	}
	op := newDelOp(nil, previous)
	m.forwardAndEmit(h, EventChange, nil, previous, &op, cb)
	return previous
}

func (m *Model) mutateIncrement(h Handle, delta float64) float64 {
	newVal, err := m.tree.incrementAt(h.path, delta)
	if err != nil {
		m.raiseAsync(err)
		return 0
	}
	op := newIncrementOp(nil, delta)
	m.forwardAndEmit(h, EventChange, newVal, newVal-delta, &op, nil)
	return newVal
}

func (m *Model) mutateInsert(h Handle, index int, value any, cb func(error)) int {
	_, newLen, err := m.tree.spliceAt(h.path, index, 0, []any{value})
	if err != nil {
		if cb != nil {
			cb(err)
		} else {
			m.raiseAsync(err)
		}
		return 0
	}
	op := newListInsertOp(nil, index, value)
	m.forwardAndEmit(h, EventInsert, value, nil, &op, cb)
	return newLen
}

func (m *Model) mutateRemove(h Handle, index, count int) []any {
	removed, _, err := m.tree.spliceAt(h.path, index, count, nil)
	if err != nil {
		m.raiseAsync(err)
		return nil
	}
	if len(removed) == 0 {
		return removed
	}
	// one ld op per removed item, all at the same index: after the first
	// removal the next victim has already shifted into that position.
	var wg sync.WaitGroup
	var firstErr error
	var mu sync.Mutex
	wg.Add(len(removed))
	for _, item := range removed {
		op := newListRemoveOp(nil, index, item)
		m.forwardAndEmit(h, EventRemove, nil, item, &op, func(err error) {
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
			wg.Done()
		})
	}
	go func() {
		wg.Wait()
		if firstErr != nil {
			m.raiseAsync(firstErr)
		}
	}()
	return removed
}

func (m *Model) mutateMove(h Handle, from, to int, cb func(error)) any {
	removed, _, err := m.tree.spliceAt(h.path, from, 1, nil)
	if err != nil {
		if cb != nil {
			cb(err)
		} else {
			m.raiseAsync(err)
		}
		return nil
	}
	if len(removed) == 0 {
		if cb != nil {
			cb(nil)
		}
		return nil
	}
	if _, _, err := m.tree.spliceAt(h.path, to, 0, removed); err != nil {
		if cb != nil {
			cb(err)
		} else {
			m.raiseAsync(err)
		}
		return nil
	}
	value := removed[0]
	op := newMoveOp(nil, from, to)
	m.forwardAndEmit(h, EventMove, value, nil, &op, cb)
	return value
}

// forwardAndEmit resolves op's sub-document path relative to h before
// delegating to commit; the mutateX helpers above build op.Path relative
// to h.path (nil for a plain value write, a trailing list index for
// insert/remove/move), so the doc-relative prefix is prepended rather
// than substituted in, or a list op would arrive at the DocStore missing
// its index.
func (m *Model) forwardAndEmit(h Handle, kind EventKind, value, previous any, op *Op, cb func(error)) {
	_, _, sub, isDoc := docAddress(h.path)
	if isDoc {
		op.Path = append(sub.Clone(), op.Path...)
	}
	m.commit(h, kind, h.path, value, previous, op, cb)
}

// --- loads ---

func (m *Model) load(h Handle, subscribe bool, cb func(error), items []any) {
	keys, err := resolveItemKeys(h, items)
	if err != nil {
		if cb != nil {
			cb(err)
		} else {
			m.raiseAsync(err)
		}
		return
	}
	if len(keys) == 0 {
		if cb != nil {
			cb(nil)
		}
		return
	}

	coord := m.contextOf(h.ctx).coord
	var wg sync.WaitGroup
	var firstErr error
	var mu sync.Mutex
	wg.Add(len(keys))
	for _, k := range keys {
		done := func(err error) {
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
			wg.Done()
		}
		if subscribe {
			coord.Subscribe(k, done)
		} else {
			coord.Fetch(k, done)
		}
	}
	if cb != nil {
		go func() {
			wg.Wait()
			cb(firstErr)
		}()
	}
}

func (m *Model) unload(h Handle, subscribe bool, items []any) {
	keys, err := resolveItemKeys(h, items)
	if err != nil {
		m.raiseAsync(err)
		return
	}
	coord := m.contextOf(h.ctx).coord
	for _, k := range keys {
		if subscribe {
			coord.Unsubscribe(k)
		} else {
			coord.Unfetch(k)
		}
	}
}

func resolveItemKeys(h Handle, items []any) ([]string, error) {
	if len(items) == 0 {
		items = []any{h}
	}
	keys := make([]string, 0, len(items))
	for _, it := range items {
		k, err := itemKeyOf(it)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func itemKeyOf(v any) (string, error) {
	switch x := v.(type) {
	case Handle:
		col, id, _, ok := docAddress(x.path)
		if !ok {
			return "", &PathError{Kind: InvalidPath, Path: x.path, Msg: "handle does not address a document"}
		}
		return docItemKey(col, id), nil
	case Path:
		col, id, _, ok := docAddress(x)
		if !ok {
			return "", &PathError{Kind: InvalidPath, Path: x, Msg: "path does not address a document"}
		}
		return docItemKey(col, id), nil
	case *QueryHandle:
		return queryItemKey(x.collection, x.hash), nil
	default:
		return "", &PathError{Kind: InvalidPath, Msg: fmt.Sprintf("unsupported load item type %T", v)}
	}
}
