package racer

import "github.com/racersync/racer/loadcoord"

// Flags carry per-Handle emission behavior: Silent suppresses local event
// delivery to bystander listeners, Pass rides along on emitted events as
// Event.Passed, PreventCompose is stored on the handle only (it is not
// forwarded to the DocStore with submitted ops), and EventContext
// labels the emission so same-context listeners still hear it while
// Silent.
type Flags struct {
	Silent         bool
	Pass           any
	PreventCompose bool
	EventContext   string
}

// Handle is a user-facing scoped reference bound to an absolute path, a
// data-loading context and a set of emission flags. It holds no
// disposable resources: every Handle for one Model shares that Model's
// Tree and EventBus.
type Handle struct {
	model *Model
	path  Path
	ctx   string
	flags Flags
}

func (h Handle) absolutePath() Path { return h.path }

// Model returns the Model backing h.
func (h Handle) Model() *Model { return h.model }

// At returns a child handle whose path extends h's path with subpath,
// resolved through PathAlgebra.
func (h Handle) At(subpath ...any) Handle {
	p, err := canonicalize(h.path, subpath)
	if err != nil {
		panic(err)
	}
	h.path = p
	return h
}

// Scope returns a handle bound to an absolute path, ignoring h's current
// path.
func (h Handle) Scope(absolute ...any) Handle {
	p, err := canonicalize(nil, absolute)
	if err != nil {
		panic(err)
	}
	h.path = p
	return h
}

// Parent returns a handle levels segments up from h's path (default 1).
func (h Handle) Parent(levels ...int) Handle {
	n := 1
	if len(levels) > 0 {
		n = levels[0]
	}
	if n > len(h.path) {
		n = len(h.path)
	}
	h.path = h.path[:len(h.path)-n]
	return h
}

// Leaf returns h's final path segment, or nil at the root.
func (h Handle) Leaf() any {
	if len(h.path) == 0 {
		return nil
	}
	return h.path[len(h.path)-1]
}

// Path returns the canonical absolute path h.At(subpath...) would bind
// to, without constructing a Handle.
func (h Handle) Path(subpath ...any) Path {
	p, err := canonicalize(h.path, subpath)
	if err != nil {
		panic(err)
	}
	return p
}

// Context returns a sibling handle bound to the named data-loading
// context.
func (h Handle) Context(id string) Handle {
	h.ctx = id
	return h
}

// Silent returns a handle whose writes suppress local event delivery
// except to listeners sharing its EventContext.
func (h Handle) Silent() Handle {
	h.flags.Silent = true
	return h
}

// WithPass returns a handle whose emitted events carry v as Passed.
func (h Handle) WithPass(v any) Handle {
	h.flags.Pass = v
	return h
}

// WithEventContext returns a handle whose emissions are labeled ctx.
func (h Handle) WithEventContext(ctx string) Handle {
	h.flags.EventContext = ctx
	return h
}

// PreventCompose returns a handle with the PreventCompose flag set. The
// flag is not attached to submitted ops, so it does not change how the
// DocStore composes them.
func (h Handle) PreventCompose() Handle {
	h.flags.PreventCompose = true
	return h
}

// ID returns a freshly generated random identifier; see NewID.
func (h Handle) ID() string { return NewID() }

// --- reads ---

// Get returns the live value at h's path. Callers must not mutate it.
func (h Handle) Get() any { return h.model.tree.Lookup(h.path) }

// GetCopy returns a shallow copy of the value at h's path.
func (h Handle) GetCopy() any { return h.model.tree.GetCopy(h.path) }

// GetDeepCopy returns a full recursive copy of the value at h's path.
func (h Handle) GetDeepCopy() any { return h.model.tree.GetDeepCopy(h.path) }

// --- writes ---

func firstCB(cb []func(error)) func(error) {
	if len(cb) == 0 {
		return nil
	}
	return cb[0]
}

// Set writes value at h's path and returns the previous value.
func (h Handle) Set(value any, cb ...func(error)) any {
	return h.model.mutateSet(h, value, firstCB(cb))
}

// SetDiff writes value only if it is not StrictEqual to the current
// value, returning the previous value in either case.
func (h Handle) SetDiff(value any, cb ...func(error)) any {
	callback := firstCB(cb)
	current := h.model.tree.Lookup(h.path)
	if StrictEqual(current, value) {
		if callback != nil {
			callback(nil)
		}
		return current
	}
	return h.model.mutateSet(h, value, callback)
}

// SetDiffDeep writes value only if it is not DeepEqual to the current
// value, returning the previous value in either case.
func (h Handle) SetDiffDeep(value any, cb ...func(error)) any {
	callback := firstCB(cb)
	current := h.model.tree.Lookup(h.path)
	if DeepEqual(current, value) {
		if callback != nil {
			callback(nil)
		}
		return current
	}
	return h.model.mutateSet(h, value, callback)
}

// SetNull writes value only if the current value is null/missing,
// returning the previous value in either case.
func (h Handle) SetNull(value any, cb ...func(error)) any {
	callback := firstCB(cb)
	current := h.model.tree.Lookup(h.path)
	if !isNoValue(current) {
		if callback != nil {
			callback(nil)
		}
		return current
	}
	return h.model.mutateSet(h, value, callback)
}

// Del removes the value at h's path, returning the previous value; a
// no-op if already absent.
func (h Handle) Del(cb ...func(error)) any {
	return h.model.mutateDel(h, firstCB(cb))
}

// Add assigns an id to doc if it doesn't carry one, writes it to
// collection.<id> and returns the id.
func (h Handle) Add(collection string, doc any, cb ...func(error)) string {
	id := ""
	m, isMap := doc.(map[string]any)
	if isMap {
		if v, ok := m["id"].(string); ok && v != "" {
			id = v
		}
	}
	if id == "" {
		id = NewID()
		if isMap {
			nm := shallowCopyMap(m)
			nm["id"] = id
			doc = nm
		}
	}
	h.Scope(collection, id).Set(doc, cb...)
	return id
}

// Increment adds delta (default 1) to the number at h's path, treating
// an absent value as 0, and returns the new value.
func (h Handle) Increment(delta ...float64) float64 {
	d := 1.0
	if len(delta) > 0 {
		d = delta[0]
	}
	return h.model.mutateIncrement(h, d)
}

// Push appends value to the array at h's path, creating the array (and
// its ancestors) if absent, and returns the new length.
func (h Handle) Push(value any, cb ...func(error)) int {
	return h.model.mutateInsert(h, h.model.tree.Length(h.path), value, firstCB(cb))
}

// Insert inserts value at index in the array at h's path, and returns
// the new length.
func (h Handle) Insert(index int, value any, cb ...func(error)) int {
	return h.model.mutateInsert(h, index, value, firstCB(cb))
}

// Remove deletes count items (default 1) starting at index from the
// array at h's path, and returns the removed items.
func (h Handle) Remove(index int, count ...int) []any {
	n := 1
	if len(count) > 0 {
		n = count[0]
	}
	return h.model.mutateRemove(h, index, n)
}

// Move relocates the item at index from to index to within the array at
// h's path, and returns the moved value.
func (h Handle) Move(from, to int, cb ...func(error)) any {
	return h.model.mutateMove(h, from, to, firstCB(cb))
}

// --- loads ---

// Fetch resolves item (default: h itself) once. cb, if non-nil, is
// invoked after every item settles, with the first error encountered.
func (h Handle) Fetch(cb func(error), items ...any) { h.model.load(h, false, cb, items) }

// Subscribe resolves item (default: h itself) and keeps it live.
func (h Handle) Subscribe(cb func(error), items ...any) { h.model.load(h, true, cb, items) }

// Unfetch releases one fetch reference on item (default: h itself).
func (h Handle) Unfetch(items ...any) { h.model.unload(h, false, items) }

// Unsubscribe releases one subscribe reference on item (default: h
// itself).
func (h Handle) Unsubscribe(items ...any) { h.model.unload(h, true, items) }

// Unload releases every reference this handle's context holds and lets
// residency settle back to absent once refcounts allow.
func (h Handle) Unload() {
	drainCoordinator(h.model.contextOf(h.ctx).coord)
}

// UnloadAll releases every reference held by every context on h's Model.
func (h Handle) UnloadAll() {
	h.model.mu.Lock()
	ctxs := make([]*modelContext, 0, len(h.model.contexts))
	for _, c := range h.model.contexts {
		ctxs = append(ctxs, c)
	}
	h.model.mu.Unlock()
	for _, c := range ctxs {
		drainCoordinator(c.coord)
	}
}

// drainCoordinator releases every fetch and subscribe reference on every
// item coord tracks, one Unfetch/Unsubscribe call per reference: the same
// loop-by-count Unbundle uses to restore refcounts, run in reverse.
func drainCoordinator(coord *loadcoord.Coordinator) {
	for key, st := range coord.Snapshot() {
		for i := 0; i < st.Fetches; i++ {
			coord.Unfetch(key)
		}
		for i := 0; i < st.Subscribes; i++ {
			coord.Unsubscribe(key)
		}
	}
}
