package racer

import "github.com/vmihailenco/msgpack/v5"

// Bundle is the wire/disk shape SnapshotCodec produces: everything needed
// to restore a Model's tree, contexts' refcounts and every tracked
// query's expression/options across a process boundary. Refs, RefLists,
// Fns and Filters are always written as empty maps and Unbundle does not
// read them: this pass implements tree,
// context and query state but not general-purpose derived views (see
// SPEC_FULL.md's Non-goals).
type Bundle struct {
	Collections map[string]map[string]any `msgpack:"collections"`
	Contexts    map[string]ContextBundle  `msgpack:"contexts"`
	Queries     map[string]QueryBundle    `msgpack:"queries"`
	Refs        map[string]any            `msgpack:"refs"`
	RefLists    map[string]any            `msgpack:"refLists"`
	Fns         map[string]any            `msgpack:"fns"`
	Filters     map[string]any            `msgpack:"filters"`
}

// ContextBundle is one Context's fetch/subscribe refcounts, keyed by item
// key.
type ContextBundle struct {
	Fetches    map[string]int `msgpack:"fetches"`
	Subscribes map[string]int `msgpack:"subscribes"`
}

// QueryBundle is enough to reconstruct a QueryHandle: its collection and
// the expression/options its stable hash was computed from.
type QueryBundle struct {
	Collection string `msgpack:"collection"`
	Expression any    `msgpack:"expression"`
	Options    any    `msgpack:"options"`
}

// Bundle serializes m's tree, every context's refcounts and every
// tracked query's expression/options into an opaque msgpack-encoded byte
// slice.
func (m *Model) Bundle() ([]byte, error) {
	b := Bundle{
		Collections: map[string]map[string]any{},
		Contexts:    map[string]ContextBundle{},
		Queries:     map[string]QueryBundle{},
		Refs:        map[string]any{},
		RefLists:    map[string]any{},
		Fns:         map[string]any{},
		Filters:     map[string]any{},
	}

	snap := m.tree.Snapshot()
	for name, coll := range snap {
		if name == queriesStateKey {
			continue
		}
		cm, ok := coll.(map[string]any)
		if !ok {
			continue
		}
		b.Collections[name] = cm
	}
	if queries, ok := snap[queriesStateKey].(map[string]any); ok {
		for key, raw := range queries {
			qm, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			col, hash, ok := splitQueryStateKey(key)
			if !ok {
				continue
			}
			b.Queries[queryItemKey(col, hash)] = QueryBundle{
				Collection: col,
				Expression: qm["expression"],
				Options:    qm["options"],
			}
		}
	}

	m.mu.Lock()
	for id, c := range m.contexts {
		cb := ContextBundle{Fetches: map[string]int{}, Subscribes: map[string]int{}}
		for key, st := range c.coord.Snapshot() {
			if st.Fetches > 0 {
				cb.Fetches[key] = st.Fetches
			}
			if st.Subscribes > 0 {
				cb.Subscribes[key] = st.Subscribes
			}
		}
		b.Contexts[id] = cb
	}
	m.mu.Unlock()

	return msgpack.Marshal(&b)
}

// Unbundle atomically replaces m's tree with data's contents, then
// re-issues fetches/subscribes to match every context's recorded
// refcounts.
func (m *Model) Unbundle(data []byte) error {
	var b Bundle
	if err := msgpack.Unmarshal(data, &b); err != nil {
		return &CorruptBundleError{Msg: "malformed msgpack", Err: err}
	}
	if b.Collections == nil {
		return &CorruptBundleError{Msg: "bundle missing collections"}
	}

	root := make(map[string]any, len(b.Collections)+1)
	for name, coll := range b.Collections {
		root[name] = coll
	}
	if len(b.Queries) > 0 {
		queries := make(map[string]any, len(b.Queries))
		for _, qb := range b.Queries {
			hash := stableHash(qb.Expression, qb.Options)
			queries[qb.Collection+":"+hash] = map[string]any{
				"expression": qb.Expression,
				"options":    qb.Options,
			}
		}
		root[queriesStateKey] = queries
	}
	m.tree.replaceRoot(root)

	for ctxID, cb := range b.Contexts {
		coord := m.contextOf(ctxID).coord
		for key, n := range cb.Fetches {
			for i := 0; i < n; i++ {
				coord.Fetch(key, nil)
			}
		}
		for key, n := range cb.Subscribes {
			for i := 0; i < n; i++ {
				coord.Subscribe(key, nil)
			}
		}
	}
	return nil
}

func splitQueryStateKey(key string) (collection, hash string, ok bool) {
	const hashLen = 16
	if len(key) < hashLen+2 {
		return "", "", false
	}
	hash = key[len(key)-hashLen:]
	if key[len(key)-hashLen-1] != ':' {
		return "", "", false
	}
	return key[:len(key)-hashLen-1], hash, true
}
