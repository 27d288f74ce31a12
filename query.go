package racer

import (
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// QueryHandle is a client-side handle over a remote query's result set:
// a collection, an expression/options pair, and the live id list (plus
// backend-defined extra metadata) that fetch/subscribe populate.
type QueryHandle struct {
	model      *Model
	ctx        string
	collection string
	expression any
	options    any
	hash       string
}

// NewQuery builds a QueryHandle for expression/options over collection,
// computing its stable item key up front so repeated construction with
// equal arguments resolves to the same LoadCoordinator entry.
func NewQuery(m *Model, collection string, expression, options any) *QueryHandle {
	q := &QueryHandle{model: m, ctx: "default", collection: collection, expression: expression, options: options}
	q.hash = stableHash(expression, options)
	base := queryResultPath(collection, q.hash)
	m.tree.setAt(append(base.Clone(), "expression"), expression)
	m.tree.setAt(append(base.Clone(), "options"), options)
	return q
}

// Context returns a copy of q bound to the named data-loading context.
func (q *QueryHandle) Context(id string) *QueryHandle {
	q2 := *q
	q2.ctx = id
	return &q2
}

func (q *QueryHandle) itemKey() string { return queryItemKey(q.collection, q.hash) }

// GetIds returns the query's current matching document ids.
func (q *QueryHandle) GetIds() []string {
	raw := q.model.tree.Lookup(append(queryResultPath(q.collection, q.hash), "ids"))
	arr, _ := raw.([]any)
	ids := make([]string, 0, len(arr))
	for _, v := range arr {
		if s, ok := v.(string); ok {
			ids = append(ids, s)
		}
	}
	return ids
}

// GetExtra returns backend-defined metadata associated with the query's
// current result set.
func (q *QueryHandle) GetExtra() any {
	return q.model.tree.Lookup(append(queryResultPath(q.collection, q.hash), "extra"))
}

// Get returns the current materialized documents in the order GetIds
// returns their ids.
func (q *QueryHandle) Get() []any {
	ids := q.GetIds()
	docs := make([]any, len(ids))
	for i, id := range ids {
		docs[i] = q.model.tree.Lookup(Path{q.collection, id})
	}
	return docs
}

// Fetch resolves the query's result set once.
func (q *QueryHandle) Fetch(cb func(error)) {
	q.model.contextOf(q.ctx).coord.Fetch(q.itemKey(), cb)
}

// Subscribe keeps the query's result set live.
func (q *QueryHandle) Subscribe(cb func(error)) {
	q.model.contextOf(q.ctx).coord.Subscribe(q.itemKey(), cb)
}

// Unfetch releases one fetch reference on the query.
func (q *QueryHandle) Unfetch() { q.model.contextOf(q.ctx).coord.Unfetch(q.itemKey()) }

// Unsubscribe releases one subscribe reference on the query.
func (q *QueryHandle) Unsubscribe() { q.model.contextOf(q.ctx).coord.Unsubscribe(q.itemKey()) }

// stableHash computes a deterministic hash of {expression, options}:
// encoding/json sorts map keys on marshal, giving the canonical
// serialization the spec calls for, and xxhash compresses it to a fixed
// width so the item key never embeds variable-length JSON.
func stableHash(expression, options any) string {
	b, err := json.Marshal(map[string]any{"expression": expression, "options": options})
	if err != nil {
		b = []byte(fmt.Sprintf("%v|%v", expression, options))
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(b))
}
