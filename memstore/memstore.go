// Package memstore is a reference, in-process implementation of
// racer.DocStore: an OT-shaped document backend good enough to exercise
// and test a Model against, not a production data store.
//
// It is grounded on the teacher's storage_mem.go: one mutex guarding a
// map of named collections, transactional isolation traded for
// simplicity, and copy-on-write snapshots handed out to callers rather
// than mutated in place.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/racersync/racer"
	"github.com/racersync/racer/oplog"
)

// Matcher is the reference backend's query language: a predicate over a
// decoded document, passed as a QueryHandle's expression. Options is
// unused by this backend and accepted only to satisfy the interface.
type Matcher func(doc map[string]any) bool

// Store is a reference racer.DocStore. The zero value is not usable;
// construct with New.
type Store struct {
	mu   sync.Mutex
	docs map[string]map[string]any // collection -> id -> document

	docSubs   map[string][]*docSub
	querySubs map[string][]*querySub

	log    *oplog.Log
	logf   func(format string, args ...any)
	nextID int
}

// Options configures a Store, mirroring the teacher's Logf/Verbose
// no-op-by-default logging convention.
type Options struct {
	Logf func(format string, args ...any)

	// OplogPath, if set, durably records every accepted op so a
	// restarted Store recovers by replaying it over the same seed data
	// it was constructed with.
	OplogPath string
}

// record is the payload appended to the oplog for one accepted op.
type record struct {
	Collection string    `msgpack:"collection"`
	ID         string    `msgpack:"id"`
	Op         racer.Op  `msgpack:"op"`
}

// New constructs a Store seeded with the given collections. seed is
// copied; the Store owns its own data from then on.
func New(seed map[string]map[string]any, opt Options) (*Store, error) {
	logf := opt.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}
	s := &Store{
		docs:      cloneSeed(seed),
		docSubs:   map[string][]*docSub{},
		querySubs: map[string][]*querySub{},
		logf:      logf,
	}
	if opt.OplogPath != "" {
		l, err := oplog.Open(opt.OplogPath, nil)
		if err != nil {
			return nil, fmt.Errorf("memstore: opening oplog: %w", err)
		}
		s.log = l
		if err := l.Replay(func(payload []byte) error {
			var rec record
			if err := msgpack.Unmarshal(payload, &rec); err != nil {
				return fmt.Errorf("memstore: replaying oplog record: %w", err)
			}
			_, err := s.applyLocked(rec.Collection, rec.ID, rec.Op)
			return err
		}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Close releases the oplog file, if one is open.
func (s *Store) Close() error {
	if s.log == nil {
		return nil
	}
	return s.log.Close()
}

func cloneSeed(seed map[string]map[string]any) map[string]map[string]any {
	docs := make(map[string]map[string]any, len(seed))
	for col, byID := range seed {
		cm := make(map[string]any, len(byID))
		for id, doc := range byID {
			cm[id] = deepCopy(doc)
		}
		docs[col] = cm
	}
	return docs
}

// FetchDoc implements racer.DocStore.
func (s *Store) FetchDoc(_ context.Context, collection, id string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deepCopy(s.docs[collection][id]), nil
}

type docSub struct {
	collection, id string
	onOp           func(racer.Op)
}

func (d *docSub) Unsubscribe() {}

// SubscribeDoc implements racer.DocStore. The returned Subscription's
// Unsubscribe removes onOp from further delivery.
func (s *Store) SubscribeDoc(_ context.Context, collection, id string, onOp func(racer.Op)) (racer.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := docKey(collection, id)
	sub := &docSub{collection: collection, id: id, onOp: onOp}
	s.docSubs[key] = append(s.docSubs[key], sub)
	return unsubscribeFunc(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.docSubs[key] = removeDocSub(s.docSubs[key], sub)
	}), nil
}

// SubmitOp implements racer.DocStore. The op is applied and acknowledged
// synchronously; a real backend would round-trip to a server first, but
// nothing here depends on the ordering being asynchronous.
func (s *Store) SubmitOp(_ context.Context, collection, id string, op racer.Op, callback func(error)) {
	s.mu.Lock()
	_, err := s.applyLocked(collection, id, op)
	if err == nil && s.log != nil {
		payload, mErr := msgpack.Marshal(&record{Collection: collection, ID: id, Op: op})
		if mErr != nil {
			err = fmt.Errorf("memstore: encoding oplog record: %w", mErr)
		} else if aErr := s.log.Append(payload); aErr != nil {
			err = fmt.Errorf("memstore: appending oplog record: %w", aErr)
		}
	}
	var subs []*docSub
	var qSubs map[string][]*querySub
	if err == nil {
		subs = append([]*docSub(nil), s.docSubs[docKey(collection, id)]...)
		qSubs = s.snapshotQuerySubsLocked(collection)
	}
	s.mu.Unlock()

	if callback != nil {
		callback(err)
	}
	if err != nil {
		return
	}
	for _, sub := range subs {
		sub.onOp(op)
	}
	s.notifyQueries(collection, qSubs)
}

func (s *Store) applyLocked(collection, id string, op racer.Op) (map[string]any, error) {
	byID, ok := s.docs[collection]
	if !ok {
		byID = map[string]any{}
		s.docs[collection] = byID
	}
	doc, err := applyOp(byID[id], op)
	if err != nil {
		return nil, err
	}
	dm, _ := doc.(map[string]any)
	byID[id] = doc
	s.logf("memstore: applied %s to %s.%s", op.Kind, collection, id)
	return dm, nil
}

// FetchQuery implements racer.DocStore. options is ignored; expression
// must be a Matcher (nil matches every document).
func (s *Store) FetchQuery(_ context.Context, collection string, expression, _ any) ([]string, any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matchLocked(collection, expression), nil, nil
}

type querySub struct {
	collection string
	expression any
	onResults  func(ids []string, extra any)
	lastIDs    []string
}

func (q *querySub) Unsubscribe() {}

// SubscribeQuery implements racer.DocStore.
func (s *Store) SubscribeQuery(_ context.Context, collection string, expression, _ any, onResults func(ids []string, extra any)) (racer.Subscription, error) {
	s.mu.Lock()
	ids := s.matchLocked(collection, expression)
	sub := &querySub{collection: collection, expression: expression, onResults: onResults, lastIDs: ids}
	s.querySubs[collection] = append(s.querySubs[collection], sub)
	s.mu.Unlock()

	onResults(ids, nil)
	return unsubscribeFunc(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.querySubs[collection] = removeQuerySub(s.querySubs[collection], sub)
	}), nil
}

func (s *Store) matchLocked(collection string, expression any) []string {
	matcher, _ := expression.(Matcher)
	var ids []string
	for id, doc := range s.docs[collection] {
		dm, ok := doc.(map[string]any)
		if !ok {
			continue
		}
		if matcher == nil || matcher(dm) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (s *Store) snapshotQuerySubsLocked(collection string) map[string][]*querySub {
	if len(s.querySubs[collection]) == 0 {
		return nil
	}
	return map[string][]*querySub{collection: append([]*querySub(nil), s.querySubs[collection]...)}
}

func (s *Store) notifyQueries(collection string, byCollection map[string][]*querySub) {
	for _, sub := range byCollection[collection] {
		s.mu.Lock()
		ids := s.matchLocked(collection, sub.expression)
		changed := !sameIDs(ids, sub.lastIDs)
		if changed {
			sub.lastIDs = ids
		}
		s.mu.Unlock()
		if changed {
			sub.onResults(ids, nil)
		}
	}
}

func sameIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func docKey(collection, id string) string { return collection + "\x00" + id }

func removeDocSub(subs []*docSub, target *docSub) []*docSub {
	out := subs[:0]
	for _, s := range subs {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

func removeQuerySub(subs []*querySub, target *querySub) []*querySub {
	out := subs[:0]
	for _, s := range subs {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

type unsubscribeFunc func()

func (f unsubscribeFunc) Unsubscribe() { f() }

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
