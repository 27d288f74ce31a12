package racer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/racersync/racer/loadcoord"
)

// Options configures a Model. Logf defaults to a no-op, mirroring the
// teacher's edb.Options: a Model stays silent unless the caller opts in.
type Options struct {
	Logf      func(format string, args ...any)
	Verbose   bool
	IsTesting bool

	FetchOnly   bool
	UnloadDelay time.Duration
	ErrorSink   func(err error)
}

// Model owns the Tree, the EventBus, the DocStore connection and every
// named Context's load-reference-counting state. A Handle chain is
// always ultimately backed by exactly one Model.
type Model struct {
	store DocStore
	tree  *Tree
	bus   *EventBus

	logf        func(string, ...any)
	verbose     bool
	fetchOnly   bool
	unloadDelay time.Duration
	errorSink   func(error)

	mu       sync.Mutex
	contexts map[string]*modelContext

	echoMu        sync.Mutex
	pendingEchoes map[string]int

	pending pendingTracker

	FetchCount     atomic.Uint64
	SubscribeCount atomic.Uint64
	SubmitCount    atomic.Uint64
}

type modelContext struct {
	id     string
	coord  *loadcoord.Coordinator
	loader *modelLoader
}

// New constructs a Model backed by store.
func New(store DocStore, opt Options) *Model {
	logf := opt.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}
	unloadDelay := opt.UnloadDelay
	if opt.IsTesting {
		unloadDelay = 0
	}
	m := &Model{
		store:       store,
		tree:        newTree(),
		logf:        logf,
		verbose:     opt.Verbose,
		fetchOnly:   opt.FetchOnly,
		unloadDelay: unloadDelay,
		errorSink:   opt.ErrorSink,
		contexts:    map[string]*modelContext{},
	}
	m.bus = newEventBus(m.raiseAsync)
	return m
}

func (m *Model) raiseAsync(err error) {
	if m.errorSink != nil {
		m.errorSink(err)
		return
	}
	panic(err)
}

// Root returns a Handle bound to the tree root under the "default"
// context.
func (m *Model) Root() Handle {
	return Handle{model: m, ctx: "default"}
}

func (m *Model) contextOf(id string) *modelContext {
	if id == "" {
		id = "default"
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contexts[id]
	if !ok {
		c = &modelContext{id: id}
		c.loader = &modelLoader{model: m, ctxID: id}
		c.coord = loadcoord.New(c.loader, m.fetchOnly, m.unloadDelay)
		m.contexts[id] = c
	}
	return c
}

// WhenNothingPending invokes cb once every load issued on ctx before this
// call has settled. It always fires, even if nothing was pending.
func (m *Model) WhenNothingPending(ctx string, cb func()) {
	m.contextOf(ctx).coord.WhenNothingPending(cb)
}

// WhenNothingPendingAll invokes cb once every load on every context and
// every outstanding mutation submit has settled.
func (m *Model) WhenNothingPendingAll(cb func()) {
	m.mu.Lock()
	ctxs := make([]*modelContext, 0, len(m.contexts))
	for _, c := range m.contexts {
		ctxs = append(ctxs, c)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(len(ctxs) + 1)
	for _, c := range ctxs {
		c.coord.WhenNothingPending(wg.Done)
	}
	m.pending.whenNothingPending(wg.Done)
	go func() {
		wg.Wait()
		cb()
	}()
}

// DescribeOpenLoads renders a diagnostic report of every context with
// outstanding load state, in the style of the teacher's
// DescribeOpenTxns.
func (m *Model) DescribeOpenLoads() string {
	m.mu.Lock()
	ctxs := make(map[string]*modelContext, len(m.contexts))
	for k, v := range m.contexts {
		ctxs[k] = v
	}
	m.mu.Unlock()

	var b strings.Builder
	hasOpen := false
	for id, c := range ctxs {
		snap := c.coord.Snapshot()
		if len(snap) == 0 {
			continue
		}
		hasOpen = true
		fmt.Fprintf(&b, "context %q:\n", id)
		for key, st := range snap {
			fmt.Fprintf(&b, "  %s: %s (fetches=%d subscribes=%d)\n", key, st.State, st.Fetches, st.Subscribes)
		}
	}
	if !hasOpen {
		return "racer: no open loads"
	}
	return b.String()
}

// pendingTracker counts outstanding submitOp acks so WhenNothingPendingAll
// can wait on them alongside load-coordinator settlement.
type pendingTracker struct {
	mu      sync.Mutex
	n       int
	waiters []func()
}

func (p *pendingTracker) inc() {
	p.mu.Lock()
	p.n++
	p.mu.Unlock()
}

func (p *pendingTracker) dec() {
	p.mu.Lock()
	p.n--
	var fire []func()
	if p.n <= 0 {
		p.n = 0
		fire = p.waiters
		p.waiters = nil
	}
	p.mu.Unlock()
	for _, f := range fire {
		go f()
	}
}

func (p *pendingTracker) whenNothingPending(cb func()) {
	p.mu.Lock()
	if p.n <= 0 {
		p.mu.Unlock()
		go cb()
		return
	}
	p.waiters = append(p.waiters, cb)
	p.mu.Unlock()
}

func docItemKey(collection, id string) string { return "doc:" + collection + "." + id }

func parseDocKey(key string) (collection, id string, ok bool) {
	if !strings.HasPrefix(key, "doc:") {
		return "", "", false
	}
	rest := key[len("doc:"):]
	i := strings.IndexByte(rest, '.')
	if i < 0 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

func queryItemKey(collection, hash string) string { return "query:" + collection + ":" + hash }

func parseQueryKey(key string) (collection, hash string, ok bool) {
	if !strings.HasPrefix(key, "query:") {
		return "", "", false
	}
	rest := key[len("query:"):]
	i := strings.IndexByte(rest, ':')
	if i < 0 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

// queriesStateKey is the reserved top-level tree key query state is
// staged under, outside any real collection.
const queriesStateKey = "$queries"

// queryResultPath is where a query's live id list and extra metadata are
// staged in the Tree.
func queryResultPath(collection, hash string) Path {
	return Path{queriesStateKey, collection + ":" + hash}
}

// modelLoader adapts loadcoord.Loader to a Model's DocStore, keyed by the
// "doc:<collection>.<id>" / "query:<collection>:<hash>" item keys.
type modelLoader struct {
	model *Model
	ctxID string

	mu   sync.Mutex
	subs map[string]Subscription
}

func (l *modelLoader) Start(key string, subscribe bool, done func(error)) func() {
	if col, id, ok := parseDocKey(key); ok {
		return l.startDoc(col, id, subscribe, done)
	}
	if col, hash, ok := parseQueryKey(key); ok {
		return l.startQuery(col, hash, subscribe, done)
	}
	done(&PathError{Kind: InvalidPath, Msg: "malformed item key " + key})
	return nil
}

func (l *modelLoader) Stop(key string) {
	l.mu.Lock()
	sub, ok := l.subs[key]
	if ok {
		delete(l.subs, key)
	}
	l.mu.Unlock()
	if ok {
		sub.Unsubscribe()
	}
	m := l.model
	if col, id, ok := parseDocKey(key); ok {
		m.bus.Emit(Event{Kind: EventUnload, Path: Path{col, id}}, "", false)
		return
	}
	if col, hash, ok := parseQueryKey(key); ok {
		m.bus.Emit(Event{Kind: EventUnload, Path: queryResultPath(col, hash)}, "", false)
	}
}

func (l *modelLoader) storeSub(key string, sub Subscription) {
	l.mu.Lock()
	if l.subs == nil {
		l.subs = map[string]Subscription{}
	}
	l.subs[key] = sub
	l.mu.Unlock()
}

func (l *modelLoader) startDoc(collection, id string, subscribe bool, done func(error)) func() {
	m := l.model
	ctx, cancel := context.WithCancel(context.Background())

	if subscribe {
		m.SubscribeCount.Add(1)
		sub, err := m.store.SubscribeDoc(ctx, collection, id, func(op Op) {
			m.applyRemoteOp(collection, id, op)
		})
		if err != nil {
			cancel()
			done(err)
			return nil
		}
		l.storeSub(docItemKey(collection, id), sub)
	} else {
		m.FetchCount.Add(1)
	}

	go func() {
		value, err := m.store.FetchDoc(ctx, collection, id)
		if err == nil {
			m.tree.setAt(Path{collection, id}, value)
			m.bus.Emit(Event{Kind: EventLoad, Path: Path{collection, id}, Value: value}, "", false)
			if m.verbose {
				m.logf("racer: LOAD %s.%s (ctx=%s)", collection, id, l.ctxID)
			}
		}
		done(err)
	}()
	return cancel
}

func (l *modelLoader) startQuery(collection, hash string, subscribe bool, done func(error)) func() {
	m := l.model
	ctx, cancel := context.WithCancel(context.Background())
	resultPath := queryResultPath(collection, hash)
	expr := m.tree.Lookup(append(resultPath.Clone(), "expression"))
	opts := m.tree.Lookup(append(resultPath.Clone(), "options"))

	apply := func(ids []string, extra any) {
		anyIDs := make([]any, len(ids))
		for i, id := range ids {
			anyIDs[i] = id
		}
		m.tree.setAt(append(resultPath.Clone(), "ids"), anyIDs)
		m.tree.setAt(append(resultPath.Clone(), "extra"), extra)
		m.bus.Emit(Event{Kind: EventLoad, Path: resultPath, Value: anyIDs}, "", false)
	}

	if subscribe {
		m.SubscribeCount.Add(1)
		sub, err := m.store.SubscribeQuery(ctx, collection, expr, opts, apply)
		if err != nil {
			cancel()
			done(err)
			return nil
		}
		l.storeSub(queryItemKey(collection, hash), sub)
	} else {
		m.FetchCount.Add(1)
	}

	go func() {
		ids, extra, err := m.store.FetchQuery(ctx, collection, expr, opts)
		if err == nil {
			apply(ids, extra)
		}
		done(err)
	}()
	return cancel
}

// addPendingEcho records that one op submitted for key is expected to be
// echoed back through the doc's own subscription.
func (m *Model) addPendingEcho(key string) {
	m.echoMu.Lock()
	if m.pendingEchoes == nil {
		m.pendingEchoes = map[string]int{}
	}
	m.pendingEchoes[key]++
	m.echoMu.Unlock()
}

// releasePendingEcho cancels one pending echo for key, for an op that was
// rejected and so will never be echoed back.
func (m *Model) releasePendingEcho(key string) {
	m.echoMu.Lock()
	m.decrementPendingEchoLocked(key)
	m.echoMu.Unlock()
}

// consumePendingEcho reports whether an incoming remote op for key is the
// echo of a mutation this Model itself just submitted, consuming one
// pending marker if so.
func (m *Model) consumePendingEcho(key string) bool {
	m.echoMu.Lock()
	defer m.echoMu.Unlock()
	if m.pendingEchoes[key] <= 0 {
		return false
	}
	m.decrementPendingEchoLocked(key)
	return true
}

func (m *Model) decrementPendingEchoLocked(key string) {
	n := m.pendingEchoes[key]
	if n <= 1 {
		delete(m.pendingEchoes, key)
		return
	}
	m.pendingEchoes[key] = n - 1
}

// applyRemoteOp applies a JSON0 op received from the DocStore for
// collection.id and fans out the corresponding event. Ops this Model
// itself just submitted are echoed straight back through the same
// subscription (see DocStore.SubscribeDoc); those are dropped here since
// they were already applied locally by the mutator that submitted them.
// The in-memory tree is applied unconditionally for any other op: a
// failure here indicates the backend and local tree have diverged and is
// reported through the error sink.
func (m *Model) applyRemoteOp(collection, id string, op Op) {
	if m.consumePendingEcho(docItemKey(collection, id)) {
		return
	}
	base := append(Path{collection, id}, op.Path...)
	var (
		value, previous any
		kind            = EventChange
		full            Path
		err             error
	)
	switch op.Kind {
	case OpSet:
		previous, err = m.tree.setAt(base, op.OI)
		value = op.OI
		full = base
	case OpDel:
		previous = m.tree.delAt(base)
		full = base
	case OpListInsert:
		idx := base[len(base)-1].(int)
		arrPath := base[:len(base)-1]
		_, _, err = m.tree.spliceAt(arrPath, idx, 0, []any{op.LI})
		value = op.LI
		kind = EventInsert
		full = append(arrPath.Clone(), idx)
	case OpListRemove:
		idx := base[len(base)-1].(int)
		arrPath := base[:len(base)-1]
		var removed []any
		removed, _, err = m.tree.spliceAt(arrPath, idx, 1, nil)
		if len(removed) > 0 {
			previous = removed[0]
		}
		kind = EventRemove
		full = append(arrPath.Clone(), idx)
	case OpNumAdd:
		var newVal float64
		newVal, err = m.tree.incrementAt(base, op.NA)
		value = newVal
		full = base
	case OpListMove:
		from := base[len(base)-1].(int)
		arrPath := base[:len(base)-1]
		var removed []any
		removed, _, err = m.tree.spliceAt(arrPath, from, 1, nil)
		if err == nil && len(removed) == 1 {
			_, _, err = m.tree.spliceAt(arrPath, op.LM, 0, removed)
			value = removed[0]
		}
		kind = EventMove
		full = append(arrPath.Clone(), op.LM)
	}
	if err != nil {
		m.raiseAsync(&BackendError{Op: op.Kind.String(), Path: full, Err: err})
		return
	}
	m.bus.Emit(Event{Kind: kind, Path: full, Value: value, Previous: previous}, "", false)
	if m.verbose {
		m.logf("racer: REMOTE.%s %s => %v", op.Kind, full, value)
	}
}
