// Package loadcoord implements the fetch/subscribe reference-counting
// state machine for one Context: absent -> loading -> resident ->
// unloading -> absent, with subscribe downgrading to fetch under
// fetchOnly and unload debounced by unloadDelay.
package loadcoord

import (
	"sync"
	"time"
)

// State is a load item's position in the residency state machine.
type State int

const (
	Absent State = iota
	Loading
	Resident
	Unloading
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Loading:
		return "loading"
	case Resident:
		return "resident"
	case Unloading:
		return "unloading"
	default:
		return "unknown"
	}
}

// Loader performs the I/O behind one item key on behalf of a
// Coordinator. Start is called on the absent->loading transition and
// must eventually invoke done exactly once, on success or failure. The
// returned cancel func, if non-nil, is called if every ref on the item
// drops before done fires; the Loader may then still call done (with any
// error, including a cancellation-flavored one) or may already have
// settled by the time cancel is requested — the coordinator tolerates
// either. Stop releases a resident item's backend subscription and is
// only ever called after the item has actually loaded.
type Loader interface {
	Start(key string, subscribe bool, done func(error)) (cancel func())
	Stop(key string)
}

// Status is a diagnostic snapshot of one item's state.
type Status struct {
	State      State
	Fetches    int
	Subscribes int
}

type itemState struct {
	state       State
	fetches     int
	subscribes  int
	waiters     []func(error)
	cancel      func()
	unloadTimer *time.Timer
}

func (it *itemState) refCount() int { return it.fetches + it.subscribes }

// Coordinator tracks residency for one Context's items.
type Coordinator struct {
	loader      Loader
	fetchOnly   bool
	unloadDelay time.Duration

	mu    sync.Mutex
	items map[string]*itemState

	pending pendingTracker
}

// New creates a Coordinator backed by loader. fetchOnly downgrades every
// Subscribe call to a Fetch; unloadDelay debounces the unloading->absent
// transition.
func New(loader Loader, fetchOnly bool, unloadDelay time.Duration) *Coordinator {
	return &Coordinator{
		loader:      loader,
		fetchOnly:   fetchOnly,
		unloadDelay: unloadDelay,
		items:       map[string]*itemState{},
	}
}

// Fetch adds a fetch reference on key, invoking cb once the item is
// resident (or has failed to become so). cb may be nil.
func (c *Coordinator) Fetch(key string, cb func(error)) { c.ref(key, false, cb) }

// Subscribe adds a subscribe reference on key, downgraded to a fetch
// reference under fetchOnly.
func (c *Coordinator) Subscribe(key string, cb func(error)) { c.ref(key, true, cb) }

// Unfetch releases one fetch reference on key.
func (c *Coordinator) Unfetch(key string) { c.unref(key, false) }

// Unsubscribe releases one subscribe reference on key.
func (c *Coordinator) Unsubscribe(key string) { c.unref(key, true) }

func (c *Coordinator) ref(key string, subscribe bool, cb func(error)) {
	if c.fetchOnly {
		subscribe = false
	}

	c.mu.Lock()
	it, ok := c.items[key]
	if !ok {
		it = &itemState{}
		c.items[key] = it
	}
	if subscribe {
		it.subscribes++
	} else {
		it.fetches++
	}
	if it.unloadTimer != nil {
		it.unloadTimer.Stop()
		it.unloadTimer = nil
	}

	switch it.state {
	case Unloading:
		it.state = Resident
		c.mu.Unlock()
		if cb != nil {
			cb(nil)
		}
		return
	case Resident:
		c.mu.Unlock()
		if cb != nil {
			cb(nil)
		}
		return
	case Loading:
		if cb != nil {
			it.waiters = append(it.waiters, cb)
		}
		c.mu.Unlock()
		return
	default: // Absent
		it.state = Loading
		if cb != nil {
			it.waiters = append(it.waiters, cb)
		}
		c.pending.inc()
		c.mu.Unlock()
		cancel := c.loader.Start(key, subscribe, func(err error) { c.onLoaded(key, err) })
		c.mu.Lock()
		if cur, ok := c.items[key]; ok && cur == it {
			it.cancel = cancel
		}
		c.mu.Unlock()
	}
}

func (c *Coordinator) onLoaded(key string, err error) {
	c.mu.Lock()
	it, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	waiters := it.waiters
	it.waiters = nil
	if err != nil {
		delete(c.items, key)
		c.mu.Unlock()
	} else {
		it.state = Resident
		it.cancel = nil
		if it.refCount() == 0 {
			// every ref was released while this load was in flight; carry
			// the item straight on into unloading instead of leaving it
			// stuck resident with nothing referencing it.
			c.beginUnloadLocked(key, it)
		} else {
			c.mu.Unlock()
		}
	}

	c.pending.dec()
	for _, w := range waiters {
		w(err)
	}
}

func (c *Coordinator) unref(key string, subscribe bool) {
	if c.fetchOnly {
		subscribe = false
	}

	c.mu.Lock()
	it, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	if subscribe {
		it.subscribes--
		if it.subscribes < 0 {
			it.subscribes = 0
		}
	} else {
		it.fetches--
		if it.fetches < 0 {
			it.fetches = 0
		}
	}
	if it.refCount() > 0 {
		c.mu.Unlock()
		return
	}

	switch it.state {
	case Loading:
		cancel := it.cancel
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	case Resident:
		c.beginUnloadLocked(key, it)
	default:
		c.mu.Unlock()
	}
}

// beginUnloadLocked moves a resident, zero-ref item into Unloading and
// starts (or immediately runs) the debounced finish. c.mu must be held on
// entry; it is always released before this returns.
func (c *Coordinator) beginUnloadLocked(key string, it *itemState) {
	it.state = Unloading
	delay := c.unloadDelay
	finish := func() { c.finishUnload(key) }
	if delay <= 0 {
		c.mu.Unlock()
		finish()
	} else {
		it.unloadTimer = time.AfterFunc(delay, finish)
		c.mu.Unlock()
	}
}

func (c *Coordinator) finishUnload(key string) {
	c.mu.Lock()
	it, ok := c.items[key]
	if !ok || it.state != Unloading || it.refCount() > 0 {
		c.mu.Unlock()
		return
	}
	delete(c.items, key)
	c.mu.Unlock()
	c.loader.Stop(key)
}

// WhenNothingPending invokes cb once every in-flight load issued before
// this call has settled. It fires (asynchronously) even if nothing is
// pending right now.
func (c *Coordinator) WhenNothingPending(cb func()) {
	c.pending.whenNothingPending(cb)
}

// Snapshot returns a diagnostic view of every tracked item.
func (c *Coordinator) Snapshot() map[string]Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Status, len(c.items))
	for k, it := range c.items {
		out[k] = Status{State: it.state, Fetches: it.fetches, Subscribes: it.subscribes}
	}
	return out
}

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
