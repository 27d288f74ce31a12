package loadcoord

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeLoader completes Start after a short delay (or immediately) with a
// configurable error, and counts Stop calls.
type fakeLoader struct {
	mu       sync.Mutex
	starts   int
	stops    []string
	startErr error
	cancels  int
}

func (f *fakeLoader) Start(key string, subscribe bool, done func(error)) func() {
	f.mu.Lock()
	f.starts++
	err := f.startErr
	f.mu.Unlock()
	go done(err)
	return func() {
		f.mu.Lock()
		f.cancels++
		f.mu.Unlock()
	}
}

func (f *fakeLoader) Stop(key string) {
	f.mu.Lock()
	f.stops = append(f.stops, key)
	f.mu.Unlock()
}

func waitForCallback(t *testing.T, fn func(func(error))) error {
	t.Helper()
	done := make(chan error, 1)
	fn(func(err error) { done <- err })
	select {
	case err := <-done:
		return err
	case <-time.After(time.Second):
		t.Fatalf("callback never fired")
		return nil
	}
}

func TestFetchResolvesToResident(t *testing.T) {
	loader := &fakeLoader{}
	c := New(loader, false, 0)
	if err := waitForCallback(t, func(cb func(error)) { c.Fetch("k", cb) }); err != nil {
		t.Fatalf("Fetch error = %v", err)
	}
	snap := c.Snapshot()
	if snap["k"].State != Resident || snap["k"].Fetches != 1 {
		t.Fatalf("status = %+v, wanted resident with one fetch", snap["k"])
	}
}

func TestSecondRefWhileLoadingSharesTheSameLoad(t *testing.T) {
	loader := &fakeLoader{}
	c := New(loader, false, 0)
	var wg sync.WaitGroup
	wg.Add(2)
	c.Fetch("k", func(error) { wg.Done() })
	c.Subscribe("k", func(error) { wg.Done() })
	wg.Wait()
	if loader.starts != 1 {
		t.Fatalf("Start called %d times, wanted exactly 1", loader.starts)
	}
	snap := c.Snapshot()
	if snap["k"].Fetches != 1 || snap["k"].Subscribes != 1 {
		t.Fatalf("status = %+v, wanted one fetch and one subscribe", snap["k"])
	}
}

func TestFetchOnlyDowngradesSubscribe(t *testing.T) {
	loader := &fakeLoader{}
	c := New(loader, true, 0)
	if err := waitForCallback(t, func(cb func(error)) { c.Subscribe("k", cb) }); err != nil {
		t.Fatalf("Subscribe error = %v", err)
	}
	snap := c.Snapshot()
	if snap["k"].Subscribes != 0 || snap["k"].Fetches != 1 {
		t.Fatalf("status = %+v, wanted a downgraded fetch, no subscribe", snap["k"])
	}
}

func TestUnrefToZeroTransitionsToUnloadingThenAbsent(t *testing.T) {
	loader := &fakeLoader{}
	c := New(loader, false, 0)
	waitForCallback(t, func(cb func(error)) { c.Fetch("k", cb) })
	c.Unfetch("k")
	if _, present := c.Snapshot()["k"]; present {
		t.Fatalf("with zero unloadDelay, unref to zero should remove the item immediately")
	}
	if len(loader.stops) != 1 || loader.stops[0] != "k" {
		t.Fatalf("Stop calls = %v, wanted [k]", loader.stops)
	}
}

func TestUnloadDelayDebouncesAQuickReref(t *testing.T) {
	loader := &fakeLoader{}
	c := New(loader, false, 30*time.Millisecond)
	waitForCallback(t, func(cb func(error)) { c.Fetch("k", cb) })
	c.Unfetch("k")
	// re-fetch immediately, before the debounce timer fires
	if err := waitForCallback(t, func(cb func(error)) { c.Fetch("k", cb) }); err != nil {
		t.Fatalf("re-fetch error = %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	if len(loader.stops) != 0 {
		t.Fatalf("Stop should not have fired: the item was re-referenced before the debounce elapsed")
	}
	if loader.starts != 1 {
		t.Fatalf("Start called %d times, wanted exactly 1 (no reload needed)", loader.starts)
	}
}

func TestUnrefWhileLoadingCancels(t *testing.T) {
	block := make(chan struct{})
	loader := &blockingLoader{release: block}
	c := New(loader, false, 0)
	c.Fetch("k", nil)
	c.Unfetch("k")
	close(block)
	time.Sleep(20 * time.Millisecond)
	if loader.cancelCalls() != 1 {
		t.Fatalf("cancel called %d times, wanted 1", loader.cancelCalls())
	}
}

type blockingLoader struct {
	release chan struct{}
	mu      sync.Mutex
	cancels int
}

func (b *blockingLoader) Start(key string, subscribe bool, done func(error)) func() {
	go func() {
		<-b.release
		done(errors.New("cancelled"))
	}()
	return func() {
		b.mu.Lock()
		b.cancels++
		b.mu.Unlock()
	}
}

func (b *blockingLoader) Stop(string) {}

func (b *blockingLoader) cancelCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancels
}

// blockingSuccessLoader completes Start with a nil error only once
// release is closed, ignoring cancel: it models a backend whose load
// finishes successfully even after every ref on the item was dropped.
type blockingSuccessLoader struct {
	release chan struct{}
	mu      sync.Mutex
	stopped []string
}

func (b *blockingSuccessLoader) Start(key string, subscribe bool, done func(error)) func() {
	go func() {
		<-b.release
		done(nil)
	}()
	return func() {}
}

func (b *blockingSuccessLoader) Stop(key string) {
	b.mu.Lock()
	b.stopped = append(b.stopped, key)
	b.mu.Unlock()
}

func (b *blockingSuccessLoader) stops() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.stopped...)
}

func TestUnrefToZeroWhileLoadingThenSuccessStillUnloads(t *testing.T) {
	block := make(chan struct{})
	loader := &blockingSuccessLoader{release: block}
	c := New(loader, false, 0)
	c.Fetch("k", nil)
	c.Unfetch("k")
	close(block)
	time.Sleep(20 * time.Millisecond)

	if _, present := c.Snapshot()["k"]; present {
		t.Fatalf("a load that succeeds after every ref was released should unload, not stay resident forever")
	}
	if stops := loader.stops(); len(stops) != 1 || stops[0] != "k" {
		t.Fatalf("Stop calls = %v, wanted [k]", stops)
	}
}

func TestWhenNothingPendingFiresAfterOutstandingLoads(t *testing.T) {
	loader := &fakeLoader{}
	c := New(loader, false, 0)
	c.Fetch("a", nil)
	c.Fetch("b", nil)

	done := make(chan struct{})
	c.WhenNothingPending(func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("WhenNothingPending never fired")
	}
}

func TestFailedLoadRemovesItem(t *testing.T) {
	loader := &fakeLoader{startErr: errors.New("boom")}
	c := New(loader, false, 0)
	err := waitForCallback(t, func(cb func(error)) { c.Fetch("k", cb) })
	if err == nil {
		t.Fatalf("expected the fetch error to propagate")
	}
	if _, present := c.Snapshot()["k"]; present {
		t.Fatalf("a failed load should not leave residency state behind")
	}
}
