package racer

import (
	"testing"
	"time"
)

func newTestModel() (*Model, *fakeStore) {
	store := newFakeStore()
	m := New(store, Options{IsTesting: true})
	return m, store
}

func TestHandleSetGetOnLocalPath(t *testing.T) {
	m, _ := newTestModel()
	root := m.Root()
	root.At("_page", "title").Set("hello")
	if got := root.At("_page", "title").Get(); got != "hello" {
		t.Fatalf("Get after Set = %v, wanted hello", got)
	}
}

func TestHandleSetOnDocPathForwardsOpToStore(t *testing.T) {
	m, store := newTestModel()
	m.Root().At("users", "1", "name").Set("ann")
	if len(store.submitted) != 1 {
		t.Fatalf("expected exactly one submitted op, got %d", len(store.submitted))
	}
	sub := store.submitted[0]
	if sub.Collection != "users" || sub.ID != "1" {
		t.Fatalf("submitted op addressed (%s, %s), wanted (users, 1)", sub.Collection, sub.ID)
	}
	if !sub.Op.Path.Equal(Path{"name"}) {
		t.Fatalf("submitted op path = %v, wanted [name] (relative to the document)", sub.Op.Path)
	}
	if sub.Op.OI != "ann" {
		t.Fatalf("submitted op OI = %v, wanted ann", sub.Op.OI)
	}
}

func TestHandleSetInvokesCallbackOnAck(t *testing.T) {
	m, _ := newTestModel()
	done := make(chan error, 1)
	m.Root().At("users", "1", "name").Set("ann", func(err error) { done <- err })
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("callback error = %v, wanted nil", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("callback never fired")
	}
}

func TestHandleSetDiffSkipsIdenticalWrite(t *testing.T) {
	m, store := newTestModel()
	h := m.Root().At("users", "1", "name")
	h.Set("ann")
	store.submitted = nil
	h.SetDiff("ann")
	if len(store.submitted) != 0 {
		t.Fatalf("SetDiff with an identical value should not submit an op")
	}
	h.SetDiff("bob")
	if len(store.submitted) != 1 {
		t.Fatalf("SetDiff with a changed value should submit an op")
	}
}

func TestHandleSetNullOnlyWritesWhenAbsent(t *testing.T) {
	m, _ := newTestModel()
	h := m.Root().At("counter")
	h.SetNull(1.0)
	if got := h.Get(); got != 1.0 {
		t.Fatalf("SetNull on an absent path should write, got %v", got)
	}
	h.SetNull(2.0)
	if got := h.Get(); got != 1.0 {
		t.Fatalf("SetNull on a present path should not overwrite, got %v", got)
	}
}

func TestHandleDelIsNoopWhenAbsent(t *testing.T) {
	m, store := newTestModel()
	prev := m.Root().At("users", "1").Del()
	if prev != nil {
		t.Fatalf("Del on an absent path should return nil, got %v", prev)
	}
	if len(store.submitted) != 0 {
		t.Fatalf("a no-op Del should not submit an op")
	}
}

func TestHandleAddAssignsIDWhenMissing(t *testing.T) {
	m, _ := newTestModel()
	id := m.Root().At("users").Add("users", map[string]any{"name": "ann"})
	if id == "" {
		t.Fatalf("Add should return a generated id")
	}
	got := m.Root().At("users", id).Get().(map[string]any)
	if got["name"] != "ann" || got["id"] != id {
		t.Fatalf("stored doc = %v, wanted name=ann id=%s", got, id)
	}
}

func TestHandleAddKeepsExplicitID(t *testing.T) {
	m, _ := newTestModel()
	id := m.Root().At("users").Add("users", map[string]any{"id": "fixed", "name": "ann"})
	if id != "fixed" {
		t.Fatalf("Add should preserve an explicit id, got %q", id)
	}
}

func TestHandleIncrement(t *testing.T) {
	m, _ := newTestModel()
	h := m.Root().At("counter")
	if got := h.Increment(); got != 1 {
		t.Fatalf("Increment() default delta = %v, wanted 1", got)
	}
	if got := h.Increment(5); got != 6 {
		t.Fatalf("Increment(5) = %v, wanted 6", got)
	}
}

func TestHandlePushInsertRemove(t *testing.T) {
	m, _ := newTestModel()
	h := m.Root().At("_page", "items")
	if n := h.Push("a"); n != 1 {
		t.Fatalf("Push = %d, wanted 1", n)
	}
	if n := h.Push("b"); n != 2 {
		t.Fatalf("Push = %d, wanted 2", n)
	}
	if n := h.Insert(1, "x"); n != 3 {
		t.Fatalf("Insert = %d, wanted 3", n)
	}
	got := h.Get().([]any)
	if got[0] != "a" || got[1] != "x" || got[2] != "b" {
		t.Fatalf("items after insert = %v, wanted [a x b]", got)
	}
	removed := h.Remove(0)
	if len(removed) != 1 || removed[0] != "a" {
		t.Fatalf("Remove(0) = %v, wanted [a]", removed)
	}
}

func TestHandleMove(t *testing.T) {
	m, store := newTestModel()
	h := m.Root().At("_page", "items")
	h.Push("a")
	h.Push("b")
	h.Push("c")
	store.submitted = nil

	moved := h.Move(0, 2)
	if moved != "a" {
		t.Fatalf("Move(0, 2) returned %v, wanted a", moved)
	}
	got := h.Get().([]any)
	if got[0] != "b" || got[1] != "c" || got[2] != "a" {
		t.Fatalf("items after move = %v, wanted [b c a]", got)
	}
	if len(store.submitted) != 1 {
		t.Fatalf("expected exactly one submitted op, got %d", len(store.submitted))
	}
	sub := store.submitted[0]
	if sub.Collection != "_page" || sub.ID != "items" {
		t.Fatalf("submitted op addressed (%s, %s), wanted (_page, items)", sub.Collection, sub.ID)
	}
	if !sub.Op.Path.Equal(Path{0}) {
		t.Fatalf("submitted op path = %v, wanted [0]", sub.Op.Path)
	}
	if sub.Op.LM != 2 {
		t.Fatalf("submitted op LM = %v, wanted 2", sub.Op.LM)
	}
}

func TestHandleInsertOnDocPathForwardsIndexedOpToStore(t *testing.T) {
	m, store := newTestModel()
	h := m.Root().At("users", "1", "tags")
	h.Push("x")
	if len(store.submitted) != 1 {
		t.Fatalf("expected exactly one submitted op, got %d", len(store.submitted))
	}
	sub := store.submitted[0]
	if sub.Collection != "users" || sub.ID != "1" {
		t.Fatalf("submitted op addressed (%s, %s), wanted (users, 1)", sub.Collection, sub.ID)
	}
	// the array's own sub-document location ("tags") must survive
	// alongside the trailing list index (0): forwardAndEmit composes
	// them instead of dropping one.
	if !sub.Op.Path.Equal(Path{"tags", 0}) {
		t.Fatalf("submitted op path = %v, wanted [tags 0]", sub.Op.Path)
	}
}

func TestHandleUnloadDrainsAllReferencesOnAnItem(t *testing.T) {
	m, store := newTestModel()
	store.seed("users", "1", map[string]any{"name": "ann"})
	h := m.Root().At("users", "1")

	done := make(chan error, 3)
	h.Fetch(func(err error) { done <- err })
	h.Fetch(func(err error) { done <- err })
	h.Subscribe(func(err error) { done <- err })
	for i := 0; i < 3; i++ {
		if err := <-done; err != nil {
			t.Fatalf("load failed: %v", err)
		}
	}

	snap := m.contextOf("").coord.Snapshot()
	st, ok := snap["doc:users.1"]
	if !ok || st.Fetches != 2 || st.Subscribes != 1 {
		t.Fatalf("status before Unload = %+v, wanted 2 fetches and 1 subscribe", st)
	}

	h.Unload()

	if _, present := m.contextOf("").coord.Snapshot()["doc:users.1"]; present {
		t.Fatalf("Unload should drain every reference and let the item go absent, still present: %+v", m.contextOf("").coord.Snapshot()["doc:users.1"])
	}
}

func TestHandleUnloadAllDrainsEveryContext(t *testing.T) {
	m, store := newTestModel()
	store.seed("users", "1", map[string]any{"name": "ann"})
	store.seed("users", "2", map[string]any{"name": "bob"})

	done := make(chan error, 2)
	m.Root().At("users", "1").Fetch(func(err error) { done <- err })
	m.Root().Context("editor").At("users", "2").Fetch(func(err error) { done <- err })
	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Fatalf("load failed: %v", err)
		}
	}

	m.Root().UnloadAll()

	if _, present := m.contextOf("").coord.Snapshot()["doc:users.1"]; present {
		t.Fatalf("UnloadAll should drain the default context's references")
	}
	if _, present := m.contextOf("editor").coord.Snapshot()["doc:users.2"]; present {
		t.Fatalf("UnloadAll should drain every context's references, not just the default one")
	}
}

func TestHandleAtScopeParentLeaf(t *testing.T) {
	h := Handle{path: Path{"users", "1"}}
	child := h.At("name")
	if !child.path.Equal(Path{"users", "1", "name"}) {
		t.Fatalf("At should extend the path, got %v", child.path)
	}
	if child.Leaf() != "name" {
		t.Fatalf("Leaf() = %v, wanted name", child.Leaf())
	}
	if !child.Parent().path.Equal(Path{"users", "1"}) {
		t.Fatalf("Parent() should drop the last segment")
	}
	scoped := child.Scope("posts", "9")
	if !scoped.path.Equal(Path{"posts", "9"}) {
		t.Fatalf("Scope should ignore the receiver's existing path, got %v", scoped.path)
	}
}

func TestHandleFetchResolvesAndPopulatesTree(t *testing.T) {
	m, store := newTestModel()
	store.seed("users", "1", map[string]any{"name": "ann"})

	done := make(chan error, 1)
	m.Root().At("users", "1").Fetch(func(err error) { done <- err })
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Fetch callback error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Fetch never settled")
	}
	got := m.Root().At("users", "1", "name").Get()
	if got != "ann" {
		t.Fatalf("tree after Fetch = %v, wanted ann", got)
	}
}

func TestHandleUnfetchReleasesReference(t *testing.T) {
	m, store := newTestModel()
	store.seed("users", "1", map[string]any{"name": "ann"})
	h := m.Root().At("users", "1")

	done := make(chan error, 1)
	h.Fetch(func(err error) { done <- err })
	<-done
	h.Unfetch()

	ctx := m.contextOf("")
	snap := ctx.coord.Snapshot()
	if _, present := snap["doc:users.1"]; present {
		t.Fatalf("Unfetch with IsTesting (zero unload delay) should have released the item immediately, snapshot=%v", snap)
	}
}
