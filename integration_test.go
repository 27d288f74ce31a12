package racer_test

import (
	"testing"
	"time"

	"github.com/racersync/racer"
	"github.com/racersync/racer/memstore"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

// TestRemoteOpPropagatesBetweenModelsSharingADocStore wires two Models to
// one shared memstore.Store, subscribes on one and mutates through the
// other, and checks the resulting op lands on the subscriber via
// applyRemoteOp.
func TestRemoteOpPropagatesBetweenModelsSharingADocStore(t *testing.T) {
	store := must(memstore.New(map[string]map[string]any{
		"books": {
			"b1": map[string]any{"id": "b1", "publishedAt": 1234.0},
		},
	}, memstore.Options{}))
	defer store.Close()

	modelA := racer.New(store, racer.Options{IsTesting: true})
	modelB := racer.New(store, racer.Options{IsTesting: true})

	rootA := modelA.Root().At("books", "b1")

	done := make(chan error, 1)
	rootA.Subscribe(func(err error) { done <- err })
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Subscribe timed out")
	}

	doc, ok := rootA.Get().(map[string]any)
	if !ok || doc["publishedAt"] != 1234.0 {
		t.Fatalf("initial Get() = %v, wanted a doc with publishedAt=1234", rootA.Get())
	}

	// rootB never fetched books.b1 into its own tree; the write still
	// forwards through the shared store, which fans the resulting op out
	// to modelA's subscription.
	modelB.Root().At("books", "b1", "publishedAt").Set(5678.0)

	got, ok := rootA.Get().(map[string]any)["publishedAt"].(float64)
	if !ok || got != 5678.0 {
		t.Fatalf("after remote mutation, rootA publishedAt = %v, wanted 5678", rootA.Get())
	}
}

// TestRemoteQuerySubscriptionSeesInsertsFromAnotherModel wires two Models
// to one shared memstore.Store, subscribes a query on one and adds a
// matching document through the other.
func TestRemoteQuerySubscriptionSeesInsertsFromAnotherModel(t *testing.T) {
	store := must(memstore.New(map[string]map[string]any{
		"books": {},
	}, memstore.Options{}))
	defer store.Close()

	modelA := racer.New(store, racer.Options{IsTesting: true})
	modelB := racer.New(store, racer.Options{IsTesting: true})

	matchAll := memstore.Matcher(func(doc map[string]any) bool { return true })
	q := racer.NewQuery(modelA, "books", matchAll, nil)

	done := make(chan error, 1)
	modelA.Root().Subscribe(func(err error) { done <- err }, q)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Subscribe timed out")
	}

	if ids := q.GetIds(); len(ids) != 0 {
		t.Fatalf("GetIds() before insert = %v, wanted none", ids)
	}

	modelB.Root().Add("books", map[string]any{"title": "new"})

	deadline := time.Now().Add(time.Second)
	for {
		if ids := q.GetIds(); len(ids) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("GetIds() never observed the remote insert")
		}
		time.Sleep(time.Millisecond)
	}
}

// TestLocalMutationOnASubscribedDocIsNotDoubleApplied covers a Model that
// both subscribes to and mutates the same doc through one shared store:
// the store echoes every accepted op back through the submitting Model's
// own subscription, and that echo must be dropped rather than reapplied
// on top of the mutation already applied locally.
func TestLocalMutationOnASubscribedDocIsNotDoubleApplied(t *testing.T) {
	store := must(memstore.New(map[string]map[string]any{
		"counters": {
			"c1": map[string]any{"id": "c1", "value": 0.0},
		},
	}, memstore.Options{}))
	defer store.Close()

	model := racer.New(store, racer.Options{IsTesting: true})
	h := model.Root().At("counters", "c1")

	done := make(chan error, 1)
	h.Subscribe(func(err error) { done <- err })
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Subscribe timed out")
	}

	got := h.At("value").Increment(1)
	if got != 1 {
		t.Fatalf("Increment(1) returned %v, wanted 1", got)
	}

	// memstore.Store.SubmitOp acks and echoes synchronously within the
	// call Increment makes, so by the time it returns any double-apply
	// from the echo would already be visible.
	if v := h.At("value").Get(); v != 1.0 {
		t.Fatalf("value after one Increment(1) = %v, wanted 1 (the store's echo of our own op must not be re-applied)", v)
	}
}
