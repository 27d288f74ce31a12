package racer

import "testing"

type profile struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
}

func TestTypedHandleSetGetRoundTrip(t *testing.T) {
	m, _ := newTestModel()
	h := At[profile](m.Root(), "_page", "profile")
	h.Set(profile{Name: "ann", Age: 30})

	got := h.Get()
	if got.Name != "ann" || got.Age != 30 {
		t.Fatalf("Get() = %+v, wanted {ann 30}", got)
	}

	untyped := m.Root().At("_page", "profile").Get().(map[string]any)
	if untyped["name"] != "ann" {
		t.Fatalf("underlying tree value = %v, wanted a plain map with name=ann", untyped)
	}
}

func TestTypedHandleGetOnAbsentPathReturnsZeroValue(t *testing.T) {
	m, _ := newTestModel()
	h := At[profile](m.Root(), "_page", "missing")
	got := h.Get()
	if got.Name != "" || got.Age != 0 {
		t.Fatalf("Get() on an absent path = %+v, wanted the zero value", got)
	}
}
