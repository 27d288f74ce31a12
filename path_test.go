package racer

import "testing"

func TestCanonicalizeDottedString(t *testing.T) {
	p := must(canonicalize(nil, []any{"users.42.name"}))
	want := Path{"users", "42", "name"}
	if !p.Equal(want) {
		t.Fatalf("canonicalize = %v, wanted %v", p, want)
	}
}

func TestCanonicalizeNumericSegmentBecomesInt(t *testing.T) {
	p := must(canonicalize(nil, []any{"list", "3"}))
	if len(p) != 2 || p[1] != 3 {
		t.Fatalf("canonicalize = %v, wanted [list 3] with int index", p)
	}
}

func TestCanonicalizeNegativeIntRejected(t *testing.T) {
	_, err := canonicalize(nil, []any{"list", -1})
	if err == nil {
		t.Fatalf("canonicalize(-1) should fail")
	}
}

func TestCanonicalizeNestedSliceAndHandle(t *testing.T) {
	base := must(canonicalize(nil, []any{"users", "1"}))
	h := Handle{path: base}
	p := must(canonicalize(nil, []any{h, []any{"profile", "age"}}))
	want := Path{"users", "1", "profile", "age"}
	if !p.Equal(want) {
		t.Fatalf("canonicalize with handle+slice = %v, wanted %v", p, want)
	}
}

func TestPrefixOfAndMayImpact(t *testing.T) {
	a := Path{"users", "1"}
	b := Path{"users", "1", "name"}
	if !prefixOf(a, b) {
		t.Fatalf("prefixOf(%v, %v) = false, wanted true", a, b)
	}
	if prefixOf(b, Path{"users", "2"}) {
		t.Fatalf("prefixOf should require element-wise match")
	}
	if !mayImpact(b, a) {
		t.Fatalf("mayImpact should be symmetric: listener below emission path still matches")
	}
	if mayImpact(Path{"users", "2"}, a) {
		t.Fatalf("mayImpact should not match on divergent siblings")
	}
}

func TestDocAddress(t *testing.T) {
	col, id, sub, ok := docAddress(Path{"users", "1", "name"})
	if !ok || col != "users" || id != "1" || !sub.Equal(Path{"name"}) {
		t.Fatalf("docAddress = (%q, %q, %v, %v), wanted (users, 1, [name], true)", col, id, sub, ok)
	}
	if _, _, _, ok := docAddress(Path{"users", 1}); ok {
		t.Fatalf("docAddress requires both of the first two segments to be strings")
	}
	if _, _, _, ok := docAddress(Path{"count"}); ok {
		t.Fatalf("docAddress requires at least two segments")
	}

}
