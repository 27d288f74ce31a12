package racer

import (
	"fmt"
	"strconv"
	"strings"
)

// Path is a canonical, absolute sequence of segments addressing a node in
// the Tree. Every element is either a string or a non-negative int; no
// other segment shapes survive canonicalization.
type Path []any

// absPather is implemented by Handle so PathAlgebra can accept a handle
// wherever a subpath argument is expected.
type absPather interface {
	absolutePath() Path
}

func (p Path) String() string {
	var b strings.Builder
	for i, seg := range p {
		if i > 0 {
			b.WriteByte('.')
		}
		fmt.Fprintf(&b, "%v", seg)
	}
	return b.String()
}

// Equal reports whether p and o have the same segments in the same order.
func (p Path) Equal(o Path) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of p's segment slice.
func (p Path) Clone() Path {
	if p == nil {
		return nil
	}
	return append(Path(nil), p...)
}

func (p Path) absolutePath() Path { return p }

// prefixOf reports whether a is an element-wise prefix of b.
func prefixOf(a, b Path) bool {
	if len(a) > len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// mayImpact reports whether an event at path e should be delivered to a
// listener registered at path l: true iff one path is a prefix of the
// other, in either direction.
func mayImpact(l, e Path) bool {
	return prefixOf(l, e) || prefixOf(e, l)
}

var digitsOnly = func(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// canonSegment coerces a single raw segment value into its canonical
// string or int form.
func canonSegment(v any) (any, error) {
	switch x := v.(type) {
	case string:
		if digitsOnly(x) {
			if n, err := strconv.Atoi(x); err == nil && n >= 0 {
				return n, nil
			}
		}
		return x, nil
	case int:
		if x < 0 {
			return nil, &PathError{Kind: InvalidPath, Msg: fmt.Sprintf("negative array segment %d", x)}
		}
		return x, nil
	case int64:
		if x < 0 {
			return nil, &PathError{Kind: InvalidPath, Msg: fmt.Sprintf("negative array segment %d", x)}
		}
		return int(x), nil
	case float64:
		if x < 0 || x != float64(int(x)) {
			return nil, &PathError{Kind: InvalidPath, Msg: fmt.Sprintf("non-integer array segment %v", x)}
		}
		return int(x), nil
	default:
		return nil, &PathError{Kind: InvalidPath, Msg: fmt.Sprintf("segment of type %T is neither string nor non-negative integer", v)}
	}
}

// canonSegmentAt canonicalizes a raw segment headed for absolute position
// pos. Positions 0 and 1 hold a collection name and a document id, which
// stay strings even when they look numeric, so docAddress still recognizes
// an id such as "1"; every later position goes through canonSegment.
func canonSegmentAt(v any, pos int) (any, error) {
	if s, ok := v.(string); ok && pos < 2 {
		return s, nil
	}
	return canonSegment(v)
}

// canonicalize resolves a slice of raw subpath arguments against base and
// returns the resulting canonical absolute Path. Each argument may itself
// be nil, a dotted string, a number, a nested []any of further segments,
// a Path, or anything implementing absPather (a Handle).
func canonicalize(base Path, args []any) (Path, error) {
	out := base.Clone()
	for _, arg := range args {
		var err error
		out, err = appendSub(out, arg)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func appendSub(base Path, sub any) (Path, error) {
	switch s := sub.(type) {
	case nil:
		return base, nil
	case string:
		if s == "" {
			return base, nil
		}
		for _, part := range strings.Split(s, ".") {
			seg, err := canonSegmentAt(part, len(base))
			if err != nil {
				return nil, err
			}
			base = append(base, seg)
		}
		return base, nil
	case Path:
		for _, el := range s {
			seg, err := canonSegmentAt(el, len(base))
			if err != nil {
				return nil, err
			}
			base = append(base, seg)
		}
		return base, nil
	case []any:
		for _, el := range s {
			seg, err := canonSegmentAt(el, len(base))
			if err != nil {
				return nil, err
			}
			base = append(base, seg)
		}
		return base, nil
	case absPather:
		return append(base, s.absolutePath()...), nil
	default:
		seg, err := canonSegment(sub)
		if err != nil {
			return nil, err
		}
		return append(base, seg), nil
	}
}

// docAddress reports whether path addresses inside a document, i.e. has
// the shape [collection, id, ...rest], returning the collection and id
// and the remaining sub-document path.
func docAddress(path Path) (collection, id string, sub Path, ok bool) {
	if len(path) < 2 {
		return "", "", nil, false
	}
	col, colOK := path[0].(string)
	docID, idOK := path[1].(string)
	if !colOK || !idOK {
		return "", "", nil, false
	}
	return col, docID, path[2:], true
}
