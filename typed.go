package racer

import "encoding/json"

// TypedHandle narrows a Handle's untyped Get/Set to T via a JSON
// round-trip, without changing the underlying tree representation or the
// events any mutation still emits. Grounded on the teacher's generic
// top-level accessors (Get[Row any], Reload[Row any]).
type TypedHandle[T any] struct {
	Handle
}

// At wraps h.At(subpath...) narrowed to T.
func At[T any](h Handle, subpath ...any) TypedHandle[T] {
	return TypedHandle[T]{h.At(subpath...)}
}

// Get decodes the value at the handle's path into T. It panics with a
// MutationError if the stored value cannot be represented as T; use the
// embedded Handle's own Get for an any-typed read that never fails this
// way.
func (t TypedHandle[T]) Get() T {
	var out T
	v := t.Handle.Get()
	if v == nil {
		return out
	}
	if err := roundTrip(v, &out); err != nil {
		panic(&MutationError{Kind: PathTypeMismatch, Path: t.Handle.path, Msg: "typed Get: " + err.Error()})
	}
	return out
}

// Set encodes value through JSON before writing it, so the stored
// representation is exactly what an untyped Handle.Get on the same path
// would see from any other client, and returns the previous value
// decoded into T.
func (t TypedHandle[T]) Set(value T, cb ...func(error)) T {
	var encoded any
	if err := roundTrip(value, &encoded); err != nil {
		panic(&MutationError{Kind: PathTypeMismatch, Path: t.Handle.path, Msg: "typed Set: " + err.Error()})
	}
	previous := t.Handle.Set(encoded, cb...)
	var out T
	if previous != nil {
		_ = roundTrip(previous, &out)
	}
	return out
}

func roundTrip(in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
