package racer

import "context"

// Subscription is returned by a DocStore's Subscribe* methods; the caller
// releases it via Unsubscribe when a LoadCoordinator refcount reaches
// zero.
type Subscription interface {
	Unsubscribe()
}

// DocStore is the narrow interface the core consumes from the external
// OT document backend. A conformant implementation owns doc storage, op
// submission and pub/sub; racer/memstore is a reference implementation
// used by this module's own tests.
type DocStore interface {
	// FetchDoc retrieves the current value of a document once.
	FetchDoc(ctx context.Context, collection, id string) (any, error)

	// SubscribeDoc opens a live feed of ops applied to a document
	// remotely. onOp is invoked for every op accepted by the backend,
	// including ops this Model itself submitted, in backend-assigned
	// order.
	SubscribeDoc(ctx context.Context, collection, id string, onOp func(Op)) (Subscription, error)

	// SubmitOp forwards a locally-applied mutation to the backend.
	// callback is invoked once the backend acknowledges or rejects it;
	// nil is a valid callback.
	SubmitOp(ctx context.Context, collection, id string, op Op, callback func(error))

	// FetchQuery evaluates expression against collection once, returning
	// matching document ids and any backend-defined extra metadata.
	FetchQuery(ctx context.Context, collection string, expression, options any) (ids []string, extra any, err error)

	// SubscribeQuery opens a live feed of a query's result set. onResults
	// is invoked with the full current id list (and extra metadata)
	// whenever membership changes.
	SubscribeQuery(ctx context.Context, collection string, expression, options any, onResults func(ids []string, extra any)) (Subscription, error)
}
