/*
Package racer implements the client-side model engine of a synchronized,
tree-shaped document store.

Documents live in an in-memory Tree, addressed by canonical Paths. All
reads and writes go through a Handle, a small scoped reference bound to
an absolute path, a data-loading Context and a set of emission flags.
Mutations issued through a Handle are applied to the Tree, translated
into JSON0-shaped ops and forwarded to a DocStore, and fanned out to
prefix-matching listeners through an EventBus.

We implement:

 1. PathAlgebra, turning dotted strings, segment slices and Handles into
    canonical absolute segment sequences.

 2. Tree, the copy-on-write in-memory value store: collection -> id ->
    document, with array splicing and numeric increment as first-class
    operations.

 3. Mutator semantics for set/del/increment/insert/push/remove/setDiff/
    setNull, each following the same canonicalize-read-write-forward-emit
    pipeline.

 4. EventBus, a prefix-indexed listener registry with registration-order
    fan-out and re-entrancy queueing.

 5. Contexts and a LoadCoordinator (package loadcoord) tracking
    fetch/subscribe reference counts per item per context.

 6. QueryHandle, a client-side handle over a remote query's result set.

 7. SnapshotCodec, serializing the tree, contexts and queries into a
    single opaque bundle for transfer across a process boundary.

The OT document backend, transport, authentication and server-side query
planning are treated as external collaborators: the core only consumes
the narrow DocStore interface in docstore.go.
*/
package racer
