// Package cache models the client-side query cache that reconciliation
// patches.
//
// A Watch is one mounted list query: the GraphQL document plus its
// variables. Store is the capability the reconciler is handed explicitly;
// there is no process-wide cache. MemoryStore is the in-process
// implementation used by the CLI, the harness and tests, and it can be
// loaded from and written to a canonical JSON snapshot.
package cache
