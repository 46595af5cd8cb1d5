// Package reconcile patches cached list pages after a mutation so mounted
// views stay consistent without a refetch.
//
// The layers, leaves first:
//
//   - Page decodes and encodes one cached list result.
//   - AddToSet, RemoveFromSet, UpdateInSet and ReorderSet are pure set
//     mutators over a Page.
//   - HandleCreate, HandleUpdate and HandleDelete combine the selector
//     match with the mutators for one mutation kind.
//   - FindWatchesByType picks the cached queries that select the mutated
//     type's multi resolver.
//   - Reconciler reads each affected page from a cache.Store, dispatches,
//     and writes the result back.
//
// Everything below Reconciler is a pure function of its inputs. The
// Reconciler itself performs no I/O beyond the store it is given and is
// not safe for re-entrant use; callers serialize mutations (see package
// pipeline).
package reconcile
