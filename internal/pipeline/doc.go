// Package pipeline serializes mutation results through a reconciler.
//
// A Pipeline is the single writer for the query cache: mutations are
// applied one at a time in FIFO arrival order, each stamped with a
// strictly increasing seq from a logical clock and a batch token that
// groups the results of one client request.
//
// Two ways in:
//   - Enqueue + Run: producers on any goroutine enqueue; exactly one
//     goroutine runs the loop
//   - Apply / ApplyAll: synchronous application from the caller's
//     goroutine, serialized against the loop by a mutex
//
// Processing failures are logged and the loop continues. Retrying would
// reorder mutations relative to later ones and break replay.
//
// # Replay
//
// With a Recorder every applied mutation is appended to the mutation log
// before reconciliation. Replay feeds logged records back through the same
// code path with their original seq and batch, so a cache rebuilt from an
// earlier snapshot converges on the same contents.
package pipeline
