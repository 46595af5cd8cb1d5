// Package mutation defines the discriminated result type that crosses the
// boundary between a GraphQL mutation response and cache reconciliation.
//
// Raw responses have the shape {"data": {"<mutationName>": {"data": doc}}}.
// ParseResponse validates that shape once, so nothing downstream has to
// inspect untyped maps. A response whose document is null yields a Result
// with a nil Document; reconciliation treats that as a no-op.
//
// The package also owns the naming conventions shared with the server:
// createPost / updatePost / upsertPost / deletePost for mutations, the
// plural camel-case multi resolver ("posts") that list queries select, and
// the "MultiPostOutput" result marker on cached pages.
package mutation
