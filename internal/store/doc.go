// Package store provides SQLite-backed durable storage for watchpatch.
//
// The store holds three things:
//   - Documents: server-side truth per collection, kept current by
//     ApplyMutation and seeded by ImportDocuments
//   - Mutations: append-only log of applied mutation results
//   - Cache entries: the persisted query-result cache
//
// # Critical Patterns
//
// Logical Identity and Time
//   - All ordering uses seq INTEGER (logical clock), NEVER timestamps
//   - Enables deterministic replay regardless of wall time
//
// Deterministic Query Results
//   - All queries include ORDER BY seq ASC or id COLLATE BINARY ASC
//   - Ensures identical results across replays
//
// Canonical Values
//   - Documents, ids, variables and cached data are stored as RFC 8785
//     canonical JSON, so equal values are byte-equal text
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
