// Package store provides SQLite-backed durable storage for recorded
// executions.
//
// The store holds two layers:
//   - Object layer: content-addressed, deduplicated value snapshots
//     (stored_objects) plus per-variable version chains
//     (object_identities, object_versions)
//   - Call layer: monitoring sessions, function calls, stack snapshots,
//     and code definitions
//
// # Critical Patterns
//
// CP-1: Content-Addressed Idempotency
//   - stored_objects keyed by sha256 of canonical payload bytes
//   - Re-storing equal content is a no-op (ON CONFLICT DO NOTHING)
//
// CP-2: Latest-Only Version Chains
//   - Appending under an identity compares against the chain's latest
//     key only; returning to earlier content appends a new version
//
// CP-3: Deterministic Query Results
//   - List queries order by a stable column (order_in_session, position,
//     version, start_time) with id as tie-breaker
//
// CP-4: Reachability-Safe Garbage Collection
//   - Objects reachable from any surviving call or snapshot are never
//     deleted; DeleteCall and CollectGarbage serialize on a store-level
//     mutex and run in one transaction
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Content keys are computed in internal/object using RFC 8785 canonical
// JSON and SHA-256 with domain separation.
package store
