// Package store provides SQLite-backed durable storage for the
// canonization engine.
//
// The store holds four families of tables:
//
//   - Change Ledger: append-only change_records sequenced per subject and
//     globally. A mutation is durable only once its record row exists; the
//     canonical tables are never touched except by applying records inside
//     the same transaction (write-ahead ordering). Schema triggers abort
//     any UPDATE or DELETE against change_records.
//   - Canonical Store: canonical_nodes plus the time-scoped relations
//     adjacency table. Mutated only by applyChange dispatch from ledger
//     records; no direct write API exists.
//   - Proposal staging: document-oriented proposal rows awaiting a
//     canonization decision.
//   - Snapshots: immutable point-in-time payloads chained by parent id.
//
// # Concurrency
//
// SQLite runs in WAL mode so readers never block the single writer.
// Ledger appends are linearized per subject through optimistic version
// checks against subject_versions: an append carrying a stale expected
// version fails with ErrVersionMismatch and the caller retries with fresh
// state. All records of one transaction_id commit atomically; readers see
// a transaction entirely or not at all.
package store
