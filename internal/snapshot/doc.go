// Package snapshot captures, diffs, and restores immutable point-in-time
// copies of canonical state.
//
// A snapshot is a canonical-JSON payload of one scope's nodes and
// relations, content-addressed and chained to its predecessor. Capture is
// a synchronous read and takes no write locks. Restore never bypasses
// canonization: each difference between the snapshot and current state is
// resubmitted as a GM-authority proposal, so restored changes are
// contradiction-checked and land in the ledger like any other decision.
package snapshot
