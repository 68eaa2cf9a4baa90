// Package gate implements the canonization gate and contradiction detector.
//
// Proposals flow in through a lock-free intake queue drained by a
// single-writer service loop. A canonization run evaluates a scope's
// pending batch: validate, threshold on effective weight, detect
// contradictions against live canon and the rest of the batch, then commit
// each surviving proposal as its own ledger transaction. Decisions are
// idempotent: re-running a scope returns the cached outcome for anything
// already decided.
//
// Concurrency model:
//   - Submit / SubmitProposal: safe from any goroutine
//   - RunCanonization: serialized per scope by an internal mutex map;
//     disjoint scopes run concurrently
//   - all canonical-store mutations go through store.AppendTransaction
package gate
