// Package reconstruct derives historical state from the change ledger.
//
// A Projection is an in-memory view of one subject: node fields, tag set,
// and relation windows. StateAt starts from the live projection and
// reverse-applies ledger records newer than the target instant; every
// change type dispatches through a registered apply/reverse pair, and an
// unknown type fails closed rather than guessing.
//
// Revert never rewrites history: it records the differences back to the
// target state as new forward records, so the ledger only grows.
package reconstruct
