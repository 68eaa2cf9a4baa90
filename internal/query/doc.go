// Package query provides a small filter IR for searching the canonical
// graph, compiled to parameterized SQLite.
//
// Callers build a Query from Filter values and hand it to the store,
// which compiles it to one SELECT over the canonical node table.
// Filters are conjunctive; disjunction is expressed as separate
// queries.
//
// SEALED INTERFACE:
//
// Filter is sealed using the marker method pattern. Only types in this
// package implement it, so the compiler's type switch is exhaustive and
// external packages cannot inject unsupported conditions.
//
// DETERMINISM:
//
// Every compiled statement orders results by node id with a binary
// collation, so the same query against the same store always returns
// the same rows in the same order. All user-supplied values, including
// json_extract paths, travel as SQL parameters and are never
// interpolated into the statement text.
package query
