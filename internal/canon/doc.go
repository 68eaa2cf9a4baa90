// Package canon provides the foundational types for the canonization engine.
//
// This package contains type definitions and deterministic serialization
// only. All other internal packages import canon; canon imports nothing
// internal. This keeps it the foundational layer with no circular
// dependencies.
//
// Key design constraints:
//   - No floats inside stored values - confidence is carried as
//     parts-per-million int64 so hashing and replay stay deterministic
//   - All JSON tags use snake_case
//   - Record identity is content-addressed (SHA-256 with domain separation)
//   - Wall-clock timestamps are unix milliseconds; the seq field is a
//     logical clock and is the authoritative ordering
package canon
