// Package rules holds the declared constants of the canonization engine:
// the authority weight table, the minimum effective weight, and the
// exclusivity declarations the contradiction detector evaluates.
//
// Rules are data, not code. They are authored in CUE and compiled through
// the CUE Go API (never a CLI subprocess); a default ruleset ships embedded
// so the engine runs without any external configuration. Exclusivity is
// always declared - the detector never infers that two states, relation
// types, or places conflict.
package rules
