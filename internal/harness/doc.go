// Package harness runs scripted canonization scenarios end to end.
//
// A scenario is a YAML file describing a sequence of steps against a fresh
// store: proposal submissions, canonization runs, time advances, reverts,
// snapshot captures, and restores. After the steps run, assertions check
// canonical state, stored decisions, relations, and reconstructed history.
//
// # Scenario Format
//
//	name: entity_becomes_canon
//	description: "What this scenario validates"
//	scope: ravenholm
//	steps:
//	  - submit:
//	      id: prop-entity
//	      kind: entity
//	      authority: gm
//	      confidence_ppm: 1000000
//	      node_id: n-elira
//	      node_kind: character
//	      tags: [alive]
//	  - canonize: true
//	  - advance_time: 5000
//	assertions:
//	  - type: node_state
//	    node: n-elira
//	    tags: [alive]
//
// # Assertion Types
//
//   - node_state: node existence, status, exact tags, attr subset
//   - decision: a proposal's stored status and rationale
//   - relation: whether a relation is open between a subject and object
//   - history_count: exact ledger record count for a subject
//   - state_at: reconstructed tags/attrs at a past instant
//
// # Deterministic Execution
//
// Every run uses a frozen wall clock (testutil.WallClock), a fresh logical
// clock, and sequential tokens (testutil.SeqTokenGenerator), so repeated
// runs of a scenario produce byte-identical traces. Traces serialize as
// canonical JSON for golden comparison with goldie.
package harness
