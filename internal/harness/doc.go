// Package harness runs end-to-end sync scenarios described in YAML.
//
// A scenario fixes one resource and the entities its extraction yields, seeds
// the in-memory CRM, then runs the orchestrator one or more times against a
// real SQLite ledger. Each run may queue CRM failures and state what it
// expects; assertions afterwards check the recorded CRM call trace, the
// ledger and the remote records.
//
// # Scenario Format
//
//	name: sarah_demo_lifecycle
//	description: "First run creates, re-run skips, forced run patches"
//	run_id: run-0001
//	resource:
//	  id: "<msg-123>"
//	  subject: Demo request
//	entities:
//	  companies:
//	    - domain: cyberdyne.ai
//	      name: Cyberdyne Systems
//	  contacts:
//	    - email: sarah@cyberdyne.ai
//	seed:
//	  - type: company
//	    key: cyberdyne.ai
//	runs:
//	  - force: false
//	    failures:
//	      - op: find
//	        code: REMOTE_UNAVAILABLE
//	        count: 2
//	    expect:
//	      status: success
//	      calls: { find: 4, create: 1 }
//	assertions:
//	  - type: trace_count
//	    op: create
//	    count: 1
//	  - type: final_state
//	    table: ledger
//	    where: { resource_id: "<msg-123>" }
//	    expect: { status: completed }
//
// # Assertion Types
//
//   - trace_contains: a call with the given op (and optional type, key, id)
//     was made
//   - trace_order: the first calls of the listed ops appear in that order
//   - trace_count: op was called exactly count times
//   - final_state: the ledger row (table: ledger, where resource_id) or the
//     remote record (table: company|contact, where key) holds the expected
//     values
//   - record_count: the CRM holds count records of table's type
//
// Assertions and trace_* take an optional run (1-based) restricting them to
// the calls of that run.
//
// # Deterministic Testing
//
// Runs use a fixed run id, a stepping clock and a retry policy that never
// sleeps, so the call trace is byte-identical across executions and can be
// compared with a golden file (RunWithGolden).
package harness
