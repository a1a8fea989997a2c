// Package harness runs ledger scenarios against a real engine.
//
// A scenario is a YAML file that drives transitions through an engine backed
// by a fresh in-memory store, checks each step's outcome, then evaluates
// assertions over the emitted notifications and the final records.
//
// # Scenario Format
//
//	name: sale_lifecycle
//	description: "Report, sell, burn and finalize"
//	namespace: coop            # optional, defaults to "scenario"
//	asset_field: enx_mint      # optional, defaults to credit_mint
//	setup:
//	  - transition: initialize_pool
//	    caller: payer
//	    args: { authority: operator, credit_mint: mint }
//	flow:
//	  - transition: burn_and_mark
//	    caller: alice
//	    args: { sale_id: 0, amount: 400000 }
//	    expect:
//	      payload: { remaining_accrued: 600000 }
//	  - transition: burn_and_mark
//	    caller: alice
//	    args: { sale_id: 0, amount: 1 }
//	    expect:
//	      error: ALREADY_EXISTS
//	assertions:
//	  - type: final_state
//	    record: position
//	    owner: alice
//	    expect: { accrued: 600000 }
//
// Setup steps must succeed. A flow step without expect must succeed too;
// expect.error names the failure code a step must produce instead.
//
// # Assertion Types
//
//   - event_emitted: a notification with the given name (and payload subset) exists
//   - event_order: the named events appear in this relative order
//   - event_count: the named event appears exactly count times
//   - final_state: a record's fields match expect (subset)
//   - audit_clean: the invariant audit reports no violations
//
// # Deterministic Traces
//
// Request IDs come from a sequential generator and the store is fresh per
// run, so a scenario always produces the same trace. Golden files hold the
// trace without content hashes or request IDs.
package harness
