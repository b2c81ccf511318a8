// Package harness runs workflow scenarios described in YAML against a real
// runtime and checks the resulting trace.
//
// # Scenario Format
//
//	name: checkout_approved
//	description: "A small order is priced and approved"
//	submit:
//	  - target: checkout
//	    key: o1
//	    input: { amount: 10 }
//	  - target: checkout
//	    key: o2
//	    input: { amount: -5 }
//	    rejected: true
//	expect:
//	  - key: o1
//	    output: true
//	assertions:
//	  - type: trace_order
//	    components: [checkout, priceCalc, riskCheck]
//	  - type: trace_count
//	    component: priceCalc
//	    count: 1
//	  - type: final_state
//	    workflow: checkout
//	    instances: 0
//
// Every submission replies to engine.Inbox(key); expect clauses compare the
// output found there. A rejected submission must fail input validation.
//
// # Assertion Types
//
//   - trace_contains: an event of the component (optionally with stream and
//     outcome) was processed
//   - trace_order: the components were first seen in this order
//   - trace_count: the component processed exactly N events (optionally
//     only those with an outcome)
//   - final_state: counts of suspended instances, pending and parked items
//     of a workflow after the run
//
// # Deterministic Testing
//
// Each scenario runs on a fresh in-memory backend whose clock is frozen
// (testutil.ManualClock), and events are processed with Runtime.Drain, which
// polls the registered loops in registration order. The same scenario always
// produces the same trace, so traces can be compared with golden files.
package harness
