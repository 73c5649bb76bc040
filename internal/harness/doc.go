// Package harness runs scenario tests against the query dispatcher.
//
// # Scenario Format
//
// Scenarios are YAML files that seed runs and then issue requests:
//
//	name: snapshot_basics
//	description: "What this scenario validates"
//	runs:
//	  - id: run-1
//	    start_time: "2024-01-02T09:30:00Z"
//	    events:
//	      - id: e1
//	        type: PositionUpdate
//	        at: 1s
//	        category: Portfolio
//	        properties: { security: AAPL, quantity: 10, avg_price: 100 }
//	requests:
//	  - call: get_snapshot
//	    params: { run_id: run-1, timestamp: "2024-01-02T09:30:05Z" }
//	    expect:
//	      status: ok
//	      data: { run_id: run-1 }
//
// Event offsets ("at") are Go durations relative to the run's start_time.
// Severity defaults to Info and category to Execution.
//
// # Expectations
//
// expect.status is "ok" or "error"; expect.code matches the error code;
// expect.data is a subset match against the response data (objects may
// carry extra keys, arrays must match element by element).
//
// # Deterministic Testing
//
// Every scenario runs against a fresh in-memory store with a frozen query
// clock, so query_time_ms is always 0 and the request/response transcript
// is byte-stable for golden comparison.
package harness
