// Package harness provides conformance testing for the recording and
// replay pipeline.
//
// Scenarios record a session through the built-in demo functions,
// optionally replay some of the recorded calls, and assert on what the
// store ended up containing.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	greeting: "Hello"
//	rolls: [3, 5]
//	record:
//	  - call: demo.Add
//	    args: { a: 1, b: 2 }
//	replay:
//	  - call: demo.Add
//	    record: true
//	    expect:
//	      state: committed
//	      value: 3
//	assertions:
//	  - type: call_count
//	    function: demo.Add
//	    count: 1
//
// # Assertion Types
//
// The following assertion types are supported:
//
//   - call_count: a function was recorded exactly N times in the session
//   - call_order: named functions appear in the session in order
//   - paired: every recorded call reached a terminal outcome
//   - branch_count: exactly N branch roots exist in the store
//   - session_count: exactly N sessions exist in the store
//
// # Deterministic Testing
//
// Scenarios execute against a fresh in-memory database with a frozen
// clock, sequential record ids, and pinned dice rolls, so two runs of
// the same scenario produce byte-identical traces. Golden files under
// testdata/golden/ hold the expected traces.
//
// # Usage
//
// Load and run a scenario:
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/basic.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
