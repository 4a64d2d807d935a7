// Package harness runs activation scenarios against the real state machine.
//
// A scenario seeds the store (device identity, tokens, a checkpoint), feeds
// a flow of events, and asserts on the resulting trace and final state.
// Outbound requests go to a scripted dispatcher: a request is answered
// immediately when the scenario scripts a response for its kind, otherwise
// it stays outstanding until a flow step resolves it.
//
// # Scenario Format
//
//	name: scenario_name
//	description: "What this scenario validates"
//	setup:
//	  update_token: tok123
//	  registration_token: { type: fcm, token: abc }
//	  state: WaitingForNewDeviceToken
//	  pending:
//	    - event: RegistrationUpdated
//	script:
//	  register:
//	    - event: RegistrationTokenReceived
//	      update_token: tok123
//	flow:
//	  - event: UserActivateRequested
//	    expect: { state: WaitingForDeviceToken }
//	  - resolve: update
//	    event: RegistrationUpdateFailed
//	    error: network timeout
//	  - restart: true
//	assertions:
//	  - type: requests
//	    values: [register]
//	  - type: callbacks
//	    values: [activated]
//	  - type: final_state
//	    expect: { state: WaitingForNewDeviceToken, update_token: tok123 }
//
// # Assertion Types
//
//   - requests: the exact sequence of outbound request kinds
//   - callbacks: the exact sequence of callbacks; failures read "name!"
//   - trace_order: the given transition events occur in this relative order
//   - trace_count: a transition event occurs exactly count times
//   - final_state: state, pending count, update and registration tokens
//
// # Deterministic Testing
//
// Every run uses a fresh in-memory store, the fixed device id "dev-1" and a
// synchronous dispatcher, so traces are byte-identical across runs and can
// be compared against golden files (see RunWithGolden).
package harness
