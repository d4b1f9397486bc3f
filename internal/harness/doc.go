// Package harness runs tracker scenarios as executable conformance tests.
//
// A scenario scripts the backend, feeds host messages and commands to a
// tracker driven by a fake clock, and checks the resulting notification
// trace and session log.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: device_flow_login
//	description: "Polling until validation logs the user in"
//	start: 2026-01-01T00:00:00Z
//	webpage_domain: example.com/
//	gateway:
//	  announce_device_flow:
//	    - login_url: https://login.example.com/abc
//	  get_device_flow_status:
//	    - validated: false
//	    - validated: true
//	      user_id: u-1
//	steps:
//	  - command: startDeviceFlow
//	  - advance: 4s
//	  - message: {data: {type: pageView, attributes: {organisation_id: null, user_id: null}}}
//	  - raw: '{"data": 5}'
//	expect:
//	  notifications: [userLoggedIn]
//	  records: {deviceFlowValidated: 1}
//	  errors: [MALFORMED_ENVELOPE]
//
// Each gateway operation answers from its reply list in order; the last
// reply is sticky. Operations without replies fail with a connection error.
// A reply's outcome defaults to success.
//
// # Trace
//
// The trace lists, per step, every notification the tracker raised plus
// the harness's own events: "deviceFlowStarted" (the onStart callback),
// "endModuleSession" (the done callback) and "error" (a message the tracker
// rejected). Errors are reduced to stable codes so traces can be compared
// against golden files:
//
//	go test ./internal/harness -update
//
// # Determinism
//
// Time only moves on advance steps and every step runs until the tracker
// is quiescent before the next one starts.
package harness
