// Package lifecycle runs live activities through their lifecycle.
//
// ActivityState enumerates the states of an activity. Machine holds the
// current state of one activity and enforces the transition graph:
//
//	UNKNOWN -> READY                       (configure)
//	READY -> STARTUP_ATTEMPT -> RUNNING    (or STARTUP_FAILURE)
//	RUNNING -> ACTIVATE_ATTEMPT -> ACTIVE  (or ACTIVATE_FAILURE)
//	ACTIVE -> DEACTIVATE_ATTEMPT -> RUNNING (or DEACTIVATE_FAILURE)
//	RUNNING/ACTIVE -> SHUTDOWN_ATTEMPT -> READY (or SHUTDOWN_FAILURE)
//	any -> CRASHED                         (asynchronous fault)
//
// Guard serializes lifecycle calls on one activity. Runner combines the
// two with the hosted code: every call enters the guard, fires the
// attempt event, runs the hosted entry point and fires the done or
// failed event chosen from the call's Result.
//
// Transition and PlanFor express goals as ordered steps for the goal
// package.
//
// # Version
//
// Current version: 2.0.0
// Minimum compatible version: 2.0.0
//
// See version.go for version constants that can be used programmatically.
package lifecycle
