package domain

import "time"

// ActivityStatus is the transport value of an activity state.
type ActivityStatus string

const (
	StatusUnknown           ActivityStatus = "unknown"
	StatusDoesntExist       ActivityStatus = "doesnt_exist"
	StatusDeployFailure     ActivityStatus = "deploy_failure"
	StatusReady             ActivityStatus = "ready"
	StatusStartupAttempt    ActivityStatus = "startup_attempt"
	StatusStartupFailure    ActivityStatus = "startup_failure"
	StatusRunning           ActivityStatus = "running"
	StatusActivateAttempt   ActivityStatus = "activate_attempt"
	StatusActivateFailure   ActivityStatus = "activate_failure"
	StatusActive            ActivityStatus = "active"
	StatusDeactivateAttempt ActivityStatus = "deactivate_attempt"
	StatusDeactivateFailure ActivityStatus = "deactivate_failure"
	StatusShutdownAttempt   ActivityStatus = "shutdown_attempt"
	StatusShutdownFailure   ActivityStatus = "shutdown_failure"
	StatusCrash             ActivityStatus = "crash"
)

// ReportKind says what a StatusReport describes.
type ReportKind string

const (
	// ReportActivity is a confirmed lifecycle transition.
	ReportActivity ReportKind = "activity"
	// ReportFull is one activity's current state sent in answer to a status command.
	ReportFull ReportKind = "full"
	// ReportDeploy is the outcome of a deploy command.
	ReportDeploy ReportKind = "deploy"
	// ReportDelete is the outcome of a delete command.
	ReportDelete ReportKind = "delete"
	// ReportHeartbeat carries no activity.
	ReportHeartbeat ReportKind = "heartbeat"
)

// Outcome values for deploy and delete reports.
const (
	OutcomeSuccess     = "success"
	OutcomeFailure     = "failure"
	OutcomeDoesntExist = "doesnt_exist"
)

// StatusReport travels from a node to the master.
type StatusReport struct {
	NodeUUID     string         `json:"node_uuid"`
	Kind         ReportKind     `json:"kind"`
	ActivityUUID string         `json:"activity_uuid,omitempty"`
	Status       ActivityStatus `json:"status,omitempty"`
	Outcome      string         `json:"outcome,omitempty"`
	Detail       string         `json:"detail,omitempty"`
	// Seq increases by one for every report a node sends.
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
}
