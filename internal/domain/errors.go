package domain

import (
	"errors"
	"fmt"
)

// Domain errors shared by the node and master runtimes.
// Check them with errors.Is.
var (
	// ErrAlreadyRunning is returned when Start() is called on a running instance.
	ErrAlreadyRunning = errors.New("livespace: already running")

	// ErrNotRunning is returned when Stop() is called on a stopped instance.
	ErrNotRunning = errors.New("livespace: not running")

	// ErrShutdownTimeout is returned when graceful shutdown times out.
	ErrShutdownTimeout = errors.New("livespace: shutdown timeout")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("livespace: invalid configuration")

	// ErrInvalidIdentity is matched by every *IdentityError.
	ErrInvalidIdentity = errors.New("livespace: invalid node identity")

	// ErrNodeNotRegistered is returned for traffic from a node the master has not accepted.
	ErrNodeNotRegistered = errors.New("livespace: node not registered")

	// ErrUnknownNode is returned when a command targets a node not in the fleet.
	ErrUnknownNode = errors.New("livespace: unknown node")

	// ErrUnknownActivity is returned when a command targets an activity that is not installed.
	ErrUnknownActivity = errors.New("livespace: unknown activity")

	// ErrUnknownCommand is returned for a command kind the receiver does not handle.
	ErrUnknownCommand = errors.New("livespace: unknown command")

	// ErrRejected is returned by a link when the receiver processed a
	// request and refused it. Retrying will not help.
	ErrRejected = errors.New("livespace: rejected by peer")

	// ErrUnknownActivityType is returned when no hosting variant matches an activity's type tag.
	ErrUnknownActivityType = errors.New("livespace: unknown activity type")
)

// IdentityError explains why a node registration was rejected.
type IdentityError struct {
	Field  string
	Reason string
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("invalid node %s: %s", e.Field, e.Reason)
}

// Is matches ErrInvalidIdentity.
func (e *IdentityError) Is(target error) bool { return target == ErrInvalidIdentity }
