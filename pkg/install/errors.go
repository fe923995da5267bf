package install

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("invalid installation request")

	// ErrNotStaged is returned when installing a uuid that has no staged artifact.
	ErrNotStaged = errors.New("no staged artifact")

	// ErrDigestMismatch is returned when a copied artifact does not match its expected digest.
	ErrDigestMismatch = errors.New("artifact digest mismatch")

	// ErrUnknownFormat is returned for artifacts that are not zip, tar, tar.gz or tar.zst.
	ErrUnknownFormat = errors.New("unknown artifact format")

	// ErrUnsafePath is returned for archive entries that would land outside the install directory.
	ErrUnsafePath = errors.New("archive entry escapes install directory")
)

// ValidationError rejects a request before anything changes on disk.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
