package domain

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	maxNameLength   = 128
	maxHostIDLength = 255
)

var (
	namePattern   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 ._-]*$`)
	hostIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]*$`)
)

// NodeIdentity is sent by a node when it registers with the master.
type NodeIdentity struct {
	UUID        string `json:"uuid"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	HostID      string `json:"host_id"`
	// Endpoint is where the master reaches the node's command API.
	// Empty for in-process nodes.
	Endpoint string `json:"endpoint,omitempty"`
}

// Validate applies the registration naming rules. The returned error is
// an *IdentityError.
func (n NodeIdentity) Validate() error {
	if _, err := uuid.Parse(n.UUID); err != nil {
		return &IdentityError{Field: "uuid", Reason: err.Error()}
	}
	if err := ValidateNodeName(n.Name); err != nil {
		return err
	}
	return ValidateHostID(n.HostID)
}

// ValidateNodeName checks a node's display name.
func ValidateNodeName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return &IdentityError{Field: "name", Reason: "empty"}
	case len(name) > maxNameLength:
		return &IdentityError{Field: "name", Reason: "longer than 128 characters"}
	case !namePattern.MatchString(name):
		return &IdentityError{Field: "name", Reason: "must start with a letter or digit and contain only letters, digits, spaces, '.', '_' or '-'"}
	}
	return nil
}

// ValidateHostID checks the host id a node reports.
func ValidateHostID(hostID string) error {
	switch {
	case hostID == "":
		return &IdentityError{Field: "host id", Reason: "empty"}
	case len(hostID) > maxHostIDLength:
		return &IdentityError{Field: "host id", Reason: "longer than 255 characters"}
	case !hostIDPattern.MatchString(hostID):
		return &IdentityError{Field: "host id", Reason: "must contain only letters, digits, '.', '_', ':' or '-'"}
	}
	return nil
}
