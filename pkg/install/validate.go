package install

import (
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

var (
	uuidPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)
	namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*(\.[A-Za-z][A-Za-z0-9_-]*)*$`)
)

// ValidateUUID checks that uuid is usable as a roster key and a path segment.
func ValidateUUID(uuid string) error {
	if uuid == "" {
		return invalid("uuid", "empty")
	}
	if !uuidPattern.MatchString(uuid) || strings.Contains(uuid, "..") {
		return invalid("uuid", "%q must be letters, digits, '.', '_' or '-'", uuid)
	}
	return nil
}

// ValidateIdentifyingName checks a dotted identifying name such as
// "demo" or "com.example.demo".
func ValidateIdentifyingName(name string) error {
	if name == "" {
		return invalid("identifying name", "empty")
	}
	if len(name) > 255 || !namePattern.MatchString(name) {
		return invalid("identifying name", "%q must be dot-separated segments starting with a letter", name)
	}
	return nil
}

// ValidateVersion checks that version parses as a semantic version.
// Short forms such as "1.0" are accepted.
func ValidateVersion(version string) (*semver.Version, error) {
	if version == "" {
		return nil, invalid("version", "empty")
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return nil, invalid("version", "%q: %v", version, err)
	}
	return v, nil
}
