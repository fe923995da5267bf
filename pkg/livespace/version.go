package livespace

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/bft-labs/livespace/pkg/lifecycle"
	"github.com/bft-labs/livespace/pkg/log"
)

// Version is the livespace release.
const Version = "0.3.0"

type moduleVersion struct {
	name       string
	version    string
	minVersion string
}

var modules = []moduleVersion{
	{"lifecycle", lifecycle.Version, lifecycle.MinCompatibleVersion},
	{"log", log.Version, log.MinCompatibleVersion},
}

// validateModuleVersions fails if a bundled module is older than the
// version it declares compatible.
func validateModuleVersions() error {
	for _, m := range modules {
		ok, err := isVersionCompatible(m.version, m.minVersion)
		if err != nil {
			return fmt.Errorf("module %s: %w", m.name, err)
		}
		if !ok {
			return fmt.Errorf("module %s version %s is below minimum compatible version %s",
				m.name, m.version, m.minVersion)
		}
	}
	return nil
}

func isVersionCompatible(version, minVersion string) (bool, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false, err
	}
	c, err := semver.NewConstraint(">= " + minVersion)
	if err != nil {
		return false, err
	}
	return c.Check(v), nil
}
