package install

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ManifestFile is the optional descriptor at the root of an activity package.
const ManifestFile = "activity.yaml"

// Manifest describes a package. Every field is optional; request values
// win where both are set, except Configuration which is merged.
type Manifest struct {
	IdentifyingName string            `yaml:"name"`
	Version         string            `yaml:"version"`
	Type            string            `yaml:"type"`
	Executable      string            `yaml:"executable"`
	Configuration   map[string]string `yaml:"configuration"`
}

// ReadManifest loads dir/activity.yaml. A missing file yields a nil
// manifest and no error.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", ManifestFile, err)
	}
	return &m, nil
}
