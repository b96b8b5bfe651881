package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultProjectFile is looked up in the source root when no project file
// is named explicitly.
const DefaultProjectFile = "kbuild.yaml"

// ProjectFile is the on-disk form of kbuild.yaml. Relative paths are
// relative to the directory holding the file.
type ProjectFile struct {
	SourceRoot   string            `yaml:"source_root"`
	Declarations []string          `yaml:"declarations"`
	Config       string            `yaml:"config"`
	Output       string            `yaml:"output"`
	Arch         string            `yaml:"arch"`
	CrossCompile string            `yaml:"cross_compile"`
	Jobs         int               `yaml:"jobs"`
	Fingerprint  string            `yaml:"fingerprint"`
	Report       string            `yaml:"report"`
	Commands     map[string]string `yaml:"commands"`
	Events       struct {
		URL       string `yaml:"url"`
		Namespace string `yaml:"namespace"`
	} `yaml:"events"`

	dir string
}

// LoadProjectFile reads a project file. When required is false a missing
// file yields (nil, nil).
func LoadProjectFile(path string, required bool) (*ProjectFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read project file: %w", err)
	}

	var pf ProjectFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse project file %s: %w", path, err)
	}
	abs, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project directory: %w", err)
	}
	pf.dir = abs
	return &pf, nil
}

// path resolves p against the project directory; "" stays "".
func (pf *ProjectFile) path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(pf.dir, p)
}
