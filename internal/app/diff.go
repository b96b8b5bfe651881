package app

import (
	"fmt"

	"github.com/vk/kbuildgo/internal/configstore"
	"github.com/vk/kbuildgo/internal/kconfig"
)

// Diff returns the names of symbols whose value differs between two
// configuration files. Both files must exist.
func Diff(pathA, pathB string) ([]string, error) {
	a, err := loadExisting(pathA)
	if err != nil {
		return nil, err
	}
	b, err := loadExisting(pathB)
	if err != nil {
		return nil, err
	}
	return configstore.Diff(a, b), nil
}

func loadExisting(path string) (*kconfig.State, error) {
	s, found, err := configstore.New(path, Version).Load()
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("configuration file %s does not exist", path)
	}
	return s, nil
}
