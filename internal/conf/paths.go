package conf

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/tracklist/tracklist/internal/errors"
)

const configFileName = "config.yaml"

// SearchPaths returns the directories Load looks in for config.yaml, in
// order. TRACKLIST_CONFIG_DIR replaces the list. When a directory already
// holds config.yaml only that directory is returned.
func SearchPaths() ([]string, error) {
	if dir := os.Getenv("TRACKLIST_CONFIG_DIR"); dir != "" {
		return []string{dir}, nil
	}

	paths, err := platformPaths()
	if err != nil {
		return nil, errors.New(err).
			Component("configuration").
			Category(errors.CategorySystem).
			Context("operation", "resolve_config_paths").
			Build()
	}
	for _, dir := range paths {
		if _, err := os.Stat(filepath.Join(dir, configFileName)); err == nil {
			return []string{dir}, nil
		}
	}
	return paths, nil
}

func platformPaths() ([]string, error) {
	if runtime.GOOS == "windows" {
		exe, err := os.Executable()
		if err != nil {
			return nil, err
		}
		appData, err := os.UserConfigDir()
		if err != nil {
			return nil, err
		}
		return []string{filepath.Dir(exe), filepath.Join(appData, "tracklist")}, nil
	}

	paths := []string{"."}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, "tracklist"))
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		paths = append(paths, filepath.Join(home, ".config", "tracklist"))
	}
	return append(paths, "/etc/tracklist"), nil
}
