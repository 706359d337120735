package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths is the set of directories and files cronos reads and writes,
// resolved from the XDG base directory environment variables.
type Paths struct {
	ConfigDir  string
	ConfigFile string
	DataDir    string
	DBFile     string
	RuntimeDir string
	SocketFile string
}

// ResolvePaths resolves cronos's XDG directories. No directories-style
// package is available anywhere in the pack, so this is hand-rolled
// against os.Getenv/os.UserHomeDir, following the same fallback rules
// the original daemon's path resolver used.
func ResolvePaths() (Paths, error) {
	configDir, err := xdgDir("XDG_CONFIG_HOME", ".config")
	if err != nil {
		return Paths{}, err
	}
	dataDir, err := xdgDir("XDG_DATA_HOME", ".local/share")
	if err != nil {
		return Paths{}, err
	}
	configDir = filepath.Join(configDir, "cronos")
	dataDir = filepath.Join(dataDir, "cronos")

	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir != "" {
		runtimeDir = filepath.Join(runtimeDir, "cronos")
	} else {
		runtimeDir = fmt.Sprintf("/tmp/cronos-%d", os.Geteuid())
	}

	return Paths{
		ConfigDir:  configDir,
		ConfigFile: filepath.Join(configDir, "config.toml"),
		DataDir:    dataDir,
		DBFile:     filepath.Join(dataDir, "cronos.db"),
		RuntimeDir: runtimeDir,
		SocketFile: filepath.Join(runtimeDir, "cronos.sock"),
	}, nil
}

// xdgDir returns $envVar if set, else $HOME/fallback.
func xdgDir(envVar, fallback string) (string, error) {
	if v := os.Getenv(envVar); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home directory: %w", err)
	}
	return filepath.Join(home, fallback), nil
}
