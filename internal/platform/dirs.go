// Package platform resolves per-user locations for models, transient audio,
// logs and the config file.
package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const appName = "voxserve"

// Subdirectories of the data directory.
const (
	ModelsDir = "models"
	SpoolDir  = "spool"
	LogsDir   = "logs"
)

const configFileName = "config.toml"

func DataDirFor(goos, homeDir, xdgDataHome, sub string) (string, error) {
	if homeDir == "" {
		return "", errors.New("home directory is empty")
	}

	var base string
	switch goos {
	case "linux":
		if xdgDataHome != "" {
			base = filepath.Join(xdgDataHome, appName)
		} else {
			base = filepath.Join(homeDir, ".local", "share", appName)
		}
	case "darwin":
		base = filepath.Join(homeDir, "Library", "Application Support", appName)
	default:
		return "", fmt.Errorf("unsupported OS: %s", goos)
	}
	return filepath.Join(base, sub), nil
}

func ConfigFileFor(goos, homeDir, xdgConfigHome string) (string, error) {
	if homeDir == "" {
		return "", errors.New("home directory is empty")
	}

	switch goos {
	case "linux":
		if xdgConfigHome != "" {
			return filepath.Join(xdgConfigHome, appName, configFileName), nil
		}
		return filepath.Join(homeDir, ".config", appName, configFileName), nil
	case "darwin":
		return filepath.Join(homeDir, "Library", "Application Support", appName, configFileName), nil
	default:
		return "", fmt.Errorf("unsupported OS: %s", goos)
	}
}

// ResolveDataDir returns override when set, otherwise the sub directory of
// the per-user data directory.
func ResolveDataDir(sub, override string) (string, error) {
	if override != "" {
		return filepath.Clean(override), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}
	return DataDirFor(runtime.GOOS, homeDir, os.Getenv("XDG_DATA_HOME"), sub)
}

func ResolveConfigFile() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}
	return ConfigFileFor(runtime.GOOS, homeDir, os.Getenv("XDG_CONFIG_HOME"))
}
