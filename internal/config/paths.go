package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const (
	appName        = "sharepoint-go"
	configFileName = "config.toml"
	sessionDBName  = "upload-sessions.db"
)

// DefaultConfigDir returns the platform config directory: $XDG_CONFIG_HOME
// or ~/.config on Linux, ~/Library/Application Support on macOS.
func DefaultConfigDir() string {
	return platformDir("XDG_CONFIG_HOME", ".config")
}

// DefaultDataDir returns the platform data directory: $XDG_DATA_HOME or
// ~/.local/share on Linux, ~/Library/Application Support on macOS.
func DefaultDataDir() string {
	return platformDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// DefaultConfigPath returns the config file path inside DefaultConfigDir.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

// DefaultSessionDBPath returns where persisted upload sessions live.
func DefaultSessionDBPath() string {
	dir := DefaultDataDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, sessionDBName)
}

func platformDir(xdgVar, homeRel string) string {
	if runtime.GOOS == "linux" {
		if xdg := os.Getenv(xdgVar); xdg != "" {
			return filepath.Join(xdg, appName)
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", appName)
	}

	return filepath.Join(home, homeRel, appName)
}
