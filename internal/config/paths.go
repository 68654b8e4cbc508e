package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Home returns the codegraph data directory.
// Priority: $CODEGRAPH_HOME -> $XDG_CACHE_HOME/codegraph -> ~/.cache/codegraph (Unix) / %LOCALAPPDATA%\codegraph (Windows)
func Home() (string, error) {
	if home := os.Getenv("CODEGRAPH_HOME"); home != "" {
		return home, nil
	}

	if runtime.GOOS != "windows" {
		if xdgCache := os.Getenv("XDG_CACHE_HOME"); xdgCache != "" {
			return filepath.Join(xdgCache, "codegraph"), nil
		}
	}

	userHome, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(userHome, "AppData", "Local", "codegraph"), nil
	default:
		return filepath.Join(userHome, ".cache", "codegraph"), nil
	}
}

// StorePath is the default location of the graph database under home.
func StorePath(home string) string {
	return filepath.Join(home, "graph.db")
}

// ConfigPath is the default config file under home.
func ConfigPath(home string) string {
	return filepath.Join(home, "config.yaml")
}

// EnsureDirectories creates the directories the configuration points at.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Home, filepath.Dir(c.StorePath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
