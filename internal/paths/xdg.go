package paths

import (
	"os"
	"path/filepath"
)

const appName = "sidecar"

func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	h, _ := os.UserHomeDir()
	return h
}

func xdgDir(envVar string, fallback ...string) string {
	if v := os.Getenv(envVar); v != "" {
		return filepath.Join(v, appName)
	}
	parts := append([]string{homeDir()}, fallback...)
	return filepath.Join(append(parts, appName)...)
}

// ConfigDir returns the sidecar config directory ($XDG_CONFIG_HOME/sidecar).
func ConfigDir() string {
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

// CacheDir returns the result cache directory ($XDG_CACHE_HOME/sidecar).
func CacheDir() string {
	return xdgDir("XDG_CACHE_HOME", ".cache")
}

// StateDir returns the sidecar state directory ($XDG_STATE_HOME/sidecar).
func StateDir() string {
	return xdgDir("XDG_STATE_HOME", ".local", "state")
}

// RuntimeDir returns the directory holding the daemon socket, state and lock.
// SIDECAR_RUNTIME_DIR wins over XDG_RUNTIME_DIR; without either it falls
// back to StateDir.
func RuntimeDir() string {
	if v := os.Getenv("SIDECAR_RUNTIME_DIR"); v != "" {
		return v
	}
	if v := os.Getenv("XDG_RUNTIME_DIR"); v != "" {
		return filepath.Join(v, appName)
	}
	return StateDir()
}

// ConfigFile returns the path to config.toml.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// LogFile is the default daemon log file when logging to a file is enabled
// without an explicit path.
func LogFile() string {
	return filepath.Join(StateDir(), "daemon.log")
}

// SocketPath returns the path to the daemon Unix socket.
func SocketPath() string {
	return filepath.Join(RuntimeDir(), "daemon.sock")
}

// StatePath returns the path to the daemon state file (contains nonce).
func StatePath() string {
	return filepath.Join(RuntimeDir(), "daemon.state")
}

// LockPath returns the path to the daemon spawn lock.
func LockPath() string {
	return filepath.Join(RuntimeDir(), "daemon.lock")
}

// StartupLogPath captures the stderr of a daemon spawned by the CLI, so a
// failed start can be reported.
func StartupLogPath() string {
	return filepath.Join(RuntimeDir(), "daemon.err")
}

// EnsureDir creates a directory and parents if needed.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o700)
}
