package paths

import (
	"os"
	"path/filepath"
)

// DefaultSocketPath is the well-known endpoint of the daemon's unary RPC socket.
const DefaultSocketPath = "/tmp/opencli.sock"

// DefaultDaemonPath is the home-relative location of the daemon executable.
const DefaultDaemonPath = ".opencli/bin/opencli-daemon"

func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	h, _ := os.UserHomeDir()
	return h
}

func xdgDir(envVar, fallbackSuffix string) string {
	if v := os.Getenv(envVar); v != "" {
		return filepath.Join(v, "opencli")
	}
	return filepath.Join(homeDir(), fallbackSuffix, "opencli")
}

// ConfigDir returns the opencli config directory ($XDG_CONFIG_HOME/opencli).
func ConfigDir() string {
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

// StateDir returns the opencli state directory ($XDG_STATE_HOME/opencli).
func StateDir() string {
	return xdgDir("XDG_STATE_HOME", filepath.Join(".local", "state"))
}

// RuntimeDir returns the opencli runtime directory for locks.
// Falls back to $XDG_STATE_HOME/opencli if XDG_RUNTIME_DIR is unset.
func RuntimeDir() string {
	if v := os.Getenv("XDG_RUNTIME_DIR"); v != "" {
		return filepath.Join(v, "opencli")
	}
	return StateDir()
}

// ConfigFile returns the path to config.toml.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// JournalPath returns the path to the SQLite task journal.
func JournalPath() string {
	return filepath.Join(StateDir(), "tasks.db")
}

// LockPath returns the path to the daemon spawn lock.
func LockPath() string {
	return filepath.Join(RuntimeDir(), "spawn.lock")
}

// HomeRelative resolves a path relative to the user's home directory.
// Absolute paths are returned unchanged and a leading "~/" is stripped.
func HomeRelative(p string) string {
	if p == "" {
		return ""
	}
	if filepath.IsAbs(p) {
		return p
	}
	if len(p) >= 2 && p[0] == '~' && p[1] == '/' {
		p = p[2:]
	} else if p == "~" {
		return homeDir()
	}
	return filepath.Join(homeDir(), p)
}

// DaemonBinary returns the default daemon executable path.
func DaemonBinary() string {
	return HomeRelative(DefaultDaemonPath)
}

// EnsureDir creates a directory and parents if needed.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0700)
}
