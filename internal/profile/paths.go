package profile

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.tribe, or $TRIBE_HOME when set.
func BaseDir() string {
	if dir := os.Getenv("TRIBE_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".tribe")
}

// Dir returns the profile-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// SocketPath returns the daemon control socket for a profile.
func SocketPath(name string) string {
	return filepath.Join(Dir(name), "tribed.sock")
}

// LockPath returns the lock file path for a profile.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// DBPath returns the profile database holding the keystore and drafts.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "tribe.db")
}

// CacheDir returns the directory holding cached payload files.
func CacheDir(name string) string {
	return filepath.Join(Dir(name), "cache")
}

// LogDir returns the log directory for a profile.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "tribed.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the profile directory tree with owner-only permissions.
func EnsureDir(name string) error {
	for _, d := range []string{Dir(name), LogDir(name), CacheDir(name)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
