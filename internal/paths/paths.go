package paths

import (
	"os"
	"os/user"
	"path/filepath"
	"strconv"
)

const appDirName = "gephgui"

// DownloadDirName is the folder under the user cache root that holds the
// content-addressed update cache and its metadata file.
const DownloadDirName = "geph-dl"

// HomeDir returns the real user's home directory, even when running under sudo.
// Under sudo, os.UserHomeDir() returns /var/root (macOS) or /root (Linux),
// but we want the invoking user's home so that the lock file, logs and the
// update cache are in the same location regardless of privilege level.
func HomeDir() (string, error) {
	// SUDO_USER names the invoking user.
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		u, err := user.Lookup(sudoUser)
		if err == nil {
			return u.HomeDir, nil
		}
	}
	return os.UserHomeDir()
}

// RealUser returns the UID and GID of the real invoking user when running
// under sudo (via SUDO_UID / SUDO_GID). Returns ok=false when not under sudo.
func RealUser() (uid, gid int, ok bool) {
	sudoUID := os.Getenv("SUDO_UID")
	if sudoUID == "" {
		return 0, 0, false
	}
	u, err := strconv.ParseInt(sudoUID, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	var g int64
	if sudoGID := os.Getenv("SUDO_GID"); sudoGID != "" {
		g, _ = strconv.ParseInt(sudoGID, 10, 64)
	}
	return int(u), int(g), true
}

// ChownToRealUser changes the owner of path to the real invoking user when
// running under sudo. It is a no-op when not under sudo.
func ChownToRealUser(path string) {
	if uid, gid, ok := RealUser(); ok {
		os.Chown(path, uid, gid)
	}
}

// CacheRoot returns the platform user cache directory (~/.cache on Linux,
// ~/Library/Caches on macOS, %LocalAppData% on Windows).
func CacheRoot() (string, error) {
	if _, _, ok := RealUser(); ok {
		home, err := HomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".cache"), nil
	}
	return os.UserCacheDir()
}

// CacheDir returns <cache root>/gephgui, creating it if needed. Logs and the
// single-instance lock live here.
func CacheDir() (string, error) {
	root, err := CacheRoot()
	if err != nil {
		return "", err
	}
	return ensureDir(filepath.Join(root, appDirName))
}

// DownloadDir returns <cache root>/geph-dl, creating it if needed.
func DownloadDir() (string, error) {
	root, err := CacheRoot()
	if err != nil {
		return "", err
	}
	return ensureDir(filepath.Join(root, DownloadDirName))
}

// DataDir returns ~/.local/share/gephgui, creating it if needed.
// When running under sudo the directory is chowned to the real user so that
// later non-root invocations can access the database.
func DataDir() (string, error) {
	home, err := HomeDir()
	if err != nil {
		return "", err
	}
	return ensureDir(filepath.Join(home, ".local", "share", appDirName))
}

// ConfigDir returns the per-user configuration directory for gephgui,
// creating it if needed.
func ConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if _, _, sudo := RealUser(); sudo || err != nil {
		home, herr := HomeDir()
		if herr != nil {
			return "", herr
		}
		base = filepath.Join(home, ".config")
	}
	return ensureDir(filepath.Join(base, appDirName))
}

func ensureDir(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	ChownToRealUser(dir)
	return dir, nil
}
