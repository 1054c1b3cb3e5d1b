package config

import (
	"os"
	"os/user"
	"path/filepath"
)

// ExecMode represents the execution mode of the application.
type ExecMode string

const (
	// ExecModeUser scans and stores data under the invoking user's home.
	ExecModeUser ExecMode = "user"
	// ExecModeSystem runs as root with system-wide data and scan roots.
	ExecModeSystem ExecMode = "system"
)

// modeDefaults holds the paths that depend on execution mode.
type modeDefaults struct {
	DataDir   string
	AppsDir   string
	ScanRoots []string
}

// DetectExecMode determines the execution mode based on effective UID.
func DetectExecMode() ExecMode {
	if os.Geteuid() == 0 {
		return ExecModeSystem
	}
	return ExecModeUser
}

// String returns a human-readable description of the mode.
func (m ExecMode) String() string {
	switch m {
	case ExecModeSystem:
		return "system (root, machine-wide)"
	case ExecModeUser:
		return "user (non-root, home directory)"
	default:
		return "unknown"
	}
}

func defaultsFor(mode ExecMode) modeDefaults {
	if mode == ExecModeSystem {
		return modeDefaults{
			DataDir:   "/var/lib/shieldscan",
			AppsDir:   "/var/lib/shieldscan/apps",
			ScanRoots: []string{"/home", "/tmp", "/srv"},
		}
	}

	home := GetRealUserHome()
	return modeDefaults{
		DataDir: filepath.Join(home, ".shieldscan"),
		AppsDir: filepath.Join(home, ".shieldscan", "apps"),
		ScanRoots: []string{
			filepath.Join(home, "Downloads"),
			filepath.Join(home, "Desktop"),
			filepath.Join(home, "Documents"),
		},
	}
}

// GetRealUserHome returns the real user's home directory, even when running under sudo.
// Under sudo, os.UserHomeDir() returns root's home, so we use SUDO_USER to find the real user.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}
