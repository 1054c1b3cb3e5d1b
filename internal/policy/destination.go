package policy

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/eliteGoblin/shieldscan/internal/domain"
)

// SystemDirs returns platform system directories a restore may never target.
func SystemDirs(goos string) []string {
	switch goos {
	case "windows":
		return []string{`C:\Windows`, `C:\Program Files\WindowsApps`}
	case "darwin":
		return []string{
			"/System", "/bin", "/sbin", "/usr/bin", "/usr/sbin", "/usr/lib",
			"/etc", "/private/etc", "/Library/LaunchDaemons",
		}
	default:
		return []string{
			"/etc", "/bin", "/sbin", "/usr/bin", "/usr/sbin", "/usr/lib",
			"/lib", "/lib64", "/boot", "/proc", "/sys", "/dev",
			"/system", "/vendor",
		}
	}
}

// RestoreGuard rejects restore destinations inside engine-managed storage,
// inside a system directory, or containing a traversal token.
type RestoreGuard struct {
	managed []string
	system  []string
}

// NewRestoreGuard creates a guard for the given managed and system directories.
func NewRestoreGuard(managed, system []string) *RestoreGuard {
	return &RestoreGuard{
		managed: canonicalAll(managed),
		system:  canonicalAll(system),
	}
}

// NewDefaultRestoreGuard uses the current platform's system directories.
func NewDefaultRestoreGuard(managed []string) *RestoreGuard {
	return NewRestoreGuard(managed, SystemDirs(runtime.GOOS))
}

// Check validates p without touching the filesystem beyond resolving symlinks.
func (g *RestoreGuard) Check(p string) error {
	if strings.TrimSpace(p) == "" {
		return fmt.Errorf("%w: empty path", domain.ErrUnsafeDestination)
	}
	if hasTraversal(p) {
		return fmt.Errorf("%w: traversal token in %q", domain.ErrUnsafeDestination, p)
	}
	if !filepath.IsAbs(p) {
		return fmt.Errorf("%w: %q is not absolute", domain.ErrUnsafeDestination, p)
	}

	c, err := Canonical(p)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUnsafeDestination, err)
	}
	for _, dir := range g.managed {
		if isUnder(c, dir) {
			return fmt.Errorf("%w: %q is engine-managed", domain.ErrUnsafeDestination, c)
		}
	}
	for _, dir := range g.system {
		if isUnder(c, dir) {
			return fmt.Errorf("%w: %q is a system location", domain.ErrUnsafeDestination, c)
		}
	}
	return nil
}

func hasTraversal(p string) bool {
	for _, seg := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return true
		}
	}
	return false
}

// Ensure RestoreGuard implements domain.DestinationGuard.
var _ domain.DestinationGuard = (*RestoreGuard)(nil)
