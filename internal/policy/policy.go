// Package policy holds the static decisions the scanner and the quarantine
// store consult: which paths and packages belong to the engine itself, which
// publishers are trusted, which byte-pattern terms are specific enough to
// count, and where a restored file may be written.
package policy

import (
	"os"
	"path/filepath"
	"strings"
)

// Canonical returns the absolute, cleaned form of p with symlinks resolved
// for the longest existing ancestor. Missing trailing components are kept.
func Canonical(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	abs = filepath.Clean(abs)

	existing := abs
	var rest []string
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return abs, nil
		}
		rest = append([]string{filepath.Base(existing)}, rest...)
		existing = parent
	}

	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return abs, nil
	}
	return filepath.Join(append([]string{resolved}, rest...)...), nil
}

// isUnder reports whether p equals dir or lies below it. Both must be canonical.
func isUnder(p, dir string) bool {
	if dir == "" {
		return false
	}
	if p == dir {
		return true
	}
	if !strings.HasSuffix(dir, string(filepath.Separator)) {
		dir += string(filepath.Separator)
	}
	return strings.HasPrefix(p, dir)
}

func canonicalAll(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		c, err := Canonical(p)
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return out
}
