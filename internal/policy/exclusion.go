package policy

import (
	"strings"

	"github.com/eliteGoblin/shieldscan/internal/domain"
)

// SelfExclusion identifies the engine's own managed storage and package.
// The engine's signature data necessarily contains malware byte patterns,
// so these paths must always scan Clean.
type SelfExclusion struct {
	prefixes  []string
	packageID string
}

// NewSelfExclusion creates the predicate from configured paths (files or
// directories) and the engine's own package identifier.
func NewSelfExclusion(paths []string, packageID string) *SelfExclusion {
	return &SelfExclusion{
		prefixes:  canonicalAll(paths),
		packageID: strings.ToLower(strings.TrimSpace(packageID)),
	}
}

// IsSelfManaged reports whether path lies inside engine-owned storage.
func (s *SelfExclusion) IsSelfManaged(path string) bool {
	if path == "" {
		return false
	}
	c, err := Canonical(path)
	if err != nil {
		return false
	}
	for _, prefix := range s.prefixes {
		if isUnder(c, prefix) {
			return true
		}
	}
	return false
}

// IsSelfPackage reports whether packageID is the engine's own package.
func (s *SelfExclusion) IsSelfPackage(packageID string) bool {
	return s.packageID != "" && strings.ToLower(strings.TrimSpace(packageID)) == s.packageID
}

// Paths returns the canonical excluded prefixes.
func (s *SelfExclusion) Paths() []string {
	return append([]string(nil), s.prefixes...)
}

// Ensure SelfExclusion implements domain.ExclusionPolicy.
var _ domain.ExclusionPolicy = (*SelfExclusion)(nil)
