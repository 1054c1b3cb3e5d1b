package policy

import "strings"

// DefaultTrustedPublishers are namespace prefixes of widely deployed
// publishers whose permission profile trips the heuristics.
var DefaultTrustedPublishers = []string{
	"com.android",
	"com.google",
	"com.samsung",
	"com.microsoft",
	"com.whatsapp",
	"com.facebook",
	"org.mozilla",
	"com.apple",
}

// TrustedPublishers is a namespace-prefix allowlist over package identifiers.
// Trusted apps get only the signature check.
type TrustedPublishers struct {
	prefixes []string
}

// NewTrustedPublishers creates the allowlist. Prefixes are matched on
// dot boundaries, so "com.google" trusts "com.google.maps" but not
// "com.googleplus.fake".
func NewTrustedPublishers(prefixes []string) *TrustedPublishers {
	tp := &TrustedPublishers{}
	for _, p := range prefixes {
		p = strings.Trim(strings.ToLower(strings.TrimSpace(p)), ".")
		if p != "" {
			tp.prefixes = append(tp.prefixes, p)
		}
	}
	return tp
}

// IsTrusted reports whether packageID falls under a trusted namespace.
func (t *TrustedPublishers) IsTrusted(packageID string) bool {
	id := strings.ToLower(strings.TrimSpace(packageID))
	if id == "" {
		return false
	}
	for _, p := range t.prefixes {
		if id == p || strings.HasPrefix(id, p+".") {
			return true
		}
	}
	return false
}
