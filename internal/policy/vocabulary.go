package policy

import (
	"strings"

	"github.com/eliteGoblin/shieldscan/internal/domain"
)

// DefaultVocabulary holds pattern names that do not occur incidentally in
// ordinary applications. Generic terms ("password", "http", "root") stay out.
var DefaultVocabulary = []string{
	"exploit",
	"backdoor",
	"keylogger",
	"rootkit",
	"ransom",
	"trojan",
	"dropper",
	"shellcode",
	"meterpreter",
	"mimikatz",
	"stealer",
	"botnet",
	"cryptominer",
	"spyware",
}

// Vocabulary filters signature-store pattern hits down to the curated set.
type Vocabulary struct {
	terms map[string]struct{}
}

// NewVocabulary creates a vocabulary from terms (case-insensitive).
func NewVocabulary(terms []string) *Vocabulary {
	v := &Vocabulary{terms: make(map[string]struct{}, len(terms))}
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			v.terms[t] = struct{}{}
		}
	}
	return v
}

// Filter returns the distinct names that belong to the vocabulary, in input order.
func (v *Vocabulary) Filter(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	var out []string
	for _, n := range names {
		key := strings.ToLower(strings.TrimSpace(n))
		if _, ok := v.terms[key]; !ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

// LevelForMatches maps the number of vocabulary hits to a level.
func LevelForMatches(n int) domain.ThreatLevel {
	switch {
	case n >= 3:
		return domain.LevelInfected
	case n == 2:
		return domain.LevelSuspicious
	case n == 1:
		return domain.LevelLowRisk
	default:
		return domain.LevelClean
	}
}
