// Package rules implements the pattern rule engine: a fixed catalog of named
// rules, each firing when enough of its declared strings occur in a buffer.
package rules

import (
	"encoding/hex"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/eliteGoblin/shieldscan/internal/domain"
)

// DefaultMaxWindow is the prefix length scanned when the caller passes a
// non-positive window.
const DefaultMaxWindow = 1 << 20

type stringMatcher struct {
	id   string
	kind domain.StringKind
	text string         // lowercased, for StringText
	hex  string         // lowercase without spaces, for StringHex
	re   *regexp.Regexp // nil when the pattern failed to compile
}

type compiledRule struct {
	rule     domain.Rule
	matchers []stringMatcher
}

// Engine holds a compiled, immutable rule catalog.
// Scan is safe for concurrent use.
type Engine struct {
	rules   []compiledRule
	needHex bool
	logger  *zap.Logger
}

// NewEngine compiles the given rules. A regex that fails to compile is
// logged and degrades to "never matches"; the rest of the rule still works.
func NewEngine(rules []domain.Rule, logger *zap.Logger) *Engine {
	e := &Engine{
		rules:  make([]compiledRule, 0, len(rules)),
		logger: logger,
	}

	for _, r := range rules {
		cr := compiledRule{rule: copyRule(r)}
		for _, s := range r.Strings {
			m := stringMatcher{id: s.ID, kind: s.Kind}
			switch s.Kind {
			case domain.StringText:
				m.text = strings.ToLower(s.Pattern)
			case domain.StringHex:
				m.hex = strings.ToLower(strings.ReplaceAll(s.Pattern, " ", ""))
				e.needHex = true
			case domain.StringRegex:
				re, err := regexp.Compile(s.Pattern)
				if err != nil {
					logger.Warn("rule string has invalid regex, disabled",
						zap.String("rule", r.Name),
						zap.String("string_id", s.ID),
						zap.Error(err))
				} else {
					m.re = re
				}
			}
			cr.matchers = append(cr.matchers, m)
		}
		e.rules = append(e.rules, cr)
	}

	return e
}

// NewDefaultEngine creates an engine over the built-in catalog.
func NewDefaultEngine(logger *zap.Logger) *Engine {
	return NewEngine(DefaultCatalog(), logger)
}

// Rules returns a copy of the loaded catalog.
func (e *Engine) Rules() []domain.Rule {
	out := make([]domain.Rule, len(e.rules))
	for i, cr := range e.rules {
		out[i] = copyRule(cr.rule)
	}
	return out
}

// Scan matches every rule against at most maxWindow bytes of data.
func (e *Engine) Scan(data []byte, maxWindow int) []domain.RuleMatch {
	if maxWindow <= 0 {
		maxWindow = DefaultMaxWindow
	}
	if len(data) > maxWindow {
		data = data[:maxWindow]
	}
	if len(data) == 0 {
		return nil
	}

	text := strings.ToValidUTF8(string(data), "\uFFFD")
	lower := strings.ToLower(text)
	var hexView string
	if e.needHex {
		hexView = hex.EncodeToString(data)
	}

	var matches []domain.RuleMatch
	for _, cr := range e.rules {
		var ids []string
		for _, m := range cr.matchers {
			if m.matches(text, lower, hexView) {
				ids = append(ids, m.id)
			}
		}
		if conditionMet(cr.rule.Condition, len(ids), len(cr.matchers)) {
			matches = append(matches, domain.RuleMatch{
				Rule:             copyRule(cr.rule),
				MatchedStringIDs: ids,
			})
		}
	}
	return matches
}

func (m stringMatcher) matches(text, lower, hexView string) bool {
	switch m.kind {
	case domain.StringText:
		return m.text != "" && strings.Contains(lower, m.text)
	case domain.StringHex:
		return m.hex != "" && containsAligned(hexView, m.hex)
	case domain.StringRegex:
		return m.re != nil && m.re.MatchString(text)
	default:
		return false
	}
}

// containsAligned reports whether needle occurs in the hex view on a byte
// boundary, so "bcde" does not match inside "abcdef".
func containsAligned(haystack, needle string) bool {
	offset := 0
	for {
		i := strings.Index(haystack[offset:], needle)
		if i < 0 {
			return false
		}
		if (offset+i)%2 == 0 {
			return true
		}
		offset += i + 1
	}
}

func conditionMet(c domain.Condition, matched, declared int) bool {
	if declared == 0 {
		return false
	}
	switch c {
	case domain.ConditionAll:
		return matched == declared
	case domain.ConditionAny:
		return matched >= 1
	case domain.ConditionTwoOf:
		return matched >= 2
	case domain.ConditionThreeOf:
		return matched >= 3
	default:
		return false
	}
}

func copyRule(r domain.Rule) domain.Rule {
	r.Strings = append([]domain.RuleString(nil), r.Strings...)
	return r
}

// Ensure Engine implements domain.RuleEngine.
var _ domain.RuleEngine = (*Engine)(nil)
