// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"os"
	"time"
)

// ThreatLevel is the verdict tag attached to a scan result.
// Ordering is defined by Rank, never by declaration order.
type ThreatLevel string

const (
	LevelClean      ThreatLevel = "clean"
	LevelScanError  ThreatLevel = "scan_error"
	LevelLowRisk    ThreatLevel = "low_risk"
	LevelSuspicious ThreatLevel = "suspicious"
	LevelPua        ThreatLevel = "pua"
	LevelInfected   ThreatLevel = "infected"
)

// Rank returns the position of the level in the total order
// Clean < ScanError < LowRisk < Suspicious < Pua < Infected.
// Unknown values rank below Clean.
func (l ThreatLevel) Rank() int {
	switch l {
	case LevelClean:
		return 0
	case LevelScanError:
		return 1
	case LevelLowRisk:
		return 2
	case LevelSuspicious:
		return 3
	case LevelPua:
		return 4
	case LevelInfected:
		return 5
	default:
		return -1
	}
}

// AtLeast reports whether l ranks at or above other.
func (l ThreatLevel) AtLeast(other ThreatLevel) bool {
	return l.Rank() >= other.Rank()
}

// MaxLevel returns the higher-ranked of two levels.
// Merging is escalate-only: the result never ranks below either input.
func MaxLevel(a, b ThreatLevel) ThreatLevel {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// IndicatorKind classifies where a piece of evidence came from.
type IndicatorKind string

const (
	KindSignature  IndicatorKind = "signature"
	KindHeuristic  IndicatorKind = "heuristic"
	KindBehavior   IndicatorKind = "behavior"
	KindPermission IndicatorKind = "permission"
)

// Severity is the weight of a single indicator or rule.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Indicator is one piece of supporting evidence attached to a ScanResult.
type Indicator struct {
	Kind        IndicatorKind `json:"kind"`
	Severity    Severity      `json:"severity"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Evidence    string        `json:"evidence,omitempty"`
}

// StringKind selects how a rule string is matched.
type StringKind string

const (
	StringText  StringKind = "text"
	StringHex   StringKind = "hex"
	StringRegex StringKind = "regex"
)

// Condition decides how many rule strings must match for a rule to fire.
type Condition string

const (
	ConditionAll     Condition = "all"
	ConditionAny     Condition = "any"
	ConditionTwoOf   Condition = "two_of"
	ConditionThreeOf Condition = "three_of"
)

// RuleString is one declared sub-pattern of a rule.
type RuleString struct {
	ID      string
	Pattern string
	Kind    StringKind
}

// Rule is a named pattern-matching unit with a firing condition.
type Rule struct {
	Name        string
	Family      string
	Severity    Severity
	Description string
	Strings     []RuleString
	Condition   Condition
}

// RuleMatch records a rule that fired on a scanned buffer.
// Matching is file-granular; no offsets are tracked.
type RuleMatch struct {
	Rule             Rule
	MatchedStringIDs []string
}

// ScanType describes what triggered a scan.
type ScanType string

const (
	ScanTypeOnDemand ScanType = "on_demand"
	ScanTypeRealtime ScanType = "realtime"
	ScanTypeFull     ScanType = "full"
	ScanTypeInstall  ScanType = "install"
)

// ScanResult is the verdict for one file or installed app.
// It is built once per scan call and never mutated afterwards.
type ScanResult struct {
	Path          string      `json:"path"`
	ScanType      ScanType    `json:"scan_type"`
	DisplayName   string      `json:"display_name"`
	DurationMs    int64       `json:"duration_ms"`
	ThreatLevel   ThreatLevel `json:"threat_level"`
	ThreatName    string      `json:"threat_name,omitempty"`
	Indicators    []Indicator `json:"indicators"`
	FileSizeBytes int64       `json:"file_size_bytes"`
	FileHash      string      `json:"file_hash,omitempty"`
	IsApp         bool        `json:"is_app"`
	PackageID     string      `json:"package_id,omitempty"`
}

// Infected reports whether the result is a confirmed threat.
func (r ScanResult) Infected() bool {
	return r.ThreatLevel == LevelInfected
}

// AnalysisResult is the shape returned by the archive inspector and the
// heuristic analyzer: a level plus its supporting evidence.
type AnalysisResult struct {
	Indicators  []Indicator
	ThreatLevel ThreatLevel
	ThreatName  string
}

// RiskVerdict is the actionable form of a non-clean scan result.
type RiskVerdict struct {
	Score      int         `json:"score"`
	Severity   Severity    `json:"severity"`
	Level      ThreatLevel `json:"level"`
	ThreatName string      `json:"threat_name,omitempty"`
	Target     string      `json:"target"`
}

// QuarantineEntry is one ledger record for an isolated file.
type QuarantineEntry struct {
	ID              string `json:"id"`
	OriginalPath    string `json:"original_path"`
	QuarantinedPath string `json:"quarantined_path"`
	ThreatName      string `json:"threat_name,omitempty"`
	DisplayName     string `json:"display_name"`
	QuarantinedAtMs int64  `json:"quarantined_at_ms"`
	FileHash        string `json:"file_hash,omitempty"`
	Mode            uint32 `json:"mode,omitempty"`
}

// FileMode returns the permission bits to restore with. Entries recorded
// without a mode restore as 0600.
func (e QuarantineEntry) FileMode() os.FileMode {
	if e.Mode == 0 {
		return 0600
	}
	return os.FileMode(e.Mode).Perm()
}

// QuarantinedAt returns the quarantine timestamp as a time.Time.
func (e QuarantineEntry) QuarantinedAt() time.Time {
	return time.UnixMilli(e.QuarantinedAtMs)
}

// InstalledApp describes an application known to the app inventory.
type InstalledApp struct {
	PackageID string
	Metadata  AppMetadata
}

// AppMetadata is what the heuristic analyzer sees about an installed app.
type AppMetadata struct {
	Label       string   `json:"label"`
	SourcePath  string   `json:"source"`
	System      bool     `json:"system"`
	Installer   string   `json:"installer,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// Progress is reported by a full scan after every item.
type Progress struct {
	Scanned     int
	Total       int
	CurrentItem string
	Done        bool
}
