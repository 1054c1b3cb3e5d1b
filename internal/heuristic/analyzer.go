// Package heuristic provides the default behavioral/structural analyzer.
// It looks at names and declared permissions only; content matching is the
// rule engine's job.
package heuristic

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/eliteGoblin/shieldscan/internal/domain"
)

var (
	decoyExtensions = []string{
		".pdf", ".doc", ".docx", ".xls", ".xlsx", ".txt", ".jpg", ".jpeg",
		".png", ".mp3", ".mp4", ".zip",
	}

	executableExtensions = []string{
		".exe", ".scr", ".com", ".bat", ".cmd", ".js", ".vbs", ".ps1",
		".apk", ".jar", ".sh", ".elf",
	}
)

// permissionCombo is a set of permissions that together enable a known abuse.
type permissionCombo struct {
	name        string
	permissions []string
	level       domain.ThreatLevel
	severity    domain.Severity
	description string
}

var dangerousCombos = []permissionCombo{
	{
		name:        "Heuristic.SmsFraud",
		permissions: []string{"android.permission.SEND_SMS", "android.permission.RECEIVE_SMS", "android.permission.RECEIVE_BOOT_COMPLETED"},
		level:       domain.LevelSuspicious,
		severity:    domain.SeverityHigh,
		description: "Can send and intercept SMS and starts at boot",
	},
	{
		name:        "Heuristic.Overlay",
		permissions: []string{"android.permission.BIND_ACCESSIBILITY_SERVICE", "android.permission.SYSTEM_ALERT_WINDOW"},
		level:       domain.LevelSuspicious,
		severity:    domain.SeverityHigh,
		description: "Can read the screen and draw over other apps",
	},
	{
		name:        "Heuristic.Stalkerware",
		permissions: []string{"android.permission.ACCESS_FINE_LOCATION", "android.permission.RECORD_AUDIO", "android.permission.READ_SMS"},
		level:       domain.LevelPua,
		severity:    domain.SeverityMedium,
		description: "Tracks location, records audio and reads messages",
	},
	{
		name:        "Heuristic.DeviceAdmin",
		permissions: []string{"android.permission.BIND_DEVICE_ADMIN", "android.permission.REQUEST_INSTALL_PACKAGES"},
		level:       domain.LevelPua,
		severity:    domain.SeverityMedium,
		description: "Device administrator that can install further packages",
	},
}

// sideloadInstallers are installer identifiers that mean "not from a store".
var sideloadInstallers = map[string]bool{
	"":                                    true,
	"com.android.packageinstaller":        true,
	"com.google.android.packageinstaller": true,
}

// Analyzer is the default domain.HeuristicAnalyzer.
type Analyzer struct {
	logger *zap.Logger
}

// NewAnalyzer creates a heuristic analyzer.
func NewAnalyzer(logger *zap.Logger) *Analyzer {
	return &Analyzer{logger: logger}
}

// AnalyzeFile flags executables dressed up as documents.
func (a *Analyzer) AnalyzeFile(path string) (domain.AnalysisResult, error) {
	result := domain.AnalysisResult{ThreatLevel: domain.LevelClean}

	info, err := os.Stat(path)
	if err != nil {
		return result, err
	}
	if info.IsDir() {
		return result, nil
	}

	base := strings.ToLower(filepath.Base(path))
	ext := filepath.Ext(base)
	inner := filepath.Ext(strings.TrimSuffix(base, ext))

	if contains(executableExtensions, ext) && contains(decoyExtensions, inner) {
		result.Indicators = append(result.Indicators, domain.Indicator{
			Kind:        domain.KindHeuristic,
			Severity:    domain.SeverityHigh,
			Title:       "Double extension",
			Description: "Executable file disguised with a document extension",
			Evidence:    filepath.Base(path),
		})
		result.ThreatLevel = domain.LevelSuspicious
		result.ThreatName = "Heuristic.DoubleExtension"
	}

	return result, nil
}

// AnalyzeInstalledApp scores an app by its declared permissions and origin.
func (a *Analyzer) AnalyzeInstalledApp(packageID string, meta domain.AppMetadata) (domain.AnalysisResult, error) {
	result := domain.AnalysisResult{ThreatLevel: domain.LevelClean}

	granted := make(map[string]bool, len(meta.Permissions))
	for _, p := range meta.Permissions {
		granted[strings.TrimSpace(p)] = true
	}

	for _, combo := range dangerousCombos {
		if !hasAll(granted, combo.permissions) {
			continue
		}
		result.Indicators = append(result.Indicators, domain.Indicator{
			Kind:        domain.KindPermission,
			Severity:    combo.severity,
			Title:       "Dangerous permission combination",
			Description: combo.description,
			Evidence:    strings.Join(combo.permissions, ", "),
		})
		result.ThreatLevel = domain.MaxLevel(result.ThreatLevel, combo.level)
		if result.ThreatName == "" {
			result.ThreatName = combo.name
		}
	}

	if len(result.Indicators) > 0 && sideloadInstallers[meta.Installer] {
		result.Indicators = append(result.Indicators, domain.Indicator{
			Kind:        domain.KindBehavior,
			Severity:    domain.SeverityLow,
			Title:       "Sideloaded",
			Description: "Installed outside an app store",
			Evidence:    meta.Installer,
		})
	}

	if len(result.Indicators) > 0 {
		a.logger.Debug("heuristic findings",
			zap.String("package_id", packageID),
			zap.String("level", string(result.ThreatLevel)),
			zap.Int("indicators", len(result.Indicators)))
	}
	return result, nil
}

func hasAll(granted map[string]bool, required []string) bool {
	for _, r := range required {
		if !granted[r] {
			return false
		}
	}
	return true
}

func contains(list []string, s string) bool {
	if s == "" {
		return false
	}
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Ensure Analyzer implements domain.HeuristicAnalyzer.
var _ domain.HeuristicAnalyzer = (*Analyzer)(nil)
