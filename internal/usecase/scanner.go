// Package usecase contains application business logic.
package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/h2non/filetype"
	"go.uber.org/zap"

	"github.com/eliteGoblin/shieldscan/internal/domain"
	"github.com/eliteGoblin/shieldscan/internal/metrics"
	"github.com/eliteGoblin/shieldscan/internal/policy"
)

// DefaultContainerExtensions are treated as containers without sniffing.
var DefaultContainerExtensions = []string{
	".zip", ".jar", ".apk", ".xapk", ".apks", ".aab", ".ipa", ".appx", ".msix",
	".tar", ".tgz", ".gz",
}

// PublisherAllowlist decides whether a package comes from a trusted publisher.
type PublisherAllowlist interface {
	IsTrusted(packageID string) bool
}

// PatternVocabulary narrows signature-store pattern hits to high-specificity terms.
type PatternVocabulary interface {
	Filter(names []string) []string
}

// ScannerDeps are the collaborators of the scan orchestrator. Heuristics,
// Metrics and ExtraRoots may be nil.
type ScannerDeps struct {
	Signatures domain.SignatureStore
	Rules      domain.RuleEngine
	Archives   domain.ArchiveInspector
	Heuristics domain.HeuristicAnalyzer
	Inventory  domain.AppInventory
	FileSystem domain.FileSystemManager
	Exclusion  domain.ExclusionPolicy
	Trusted    PublisherAllowlist
	Vocabulary PatternVocabulary
	Metrics    *metrics.Metrics
	ExtraRoots func(ctx context.Context) []string
}

// ScannerConfig bounds what the orchestrator reads.
type ScannerConfig struct {
	RuleWindow          int
	ScanRoots           []string
	Walk                domain.WalkOptions
	ContainerExtensions []string
}

// ScannerImpl implements domain.Scanner.
type ScannerImpl struct {
	deps       ScannerDeps
	cfg        ScannerConfig
	containers map[string]bool
	logger     *zap.Logger
}

// NewScanner creates the scan orchestrator.
func NewScanner(deps ScannerDeps, cfg ScannerConfig, logger *zap.Logger) *ScannerImpl {
	if cfg.RuleWindow <= 0 {
		cfg.RuleWindow = 1 << 20
	}
	exts := cfg.ContainerExtensions
	if len(exts) == 0 {
		exts = DefaultContainerExtensions
	}
	containers := make(map[string]bool, len(exts))
	for _, e := range exts {
		containers[strings.ToLower(e)] = true
	}

	return &ScannerImpl{
		deps:       deps,
		cfg:        cfg,
		containers: containers,
		logger:     logger,
	}
}

// ScanFile runs every signal against one file and merges them escalate-only.
// Failures never surface as errors; they yield a ScanError result.
func (s *ScannerImpl) ScanFile(path string, scanType domain.ScanType) domain.ScanResult {
	start := time.Now()
	res := domain.ScanResult{
		Path:        path,
		ScanType:    scanType,
		DisplayName: filepath.Base(path),
		ThreatLevel: domain.LevelClean,
		Indicators:  []domain.Indicator{},
	}

	if s.deps.Exclusion.IsSelfManaged(path) {
		return s.finish(res, start)
	}

	if !s.checkHash(&res, path) {
		return s.finish(res, start)
	}

	s.checkVocabulary(&res, path)

	if s.deps.Heuristics != nil {
		ar, err := s.deps.Heuristics.AnalyzeFile(path)
		if err != nil {
			s.logger.Warn("heuristic analysis failed",
				zap.String("path", path),
				zap.Error(err))
		} else {
			mergeAnalysis(&res, ar)
		}
	}

	s.checkContent(&res, path)

	return s.finish(res, start)
}

// ScanInstalledApp scans an installed app. Trusted publishers get only the
// hash check.
func (s *ScannerImpl) ScanInstalledApp(packageID string, scanType domain.ScanType) domain.ScanResult {
	start := time.Now()
	res := domain.ScanResult{
		Path:        packageID,
		ScanType:    scanType,
		DisplayName: packageID,
		ThreatLevel: domain.LevelClean,
		Indicators:  []domain.Indicator{},
		IsApp:       true,
		PackageID:   packageID,
	}

	if s.deps.Exclusion.IsSelfPackage(packageID) {
		return s.finish(res, start)
	}

	app, err := s.deps.Inventory.Get(packageID)
	if err != nil {
		markError(&res, "App not found", err)
		return s.finish(res, start)
	}
	if app.Metadata.Label != "" {
		res.DisplayName = app.Metadata.Label
	}
	source := app.Metadata.SourcePath
	if source != "" {
		res.Path = source
		if s.deps.Exclusion.IsSelfManaged(source) {
			return s.finish(res, start)
		}
		if !s.checkHash(&res, source) {
			return s.finish(res, start)
		}
	}

	if s.deps.Trusted != nil && s.deps.Trusted.IsTrusted(packageID) {
		s.logger.Debug("trusted publisher, signature check only",
			zap.String("package_id", packageID))
		return s.finish(res, start)
	}

	if s.deps.Heuristics != nil {
		ar, err := s.deps.Heuristics.AnalyzeInstalledApp(packageID, app.Metadata)
		if err != nil {
			s.logger.Warn("heuristic analysis failed",
				zap.String("package_id", packageID),
				zap.Error(err))
		} else {
			mergeAnalysis(&res, ar)
		}
	}

	if source != "" {
		s.checkVocabulary(&res, source)
		s.checkContent(&res, source)
	}

	return s.finish(res, start)
}

// fullScanTarget is one item of a full scan: an app id or a file path.
type fullScanTarget struct {
	packageID string
	path      string
}

// RunFullScan scans every non-system installed app and every candidate file
// under the scan roots, sequentially. Cancellation is checked between items;
// on cancellation the results gathered so far are returned with ctx.Err().
func (s *ScannerImpl) RunFullScan(ctx context.Context, scanType domain.ScanType, onProgress domain.ProgressFunc) ([]domain.ScanResult, error) {
	if onProgress == nil {
		onProgress = func(domain.Progress) {}
	}
	start := time.Now()
	targets := s.collectTargets(ctx)
	total := len(targets)
	results := make([]domain.ScanResult, 0, total)

	s.logger.Info("full scan started", zap.Int("targets", total))

	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			s.logger.Info("full scan cancelled",
				zap.Int("scanned", len(results)),
				zap.Int("total", total))
			onProgress(domain.Progress{Scanned: len(results), Total: total, Done: true})
			return results, err
		}

		var r domain.ScanResult
		item := t.path
		if t.packageID != "" {
			item = t.packageID
			r = s.ScanInstalledApp(t.packageID, scanType)
		} else {
			r = s.ScanFile(t.path, scanType)
		}
		results = append(results, r)
		onProgress(domain.Progress{Scanned: len(results), Total: total, CurrentItem: item})
	}

	onProgress(domain.Progress{Scanned: len(results), Total: total, Done: true})

	threats := 0
	for _, r := range results {
		if r.ThreatLevel.AtLeast(domain.LevelSuspicious) {
			threats++
		}
	}
	s.logger.Info("full scan finished",
		zap.Int("scanned", len(results)),
		zap.Int("threats", threats),
		zap.Duration("elapsed", time.Since(start)))
	return results, nil
}

func (s *ScannerImpl) collectTargets(ctx context.Context) []fullScanTarget {
	var targets []fullScanTarget
	appSources := make(map[string]bool)

	apps, err := s.deps.Inventory.List()
	if err != nil {
		s.logger.Warn("app inventory unavailable", zap.Error(err))
	}
	for _, app := range apps {
		if app.Metadata.System || s.deps.Exclusion.IsSelfPackage(app.PackageID) {
			continue
		}
		targets = append(targets, fullScanTarget{packageID: app.PackageID})
		if app.Metadata.SourcePath != "" {
			appSources[filepath.Clean(app.Metadata.SourcePath)] = true
		}
	}

	roots := append([]string(nil), s.cfg.ScanRoots...)
	if s.deps.ExtraRoots != nil {
		roots = append(roots, s.deps.ExtraRoots(ctx)...)
	}
	if len(roots) == 0 {
		return targets
	}

	files, err := s.deps.FileSystem.CandidateFiles(roots, s.cfg.Walk)
	if err != nil {
		s.logger.Warn("candidate discovery failed", zap.Error(err))
	}
	for _, f := range files {
		if appSources[filepath.Clean(f)] {
			continue
		}
		targets = append(targets, fullScanTarget{path: f})
	}
	return targets
}

// ToActionableRisk maps a non-clean result to a score and severity.
// Clean and ScanError yield nil.
func (s *ScannerImpl) ToActionableRisk(result domain.ScanResult) *domain.RiskVerdict {
	var score int
	var severity domain.Severity

	switch result.ThreatLevel {
	case domain.LevelClean, domain.LevelScanError:
		return nil
	case domain.LevelInfected:
		score, severity = 95, domain.SeverityCritical
	case domain.LevelPua:
		score, severity = 70, domain.SeverityMedium
	case domain.LevelSuspicious:
		score, severity = 55, domain.SeverityMedium
	default:
		score, severity = 30, domain.SeverityLow
	}

	target := result.Path
	if result.IsApp && result.PackageID != "" {
		target = result.PackageID
	}
	return &domain.RiskVerdict{
		Score:      score,
		Severity:   severity,
		Level:      result.ThreatLevel,
		ThreatName: result.ThreatName,
		Target:     target,
	}
}

// checkHash stats and hashes the file and consults the signature store.
// It returns false when the file could not be read; res is then ScanError.
func (s *ScannerImpl) checkHash(res *domain.ScanResult, path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		markError(res, "File unreadable", err)
		return false
	}
	if !info.Mode().IsRegular() {
		markError(res, "Not a regular file", fmt.Errorf("%s is not a regular file", path))
		return false
	}
	res.FileSizeBytes = info.Size()

	hash, err := s.deps.FileSystem.SHA256(path)
	if err != nil {
		markError(res, "File unreadable", err)
		return false
	}
	res.FileHash = hash

	label, found, err := s.deps.Signatures.Lookup(hash)
	if err != nil {
		s.logger.Warn("signature lookup failed",
			zap.String("path", path),
			zap.Error(err))
		return true
	}
	if found {
		merge(res, domain.LevelInfected, label, domain.Indicator{
			Kind:        domain.KindSignature,
			Severity:    domain.SeverityCritical,
			Title:       "Known malware signature",
			Description: "Content hash matches a known threat",
			Evidence:    label,
		})
	}
	return true
}

// checkVocabulary applies the high-specificity pattern tiers.
func (s *ScannerImpl) checkVocabulary(res *domain.ScanResult, path string) {
	names, err := s.deps.Signatures.ScanPatterns(path)
	if err != nil {
		s.logger.Warn("pattern scan failed",
			zap.String("path", path),
			zap.Error(err))
		return
	}
	hits := names
	if s.deps.Vocabulary != nil {
		hits = s.deps.Vocabulary.Filter(names)
	}
	level := policy.LevelForMatches(len(hits))
	if level == domain.LevelClean {
		return
	}

	severity := domain.SeverityMedium
	if level == domain.LevelInfected {
		severity = domain.SeverityHigh
	}
	merge(res, level, "Suspicious.Strings."+hits[0], domain.Indicator{
		Kind:        domain.KindSignature,
		Severity:    severity,
		Title:       "Malware vocabulary",
		Description: fmt.Sprintf("%d high-specificity malware terms present", len(hits)),
		Evidence:    strings.Join(hits, ", "),
	})
}

// checkContent runs the rule engine over the file prefix and, for
// containers, the archive inspector.
func (s *ScannerImpl) checkContent(res *domain.ScanResult, path string) {
	data, err := s.deps.FileSystem.ReadPrefix(path, s.cfg.RuleWindow)
	if err != nil {
		s.logger.Warn("content read failed",
			zap.String("path", path),
			zap.Error(err))
		return
	}

	for _, m := range s.deps.Rules.Scan(data, s.cfg.RuleWindow) {
		merge(res, levelForSeverity(m.Rule.Severity), ruleThreatName(m.Rule), domain.Indicator{
			Kind:        domain.KindSignature,
			Severity:    m.Rule.Severity,
			Title:       m.Rule.Name,
			Description: m.Rule.Description,
			Evidence:    strings.Join(m.MatchedStringIDs, ","),
		})
	}

	if s.isContainer(path, data) {
		mergeAnalysis(res, s.deps.Archives.Inspect(path))
	}
}

func (s *ScannerImpl) isContainer(path string, header []byte) bool {
	if s.containers[strings.ToLower(filepath.Ext(path))] {
		return true
	}
	return len(header) > 0 && filetype.IsArchive(header)
}

// finish stamps the duration and records metrics.
func (s *ScannerImpl) finish(res domain.ScanResult, start time.Time) domain.ScanResult {
	res.DurationMs = time.Since(start).Milliseconds()
	s.deps.Metrics.ObserveScan(res)

	if res.ThreatLevel.AtLeast(domain.LevelLowRisk) {
		s.logger.Info("threat detected",
			zap.String("target", res.Path),
			zap.String("level", string(res.ThreatLevel)),
			zap.String("threat", res.ThreatName))
	} else {
		s.logger.Debug("scan complete",
			zap.String("target", res.Path),
			zap.String("level", string(res.ThreatLevel)))
	}
	return res
}

func levelForSeverity(sev domain.Severity) domain.ThreatLevel {
	switch sev {
	case domain.SeverityCritical:
		return domain.LevelInfected
	case domain.SeverityHigh:
		return domain.LevelSuspicious
	default:
		return domain.LevelPua
	}
}

func ruleThreatName(r domain.Rule) string {
	if r.Family == "" {
		return r.Name
	}
	return r.Family + "." + r.Name
}

// merge adds evidence and escalates the level. The threat name is adopted
// only when none is set yet.
func merge(res *domain.ScanResult, level domain.ThreatLevel, name string, indicators ...domain.Indicator) {
	res.Indicators = append(res.Indicators, indicators...)
	res.ThreatLevel = domain.MaxLevel(res.ThreatLevel, level)
	if res.ThreatName == "" && name != "" && level.AtLeast(domain.LevelLowRisk) {
		res.ThreatName = name
	}
}

func mergeAnalysis(res *domain.ScanResult, ar domain.AnalysisResult) {
	level := ar.ThreatLevel
	if level == "" {
		level = domain.LevelClean
	}
	merge(res, level, ar.ThreatName, ar.Indicators...)
}

func markError(res *domain.ScanResult, title string, err error) {
	merge(res, domain.LevelScanError, "", domain.Indicator{
		Kind:        domain.KindBehavior,
		Severity:    domain.SeverityLow,
		Title:       title,
		Description: err.Error(),
	})
}

// Ensure ScannerImpl implements domain.Scanner.
var _ domain.Scanner = (*ScannerImpl)(nil)
