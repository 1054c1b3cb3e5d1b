package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/shieldscan/internal/archive"
	"github.com/eliteGoblin/shieldscan/internal/config"
	"github.com/eliteGoblin/shieldscan/internal/daemon"
	"github.com/eliteGoblin/shieldscan/internal/domain"
	"github.com/eliteGoblin/shieldscan/internal/heuristic"
	"github.com/eliteGoblin/shieldscan/internal/infra"
	"github.com/eliteGoblin/shieldscan/internal/metrics"
	"github.com/eliteGoblin/shieldscan/internal/policy"
	"github.com/eliteGoblin/shieldscan/internal/rules"
	"github.com/eliteGoblin/shieldscan/internal/usecase"
)

// app holds the wired engine for one CLI invocation.
type app struct {
	cfg          *config.Config
	logger       *zap.Logger
	metrics      *metrics.Metrics
	signatures   *infra.SignatureDB
	suppressions *infra.SuppressionRegistry
	exclusion    *policy.SelfExclusion
	scanner      *usecase.ScannerImpl
	quarantine   *infra.FileQuarantine
}

// newApp wires every component from configuration.
func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	m := metrics.New()
	exclusion := policy.NewSelfExclusion(cfg.SelfExclusionPaths(), cfg.SelfPackageID)

	key, err := infra.EnsureKey(infra.NewFileKeyProviderAt(cfg.KeyFile))
	if err != nil {
		return nil, fmt.Errorf("failed to load signature key: %w", err)
	}
	sigDB, err := infra.NewSignatureDB(cfg.SignatureDB, key, logger)
	if err != nil {
		return nil, err
	}

	suppressions := infra.NewSuppressionRegistry(logger)
	suppressions.OnChange(m.SetSuppressions)

	guard := policy.NewRestoreGuard(cfg.ManagedDirs(), policy.SystemDirs(infra.PlatformOS()))
	store, err := infra.NewFileQuarantine(infra.QuarantineConfig{
		Dir:         cfg.Quarantine.Dir,
		Ledger:      infra.NewQuarantineLedger(cfg.LedgerPath(), logger),
		Transform:   infra.NewXORTransform(),
		Exclusion:   exclusion,
		Guard:       guard,
		Monitor:     suppressions,
		SuppressTTL: cfg.Quarantine.SuppressTTL,
		Metrics:     m,
		Logger:      logger,
	})
	if err != nil {
		_ = sigDB.Close()
		return nil, err
	}

	trusted := cfg.TrustedPublishers
	if len(trusted) == 0 {
		trusted = policy.DefaultTrustedPublishers
	}

	var extraRoots func(ctx context.Context) []string
	if cfg.Scan.IncludeRemovable {
		extraRoots = infra.NewVolumeLister(logger).RemovableMounts
	}

	scanner := usecase.NewScanner(usecase.ScannerDeps{
		Signatures: sigDB,
		Rules:      rules.NewDefaultEngine(logger),
		Archives:   archive.NewInspector(logger),
		Heuristics: heuristic.NewAnalyzer(logger),
		Inventory:  infra.NewDirectoryInventory(cfg.AppsDir, logger),
		FileSystem: infra.NewFileSystemManager(exclusion, logger),
		Exclusion:  exclusion,
		Trusted:    policy.NewTrustedPublishers(trusted),
		Vocabulary: policy.NewVocabulary(policy.DefaultVocabulary),
		Metrics:    m,
		ExtraRoots: extraRoots,
	}, usecase.ScannerConfig{
		RuleWindow: cfg.Scan.RuleWindow,
		ScanRoots:  cfg.Scan.Roots,
		Walk: domain.WalkOptions{
			Extensions:  cfg.Scan.Extensions,
			MaxFileSize: cfg.Scan.MaxFileSize,
			MaxDepth:    cfg.Scan.MaxDepth,
		},
	}, logger)

	return &app{
		cfg:          cfg,
		logger:       logger,
		metrics:      m,
		signatures:   sigDB,
		suppressions: suppressions,
		exclusion:    exclusion,
		scanner:      scanner,
		quarantine:   store,
	}, nil
}

// monitor builds the real-time monitor over the configured scan roots.
func (a *app) monitor(roots []string) *daemon.Monitor {
	if len(roots) == 0 {
		roots = a.cfg.Scan.Roots
	}
	mc := daemon.DefaultMonitorConfig()
	mc.Roots = roots
	mc.Extensions = a.cfg.Scan.Extensions
	mc.MaxFileSize = a.cfg.Scan.MaxFileSize
	if a.cfg.Scan.MaxDepth > 0 {
		mc.MaxDepth = a.cfg.Scan.MaxDepth
	}
	mc.AutoQuarantine = a.cfg.Quarantine.AutoQuarantine

	return daemon.NewMonitor(mc, a.scanner, a.quarantine, a.suppressions, a.exclusion, a.metrics, a.logger)
}

func (a *app) close() {
	if err := a.signatures.Close(); err != nil {
		a.logger.Warn("failed to close signature database", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// createLogger builds a production logger. Without a log file it writes to
// stderr so command output on stdout stays clean.
func createLogger(lc config.LogConfig) *zap.Logger {
	zc := zap.NewProductionConfig()
	zc.EncoderConfig.TimeKey = "time"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if lvl, err := zapcore.ParseLevel(lc.Level); err == nil {
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}

	if lc.File != "" {
		if err := os.MkdirAll(filepath.Dir(lc.File), 0755); err == nil {
			zc.OutputPaths = []string{lc.File}
			zc.ErrorOutputPaths = []string{lc.File}
		}
	} else {
		zc.OutputPaths = []string{"stderr"}
	}

	logger, err := zc.Build()
	if err != nil {
		// Fallback to stderr if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}
