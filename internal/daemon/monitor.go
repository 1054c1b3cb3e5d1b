// Package daemon implements the real-time monitor.
package daemon

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/eliteGoblin/shieldscan/internal/domain"
	"github.com/eliteGoblin/shieldscan/internal/metrics"
)

// Suppressions is the read side of the suppression registry.
type Suppressions interface {
	IsSuppressed(path string) bool
	Prune() int
	Len() int
}

// MonitorConfig holds monitor configuration.
type MonitorConfig struct {
	Roots          []string
	Extensions     []string // lowercase, with leading dot; empty means all
	MaxFileSize    int64    // 0 means unlimited
	MaxDepth       int      // directory levels watched below each root; 0 means unlimited
	PruneInterval  time.Duration
	AutoQuarantine bool
}

// DefaultMonitorConfig returns default monitor configuration.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		PruneInterval: time.Minute,
		MaxDepth:      6,
	}
}

// Monitor watches scan roots and scans files as they are created or written.
// Paths with an active suppression window are skipped, so a file being
// restored from quarantine is never re-scanned mid-write.
type Monitor struct {
	config       MonitorConfig
	scanner      domain.Scanner
	store        domain.QuarantineStore
	suppressions Suppressions
	exclusion    domain.ExclusionPolicy
	metrics      *metrics.Metrics
	extensions   map[string]bool
	logger       *zap.Logger
}

// NewMonitor creates a real-time monitor. store may be nil when
// auto-quarantine is disabled.
func NewMonitor(
	config MonitorConfig,
	scanner domain.Scanner,
	store domain.QuarantineStore,
	suppressions Suppressions,
	exclusion domain.ExclusionPolicy,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Monitor {
	if config.PruneInterval <= 0 {
		config.PruneInterval = DefaultMonitorConfig().PruneInterval
	}
	exts := make(map[string]bool, len(config.Extensions))
	for _, e := range config.Extensions {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = true
	}

	return &Monitor{
		config:       config,
		scanner:      scanner,
		store:        store,
		suppressions: suppressions,
		exclusion:    exclusion,
		metrics:      m,
		extensions:   exts,
		logger:       logger,
	}
}

// Run starts the monitor loop.
// This blocks until context is canceled.
func (m *Monitor) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	watched := 0
	for _, root := range m.config.Roots {
		watched += m.addTree(w, root, depthOf(root))
	}
	if watched == 0 {
		return errors.New("no watchable scan roots")
	}

	m.logger.Info("real-time monitor started",
		zap.Strings("roots", m.config.Roots),
		zap.Int("directories", watched),
		zap.Bool("auto_quarantine", m.config.AutoQuarantine))

	pruneTicker := time.NewTicker(m.config.PruneInterval)
	defer pruneTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("real-time monitor stopping")
			return ctx.Err()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) && isDir(ev.Name) {
				m.addTree(w, ev.Name, m.rootDepth(ev.Name))
				continue
			}
			m.HandleEvent(ev)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			m.logger.Warn("watch error", zap.Error(err))

		case <-pruneTicker.C:
			if n := m.suppressions.Prune(); n > 0 {
				m.logger.Debug("expired suppressions pruned", zap.Int("count", n))
			}
			m.metrics.SetSuppressions(m.suppressions.Len())
		}
	}
}

// HandleEvent scans the file behind a create or write event. It returns the
// scan result, or nil when the event was skipped.
func (m *Monitor) HandleEvent(ev fsnotify.Event) *domain.ScanResult {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return nil
	}
	path := ev.Name

	if m.exclusion.IsSelfManaged(path) {
		return nil
	}
	if m.suppressions.IsSuppressed(path) {
		m.logger.Debug("suppressed path skipped", zap.String("path", path))
		return nil
	}
	if !m.wanted(path) {
		return nil
	}

	result := m.scanner.ScanFile(path, domain.ScanTypeRealtime)
	risk := m.scanner.ToActionableRisk(result)
	if risk == nil {
		return &result
	}

	m.logger.Warn("real-time threat detected",
		zap.String("path", path),
		zap.String("level", string(result.ThreatLevel)),
		zap.String("threat", result.ThreatName),
		zap.Int("score", risk.Score))

	if result.Infected() && m.config.AutoQuarantine && m.store != nil {
		entry, err := m.store.Quarantine(result)
		if err != nil {
			m.logger.Error("auto-quarantine failed",
				zap.String("path", path),
				zap.Error(err))
		} else {
			m.logger.Info("auto-quarantined",
				zap.String("path", path),
				zap.String("id", entry.ID))
		}
	}
	return &result
}

// wanted applies the extension allowlist and size cap to a regular file.
func (m *Monitor) wanted(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	if m.config.MaxFileSize > 0 && info.Size() > m.config.MaxFileSize {
		return false
	}
	if len(m.extensions) == 0 {
		return true
	}
	return m.extensions[strings.ToLower(filepath.Ext(path))]
}

// addTree watches root and its subdirectories, skipping self-managed
// directories. Depth is measured from base, the separator count of the
// configured root that owns root, so MaxDepth holds for directories created
// after startup. It returns how many directories were added.
func (m *Monitor) addTree(w *fsnotify.Watcher, root string, base int) int {
	added := 0

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			return fs.SkipDir
		}
		if !d.IsDir() {
			return nil
		}
		if m.exclusion.IsSelfManaged(p) {
			return fs.SkipDir
		}
		if m.exceedsDepth(p, base) {
			return fs.SkipDir
		}
		if err := w.Add(p); err != nil {
			m.logger.Debug("cannot watch directory",
				zap.String("path", p),
				zap.Error(err))
			return nil
		}
		added++
		return nil
	})
	if err != nil {
		m.logger.Warn("scan root not watchable",
			zap.String("root", root),
			zap.Error(err))
	}
	return added
}

func (m *Monitor) exceedsDepth(p string, base int) bool {
	return m.config.MaxDepth > 0 && depthOf(p)-base > m.config.MaxDepth
}

// rootDepth returns the depth of the deepest configured root containing p,
// or p's own depth when no root contains it.
func (m *Monitor) rootDepth(p string) int {
	clean := filepath.Clean(p)
	best := -1
	for _, root := range m.config.Roots {
		r := filepath.Clean(root)
		if clean != r && !strings.HasPrefix(clean, r+string(filepath.Separator)) {
			continue
		}
		if d := depthOf(r); d > best {
			best = d
		}
	}
	if best < 0 {
		return depthOf(clean)
	}
	return best
}

func depthOf(p string) int {
	return strings.Count(filepath.Clean(p), string(filepath.Separator))
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
