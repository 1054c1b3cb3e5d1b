package infra

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eliteGoblin/shieldscan/internal/domain"
	"github.com/eliteGoblin/shieldscan/internal/metrics"
)

const (
	quarantineSuffix     = ".quarantine"
	quarantineTimeLayout = "20060102_150405"

	// DefaultRestoreSuppressionTTL covers the restore write plus the
	// monitor's event delivery lag.
	DefaultRestoreSuppressionTTL = 30 * time.Second
)

// QuarantineConfig wires a FileQuarantine.
type QuarantineConfig struct {
	Dir         string
	Ledger      *QuarantineLedger
	Transform   domain.ContentTransform
	Exclusion   domain.ExclusionPolicy
	Guard       domain.DestinationGuard
	Monitor     domain.RealTimeMonitor
	SuppressTTL time.Duration
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

// FileQuarantine implements domain.QuarantineStore on the local filesystem.
// Quarantined copies live in one managed directory, XOR-transformed, and the
// ledger tracks them.
type FileQuarantine struct {
	dir         string
	ledger      *QuarantineLedger
	transform   domain.ContentTransform
	exclusion   domain.ExclusionPolicy
	guard       domain.DestinationGuard
	monitor     domain.RealTimeMonitor
	suppressTTL time.Duration
	metrics     *metrics.Metrics
	remove      func(string) error
	now         func() time.Time
	logger      *zap.Logger
}

// NewFileQuarantine creates the store and its managed directory.
func NewFileQuarantine(cfg QuarantineConfig) (*FileQuarantine, error) {
	if cfg.Dir == "" {
		return nil, errors.New("quarantine directory not configured")
	}
	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create quarantine directory: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ledger := cfg.Ledger
	if ledger == nil {
		ledger = NewQuarantineLedger(filepath.Join(cfg.Dir, "ledger.json"), logger)
	}
	transform := cfg.Transform
	if transform == nil {
		transform = NewXORTransform()
	}
	ttl := cfg.SuppressTTL
	if ttl <= 0 {
		ttl = DefaultRestoreSuppressionTTL
	}

	return &FileQuarantine{
		dir:         cfg.Dir,
		ledger:      ledger,
		transform:   transform,
		exclusion:   cfg.Exclusion,
		guard:       cfg.Guard,
		monitor:     cfg.Monitor,
		suppressTTL: ttl,
		metrics:     cfg.Metrics,
		remove:      os.Remove,
		now:         time.Now,
		logger:      logger,
	}, nil
}

// SetRemoveFunc overrides file removal (for testing failure paths).
func (q *FileQuarantine) SetRemoveFunc(fn func(string) error) {
	q.remove = fn
}

// Dir returns the managed quarantine directory.
func (q *FileQuarantine) Dir() string {
	return q.dir
}

// Quarantine moves the scanned file into the managed directory.
func (q *FileQuarantine) Quarantine(result domain.ScanResult) (*domain.QuarantineEntry, error) {
	entry, err := q.quarantine(result)
	q.metrics.ObserveQuarantineOp(metrics.OpQuarantine, err)
	return entry, err
}

func (q *FileQuarantine) quarantine(result domain.ScanResult) (*domain.QuarantineEntry, error) {
	if result.Path == "" {
		return nil, fmt.Errorf("%w: empty path", domain.ErrSourceNotFound)
	}
	src, err := filepath.Abs(result.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSourceNotFound, err)
	}
	if q.exclusion != nil && q.exclusion.IsSelfManaged(src) {
		return nil, fmt.Errorf("%w: %s", domain.ErrSelfManaged, src)
	}

	info, err := os.Stat(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSourceNotFound, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", domain.ErrSourceNotFound, src)
	}

	id := uuid.NewString()
	now := q.now()
	dest := filepath.Join(q.dir, quarantineFileName(now, id, filepath.Base(src)))

	if err := q.encodeTo(dest, src); err != nil {
		return nil, err
	}

	if err := q.remove(src); err != nil {
		if rmErr := os.Remove(dest); rmErr != nil {
			q.logger.Error("failed to roll back quarantine copy",
				zap.String("quarantined_path", dest),
				zap.Error(rmErr))
		}
		return nil, fmt.Errorf("failed to remove source, quarantine rolled back: %w", err)
	}

	displayName := result.DisplayName
	if displayName == "" {
		displayName = filepath.Base(src)
	}
	entry := domain.QuarantineEntry{
		ID:              id,
		OriginalPath:    src,
		QuarantinedPath: dest,
		ThreatName:      result.ThreatName,
		DisplayName:     displayName,
		QuarantinedAtMs: now.UnixMilli(),
		FileHash:        result.FileHash,
		Mode:            uint32(info.Mode().Perm()),
	}

	if err := q.ledger.Append(entry); err != nil {
		// Put the original back so the file is never unaccounted for.
		if rbErr := q.decodeTo(src, dest, info.Mode().Perm()); rbErr != nil {
			q.logger.Error("ledger write failed and source could not be restored",
				zap.String("original_path", src),
				zap.String("quarantined_path", dest),
				zap.Error(rbErr))
		} else {
			_ = os.Remove(dest)
		}
		return nil, fmt.Errorf("failed to record quarantine entry: %w", err)
	}

	q.logger.Info("file quarantined",
		zap.String("id", id),
		zap.String("original_path", src),
		zap.String("threat", result.ThreatName))
	return &entry, nil
}

// Restore writes the original bytes back to the entry's original path.
func (q *FileQuarantine) Restore(entry domain.QuarantineEntry) error {
	err := q.restore(entry)
	q.metrics.ObserveQuarantineOp(metrics.OpRestore, err)
	return err
}

func (q *FileQuarantine) restore(requested domain.QuarantineEntry) error {
	entry, err := q.resolve(requested)
	if err != nil {
		return err
	}
	if _, err := os.Stat(entry.QuarantinedPath); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrQuarantinedFileMissing, entry.QuarantinedPath)
	}

	dest := entry.OriginalPath
	if q.guard != nil {
		if err := q.guard.Check(dest); err != nil {
			q.logger.Warn("restore destination rejected",
				zap.String("id", entry.ID),
				zap.String("destination", dest),
				zap.Error(err))
			return err
		}
	}
	if _, err := os.Lstat(dest); err == nil {
		return fmt.Errorf("%w: %s", domain.ErrDestinationExists, dest)
	}

	// The monitor must see the suppression before the first byte lands.
	if q.monitor != nil {
		q.monitor.Suppress(dest, q.suppressTTL)
	}

	if err := q.decodeTo(dest, entry.QuarantinedPath, entry.FileMode()); err != nil {
		if q.monitor != nil {
			q.monitor.ClearSuppression(dest)
		}
		return err
	}

	if err := q.remove(entry.QuarantinedPath); err != nil {
		q.logger.Warn("restored file but could not remove quarantined copy",
			zap.String("quarantined_path", entry.QuarantinedPath),
			zap.Error(err))
	}
	if err := q.ledger.Remove(entry.ID); err != nil {
		q.logger.Warn("restored file but could not update ledger",
			zap.String("id", entry.ID),
			zap.Error(err))
	}

	q.logger.Info("file restored",
		zap.String("id", entry.ID),
		zap.String("destination", dest))
	return nil
}

// Delete permanently removes the quarantined copy and its ledger entry.
func (q *FileQuarantine) Delete(entry domain.QuarantineEntry) error {
	err := q.delete(entry)
	q.metrics.ObserveQuarantineOp(metrics.OpDelete, err)
	return err
}

func (q *FileQuarantine) delete(requested domain.QuarantineEntry) error {
	entry, err := q.resolve(requested)
	if err != nil {
		return err
	}
	if err := q.remove(entry.QuarantinedPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete quarantined file: %w", err)
	}
	if err := q.ledger.Remove(entry.ID); err != nil {
		return err
	}

	q.logger.Info("quarantined file deleted",
		zap.String("id", entry.ID),
		zap.String("original_path", entry.OriginalPath))
	return nil
}

// resolve returns the ledger's record for requested.ID. Restore and delete
// act only on recorded entries whose payload lives in the managed directory,
// whatever paths the caller's copy carries.
func (q *FileQuarantine) resolve(requested domain.QuarantineEntry) (*domain.QuarantineEntry, error) {
	if requested.ID == "" {
		return nil, fmt.Errorf("%w: empty id", domain.ErrEntryNotFound)
	}
	entry, err := q.ledger.Find(requested.ID)
	if err != nil {
		return nil, err
	}
	if requested.QuarantinedPath != "" && filepath.Clean(requested.QuarantinedPath) != filepath.Clean(entry.QuarantinedPath) {
		return nil, fmt.Errorf("%w: %s does not match the recorded entry", domain.ErrEntryNotFound, requested.ID)
	}
	if !q.holds(entry.QuarantinedPath) {
		q.logger.Warn("ledger entry points outside the quarantine directory",
			zap.String("id", entry.ID),
			zap.String("quarantined_path", entry.QuarantinedPath))
		return nil, fmt.Errorf("%w: %s is outside managed storage", domain.ErrUnsafeDestination, entry.QuarantinedPath)
	}
	return entry, nil
}

// holds reports whether p names a quarantined payload directly inside q.dir.
func (q *FileQuarantine) holds(p string) bool {
	abs, err := filepath.Abs(p)
	if err != nil {
		return false
	}
	dir, err := filepath.Abs(q.dir)
	if err != nil {
		return false
	}
	return filepath.Dir(abs) == dir && strings.HasSuffix(abs, quarantineSuffix)
}

// List returns ledger entries whose quarantined file still exists, dropping
// the rest from the ledger.
func (q *FileQuarantine) List() ([]domain.QuarantineEntry, error) {
	entries, err := q.ledger.Reconcile(func(e domain.QuarantineEntry) bool {
		_, statErr := os.Stat(e.QuarantinedPath)
		if statErr != nil {
			q.logger.Warn("dropping ledger entry without quarantined file",
				zap.String("id", e.ID),
				zap.String("quarantined_path", e.QuarantinedPath))
			return false
		}
		return true
	})
	if err != nil {
		// The filtered view is still correct; only the rewrite failed.
		q.logger.Warn("failed to persist reconciled ledger", zap.Error(err))
	}
	return entries, nil
}

// Find returns the listed entry with id.
func (q *FileQuarantine) Find(id string) (*domain.QuarantineEntry, error) {
	entries, err := q.List()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.ID == id || (len(id) >= 8 && strings.HasPrefix(e.ID, id)) {
			entry := e
			return &entry, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrEntryNotFound, id)
}

// encodeTo streams src through the transform into a new file at dest.
// A partial dest is removed on failure.
func (q *FileQuarantine) encodeTo(dest, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create quarantine file: %w", err)
	}

	_, copyErr := q.transform.Encode(out, in)
	closeErr := out.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		os.Remove(dest)
		return fmt.Errorf("failed to write quarantine file: %w", copyErr)
	}
	return nil
}

// decodeTo reverses the transform from src into a new file at dest with
// permission bits perm. A partial dest is removed on failure.
func (q *FileQuarantine) decodeTo(dest, src string, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open quarantined file: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", domain.ErrDestinationExists, dest)
		}
		return fmt.Errorf("failed to create destination: %w", err)
	}

	_, copyErr := q.transform.Decode(out, in)
	if copyErr == nil {
		// Chmod on the open file sidesteps the process umask.
		copyErr = out.Chmod(perm)
	}
	closeErr := out.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		os.Remove(dest)
		return fmt.Errorf("failed to write restored file: %w", copyErr)
	}
	return nil
}

// quarantineFileName embeds the timestamp and original name. The id
// fragment keeps same-second quarantines of same-named files apart.
func quarantineFileName(now time.Time, id, original string) string {
	name := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == 0 {
			return '_'
		}
		return r
	}, original)
	return fmt.Sprintf("%s_%s_%s%s", now.Format(quarantineTimeLayout), id[:8], name, quarantineSuffix)
}

// Ensure FileQuarantine implements domain.QuarantineStore.
var _ domain.QuarantineStore = (*FileQuarantine)(nil)
