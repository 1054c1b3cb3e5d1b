package infra

import (
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/shieldscan/internal/domain"
)

// DefaultSuppressionTTL is used when Suppress is called with a non-positive ttl.
const DefaultSuppressionTTL = 30 * time.Second

// SuppressionRegistry tracks paths the real-time monitor must not re-scan.
// Safe for concurrent use.
type SuppressionRegistry struct {
	mu       sync.Mutex
	until    map[string]time.Time
	now      func() time.Time
	onChange func(active int)
	logger   *zap.Logger
}

// NewSuppressionRegistry creates an empty registry.
func NewSuppressionRegistry(logger *zap.Logger) *SuppressionRegistry {
	return NewSuppressionRegistryWithClock(time.Now, logger)
}

// NewSuppressionRegistryWithClock creates a registry with a custom clock (for testing).
func NewSuppressionRegistryWithClock(now func() time.Time, logger *zap.Logger) *SuppressionRegistry {
	return &SuppressionRegistry{
		until:  make(map[string]time.Time),
		now:    now,
		logger: logger,
	}
}

// OnChange registers a callback receiving the active window count after
// every mutation. Used to feed the suppressions gauge.
func (s *SuppressionRegistry) OnChange(fn func(active int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Suppress exempts path from re-scan for ttl.
func (s *SuppressionRegistry) Suppress(path string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultSuppressionTTL
	}
	key := suppressionKey(path)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.until[key] = s.now().Add(ttl)
	s.notify()

	s.logger.Debug("suppression window opened",
		zap.String("path", key),
		zap.Duration("ttl", ttl))
}

// ClearSuppression ends the window for path immediately.
func (s *SuppressionRegistry) ClearSuppression(path string) {
	key := suppressionKey(path)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.until[key]; ok {
		delete(s.until, key)
		s.notify()
	}
}

// IsSuppressed reports whether path is inside a live window.
func (s *SuppressionRegistry) IsSuppressed(path string) bool {
	key := suppressionKey(path)

	s.mu.Lock()
	defer s.mu.Unlock()
	deadline, ok := s.until[key]
	if !ok {
		return false
	}
	if !s.now().Before(deadline) {
		delete(s.until, key)
		s.notify()
		return false
	}
	return true
}

// Prune drops expired windows and returns how many were removed.
func (s *SuppressionRegistry) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, deadline := range s.until {
		if !now.Before(deadline) {
			delete(s.until, key)
			removed++
		}
	}
	if removed > 0 {
		s.notify()
	}
	return removed
}

// Len returns the number of tracked windows, expired ones included until pruned.
func (s *SuppressionRegistry) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.until)
}

// notify must be called with mu held.
func (s *SuppressionRegistry) notify() {
	if s.onChange != nil {
		s.onChange(len(s.until))
	}
}

func suppressionKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// Ensure SuppressionRegistry implements domain.RealTimeMonitor.
var _ domain.RealTimeMonitor = (*SuppressionRegistry)(nil)
