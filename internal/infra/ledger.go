package infra

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/shieldscan/internal/domain"
)

// QuarantineLedger persists quarantine entries as one JSON array.
// Every read-modify-write runs under an in-process mutex plus an flock on a
// sidecar lock file, so a CLI and a running monitor can share the ledger.
type QuarantineLedger struct {
	path     string
	lockPath string
	mu       sync.Mutex
	rename   func(oldpath, newpath string) error
	logger   *zap.Logger
}

// NewQuarantineLedger creates a ledger backed by path.
func NewQuarantineLedger(path string, logger *zap.Logger) *QuarantineLedger {
	return &QuarantineLedger{
		path:     path,
		lockPath: path + ".lock",
		rename:   os.Rename,
		logger:   logger,
	}
}

// NewQuarantineLedgerWithRename creates a ledger with a custom rename (for testing).
func NewQuarantineLedgerWithRename(path string, rename func(string, string) error, logger *zap.Logger) *QuarantineLedger {
	l := NewQuarantineLedger(path, logger)
	l.rename = rename
	return l
}

// Path returns the ledger file path.
func (l *QuarantineLedger) Path() string {
	return l.path
}

// Entries returns the current ledger contents.
func (l *QuarantineLedger) Entries() ([]domain.QuarantineEntry, error) {
	var out []domain.QuarantineEntry
	err := l.update(func(entries []domain.QuarantineEntry) ([]domain.QuarantineEntry, bool) {
		out = append(out, entries...)
		return entries, false
	})
	return out, err
}

// Append adds one entry and persists.
func (l *QuarantineLedger) Append(entry domain.QuarantineEntry) error {
	return l.update(func(entries []domain.QuarantineEntry) ([]domain.QuarantineEntry, bool) {
		return append(entries, entry), true
	})
}

// Remove drops the entry with id and persists. A missing id returns
// domain.ErrEntryNotFound.
func (l *QuarantineLedger) Remove(id string) error {
	found := false
	err := l.update(func(entries []domain.QuarantineEntry) ([]domain.QuarantineEntry, bool) {
		kept := entries[:0]
		for _, e := range entries {
			if e.ID == id {
				found = true
				continue
			}
			kept = append(kept, e)
		}
		return kept, found
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", domain.ErrEntryNotFound, id)
	}
	return nil
}

// Find returns the entry with id.
func (l *QuarantineLedger) Find(id string) (*domain.QuarantineEntry, error) {
	entries, err := l.Entries()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.ID == id {
			entry := e
			return &entry, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrEntryNotFound, id)
}

// Reconcile keeps only entries for which keep returns true, persisting when
// anything was dropped. It returns the kept entries.
func (l *QuarantineLedger) Reconcile(keep func(domain.QuarantineEntry) bool) ([]domain.QuarantineEntry, error) {
	var out []domain.QuarantineEntry
	err := l.update(func(entries []domain.QuarantineEntry) ([]domain.QuarantineEntry, bool) {
		for _, e := range entries {
			if keep(e) {
				out = append(out, e)
			}
		}
		return out, len(out) != len(entries)
	})
	return append([]domain.QuarantineEntry(nil), out...), err
}

// update runs fn over the loaded entries under both locks and persists the
// returned slice when fn reports a change. A ledger that exists but cannot be
// read is never overwritten; a corrupt one is copied aside first.
func (l *QuarantineLedger) update(fn func([]domain.QuarantineEntry) ([]domain.QuarantineEntry, bool)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, err := lockFile(l.lockPath)
	if err != nil {
		return err
	}
	defer lock.unlock()

	doc := l.load()
	next, changed := fn(doc.entries)
	if !changed {
		return nil
	}
	if doc.readErr != nil {
		return fmt.Errorf("quarantine ledger unreadable, refusing to overwrite: %w", doc.readErr)
	}
	if doc.damaged {
		if err := l.preserve(doc.raw); err != nil {
			return err
		}
	}
	return l.save(next)
}

// ledgerDoc is one load of the ledger file.
type ledgerDoc struct {
	entries []domain.QuarantineEntry
	raw     []byte
	damaged bool
	readErr error
}

// load reads the ledger. A missing, unreadable or corrupt ledger yields no
// entries and undecodable records are skipped.
func (l *QuarantineLedger) load() ledgerDoc {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ledgerDoc{}
		}
		l.logger.Warn("quarantine ledger unreadable, treating as empty",
			zap.String("path", l.path),
			zap.Error(err))
		return ledgerDoc{readErr: err}
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		l.logger.Warn("quarantine ledger corrupt, treating as empty",
			zap.String("path", l.path),
			zap.Error(err))
		return ledgerDoc{raw: data, damaged: true}
	}

	doc := ledgerDoc{raw: data, entries: make([]domain.QuarantineEntry, 0, len(raw))}
	for i, rec := range raw {
		var e domain.QuarantineEntry
		if err := json.Unmarshal(rec, &e); err != nil || e.ID == "" || e.QuarantinedPath == "" {
			l.logger.Warn("skipping unreadable ledger record",
				zap.Int("index", i),
				zap.Error(err))
			doc.damaged = true
			continue
		}
		doc.entries = append(doc.entries, e)
	}
	return doc
}

// preserve writes the damaged document next to the ledger before it is
// rewritten. Each rewrite of a damaged ledger gets its own copy.
func (l *QuarantineLedger) preserve(data []byte) error {
	aside := fmt.Sprintf("%s.corrupt.%d", l.path, time.Now().UnixNano())
	if err := os.WriteFile(aside, data, 0600); err != nil {
		return fmt.Errorf("failed to preserve damaged quarantine ledger: %w", err)
	}
	l.logger.Warn("damaged quarantine ledger preserved",
		zap.String("path", l.path),
		zap.String("copy", aside))
	return nil
}

func (l *QuarantineLedger) save(entries []domain.QuarantineEntry) error {
	if entries == nil {
		entries = []domain.QuarantineEntry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	if err := writeFileAtomic(l.path, data, l.rename); err != nil {
		return fmt.Errorf("failed to persist quarantine ledger: %w", err)
	}
	return nil
}
