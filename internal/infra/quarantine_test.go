package infra

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/shieldscan/internal/domain"
	"github.com/eliteGoblin/shieldscan/internal/policy"
)

// recordingMonitor captures suppression calls and whether the destination
// already existed when Suppress was called.
type recordingMonitor struct {
	mu                sync.Mutex
	suppressed        []string
	cleared           []string
	existedOnSuppress bool
}

func (m *recordingMonitor) Suppress(path string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := os.Stat(path); err == nil {
		m.existedOnSuppress = true
	}
	m.suppressed = append(m.suppressed, path)
}

func (m *recordingMonitor) ClearSuppression(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared = append(m.cleared, path)
}

// brokenTransform writes half of the input, then fails.
type brokenTransform struct {
	failEncode bool
	failDecode bool
}

func (b brokenTransform) Encode(dst io.Writer, src io.Reader) (int64, error) {
	if b.failEncode {
		return halfThenFail(dst, src)
	}
	return NewXORTransform().Encode(dst, src)
}

func (b brokenTransform) Decode(dst io.Writer, src io.Reader) (int64, error) {
	if b.failDecode {
		return halfThenFail(dst, src)
	}
	return NewXORTransform().Decode(dst, src)
}

func halfThenFail(dst io.Writer, src io.Reader) (int64, error) {
	data, _ := io.ReadAll(src)
	n, _ := dst.Write(data[:len(data)/2])
	return int64(n), errors.New("transform failed mid-write")
}

type quarantineFixture struct {
	store   *FileQuarantine
	qdir    string
	home    string
	monitor *recordingMonitor
}

func newQuarantineFixture(t *testing.T, transform domain.ContentTransform) *quarantineFixture {
	t.Helper()
	root := t.TempDir()
	qdir := filepath.Join(root, "quarantine")
	home := filepath.Join(root, "home")
	require.NoError(t, os.MkdirAll(home, 0700))

	monitor := &recordingMonitor{}
	store, err := NewFileQuarantine(QuarantineConfig{
		Dir:       qdir,
		Transform: transform,
		Exclusion: policy.NewSelfExclusion([]string{qdir}, ""),
		Guard:     policy.NewRestoreGuard([]string{qdir}, nil),
		Monitor:   monitor,
		Logger:    zap.NewNop(),
	})
	require.NoError(t, err)

	return &quarantineFixture{store: store, qdir: qdir, home: home, monitor: monitor}
}

func (f *quarantineFixture) writeSource(t *testing.T, name string, content []byte) string {
	t.Helper()
	p := filepath.Join(f.home, name)
	require.NoError(t, os.WriteFile(p, content, 0644))
	return p
}

// rewriteEntry replaces the ledger record for e.ID, as a hand-edited ledger would.
func (f *quarantineFixture) rewriteEntry(t *testing.T, e domain.QuarantineEntry) {
	t.Helper()
	require.NoError(t, f.store.ledger.Remove(e.ID))
	require.NoError(t, f.store.ledger.Append(e))
}

func (f *quarantineFixture) quarantinedFiles(t *testing.T) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(f.qdir, "*"+quarantineSuffix))
	require.NoError(t, err)
	return matches
}

func TestFileQuarantine_RoundTrip(t *testing.T) {
	f := newQuarantineFixture(t, nil)
	content := append([]byte("MZ\x90\x00"), bytes.Repeat([]byte{0xAA, 0x00, 0x55}, 50000)...)
	src := f.writeSource(t, "invoice.pdf.exe", content)

	entry, err := f.store.Quarantine(domain.ScanResult{
		Path:        src,
		ThreatName:  "Trojan.Test",
		ThreatLevel: domain.LevelInfected,
		FileHash:    "abc",
	})
	require.NoError(t, err)

	assert.NoFileExists(t, src)
	assert.FileExists(t, entry.QuarantinedPath)
	assert.Equal(t, src, entry.OriginalPath)
	assert.Equal(t, "invoice.pdf.exe", entry.DisplayName)
	assert.Equal(t, "Trojan.Test", entry.ThreatName)
	assert.Contains(t, filepath.Base(entry.QuarantinedPath), "invoice.pdf.exe")
	assert.True(t, filepath.Ext(entry.QuarantinedPath) == quarantineSuffix)

	stored, err := os.ReadFile(entry.QuarantinedPath)
	require.NoError(t, err)
	assert.NotEqual(t, content[:4], stored[:4], "quarantined copy must not keep executable magic")

	listed, err := f.store.List()
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, entry.ID, listed[0].ID)

	require.NoError(t, f.store.Restore(*entry))

	restored, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, restored), "restore must be byte-identical")
	assert.NoFileExists(t, entry.QuarantinedPath)

	listed, err = f.store.List()
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestFileQuarantine_TransformFailureLeavesSourceIntact(t *testing.T) {
	f := newQuarantineFixture(t, brokenTransform{failEncode: true})
	content := []byte("malicious payload bytes that must stay put")
	src := f.writeSource(t, "sample.bin", content)

	_, err := f.store.Quarantine(domain.ScanResult{Path: src})
	require.Error(t, err)

	after, readErr := os.ReadFile(src)
	require.NoError(t, readErr)
	assert.Equal(t, content, after)
	assert.Empty(t, f.quarantinedFiles(t), "partial destination must be removed")

	listed, err := f.store.List()
	require.NoError(t, err)
	assert.Empty(t, listed)
	assert.NoFileExists(t, f.store.ledger.Path(), "no ledger write on failure")
}

func TestFileQuarantine_SourceDeleteFailureRollsBack(t *testing.T) {
	f := newQuarantineFixture(t, nil)
	src := f.writeSource(t, "locked.bin", []byte("cannot delete me"))
	f.store.SetRemoveFunc(func(string) error { return errors.New("permission denied") })

	_, err := f.store.Quarantine(domain.ScanResult{Path: src})
	require.Error(t, err)

	assert.FileExists(t, src)
	assert.Empty(t, f.quarantinedFiles(t))
	listed, err := f.store.List()
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestFileQuarantine_MissingSource(t *testing.T) {
	f := newQuarantineFixture(t, nil)

	_, err := f.store.Quarantine(domain.ScanResult{Path: filepath.Join(f.home, "gone.bin")})
	assert.ErrorIs(t, err, domain.ErrSourceNotFound)

	_, err = f.store.Quarantine(domain.ScanResult{})
	assert.ErrorIs(t, err, domain.ErrSourceNotFound)
}

func TestFileQuarantine_RefusesSelfManagedSource(t *testing.T) {
	f := newQuarantineFixture(t, nil)
	inside := filepath.Join(f.qdir, "planted.bin")
	require.NoError(t, os.WriteFile(inside, []byte("x"), 0600))

	_, err := f.store.Quarantine(domain.ScanResult{Path: inside})
	assert.ErrorIs(t, err, domain.ErrSelfManaged)
	assert.FileExists(t, inside)
}

func TestFileQuarantine_UnsafeRestoreKeepsEntry(t *testing.T) {
	f := newQuarantineFixture(t, nil)
	src := f.writeSource(t, "evil.bin", []byte("evil"))
	entry, err := f.store.Quarantine(domain.ScanResult{Path: src})
	require.NoError(t, err)

	tampered := *entry
	tampered.OriginalPath = filepath.Join(f.qdir, "escape.bin")
	f.rewriteEntry(t, tampered)

	err = f.store.Restore(*entry)
	assert.ErrorIs(t, err, domain.ErrUnsafeDestination)
	assert.NoFileExists(t, tampered.OriginalPath)
	assert.Empty(t, f.monitor.suppressed, "rejected before any suppression or write")

	listed, err := f.store.List()
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, entry.ID, listed[0].ID)
}

func TestFileQuarantine_RestoreSuppressesBeforeWrite(t *testing.T) {
	f := newQuarantineFixture(t, nil)
	src := f.writeSource(t, "doc.bin", []byte("restore me"))
	entry, err := f.store.Quarantine(domain.ScanResult{Path: src})
	require.NoError(t, err)

	require.NoError(t, f.store.Restore(*entry))

	assert.Equal(t, []string{src}, f.monitor.suppressed)
	assert.False(t, f.monitor.existedOnSuppress, "suppression must precede the write")
	assert.Empty(t, f.monitor.cleared, "successful restore keeps the window open")
}

func TestFileQuarantine_RestoreWriteFailureClearsSuppression(t *testing.T) {
	f := newQuarantineFixture(t, brokenTransform{failDecode: true})
	src := f.writeSource(t, "doc.bin", []byte("restore me please"))
	entry, err := f.store.Quarantine(domain.ScanResult{Path: src})
	require.NoError(t, err)

	err = f.store.Restore(*entry)
	require.Error(t, err)

	assert.Equal(t, []string{src}, f.monitor.cleared)
	assert.NoFileExists(t, src, "partial restore must be removed")
	assert.FileExists(t, entry.QuarantinedPath)

	listed, err := f.store.List()
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestFileQuarantine_RestoreRefusesExistingDestination(t *testing.T) {
	f := newQuarantineFixture(t, nil)
	src := f.writeSource(t, "dup.bin", []byte("old"))
	entry, err := f.store.Quarantine(domain.ScanResult{Path: src})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(src, []byte("new file at same path"), 0644))

	err = f.store.Restore(*entry)
	assert.ErrorIs(t, err, domain.ErrDestinationExists)

	after, _ := os.ReadFile(src)
	assert.Equal(t, "new file at same path", string(after))
	assert.Empty(t, f.monitor.suppressed)
}

func TestFileQuarantine_RestoreMissingQuarantinedFile(t *testing.T) {
	f := newQuarantineFixture(t, nil)
	src := f.writeSource(t, "x.bin", []byte("x"))
	entry, err := f.store.Quarantine(domain.ScanResult{Path: src})
	require.NoError(t, err)
	require.NoError(t, os.Remove(entry.QuarantinedPath))

	assert.ErrorIs(t, f.store.Restore(*entry), domain.ErrQuarantinedFileMissing)
}

func TestFileQuarantine_RestoreCleanupIsBestEffort(t *testing.T) {
	f := newQuarantineFixture(t, nil)
	src := f.writeSource(t, "x.bin", []byte("payload"))
	entry, err := f.store.Quarantine(domain.ScanResult{Path: src})
	require.NoError(t, err)

	f.store.SetRemoveFunc(func(string) error { return errors.New("busy") })

	require.NoError(t, f.store.Restore(*entry))
	assert.FileExists(t, src)

	entries, err := f.store.ledger.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries, "ledger entry removed even though the copy lingers")
}

func TestFileQuarantine_Delete(t *testing.T) {
	f := newQuarantineFixture(t, nil)
	src := f.writeSource(t, "x.bin", []byte("payload"))
	entry, err := f.store.Quarantine(domain.ScanResult{Path: src})
	require.NoError(t, err)

	require.NoError(t, f.store.Delete(*entry))
	assert.NoFileExists(t, entry.QuarantinedPath)
	assert.NoFileExists(t, src)

	listed, err := f.store.List()
	require.NoError(t, err)
	assert.Empty(t, listed)

	assert.ErrorIs(t, f.store.Delete(*entry), domain.ErrEntryNotFound)
}

func TestFileQuarantine_DeleteFailureKeepsEntry(t *testing.T) {
	f := newQuarantineFixture(t, nil)
	src := f.writeSource(t, "x.bin", []byte("payload"))
	entry, err := f.store.Quarantine(domain.ScanResult{Path: src})
	require.NoError(t, err)

	f.store.SetRemoveFunc(func(string) error { return errors.New("read-only filesystem") })

	require.Error(t, f.store.Delete(*entry))
	listed, err := f.store.List()
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestFileQuarantine_UnrecordedEntryIsRejected(t *testing.T) {
	f := newQuarantineFixture(t, nil)
	victim := f.writeSource(t, "thesis.docx", []byte("years of work"))
	src := f.writeSource(t, "restored.bin", []byte("never quarantined"))
	require.NoError(t, os.Remove(src))

	tests := []struct {
		name  string
		entry domain.QuarantineEntry
		op    func(domain.QuarantineEntry) error
	}{
		{
			name:  "delete of unknown id",
			entry: domain.QuarantineEntry{ID: "not-in-ledger", QuarantinedPath: victim},
			op:    f.store.Delete,
		},
		{
			name:  "restore of unknown id",
			entry: domain.QuarantineEntry{ID: "not-in-ledger", QuarantinedPath: victim, OriginalPath: src},
			op:    f.store.Restore,
		},
		{
			name:  "delete without id",
			entry: domain.QuarantineEntry{QuarantinedPath: victim},
			op:    f.store.Delete,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op(tt.entry)
			assert.ErrorIs(t, err, domain.ErrEntryNotFound)
			assert.FileExists(t, victim)
			assert.NoFileExists(t, src)
			assert.Empty(t, f.monitor.suppressed)
		})
	}
}

func TestFileQuarantine_CallerPathMustMatchLedger(t *testing.T) {
	f := newQuarantineFixture(t, nil)
	victim := f.writeSource(t, "thesis.docx", []byte("years of work"))
	src := f.writeSource(t, "x.bin", []byte("payload"))
	entry, err := f.store.Quarantine(domain.ScanResult{Path: src})
	require.NoError(t, err)

	forged := *entry
	forged.QuarantinedPath = victim

	assert.ErrorIs(t, f.store.Delete(forged), domain.ErrEntryNotFound)
	assert.ErrorIs(t, f.store.Restore(forged), domain.ErrEntryNotFound)
	assert.FileExists(t, victim)
	assert.FileExists(t, entry.QuarantinedPath)

	listed, err := f.store.List()
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestFileQuarantine_LedgerPathOutsideManagedDir(t *testing.T) {
	f := newQuarantineFixture(t, nil)
	victim := f.writeSource(t, "thesis.docx", []byte("years of work"))
	src := f.writeSource(t, "x.bin", []byte("payload"))
	entry, err := f.store.Quarantine(domain.ScanResult{Path: src})
	require.NoError(t, err)

	tampered := *entry
	tampered.QuarantinedPath = victim
	f.rewriteEntry(t, tampered)

	assert.ErrorIs(t, f.store.Delete(tampered), domain.ErrUnsafeDestination)
	assert.ErrorIs(t, f.store.Restore(tampered), domain.ErrUnsafeDestination)
	assert.FileExists(t, victim)
	assert.NoFileExists(t, src)

	entries, err := f.store.ledger.Entries()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileQuarantine_RestoreKeepsPermissions(t *testing.T) {
	f := newQuarantineFixture(t, nil)
	src := f.writeSource(t, "install.sh", []byte("#!/bin/sh\necho hi\n"))
	require.NoError(t, os.Chmod(src, 0750))

	entry, err := f.store.Quarantine(domain.ScanResult{Path: src})
	require.NoError(t, err)
	assert.Equal(t, uint32(0750), entry.Mode)

	require.NoError(t, f.store.Restore(*entry))

	info, err := os.Stat(src)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0750), info.Mode().Perm())
}

func TestFileQuarantine_RestoreWithoutRecordedMode(t *testing.T) {
	f := newQuarantineFixture(t, nil)
	src := f.writeSource(t, "old.bin", []byte("from an older ledger"))
	entry, err := f.store.Quarantine(domain.ScanResult{Path: src})
	require.NoError(t, err)

	legacy := *entry
	legacy.Mode = 0
	f.rewriteEntry(t, legacy)

	require.NoError(t, f.store.Restore(legacy))

	info, err := os.Stat(src)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFileQuarantine_ListSelfHeals(t *testing.T) {
	f := newQuarantineFixture(t, nil)
	a, err := f.store.Quarantine(domain.ScanResult{Path: f.writeSource(t, "a.bin", []byte("a"))})
	require.NoError(t, err)
	b, err := f.store.Quarantine(domain.ScanResult{Path: f.writeSource(t, "b.bin", []byte("b"))})
	require.NoError(t, err)

	require.NoError(t, os.Remove(a.QuarantinedPath))

	listed, err := f.store.List()
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, b.ID, listed[0].ID)

	raw, err := os.ReadFile(f.store.ledger.Path())
	require.NoError(t, err)
	var persisted []domain.QuarantineEntry
	require.NoError(t, json.Unmarshal(raw, &persisted))
	assert.Len(t, persisted, 1, "reconciliation is persisted")
}

func TestFileQuarantine_ConcurrentQuarantines(t *testing.T) {
	f := newQuarantineFixture(t, nil)
	const n = 25

	paths := make([]string, n)
	for i := range paths {
		paths[i] = f.writeSource(t, fmt.Sprintf("sample-%02d.bin", i), []byte(fmt.Sprintf("content %d", i)))
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, p := range paths {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			_, err := f.store.Quarantine(domain.ScanResult{Path: p})
			errs <- err
		}(p)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	listed, err := f.store.List()
	require.NoError(t, err)
	require.Len(t, listed, n)

	seen := make(map[string]bool)
	for _, e := range listed {
		assert.False(t, seen[e.OriginalPath], "duplicate entry for %s", e.OriginalPath)
		seen[e.OriginalPath] = true
	}
	for _, p := range paths {
		assert.True(t, seen[p], "missing entry for %s", p)
	}
}

func TestFileQuarantine_Find(t *testing.T) {
	f := newQuarantineFixture(t, nil)
	entry, err := f.store.Quarantine(domain.ScanResult{Path: f.writeSource(t, "a.bin", []byte("a"))})
	require.NoError(t, err)

	got, err := f.store.Find(entry.ID[:8])
	require.NoError(t, err)
	assert.Equal(t, entry.ID, got.ID)

	_, err = f.store.Find("nope")
	assert.ErrorIs(t, err, domain.ErrEntryNotFound)
}
