package infra

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/shieldscan/internal/domain"
)

func sampleEntry(id string) domain.QuarantineEntry {
	return domain.QuarantineEntry{
		ID:              id,
		OriginalPath:    "/home/u/" + id,
		QuarantinedPath: "/q/" + id + ".quarantine",
		DisplayName:     id,
		QuarantinedAtMs: 1700000000000,
	}
}

func TestQuarantineLedger_AppendRemove(t *testing.T) {
	l := NewQuarantineLedger(filepath.Join(t.TempDir(), "ledger.json"), zap.NewNop())

	require.NoError(t, l.Append(sampleEntry("a")))
	require.NoError(t, l.Append(sampleEntry("b")))

	entries, err := l.Entries()
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	require.NoError(t, l.Remove("a"))
	assert.ErrorIs(t, l.Remove("a"), domain.ErrEntryNotFound)

	got, err := l.Find("b")
	require.NoError(t, err)
	assert.Equal(t, "/home/u/b", got.OriginalPath)
}

func TestQuarantineLedger_MissingFileIsEmpty(t *testing.T) {
	l := NewQuarantineLedger(filepath.Join(t.TempDir(), "none", "ledger.json"), zap.NewNop())

	entries, err := l.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestQuarantineLedger_CorruptDocumentIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))
	l := NewQuarantineLedger(path, zap.NewNop())

	entries, err := l.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, l.Append(sampleEntry("fresh")))
	entries, err = l.Entries()
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	copies, err := filepath.Glob(path + ".corrupt.*")
	require.NoError(t, err)
	require.Len(t, copies, 1)
	kept, err := os.ReadFile(copies[0])
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(kept))
}

func TestQuarantineLedger_BadRecordsPreservedOnRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	doc := `[{"id":"good","original_path":"/a","quarantined_path":"/q/a.quarantine","display_name":"a","quarantined_at_ms":1},{"id":42}]`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0600))
	l := NewQuarantineLedger(path, zap.NewNop())

	require.NoError(t, l.Append(sampleEntry("fresh")))
	require.NoError(t, l.Append(sampleEntry("second")))

	copies, err := filepath.Glob(path + ".corrupt.*")
	require.NoError(t, err)
	require.Len(t, copies, 1, "only the first rewrite sees damage")

	entries, err := l.Entries()
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestQuarantineLedger_UnreadableIsNeverOverwritten(t *testing.T) {
	// A directory at the ledger path fails to read with something other than ENOENT.
	path := filepath.Join(t.TempDir(), "ledger.json")
	require.NoError(t, os.MkdirAll(path, 0700))
	l := NewQuarantineLedger(path, zap.NewNop())

	entries, err := l.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries)

	err = l.Append(sampleEntry("fresh"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refusing to overwrite")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestQuarantineLedger_SkipsBadRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	doc := `[
		{"id":"good","original_path":"/a","quarantined_path":"/q/a.quarantine","display_name":"a","quarantined_at_ms":1},
		{"id":42},
		"garbage",
		{"id":"","quarantined_path":"/q/x"}
	]`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0600))

	entries, err := NewQuarantineLedger(path, zap.NewNop()).Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "good", entries[0].ID)
}

func TestQuarantineLedger_RenameFallbackCopies(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.json")
	l := NewQuarantineLedgerWithRename(path, func(string, string) error {
		return errors.New("cross-device link")
	}, zap.NewNop())

	require.NoError(t, l.Append(sampleEntry("a")))

	entries, err := l.Entries()
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	tmps, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, tmps, "temp file removed after fallback")
}

func TestQuarantineLedger_Reconcile(t *testing.T) {
	l := NewQuarantineLedger(filepath.Join(t.TempDir(), "ledger.json"), zap.NewNop())
	require.NoError(t, l.Append(sampleEntry("keep")))
	require.NoError(t, l.Append(sampleEntry("drop")))

	kept, err := l.Reconcile(func(e domain.QuarantineEntry) bool { return e.ID == "keep" })
	require.NoError(t, err)
	require.Len(t, kept, 1)

	entries, err := l.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "keep", entries[0].ID)
}
