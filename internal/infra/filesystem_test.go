package infra

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/shieldscan/internal/domain"
	"github.com/eliteGoblin/shieldscan/internal/policy"
)

func TestFileSystemManager_ExpandHome(t *testing.T) {
	fm := NewFileSystemManagerWithHome("/home/tester", nil, zap.NewNop())

	assert.Equal(t, "/home/tester/Downloads", fm.ExpandHome("~/Downloads"))
	assert.Equal(t, "/home/tester", fm.ExpandHome("~"))
	assert.Equal(t, "/abs/path", fm.ExpandHome("/abs/path"))
}

func TestFileSystemManager_CandidateFiles(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]int{
		"a.apk":             10,
		"b.txt":             10,
		"big.apk":           5000,
		"d1/c.EXE":          10,
		"d1/d2/deep.apk":    10,
		"d1/d2/d3/deep.apk": 10,
		"managed/x.apk":     10,
	})

	ex := policy.NewSelfExclusion([]string{filepath.Join(root, "managed")}, "")
	fm := NewFileSystemManagerWithHome(root, ex, zap.NewNop())

	got, err := fm.CandidateFiles([]string{root}, domain.WalkOptions{
		Extensions:  []string{".apk", "exe"},
		MaxFileSize: 1024,
		MaxDepth:    2,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(root, "a.apk"),
		filepath.Join(root, "d1", "c.EXE"),
	}, got)
}

func TestFileSystemManager_CandidateFilesDepthThree(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]int{
		"d1/d2/deep.apk":    10,
		"d1/d2/d3/deep.apk": 10,
	})

	fm := NewFileSystemManagerWithHome(root, nil, zap.NewNop())
	got, err := fm.CandidateFiles([]string{root}, domain.WalkOptions{MaxDepth: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "d1", "d2", "deep.apk")}, got)
}

func TestFileSystemManager_CandidateFilesDeduplicatesOverlappingRoots(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]int{"sub/a.apk": 1})

	fm := NewFileSystemManagerWithHome(root, nil, zap.NewNop())
	got, err := fm.CandidateFiles([]string{root, filepath.Join(root, "sub"), filepath.Join(root, "missing")}, domain.WalkOptions{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestFileSystemManager_CandidateFilesNoReadableRoot(t *testing.T) {
	fm := NewFileSystemManagerWithHome(t.TempDir(), nil, zap.NewNop())
	_, err := fm.CandidateFiles([]string{"/definitely/not/here"}, domain.WalkOptions{})
	assert.Error(t, err)
}
