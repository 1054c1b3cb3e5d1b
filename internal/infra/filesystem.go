// Package infra implements infrastructure concerns: quarantine storage,
// the encrypted signature database, filesystem access and device discovery.
package infra

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/eliteGoblin/shieldscan/internal/domain"
)

// FileSystemManagerImpl implements domain.FileSystemManager.
type FileSystemManagerImpl struct {
	homeDir   string
	exclusion domain.ExclusionPolicy
	logger    *zap.Logger
}

// NewFileSystemManager creates a filesystem manager. Candidate discovery
// never descends into paths the exclusion policy marks as self-managed.
func NewFileSystemManager(exclusion domain.ExclusionPolicy, logger *zap.Logger) *FileSystemManagerImpl {
	home, _ := os.UserHomeDir()
	return NewFileSystemManagerWithHome(home, exclusion, logger)
}

// NewFileSystemManagerWithHome creates a filesystem manager with custom home (for testing).
func NewFileSystemManagerWithHome(home string, exclusion domain.ExclusionPolicy, logger *zap.Logger) *FileSystemManagerImpl {
	return &FileSystemManagerImpl{homeDir: home, exclusion: exclusion, logger: logger}
}

// Exists checks if a path exists.
func (fm *FileSystemManagerImpl) Exists(path string) bool {
	_, err := os.Stat(fm.ExpandHome(path))
	return err == nil
}

// ExpandHome expands ~ to the user's home directory.
func (fm *FileSystemManagerImpl) ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(fm.homeDir, path[2:])
	}
	if path == "~" {
		return fm.homeDir
	}
	return path
}

// SHA256 returns the lowercase hex SHA-256 of a file.
func (fm *FileSystemManagerImpl) SHA256(path string) (string, error) {
	return SHA256File(path)
}

// ReadPrefix reads at most n bytes from the start of a file.
func (fm *FileSystemManagerImpl) ReadPrefix(path string, n int) ([]byte, error) {
	return ReadPrefix(path, n)
}

// CandidateFiles walks each root up to opts.MaxDepth directory levels and
// returns regular files whose extension is allowlisted and whose size is
// within opts.MaxFileSize. Unreadable subtrees are skipped. Symlinks are
// not followed. The result is sorted and free of duplicates.
func (fm *FileSystemManagerImpl) CandidateFiles(roots []string, opts domain.WalkOptions) ([]string, error) {
	exts := make(map[string]bool, len(opts.Extensions))
	for _, e := range opts.Extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = true
	}

	seen := make(map[string]bool)
	var out []string
	var walked int

	for _, root := range roots {
		root = filepath.Clean(fm.ExpandHome(root))
		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			fm.logger.Debug("skipping scan root", zap.String("root", root), zap.Error(err))
			continue
		}
		walked++

		baseDepth := depth(root)
		err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if fm.exclusion != nil && fm.exclusion.IsSelfManaged(p) {
				if d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				if opts.MaxDepth > 0 && depth(p)-baseDepth >= opts.MaxDepth {
					return fs.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			if len(exts) > 0 && !exts[strings.ToLower(filepath.Ext(p))] {
				return nil
			}
			if opts.MaxFileSize > 0 {
				fi, err := d.Info()
				if err != nil || fi.Size() > opts.MaxFileSize {
					return nil
				}
			}
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
			return nil
		})
		if err != nil && !errors.Is(err, fs.SkipAll) {
			fm.logger.Warn("walk aborted", zap.String("root", root), zap.Error(err))
		}
	}

	if walked == 0 && len(roots) > 0 {
		return nil, errors.New("no readable scan roots")
	}
	sort.Strings(out)
	return out, nil
}

func depth(p string) int {
	return strings.Count(filepath.ToSlash(p), "/")
}

// Ensure FileSystemManagerImpl implements domain.FileSystemManager.
var _ domain.FileSystemManager = (*FileSystemManagerImpl)(nil)
