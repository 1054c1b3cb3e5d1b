// Package archive inspects container files (zip-family bundles, tar and
// gzip'd tar) by listing their entries one level deep. Nothing is unpacked.
package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/eliteGoblin/shieldscan/internal/domain"
)

const (
	// DefaultMaxEntries bounds how many entries one container may contribute.
	DefaultMaxEntries = 20000

	// escalationThreshold is the number of accumulated weak matches that
	// turns a Suspicious container into an Infected one.
	escalationThreshold = 3
)

var (
	traversalTokens = []string{
		"/etc/", "/system/", "/proc/", "/dev/", "/sbin/", "/bin/",
		"/data/data/", "/data/app/", "/root/", "/windows/", "c:/",
	}

	payloadTokens = []string{
		"payload", "dropper", "stage2", "exploit", "backdoor", "shellcode",
	}

	injectionTokens = []string{
		"frida", "xposed", "substrate", "libinject", "libhook", "hook_",
		"ptrace_inject", "gadget", "magisk",
	}

	codeExtensions = []string{
		".dex", ".odex", ".jar", ".exe", ".dll", ".elf", ".bin", ".sh", ".ps1",
	}

	nativeLibExtensions = []string{".so", ".dll", ".dylib"}

	bundleExtensions = []string{".apk", ".xapk", ".apks", ".aab", ".ipa", ".appx", ".msix"}
)

// Inspector implements domain.ArchiveInspector.
type Inspector struct {
	maxEntries int
	logger     *zap.Logger
}

// NewInspector creates an archive inspector.
func NewInspector(logger *zap.Logger) *Inspector {
	return &Inspector{maxEntries: DefaultMaxEntries, logger: logger}
}

// NewInspectorWithLimit creates an inspector with a custom entry cap (for testing).
func NewInspectorWithLimit(maxEntries int, logger *zap.Logger) *Inspector {
	return &Inspector{maxEntries: maxEntries, logger: logger}
}

// Inspect lists the container and classifies every entry name.
// A container that cannot be read yields an empty Clean result.
func (in *Inspector) Inspect(containerPath string) domain.AnalysisResult {
	names, err := in.listEntries(containerPath)
	if err != nil {
		in.logger.Debug("container unreadable, skipping structural checks",
			zap.String("path", containerPath),
			zap.Error(err))
		return domain.AnalysisResult{ThreatLevel: domain.LevelClean}
	}
	return Classify(names)
}

// Classify applies the structural policy to a list of entry names.
func Classify(names []string) domain.AnalysisResult {
	result := domain.AnalysisResult{ThreatLevel: domain.LevelClean}
	weak := 0

	for _, raw := range names {
		name := strings.ToLower(strings.ReplaceAll(raw, "\\", "/"))
		if name == "" || strings.HasSuffix(name, "/") {
			continue
		}
		base := path.Base(name)
		ext := path.Ext(base)

		if hasAny(ext, nativeLibExtensions) && containsAny(base, injectionTokens) {
			result.Indicators = append(result.Indicators, domain.Indicator{
				Kind:        domain.KindHeuristic,
				Severity:    domain.SeverityCritical,
				Title:       "Injection library",
				Description: "Container ships a hooking/injection native library",
				Evidence:    raw,
			})
			result.ThreatLevel = domain.LevelInfected
			setName(&result, "Archive.Injector")
			continue
		}

		// Top-level bundles are split-install parts, not indicators.
		if hasAny(ext, bundleExtensions) && strings.Contains(strings.Trim(name, "/"), "/") {
			result.Indicators = append(result.Indicators, domain.Indicator{
				Kind:        domain.KindHeuristic,
				Severity:    domain.SeverityCritical,
				Title:       "Nested installable bundle (dropper)",
				Description: "Container hides an installable bundle below its root",
				Evidence:    raw,
			})
			result.ThreatLevel = domain.LevelInfected
			setName(&result, "Archive.Dropper")
			continue
		}

		if isTraversal(raw, name) {
			weak++
			result.Indicators = append(result.Indicators, domain.Indicator{
				Kind:        domain.KindHeuristic,
				Severity:    domain.SeverityHigh,
				Title:       "Path traversal entry",
				Description: "Entry path escapes the container or targets a system location",
				Evidence:    raw,
			})
		}

		if hasAny(ext, codeExtensions) && containsAny(strings.TrimSuffix(base, ext), payloadTokens) {
			weak++
			result.Indicators = append(result.Indicators, domain.Indicator{
				Kind:        domain.KindHeuristic,
				Severity:    domain.SeverityHigh,
				Title:       "Secondary payload",
				Description: "Executable entry named like a secondary payload",
				Evidence:    raw,
			})
		}
	}

	if weak == 0 || result.ThreatLevel == domain.LevelInfected {
		return result
	}
	if weak >= escalationThreshold {
		result.ThreatLevel = domain.LevelInfected
		setName(&result, "Archive.Suspicious.Multi")
	} else {
		result.ThreatLevel = domain.LevelSuspicious
		setName(&result, "Archive.Suspicious")
	}
	return result
}

// listEntries returns entry names of a zip or (gzip'd) tar container.
func (in *Inspector) listEntries(containerPath string) ([]string, error) {
	f, err := os.Open(containerPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var magic [4]byte
	n, _ := io.ReadFull(f, magic[:])
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	switch {
	case n >= 4 && magic[0] == 'P' && magic[1] == 'K':
		return in.listZip(f)
	case n >= 2 && magic[0] == 0x1f && magic[1] == 0x8b:
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		return in.listTar(gz)
	default:
		return in.listTar(f)
	}
}

func (in *Inspector) listZip(f *os.File) ([]string, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	// Insecure names are exactly what we want to see; the reader is still
	// valid alongside ErrInsecurePath.
	zr, err := zip.NewReader(f, info.Size())
	if err != nil && !(errors.Is(err, zip.ErrInsecurePath) && zr != nil) {
		return nil, fmt.Errorf("open zip: %w", err)
	}

	names := make([]string, 0, len(zr.File))
	for i, zf := range zr.File {
		if i >= in.maxEntries {
			break
		}
		names = append(names, zf.Name)
	}
	return names, nil
}

func (in *Inspector) listTar(r io.Reader) ([]string, error) {
	tr := tar.NewReader(r)
	var names []string
	for len(names) < in.maxEntries {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !(errors.Is(err, tar.ErrInsecurePath) && hdr != nil) {
			return nil, fmt.Errorf("read tar: %w", err)
		}
		names = append(names, hdr.Name)
	}
	if len(names) == 0 {
		return nil, errors.New("not a recognized container")
	}
	return names, nil
}

// isTraversal reports whether the entry climbs out of the container, is
// absolute, or names a system location.
func isTraversal(raw, name string) bool {
	if strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "\\") {
		return true
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return true
		}
	}
	return containsAny(name, traversalTokens)
}

func setName(r *domain.AnalysisResult, name string) {
	if r.ThreatName == "" {
		r.ThreatName = name
	}
}

func hasAny(ext string, exts []string) bool {
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

// Ensure Inspector implements domain.ArchiveInspector.
var _ domain.ArchiveInspector = (*Inspector)(nil)
