package domain

import (
	"context"
	"io"
	"time"
)

// SignatureStore maps content hashes to threat labels.
// Implementation: SQLCipher encrypted SQLite database.
type SignatureStore interface {
	// Lookup returns the label stored for a lowercase hex SHA-256.
	Lookup(hash string) (label string, found bool, err error)

	// ScanPatterns returns the names of every stored text pattern found in
	// the file. The caller applies its own vocabulary filter.
	ScanPatterns(path string) ([]string, error)
}

// HeuristicAnalyzer scores files and apps on behavioral/structural grounds.
type HeuristicAnalyzer interface {
	// AnalyzeFile inspects a single file on disk.
	AnalyzeFile(path string) (AnalysisResult, error)

	// AnalyzeInstalledApp inspects an installed app by its metadata.
	AnalyzeInstalledApp(packageID string, meta AppMetadata) (AnalysisResult, error)
}

// RealTimeMonitor is the suppression surface of the real-time watcher.
// A suppressed path is not re-scanned until the window expires or is cleared.
type RealTimeMonitor interface {
	Suppress(path string, ttl time.Duration)
	ClearSuppression(path string)
}

// RuleEngine runs the rule catalog over a byte buffer.
type RuleEngine interface {
	// Scan matches at most maxWindow bytes of data.
	Scan(data []byte, maxWindow int) []RuleMatch
}

// ArchiveInspector inspects container files structurally.
type ArchiveInspector interface {
	// Inspect lists container entries one level deep. Unreadable containers
	// produce an empty Clean result.
	Inspect(path string) AnalysisResult
}

// AppInventory enumerates installed applications.
type AppInventory interface {
	// List returns every installed app, system apps included.
	List() ([]InstalledApp, error)

	// Get returns one app or ErrAppNotFound.
	Get(packageID string) (*InstalledApp, error)
}

// WalkOptions bounds the candidate file discovery of a full scan.
type WalkOptions struct {
	Extensions  []string // lowercase, with leading dot
	MaxFileSize int64
	MaxDepth    int
}

// FileSystemManager handles filesystem operations.
type FileSystemManager interface {
	// Exists checks if a path exists.
	Exists(path string) bool

	// ExpandHome expands ~ to the user's home directory.
	ExpandHome(path string) string

	// CandidateFiles walks the roots and returns files matching opts.
	CandidateFiles(roots []string, opts WalkOptions) ([]string, error)

	// SHA256 returns the lowercase hex content hash of a file, streamed.
	SHA256(path string) (string, error)

	// ReadPrefix reads at most n bytes from the start of a file.
	ReadPrefix(path string, n int) ([]byte, error)
}

// ExclusionPolicy identifies engine-owned data that must never be flagged.
type ExclusionPolicy interface {
	IsSelfManaged(path string) bool
	IsSelfPackage(packageID string) bool
}

// DestinationGuard validates restore destinations before any write.
type DestinationGuard interface {
	// Check returns ErrUnsafeDestination (wrapped) for rejected paths.
	Check(path string) error
}

// ContentTransform neutralizes quarantined bytes so they cannot execute.
// Encode and Decode must be exact inverses.
type ContentTransform interface {
	Encode(dst io.Writer, src io.Reader) (int64, error)
	Decode(dst io.Writer, src io.Reader) (int64, error)
}

// ProgressFunc receives full-scan progress. It runs inline with the scan
// loop and must return promptly.
type ProgressFunc func(Progress)

// Scanner coordinates all detection signals into one verdict.
type Scanner interface {
	ScanFile(path string, scanType ScanType) ScanResult
	ScanInstalledApp(packageID string, scanType ScanType) ScanResult
	RunFullScan(ctx context.Context, scanType ScanType, onProgress ProgressFunc) ([]ScanResult, error)
	ToActionableRisk(result ScanResult) *RiskVerdict
}

// QuarantineStore isolates, restores and deletes confirmed threats.
type QuarantineStore interface {
	Quarantine(result ScanResult) (*QuarantineEntry, error)
	Restore(entry QuarantineEntry) error
	Delete(entry QuarantineEntry) error
	List() ([]QuarantineEntry, error)
}

// KeyProvider abstracts the source of encryption keys.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}
