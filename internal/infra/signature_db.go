package infra

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"
	"go.uber.org/zap"

	"github.com/eliteGoblin/shieldscan/internal/domain"
)

// Ensure sqlcipher driver is registered.
var _ = sqlcipher.ErrBusy

const (
	// DefaultPatternWindow bounds how much of a file ScanPatterns reads.
	DefaultPatternWindow = 4 << 20
)

// textPattern is one compiled pattern held in memory for lock-free scans.
type textPattern struct {
	name    string
	pattern string // lowercased
}

// SignatureStats summarizes the database contents.
type SignatureStats struct {
	Signatures int       `json:"signatures"`
	Patterns   int       `json:"patterns"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SignatureDB implements domain.SignatureStore using a SQLCipher encrypted
// SQLite database. Encryption at rest keeps other engines from flagging the
// malware byte patterns it stores.
type SignatureDB struct {
	db       *sql.DB
	dbPath   string
	patterns atomic.Pointer[[]textPattern]
	window   int
	logger   *zap.Logger
}

// NewSignatureDB opens (or creates) the encrypted signature database at dbPath.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewSignatureDB(dbPath string, key []byte, logger *zap.Logger) (*SignatureDB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	keyHex := hex.EncodeToString(key)

	// Open with SQLCipher key as DSN parameter
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}

	// A wrong key only shows up on first access.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	s := &SignatureDB{
		db:     db,
		dbPath: dbPath,
		window: DefaultPatternWindow,
		logger: logger,
	}

	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	if err := s.loadPatterns(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load patterns: %w", err)
	}

	return s, nil
}

// createTables creates the schema if it doesn't exist.
func (s *SignatureDB) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS signatures (
		sha256 TEXT PRIMARY KEY,
		label TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS patterns (
		name TEXT PRIMARY KEY,
		pattern TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- domain.SignatureStore implementation ---

// Lookup returns the label stored for a SHA-256 hash.
func (s *SignatureDB) Lookup(hash string) (string, bool, error) {
	var label string
	err := s.db.QueryRow(`SELECT label FROM signatures WHERE sha256 = ?`,
		strings.ToLower(strings.TrimSpace(hash))).Scan(&label)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return label, true, nil
}

// ScanPatterns returns the names of stored patterns found in the first
// window bytes of the file, case-insensitively.
func (s *SignatureDB) ScanPatterns(path string) ([]string, error) {
	patterns := s.patterns.Load()
	if patterns == nil || len(*patterns) == 0 {
		return nil, nil
	}

	data, err := ReadPrefix(path, s.window)
	if err != nil {
		return nil, err
	}
	lower := strings.ToLower(string(data))

	var names []string
	for _, p := range *patterns {
		if strings.Contains(lower, p.pattern) {
			names = append(names, p.name)
		}
	}
	return names, nil
}

// --- maintenance ---

// AddSignature inserts or replaces one hash signature.
func (s *SignatureDB) AddSignature(hash, label string) error {
	hash = strings.ToLower(strings.TrimSpace(hash))
	if !isSHA256Hex(hash) {
		return fmt.Errorf("invalid sha256 %q", hash)
	}
	_, err := s.db.Exec(`INSERT OR REPLACE INTO signatures (sha256, label) VALUES (?, ?)`, hash, label)
	if err != nil {
		return err
	}
	return s.touch()
}

// AddPattern inserts or replaces one text pattern.
func (s *SignatureDB) AddPattern(name, pattern string) error {
	if name == "" || pattern == "" {
		return errors.New("pattern name and body are required")
	}
	_, err := s.db.Exec(`INSERT OR REPLACE INTO patterns (name, pattern) VALUES (?, ?)`, name, pattern)
	if err != nil {
		return err
	}
	if err := s.touch(); err != nil {
		return err
	}
	return s.loadPatterns()
}

// Reload replaces the whole database contents with the feed in one
// transaction. On error the previous contents stay in place.
func (s *SignatureDB) Reload(feed SignatureFeed) error {
	if err := feed.Validate(); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM signatures`); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM patterns`); err != nil {
		return err
	}
	for _, sig := range feed.Signatures {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO signatures (sha256, label) VALUES (?, ?)`,
			strings.ToLower(sig.SHA256), sig.Label); err != nil {
			return fmt.Errorf("failed to insert signature %s: %w", sig.SHA256, err)
		}
	}
	for _, p := range feed.Patterns {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO patterns (name, pattern) VALUES (?, ?)`,
			p.Name, p.Pattern); err != nil {
			return fmt.Errorf("failed to insert pattern %s: %w", p.Name, err)
		}
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta (key, value) VALUES ('updated_at', ?)`,
		strconv.FormatInt(time.Now().Unix(), 10)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.logger.Info("signature database reloaded",
		zap.Int("signatures", len(feed.Signatures)),
		zap.Int("patterns", len(feed.Patterns)))
	return s.loadPatterns()
}

// Stats returns row counts and the last update time.
func (s *SignatureDB) Stats() (SignatureStats, error) {
	var st SignatureStats
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM signatures`).Scan(&st.Signatures); err != nil {
		return st, err
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM patterns`).Scan(&st.Patterns); err != nil {
		return st, err
	}

	var updated string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'updated_at'`).Scan(&updated)
	if err == nil {
		if sec, convErr := strconv.ParseInt(updated, 10, 64); convErr == nil {
			st.UpdatedAt = time.Unix(sec, 0)
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return st, err
	}
	return st, nil
}

// Path returns the database file path.
func (s *SignatureDB) Path() string {
	return s.dbPath
}

// Close releases the database connection.
func (s *SignatureDB) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// loadPatterns swaps in a fresh in-memory pattern set.
func (s *SignatureDB) loadPatterns() error {
	rows, err := s.db.Query(`SELECT name, pattern FROM patterns ORDER BY name`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var loaded []textPattern
	for rows.Next() {
		var name, pattern string
		if err := rows.Scan(&name, &pattern); err != nil {
			return err
		}
		loaded = append(loaded, textPattern{name: name, pattern: strings.ToLower(pattern)})
	}
	if err := rows.Err(); err != nil {
		return err
	}

	s.patterns.Store(&loaded)
	return nil
}

func (s *SignatureDB) touch() error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO meta (key, value) VALUES ('updated_at', ?)`,
		strconv.FormatInt(time.Now().Unix(), 10))
	return err
}

func isSHA256Hex(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// Ensure SignatureDB implements domain.SignatureStore.
var _ domain.SignatureStore = (*SignatureDB)(nil)
