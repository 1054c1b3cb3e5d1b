package infra

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/eliteGoblin/shieldscan/internal/domain"
)

const (
	// DefaultKeyFileName is the signature database key file inside the data dir.
	DefaultKeyFileName = "signatures.key"
	keySize            = 32 // 256-bit SQLCipher key
)

// FileKeyProvider implements domain.KeyProvider with a 0600 file holding the
// base64-encoded signature database key.
type FileKeyProvider struct {
	keyPath string
}

// NewFileKeyProvider creates a provider for the default key file in dataDir.
func NewFileKeyProvider(dataDir string) *FileKeyProvider {
	return NewFileKeyProviderAt(filepath.Join(dataDir, DefaultKeyFileName))
}

// NewFileKeyProviderAt creates a provider for an explicit key file path.
func NewFileKeyProviderAt(keyPath string) *FileKeyProvider {
	return &FileKeyProvider{keyPath: keyPath}
}

// Path returns the key file path.
func (p *FileKeyProvider) Path() string {
	return p.keyPath
}

// GetKey reads the key. A key file readable by group or others is refused.
func (p *FileKeyProvider) GetKey() ([]byte, error) {
	info, err := os.Stat(p.keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0077 != 0 {
		return nil, fmt.Errorf("key file %s has permissions %v, want 0600", p.keyPath, info.Mode().Perm())
	}

	encoded, err := os.ReadFile(p.keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(encoded)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(key), keySize)
	}
	return key, nil
}

// StoreKey writes the key atomically with 0600 permissions.
func (p *FileKeyProvider) StoreKey(key []byte) error {
	if len(key) != keySize {
		return fmt.Errorf("invalid key size: got %d, want %d", len(key), keySize)
	}
	encoded := base64.StdEncoding.EncodeToString(key)
	if err := writeFileAtomic(p.keyPath, []byte(encoded), os.Rename); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

// KeyExists checks if the key file exists.
func (p *FileKeyProvider) KeyExists() bool {
	_, err := os.Stat(p.keyPath)
	return err == nil
}

// GenerateKey creates a new random 256-bit key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}
	return key, nil
}

// EnsureKey returns the stored key, generating and storing one first when
// none exists.
func EnsureKey(provider domain.KeyProvider) ([]byte, error) {
	if provider.KeyExists() {
		return provider.GetKey()
	}
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := provider.StoreKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

// Ensure FileKeyProvider implements domain.KeyProvider.
var _ domain.KeyProvider = (*FileKeyProvider)(nil)
