package infra

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/eliteGoblin/shieldscan/internal/domain"
)

const appManifestName = "app.json"

// appManifest is the on-disk description of one installed app.
type appManifest struct {
	PackageID string `json:"package_id"`
	domain.AppMetadata
}

// DirectoryInventory implements domain.AppInventory over a directory of
// per-app folders, each holding an app.json manifest.
type DirectoryInventory struct {
	appsDir string
	logger  *zap.Logger
}

// NewDirectoryInventory creates an inventory rooted at appsDir.
func NewDirectoryInventory(appsDir string, logger *zap.Logger) *DirectoryInventory {
	return &DirectoryInventory{appsDir: appsDir, logger: logger}
}

// List returns every app with a readable manifest, sorted by package id.
// A missing apps directory means no apps.
func (inv *DirectoryInventory) List() ([]domain.InstalledApp, error) {
	dirents, err := os.ReadDir(inv.appsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read apps directory: %w", err)
	}

	var apps []domain.InstalledApp
	for _, d := range dirents {
		if !d.IsDir() {
			continue
		}
		app, err := inv.read(d.Name())
		if err != nil {
			inv.logger.Warn("skipping unreadable app manifest",
				zap.String("app_dir", d.Name()),
				zap.Error(err))
			continue
		}
		apps = append(apps, *app)
	}

	sort.Slice(apps, func(i, j int) bool { return apps[i].PackageID < apps[j].PackageID })
	return apps, nil
}

// Get returns the app whose directory is named packageID.
func (inv *DirectoryInventory) Get(packageID string) (*domain.InstalledApp, error) {
	if packageID == "" || filepath.Base(packageID) != packageID {
		return nil, fmt.Errorf("%w: %q", domain.ErrAppNotFound, packageID)
	}
	app, err := inv.read(packageID)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrAppNotFound, packageID)
		}
		return nil, err
	}
	return app, nil
}

func (inv *DirectoryInventory) read(dirName string) (*domain.InstalledApp, error) {
	dir := filepath.Join(inv.appsDir, dirName)
	data, err := os.ReadFile(filepath.Join(dir, appManifestName))
	if err != nil {
		return nil, err
	}

	var m appManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	if m.PackageID == "" {
		m.PackageID = dirName
	}
	if m.SourcePath != "" && !filepath.IsAbs(m.SourcePath) {
		m.SourcePath = filepath.Join(dir, m.SourcePath)
	}
	if m.Label == "" {
		m.Label = m.PackageID
	}

	return &domain.InstalledApp{PackageID: m.PackageID, Metadata: m.AppMetadata}, nil
}

// Ensure DirectoryInventory implements domain.AppInventory.
var _ domain.AppInventory = (*DirectoryInventory)(nil)
