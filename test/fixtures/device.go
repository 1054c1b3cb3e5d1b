// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
)

// KnownBadContent is the payload whose hash the fake feed lists.
var KnownBadContent = []byte("shieldscan integration known-bad payload v1")

// FakeDevice creates a directory structure mimicking a device with installed
// apps and a downloads folder.
type FakeDevice struct {
	Root string
}

// fakeApp is one installed app the fixture creates.
type fakeApp struct {
	id          string
	label       string
	system      bool
	installer   string
	permissions []string
	source      []byte
}

// NewFakeDevice creates a new fake device generator.
func NewFakeDevice(root string) *FakeDevice {
	return &FakeDevice{Root: root}
}

// DataDir is where the engine keeps its own data.
func (f *FakeDevice) DataDir() string { return filepath.Join(f.Root, "shieldscan") }

// AppsDir holds one manifest folder per installed app.
func (f *FakeDevice) AppsDir() string { return filepath.Join(f.Root, "apps") }

// Downloads is the scan root with loose files.
func (f *FakeDevice) Downloads() string { return filepath.Join(f.Root, "downloads") }

// KnownBadPath is the file whose content is in the signature feed.
func (f *FakeDevice) KnownBadPath() string { return filepath.Join(f.Downloads(), "update.bin") }

// DropperPath is an APK hiding a second APK below its root.
func (f *FakeDevice) DropperPath() string { return filepath.Join(f.Downloads(), "flashlight.apk") }

// CleanPath is an ordinary document.
func (f *FakeDevice) CleanPath() string { return filepath.Join(f.Downloads(), "notes.txt") }

// KnownBadHash returns the hex SHA-256 of KnownBadContent.
func KnownBadHash() string {
	sum := sha256.Sum256(KnownBadContent)
	return hex.EncodeToString(sum[:])
}

// Create creates the fake device structure.
func (f *FakeDevice) Create() error {
	if err := os.MkdirAll(f.Downloads(), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(f.KnownBadPath(), KnownBadContent, 0644); err != nil {
		return err
	}
	if err := os.WriteFile(f.CleanPath(), []byte("shopping list: milk, eggs"), 0644); err != nil {
		return err
	}
	if err := writeZip(f.DropperPath(), map[string]string{
		"AndroidManifest.xml":     "<manifest/>",
		"classes.dex":             "dex\n035",
		"assets/cache/stage2.apk": "PK",
	}); err != nil {
		return err
	}

	apps := []fakeApp{
		{id: "com.android.systemui", label: "System UI", system: true},
		{id: "com.google.android.apps.maps", label: "Maps", installer: "com.android.vending",
			permissions: []string{"android.permission.ACCESS_FINE_LOCATION", "android.permission.RECORD_AUDIO", "android.permission.READ_SMS"}},
		{id: "com.example.smsprize", label: "Prize Winner",
			permissions: []string{"android.permission.SEND_SMS", "android.permission.RECEIVE_SMS", "android.permission.RECEIVE_BOOT_COMPLETED"},
			source:      []byte("sendTextMessage abortBroadcast premium_sms")},
		{id: "com.example.notes", label: "Notes", installer: "com.android.vending", source: []byte("notes app")},
		{id: "com.shieldscan.app", label: "ShieldScan"},
	}
	for _, a := range apps {
		if err := f.writeApp(a); err != nil {
			return err
		}
	}
	return nil
}

func (f *FakeDevice) writeApp(a fakeApp) error {
	dir := filepath.Join(f.AppsDir(), a.id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	manifest := map[string]interface{}{
		"package_id":  a.id,
		"label":       a.label,
		"system":      a.system,
		"installer":   a.installer,
		"permissions": a.permissions,
	}
	if a.source != nil {
		if err := os.WriteFile(filepath.Join(dir, "base.apk"), a.source, 0644); err != nil {
			return err
		}
		manifest["source"] = "base.apk"
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "app.json"), data, 0644)
}

// Cleanup removes the fake device.
func (f *FakeDevice) Cleanup() error {
	return os.RemoveAll(f.Root)
}

func writeZip(path string, entries map[string]string) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for name, body := range entries {
		w, err := zw.Create(name)
		if err != nil {
			return err
		}
		if _, err := w.Write([]byte(body)); err != nil {
			return err
		}
	}
	return zw.Close()
}
