package testutil

import (
	"archive/zip"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// CreateTestZip writes a zip archive at dir/name holding files, keyed by
// slash-separated path inside the archive.
func CreateTestZip(t *testing.T, dir, name string, files map[string]string) string {
	t.Helper()
	filePath := filepath.Join(dir, name)
	file, err := os.Create(filePath)
	if err != nil {
		t.Fatalf("Failed to create temp zip file: %v", err)
	}
	defer file.Close()

	zipWriter := zip.NewWriter(file)
	for path, content := range files {
		w, err := zipWriter.Create(path)
		if err != nil {
			t.Fatalf("Failed to create entry '%s' in zip: %v", path, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("Failed to write entry '%s' in zip: %v", path, err)
		}
	}
	if err := zipWriter.Close(); err != nil {
		t.Fatalf("Failed to finalize zip: %v", err)
	}
	return filePath
}

// ManifestJSON renders a package.json body for tests.
func ManifestJSON(t *testing.T, manifest map[string]any) string {
	t.Helper()
	data, err := json.Marshal(manifest)
	if err != nil {
		t.Fatalf("Failed to marshal manifest: %v", err)
	}
	return string(data)
}

// CreateTestPlugin writes a plugin directory with a package.json and an
// entry file under root/name and returns its path.
func CreateTestPlugin(t *testing.T, root, name string, manifest map[string]any) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create plugin dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "package.json"), []byte(ManifestJSON(t, manifest)), 0644); err != nil {
		t.Fatalf("Failed to write package.json: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "index.js"), []byte("module.exports = {};\n"), 0644); err != nil {
		t.Fatalf("Failed to write index.js: %v", err)
	}
	return dir
}
