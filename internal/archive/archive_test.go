package archive

import (
	"os"
	"path/filepath"
	"testing"
)

// buildTree creates a module tree for packing tests.
func buildTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	files := map[string]string{
		"foo.lua":      "return {n = 1}",
		"pkg/init.lua": "return {name = 'pkg'}",
		"pkg/sub.lua":  "return {}",
		"junk.lua~":    "ignored backup",
	}
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("Failed to create dir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}
	return dir
}

func TestPackAndOpen(t *testing.T) {
	dir := buildTree(t)
	out := filepath.Join(t.TempDir(), "mods.zip")

	if err := Pack(dir, out); err != nil {
		t.Fatalf("Pack failed: %v", err)
	}

	a, err := Open(out)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	for _, want := range []string{"foo.lua", "pkg/init.lua", "pkg/sub.lua"} {
		if !a.Has(want) {
			t.Errorf("Expected archive to contain %s, names: %v", want, a.Names())
		}
	}
	if a.Has("junk.lua~") {
		t.Error("Backup file should have been excluded from the archive")
	}

	data, err := a.Read("foo.lua")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(data) != "return {n = 1}" {
		t.Errorf("Unexpected content: %q", data)
	}
}

func TestReadMissingEntry(t *testing.T) {
	dir := buildTree(t)
	out := filepath.Join(t.TempDir(), "mods.zip")
	if err := Pack(dir, out); err != nil {
		t.Fatalf("Pack failed: %v", err)
	}

	a, err := Open(out)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := a.Read("nosuch.lua"); err == nil {
		t.Error("Expected error reading missing entry")
	}
}

func TestIsArchivePath(t *testing.T) {
	if !IsArchivePath("mods.zip") || !IsArchivePath("MODS.ZIP") {
		t.Error("Expected .zip paths to be recognized")
	}
	if IsArchivePath("mods.tar") || IsArchivePath("lua") {
		t.Error("Non-zip paths should not be recognized")
	}
}

func TestPackMissingSource(t *testing.T) {
	if err := Pack(filepath.Join(t.TempDir(), "nope"), filepath.Join(t.TempDir(), "o.zip")); err == nil {
		t.Error("Expected error packing a missing directory")
	}
}
