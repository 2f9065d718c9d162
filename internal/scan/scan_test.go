package scan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/zot/autoreq/internal/archive"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func names(cands []Candidate) map[string]Origin {
	m := make(map[string]Origin)
	for _, c := range cands {
		m[c.Name] = c.Origin
	}
	return m
}

func TestScanDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "foo.lua"), "return {}")
	writeFile(t, filepath.Join(dir, "bar", "init.lua"), "return {}")
	writeFile(t, filepath.Join(dir, "plain", "readme.txt"), "not a package")
	writeFile(t, filepath.Join(dir, "notes.txt"), "not a module")

	got := names(NewScanner(nil, nil).Scan([]string{dir}))

	if got["foo"] != OriginFile {
		t.Errorf("Expected foo as file candidate, got %v", got)
	}
	if got["bar"] != OriginDir {
		t.Errorf("Expected bar as dir candidate, got %v", got)
	}
	if _, ok := got["plain"]; ok {
		t.Error("Directory without marker should not be a candidate")
	}
	if _, ok := got["notes"]; ok {
		t.Error("Non-module extension should not be a candidate")
	}
}

func TestScanArchive(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "pkg", "init.lua"), "return {}")
	writeFile(t, filepath.Join(src, "solo.lua"), "return {}")
	writeFile(t, filepath.Join(src, "data", "blob.bin"), "x")

	zipPath := filepath.Join(t.TempDir(), "lib.zip")
	if err := archive.Pack(src, zipPath); err != nil {
		t.Fatalf("Pack failed: %v", err)
	}

	got := names(NewScanner(nil, nil).Scan([]string{zipPath}))

	if got["pkg"] != OriginArchive {
		t.Errorf("Expected pkg from archive, got %v", got)
	}
	if got["solo"] != OriginArchive {
		t.Errorf("Expected solo from archive, got %v", got)
	}
	if _, ok := got["data"]; ok {
		t.Error("Archive dir without marker should not be a candidate")
	}
}

func TestModuleSuffixTrim(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "socketmodule.lua"), "return {}")

	got := names(NewScanner(nil, nil).Scan([]string{dir}))

	if _, ok := got["socketmodule"]; !ok {
		t.Error("Expected the full stem as a candidate")
	}
	if _, ok := got["socket"]; !ok {
		t.Error("Expected the trimmed legacy name as a candidate")
	}
}

func TestBuiltinProbe(t *testing.T) {
	probe := func(name string) bool { return name == "os" || name == "table" }
	got := names(NewScanner(probe, nil).Scan(nil))

	if got["os"] != OriginBuiltin || got["table"] != OriginBuiltin {
		t.Errorf("Expected os and table from probe, got %v", got)
	}
	if _, ok := got["math"]; ok {
		t.Error("Probe-rejected builtin should not be offered")
	}
}

func TestDeduplication(t *testing.T) {
	dir1 := t.TempDir()
	dir2 := t.TempDir()
	writeFile(t, filepath.Join(dir1, "foo.lua"), "return {}")
	writeFile(t, filepath.Join(dir2, "foo.lua"), "return {}")

	cands := NewScanner(nil, nil).Scan([]string{dir1, dir2})
	count := 0
	for _, c := range cands {
		if c.Name == "foo" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("Expected foo once, got %d", count)
	}
	// First occurrence wins.
	for _, c := range cands {
		if c.Name == "foo" && c.Source != dir1 {
			t.Errorf("Expected foo from %s, got %s", dir1, c.Source)
		}
	}
}

func TestMissingPathEntries(t *testing.T) {
	got := NewScanner(nil, nil).Scan([]string{"/no/such/dir", "/no/such/lib.zip"})
	if len(got) != 0 {
		t.Errorf("Expected no candidates from missing entries, got %v", got)
	}
}

func TestNamesForPath(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "foo.lua"), "return {}")
	writeFile(t, filepath.Join(dir, "bar", "init.lua"), "return {}")
	writeFile(t, filepath.Join(dir, "notes.txt"), "x")

	if got := NamesForPath(filepath.Join(dir, "foo.lua")); len(got) != 1 || got[0] != "foo" {
		t.Errorf("Expected [foo], got %v", got)
	}
	if got := NamesForPath(filepath.Join(dir, "bar")); len(got) != 1 || got[0] != "bar" {
		t.Errorf("Expected [bar], got %v", got)
	}
	if got := NamesForPath(filepath.Join(dir, "notes.txt")); got != nil {
		t.Errorf("Expected nil for non-module, got %v", got)
	}
}

func TestIsMarker(t *testing.T) {
	if !IsMarker("init.lua") {
		t.Error("init.lua is a package marker")
	}
	if IsMarker("main.lua") {
		t.Error("main.lua is not a package marker")
	}
}
