// Package scan discovers requirable module names on the search path.
// It walks directories and zip archives, producing a de-duplicated set
// of candidate top-level names; acceptance and installation policy is
// the caller's concern.
package scan

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/zot/autoreq/internal/archive"
)

// Origin records where a candidate name was found.
type Origin int

const (
	OriginFile Origin = iota
	OriginDir
	OriginArchive
	OriginBuiltin
)

// String returns a short description of the origin kind.
func (o Origin) String() string {
	switch o {
	case OriginFile:
		return "file"
	case OriginDir:
		return "dir"
	case OriginArchive:
		return "archive"
	case OriginBuiltin:
		return "builtin"
	}
	return "unknown"
}

// Candidate is a discovered module name with its origin.
type Candidate struct {
	Name   string
	Origin Origin
	Source string // directory, file, or archive path it came from
}

// moduleExts are extensions accepted as loadable modules.
var moduleExts = []string{".lua", ".luac", ".so", ".dll"}

// markerNames are package-marker files whose presence makes a
// directory (or archive subtree) an importable package.
var markerNames = []string{"init.lua", "init.luac"}

// builtinModules are compiled directly into the runtime and invisible
// to path scanning. Each is offered only when the loader probe
// confirms the runtime can actually produce it.
var builtinModules = []string{
	"_G", "package", "table", "string", "math", "os", "io",
	"debug", "coroutine", "channel",
}

// LoaderProbe reports whether the runtime's low-level module finder
// knows a loader for the given name.
type LoaderProbe func(name string) bool

// Logf is the verbosity-gated logging callback used by the scanner.
type Logf func(level int, format string, args ...interface{})

// Scanner walks a search path producing candidate module names.
type Scanner struct {
	probe LoaderProbe
	log   Logf
}

// NewScanner creates a scanner. probe may be nil, in which case no
// builtin names are offered. log may be nil.
func NewScanner(probe LoaderProbe, log Logf) *Scanner {
	if log == nil {
		log = func(int, string, ...interface{}) {}
	}
	return &Scanner{probe: probe, log: log}
}

// Scan walks the ordered search path (directories and zip archives)
// and returns the de-duplicated candidate set, supplemented with the
// builtin modules the loader probe confirms. Unreadable entries are
// skipped; discovery is best-effort.
func (s *Scanner) Scan(searchPath []string) []Candidate {
	seen := make(map[string]bool)
	var out []Candidate
	add := func(c Candidate) {
		if c.Name == "" || seen[c.Name] {
			return
		}
		seen[c.Name] = true
		out = append(out, c)
	}

	for _, entry := range searchPath {
		if entry == "" {
			entry = "."
		}
		info, err := os.Stat(entry)
		switch {
		case err != nil:
			s.log(2, "scan: skipping %s: %v", entry, err)
		case info.IsDir():
			s.scanDir(entry, add)
		case archive.IsArchivePath(entry):
			s.scanArchive(entry, add)
		}
	}

	// Modules compiled into the runtime never show up on the path.
	for _, name := range builtinModules {
		if s.probe != nil && s.probe(name) {
			add(Candidate{Name: name, Origin: OriginBuiltin})
		}
	}

	return out
}

// scanDir adds candidates for each acceptable entry in a directory.
func (s *Scanner) scanDir(dir string, add func(Candidate)) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		s.log(2, "scan: failed to read %s: %v", dir, err)
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			if dirHasMarker(filepath.Join(dir, name)) {
				for _, mod := range nameVariants(name) {
					add(Candidate{Name: mod, Origin: OriginDir, Source: dir})
				}
			}
			continue
		}
		ext := filepath.Ext(name)
		if !isModuleExt(ext) {
			continue
		}
		stem := strings.TrimSuffix(name, ext)
		for _, mod := range nameVariants(stem) {
			add(Candidate{Name: mod, Origin: OriginFile, Source: dir})
		}
	}
}

// scanArchive adds candidates from a zip archive: top-level files with
// module extensions and top-level directories holding a marker entry.
func (s *Scanner) scanArchive(path string, add func(Candidate)) {
	a, err := archive.Open(path)
	if err != nil {
		s.log(1, "scan: %v", err)
		return
	}

	topDirs := make(map[string]bool)
	for _, entry := range a.Names() {
		entry = strings.TrimRight(entry, "/\\")
		if idx := strings.IndexAny(entry, "/\\"); idx >= 0 {
			topDirs[entry[:idx]] = true
			continue
		}
		ext := filepath.Ext(entry)
		if !isModuleExt(ext) {
			continue
		}
		stem := strings.TrimSuffix(entry, ext)
		for _, mod := range nameVariants(stem) {
			add(Candidate{Name: mod, Origin: OriginArchive, Source: path})
		}
	}

	for dir := range topDirs {
		if !archiveHasMarker(a, dir) {
			continue
		}
		for _, mod := range nameVariants(dir) {
			add(Candidate{Name: mod, Origin: OriginArchive, Source: path})
		}
	}
}

// nameVariants returns the stem itself plus, for stems ending in the
// legacy "module" suffix, the trimmed name.
func nameVariants(stem string) []string {
	variants := []string{stem}
	if lower := strings.ToLower(stem); strings.HasSuffix(lower, "module") && len(stem) > len("module") {
		variants = append(variants, stem[:len(stem)-len("module")])
	}
	return variants
}

// NamesForPath returns the candidate names a single filesystem entry
// offers: the stem variants for a module file, or the directory name
// variants for a package directory. Used by the watcher for entries
// that appear or change after the startup scan.
func NamesForPath(path string) []string {
	info, err := os.Stat(path)
	if err != nil {
		return nil
	}
	base := filepath.Base(path)
	if info.IsDir() {
		if dirHasMarker(path) {
			return nameVariants(base)
		}
		return nil
	}
	ext := filepath.Ext(base)
	if !isModuleExt(ext) {
		return nil
	}
	return nameVariants(strings.TrimSuffix(base, ext))
}

// IsMarker reports whether a filename is a package-marker file.
func IsMarker(name string) bool {
	for _, marker := range markerNames {
		if name == marker {
			return true
		}
	}
	return false
}

// isModuleExt reports whether ext is a recognized module extension.
func isModuleExt(ext string) bool {
	for _, e := range moduleExts {
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}

// dirHasMarker reports whether a directory contains a package marker.
func dirHasMarker(dir string) bool {
	for _, marker := range markerNames {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	return false
}

// archiveHasMarker reports whether an archive subtree contains a
// package marker, accepting both path separator conventions.
func archiveHasMarker(a *archive.Archive, dir string) bool {
	for _, marker := range markerNames {
		if a.Has(dir+"/"+marker) || a.Has(dir+`\`+marker) {
			return true
		}
	}
	return false
}
