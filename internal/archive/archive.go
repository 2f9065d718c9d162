// Package archive provides read access to zip module archives on the
// search path and packing of module trees into such archives.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// IGNORE_FILES matches editor droppings excluded when packing.
var IGNORE_FILES = regexp.MustCompile(`^(|.*/)((#|\.#)[^/]*|[^/]*~)$`)

// Archive is an opened zip module archive. The entry list is read once
// at open time; the archive file itself is reopened per Read.
type Archive struct {
	Path    string
	names   []string
	nameSet map[string]struct{}
}

// Open reads the entry list of a zip archive.
func Open(path string) (*Archive, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", path, err)
	}
	defer r.Close()

	a := &Archive{
		Path:    path,
		nameSet: make(map[string]struct{}, len(r.File)),
	}
	for _, f := range r.File {
		a.names = append(a.names, f.Name)
		a.nameSet[f.Name] = struct{}{}
	}
	return a, nil
}

// Names returns every entry path in the archive.
func (a *Archive) Names() []string {
	return a.names
}

// Has reports whether the archive contains an entry with the exact path.
func (a *Archive) Has(name string) bool {
	_, ok := a.nameSet[name]
	return ok
}

// Read returns the contents of an entry.
func (a *Archive) Read(name string) ([]byte, error) {
	r, err := zip.OpenReader(a.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", a.Path, err)
	}
	defer r.Close()

	for _, f := range r.File {
		if f.Name == name {
			rc, err := f.Open()
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			return io.ReadAll(rc)
		}
	}
	return nil, fmt.Errorf("entry not found: %s", name)
}

// IsArchivePath reports whether a search path entry names a zip archive.
func IsArchivePath(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".zip")
}

// Pack creates a zip module archive from a directory tree. Entry paths
// are relative to sourceDir with forward slashes, so a packed package
// directory keeps its marker file at pkg/init.lua.
func Pack(sourceDir, outputPath string) error {
	if _, err := os.Stat(sourceDir); err != nil {
		return fmt.Errorf("failed to stat source directory: %w", err)
	}

	outFile, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer outFile.Close()

	zipWriter := zip.NewWriter(outFile)
	if err := addDirToZip(zipWriter, sourceDir); err != nil {
		zipWriter.Close()
		return fmt.Errorf("failed to add files to archive: %w", err)
	}
	return zipWriter.Close()
}

// addDirToZip recursively adds directory contents to the zip.
func addDirToZip(zipWriter *zip.Writer, sourceDir string) error {
	return filepath.Walk(sourceDir, func(filePath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		// Skip directories and ignored files
		if info.IsDir() || IGNORE_FILES.MatchString(filePath) {
			return nil
		}

		relPath, err := filepath.Rel(sourceDir, filePath)
		if err != nil {
			return err
		}
		zipPath := filepath.ToSlash(relPath)

		header := &zip.FileHeader{
			Name:   zipPath,
			Method: zip.Deflate,
		}
		header.SetMode(info.Mode())

		writer, err := zipWriter.CreateHeader(header)
		if err != nil {
			return err
		}

		file, err := os.Open(filePath)
		if err != nil {
			return err
		}
		defer file.Close()

		_, err = io.Copy(writer, file)
		return err
	})
}
