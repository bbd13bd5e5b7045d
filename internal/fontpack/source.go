package fontpack

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// source is the loaded fontpack.ini bytes plus a presence check for the
// font files a spec references, abstracting over archive vs directory
// packs.
type source struct {
	iniData []byte
	hasFile func(sourcePath string) bool
}

// sourceLoader opens a fontpack.ini-carrying path and returns its source.
type sourceLoader func(path string) (*source, error)

func init() {
	registerSourceLoader("archive", loadArchiveSource)
	registerSourceLoader("directory", loadDirectorySource)
}

var sourceLoaders = make(map[string]sourceLoader)

// registerSourceLoader adds a loader for one pack source kind, mirroring
// internal/cache.RegisterDriver's self-registration. Both of fontpack's
// kinds are stdlib-backed (archive/zip, os) and always needed together,
// so they register from this package's own init rather than from
// separate blank-imported subpackages.
func registerSourceLoader(kind string, loader sourceLoader) {
	sourceLoaders[kind] = loader
}

// detectLoader picks a pack's source kind from the filesystem: a regular
// file is treated as a ZIP archive, a directory as a directory pack.
func detectLoader(path string) (string, sourceLoader, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", nil, fmt.Errorf("fontpack: stat %s: %w", path, err)
	}
	kind := "archive"
	if info.IsDir() {
		kind = "directory"
	}
	loader, ok := sourceLoaders[kind]
	if !ok {
		return "", nil, fmt.Errorf("fontpack: no loader registered for kind %q", kind)
	}
	return kind, loader, nil
}

func loadArchiveSource(path string) (*source, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()

	names := make(map[string]bool, len(zr.File))
	var iniData []byte
	for _, f := range zr.File {
		names[filepath.Join(path, f.Name)] = true
		if f.Name == "fontpack.ini" {
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("open fontpack.ini: %w", err)
			}
			data, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return nil, fmt.Errorf("read fontpack.ini: %w", err)
			}
			iniData = data
		}
	}
	if iniData == nil {
		return nil, fmt.Errorf("archive has no fontpack.ini entry")
	}
	return &source{
		iniData: iniData,
		hasFile: func(sourcePath string) bool { return names[sourcePath] },
	}, nil
}

func loadDirectorySource(path string) (*source, error) {
	iniData, err := os.ReadFile(filepath.Join(path, "fontpack.ini"))
	if err != nil {
		return nil, fmt.Errorf("read fontpack.ini: %w", err)
	}
	return &source{
		iniData: iniData,
		hasFile: func(sourcePath string) bool {
			_, err := os.Stat(sourcePath)
			return err == nil
		},
	}, nil
}
