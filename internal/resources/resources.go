// Package resources exposes the read-only, compiled-in resource archive
// (the built-in about: pages; at present only about/help.gmi).
package resources

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:embed data
var embedded embed.FS

// FS returns the embedded resource tree rooted at "data".
func FS() fs.FS {
	sub, err := fs.Sub(embedded, "data")
	if err != nil {
		// data is always present at build time; a missing directory here
		// would be a packaging defect, not a runtime condition to recover
		// from.
		panic(fmt.Sprintf("resources: embedded data missing: %v", err))
	}
	return sub
}

// ReadFile reads a single resource by its path under the archive root.
func ReadFile(path string) ([]byte, error) {
	return fs.ReadFile(FS(), path)
}

// Exists reports whether path is present in the archive.
func Exists(path string) bool {
	_, err := fs.Stat(FS(), path)
	return err == nil
}
