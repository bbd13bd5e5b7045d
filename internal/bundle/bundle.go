// Package bundle implements spec.md §4.10: a ZIP archive carrying every
// persistent store's state, for export and selective re-import.
//
// Grounded directly on original_source/src/export.c: the fixed entry set,
// the required sentinel file, and the replace/add-missing/add-all import
// methods all mirror generatePartial_Export/import_Export, adapted to
// Go's stores: each bucket is flushed to its own on-disk file via the
// store's existing Save, then that file's bytes are copied verbatim into
// the archive, rather than re-serializing into a memory buffer as the C
// original does — the effect is identical since Save already writes the
// canonical on-disk form.
package bundle

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vellum-gemini/vellum/internal/bookmarks"
	"github.com/vellum-gemini/vellum/internal/identity"
	"github.com/vellum-gemini/vellum/internal/sitespec"
	"github.com/vellum-gemini/vellum/internal/trust"
	"github.com/vellum-gemini/vellum/internal/visited"
)

// sentinelEntry is the fixed metadata file whose presence marks a ZIP as
// an export bundle (spec.md §4.10, export.c's metadataEntryName_Export_).
const sentinelEntry = "lagrange-export.ini"

// MIMEType is the bundle's declared content type, mirroring export.c's
// mimeType_Export.
const MIMEType = "application/vellum-export+zip"

// Flags selects which buckets Export writes.
type Flags int

const (
	FlagBookmarks Flags = 1 << iota
	FlagIdentitiesAndTrust
	FlagSiteSpec
	FlagVisited
)

// Everything selects every bucket.
const Everything = FlagBookmarks | FlagIdentitiesAndTrust | FlagSiteSpec | FlagVisited

// Method selects merge semantics for one bucket of Import, per spec.md
// §4.10's "selective per bucket" requirement.
type Method int

const (
	// MethodSkip leaves the bucket untouched.
	MethodSkip Method = iota
	// MethodReplace discards the bucket's existing content first.
	MethodReplace
	// MethodAddMissing adds only entries not already present.
	MethodAddMissing
	// MethodAddAll adds every imported entry, even where it duplicates
	// something already present.
	MethodAddAll
)

// Stores bundles references to every persistent store Export/Import touch.
type Stores struct {
	Bookmarks *bookmarks.Store
	Identity  *identity.Store
	Trust     *trust.Store
	Visited   *visited.Store
	SiteSpec  *sitespec.Store
}

// Plan selects an import Method per bucket.
type Plan struct {
	Bookmarks Method
	Identity  Method
	Trust     Method
	Visited   Method
	SiteSpec  Method
}

// Export writes a ZIP bundle of the buckets selected by flags to w. Each
// store is flushed via its own Save before its file is copied into the
// archive, so the bundle always reflects current in-memory state.
func Export(w io.Writer, flags Flags, s Stores) error {
	zw := zip.NewWriter(w)

	if flags&FlagBookmarks != 0 && s.Bookmarks != nil {
		if err := s.Bookmarks.Save(); err != nil {
			return fmt.Errorf("bundle: save bookmarks: %w", err)
		}
		if err := copyFileInto(zw, "bookmarks.ini", s.Bookmarks.Path()); err != nil {
			return err
		}
	}
	if flags&FlagIdentitiesAndTrust != 0 {
		if s.Trust != nil {
			if err := s.Trust.Save(); err != nil {
				return fmt.Errorf("bundle: save trust: %w", err)
			}
			if err := copyFileInto(zw, "trusted.txt", s.Trust.Path()); err != nil {
				return err
			}
		}
		if s.Identity != nil {
			if err := s.Identity.SaveMeta(); err != nil {
				return fmt.Errorf("bundle: save idents.lgr: %w", err)
			}
			if err := copyFileInto(zw, "idents.lgr", s.Identity.MetaPath()); err != nil {
				return err
			}
			if err := copyIdentFiles(zw, s.Identity.DataDir()); err != nil {
				return err
			}
		}
	}
	if flags&FlagSiteSpec != 0 && s.SiteSpec != nil {
		if err := s.SiteSpec.Save(); err != nil {
			return fmt.Errorf("bundle: save sitespec: %w", err)
		}
		if err := copyFileInto(zw, "sitespec.ini", s.SiteSpec.Path()); err != nil {
			return err
		}
	}
	if flags&FlagVisited != 0 && s.Visited != nil {
		if err := s.Visited.Save(); err != nil {
			return fmt.Errorf("bundle: save visited: %w", err)
		}
		if err := copyFileInto(zw, "visited.txt", s.Visited.Path()); err != nil {
			return err
		}
	}

	meta, err := zw.Create(sentinelEntry)
	if err != nil {
		return fmt.Errorf("bundle: create sentinel: %w", err)
	}
	now := time.Now().UTC()
	fmt.Fprintf(meta, "# Vellum user data exported on %s\n", now.Format("2006-01-02 15:04"))
	fmt.Fprintf(meta, "timestamp = %d\n", now.Unix())

	return zw.Close()
}

func copyFileInto(zw *zip.Writer, entryName, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("bundle: read %s: %w", path, err)
	}
	w, err := zw.Create(entryName)
	if err != nil {
		return fmt.Errorf("bundle: create %s: %w", entryName, err)
	}
	_, err = w.Write(data)
	return err
}

func copyIdentFiles(zw *zip.Writer, dataDir string) error {
	entries, err := os.ReadDir(dataDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("bundle: read idents dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".crt") && !strings.HasSuffix(name, ".key") {
			continue
		}
		if err := copyFileInto(zw, "idents/"+name, filepath.Join(dataDir, name)); err != nil {
			return err
		}
	}
	return nil
}

// Detect reports whether r is a recognizable export bundle: the sentinel
// entry's presence, per export.c's detect_Export.
func Detect(r *zip.Reader) bool {
	for _, f := range r.File {
		if f.Name == sentinelEntry {
			return true
		}
	}
	return false
}

// entry returns the named file's bytes, or nil if it is not present.
func entry(r *zip.Reader, name string) ([]byte, bool) {
	for _, f := range r.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, false
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, false
		}
		return data, true
	}
	return nil, false
}

// Import applies plan's per-bucket methods to the archive read from ra
// (size bytes long) onto s. A bucket's data is skipped entirely when the
// corresponding method is MethodSkip, or when the archive has no entry
// for it.
func Import(ra io.ReaderAt, size int64, plan Plan, s Stores) error {
	r, err := zip.NewReader(ra, size)
	if err != nil {
		return fmt.Errorf("bundle: open archive: %w", err)
	}
	if !Detect(r) {
		return fmt.Errorf("bundle: missing %s sentinel, not a recognized export", sentinelEntry)
	}

	if plan.Bookmarks != MethodSkip && s.Bookmarks != nil {
		if data, ok := entry(r, "bookmarks.ini"); ok {
			if err := importBookmarks(s.Bookmarks, data, plan.Bookmarks); err != nil {
				return fmt.Errorf("bundle: import bookmarks: %w", err)
			}
		}
	}
	if plan.Trust != MethodSkip && s.Trust != nil {
		if data, ok := entry(r, "trusted.txt"); ok {
			if err := importTrust(s.Trust, data, plan.Trust); err != nil {
				return fmt.Errorf("bundle: import trust: %w", err)
			}
		}
	}
	if plan.Identity != MethodSkip && s.Identity != nil {
		if err := importIdentities(s.Identity, r, plan.Identity); err != nil {
			return fmt.Errorf("bundle: import identities: %w", err)
		}
	}
	if plan.SiteSpec != MethodSkip && s.SiteSpec != nil {
		if data, ok := entry(r, "sitespec.ini"); ok {
			if err := importSiteSpec(s.SiteSpec, data, plan.SiteSpec); err != nil {
				return fmt.Errorf("bundle: import sitespec: %w", err)
			}
		}
	}
	if plan.Visited != MethodSkip && s.Visited != nil {
		if data, ok := entry(r, "visited.txt"); ok {
			if err := importVisited(s.Visited, data, plan.Visited); err != nil {
				return fmt.Errorf("bundle: import visited: %w", err)
			}
		}
	}
	return nil
}
