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

func importBookmarks(target *bookmarks.Store, data []byte, method Method) error {
	tmp := filepath.Join(os.TempDir(), fmt.Sprintf("vellum-import-bookmarks-%d.ini", time.Now().UnixNano()))
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	defer os.Remove(tmp)

	scratch := bookmarks.New(tmp)
	if err := scratch.Load(); err != nil {
		return err
	}

	switch method {
	case MethodReplace:
		target.Import(scratch, bookmarks.ReplaceAll, "")
	case MethodAddMissing:
		target.Import(scratch, bookmarks.AddMissingOnly, "")
	case MethodAddAll:
		target.Import(scratch, bookmarks.AddAllIntoDuplicateFolder, "Imported Bookmarks")
	}
	return target.Save()
}

func importTrust(target *trust.Store, data []byte, method Method) error {
	tmp := filepath.Join(os.TempDir(), fmt.Sprintf("vellum-import-trusted-%d.txt", time.Now().UnixNano()))
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	defer os.Remove(tmp)

	scratch := trust.New(tmp, nil)
	if err := scratch.Load(); err != nil {
		return err
	}

	if method == MethodReplace {
		target.Clear()
	}
	for key, e := range scratch.Entries() {
		if method == MethodAddMissing && target.HasKey(key) {
			continue
		}
		target.SetEntry(key, e)
	}
	return target.Save()
}

func importSiteSpec(target *sitespec.Store, data []byte, method Method) error {
	tmp := filepath.Join(os.TempDir(), fmt.Sprintf("vellum-import-sitespec-%d.ini", time.Now().UnixNano()))
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	defer os.Remove(tmp)

	scratch := sitespec.New(tmp)
	if err := scratch.Load(); err != nil {
		return err
	}

	if method == MethodReplace {
		target.Clear()
	}
	existing := target.All()
	for origin, spec := range scratch.All() {
		if method == MethodAddMissing {
			if _, ok := existing[origin]; ok {
				continue
			}
		}
		target.Set(origin, spec)
	}
	return target.Save()
}

// importVisited merges the imported visit records into target. Under
// MethodAddMissing a URL already present in target is left untouched;
// under MethodReplace and MethodAddAll the newer of the two timestamps
// wins for a URL present in both.
func importVisited(target *visited.Store, data []byte, method Method) error {
	tmp := filepath.Join(os.TempDir(), fmt.Sprintf("vellum-import-visited-%d.txt", time.Now().UnixNano()))
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	defer os.Remove(tmp)

	scratch := visited.New(tmp, 0, nil)
	if err := scratch.Load(); err != nil {
		return err
	}

	if method == MethodReplace {
		target.Clear()
	}
	for _, r := range scratch.All() {
		if method == MethodAddMissing {
			if target.Contains(r.URL) {
				continue
			}
			target.VisitURLTime(r.URL, r.Flags, r.When)
			continue
		}
		// MethodReplace and MethodAddAll: keep whichever timestamp is newer.
		if existing, ok := target.Lookup(r.URL); ok && existing.When.After(r.When) {
			continue
		}
		target.VisitURLTime(r.URL, r.Flags, r.When)
	}
	return target.Save()
}

func importIdentities(target *identity.Store, r *zip.Reader, method Method) error {
	if method == MethodReplace {
		if err := target.Clear(); err != nil {
			return err
		}
	}

	certs := make(map[string][]byte)
	keys := make(map[string][]byte)
	for _, f := range r.File {
		name := strings.TrimPrefix(f.Name, "idents/")
		if name == f.Name {
			continue // not under idents/
		}
		var dest map[string][]byte
		switch {
		case strings.HasSuffix(name, ".crt"):
			dest = certs
			name = strings.TrimSuffix(name, ".crt")
		case strings.HasSuffix(name, ".key"):
			dest = keys
			name = strings.TrimSuffix(name, ".key")
		default:
			continue
		}
		rc, err := f.Open()
		if err != nil {
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}
		dest[name] = data
	}

	overwrite := method == MethodAddAll || method == MethodReplace
	installed := make(map[string]bool)
	for fp, certPEM := range certs {
		keyPEM, ok := keys[fp]
		if !ok {
			continue
		}
		id, err := identity.ParsePair(certPEM, keyPEM)
		if err != nil {
			continue
		}
		ok2, err := target.ImportIdentity(id, overwrite)
		if err != nil {
			return err
		}
		if ok2 {
			installed[id.Fingerprint] = true
		}
	}

	if metaData, ok := entry(r, "idents.lgr"); ok {
		for _, rec := range identity.ParseMetaFile(metaData) {
			if !installed[rec.Fingerprint] {
				continue
			}
			_ = target.ApplyMeta(rec.Fingerprint, rec.Notes, rec.Icon, rec.Flags, rec.UsePrefixes)
		}
	}
	return nil
}
