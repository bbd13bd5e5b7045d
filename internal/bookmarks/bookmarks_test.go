package bookmarks

import (
	"path/filepath"
	"testing"
)

func TestAddAndChildrenOrdering(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "bookmarks.ini"))
	a := s.Add("gemini://a.test/", "A", 0, 0, false)
	b := s.Add("gemini://b.test/", "B", 0, 0, false)
	c := s.Add("gemini://c.test/", "C", 0, 0, true) // prepend

	children := s.Children(0)
	if len(children) != 3 || children[0].ID != c.ID || children[1].ID != a.ID || children[2].ID != b.ID {
		t.Fatalf("unexpected order: %v", ids(children))
	}
}

func ids(bs []*Bookmark) []uint32 {
	out := make([]uint32, len(bs))
	for i, b := range bs {
		out[i] = b.ID
	}
	return out
}

func TestTagRoundTrip(t *testing.T) {
	b := &Bookmark{Tags: TagSubscribed | TagHomepage}
	s := b.tagString()
	if s != ".homepage .subscribed" {
		t.Fatalf("unexpected canonical tag string: %q", s)
	}
	if parseTags(s) != b.Tags {
		t.Error("round-trip through dotted form failed")
	}
	if parseTags("subscribed homepage") != b.Tags {
		t.Error("expected legacy bare-word form to still parse")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bookmarks.ini")
	s := New(path)
	folder := s.Add("", "Folder", 0, 0, false)
	s.Add("gemini://example.test/", "Example", folder.ID, TagHomepage, false)
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	s2 := New(path)
	if err := s2.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s2.Count() != 2 {
		t.Fatalf("expected 2 bookmarks after reload, got %d", s2.Count())
	}
	bm, ok := s2.FindURL("gemini://example.test/")
	if !ok || bm.Tags&TagHomepage == 0 {
		t.Fatal("expected homepage tag to survive round-trip")
	}
}

func TestDeleteRecursive(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "bookmarks.ini"))
	folder := s.Add("", "Folder", 0, 0, false)
	s.Add("gemini://a.test/", "A", folder.ID, 0, false)
	s.Add("gemini://b.test/", "B", folder.ID, 0, false)

	s.Delete(folder.ID)
	if s.Count() != 0 {
		t.Fatalf("expected recursive delete to remove all descendants, got %d remaining", s.Count())
	}
}

func TestSiteIconLongestPrefix(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "bookmarks.ini"))
	b1 := s.Add("gemini://example.test/", "root", 0, 0, false)
	b1.Icon = 'R'
	b2 := s.Add("gemini://example.test/blog/", "blog", 0, 0, false)
	b2.Icon = 'B'

	icon, ok := s.SiteIcon("gemini://example.test/blog/post1.gmi")
	if !ok || icon != 'B' {
		t.Fatalf("expected longest-prefix icon B, got %q ok=%v", icon, ok)
	}
	icon, ok = s.SiteIcon("gemini://example.test/about.gmi")
	if !ok || icon != 'R' {
		t.Fatalf("expected root icon R, got %q ok=%v", icon, ok)
	}
}

func TestImportAddMissingOnly(t *testing.T) {
	dst := New(filepath.Join(t.TempDir(), "bookmarks.ini"))
	dst.Add("gemini://keep.test/", "Keep", 0, 0, false)

	src := New(filepath.Join(t.TempDir(), "other.ini"))
	src.Add("gemini://keep.test/", "Duplicate", 0, 0, false)
	src.Add("gemini://new.test/", "New", 0, 0, false)

	dst.Import(src, AddMissingOnly, "")
	if dst.Count() != 2 {
		t.Fatalf("expected 2 bookmarks (no duplicate URL added), got %d", dst.Count())
	}
	if _, ok := dst.FindURL("gemini://new.test/"); !ok {
		t.Fatal("expected new URL to be imported")
	}
}

func TestImportAddMissingOnlyMergesSameNamedRootFolder(t *testing.T) {
	// spec.md §8 scenario 4: existing folder "Work" with bookmark "foo";
	// importing a folder also named "Work" containing the same "foo" URL
	// via add-missing must merge the folders rather than duplicate one.
	dst := New(filepath.Join(t.TempDir(), "bookmarks.ini"))
	work := dst.Add("", "Work", 0, 0, false)
	dst.Add("gemini://foo.test/", "foo", work.ID, 0, false)

	src := New(filepath.Join(t.TempDir(), "other.ini"))
	srcWork := src.Add("", "Work", 0, 0, false)
	src.Add("gemini://foo.test/", "foo", srcWork.ID, 0, false)

	dst.Import(src, AddMissingOnly, "")

	if dst.Count() != 2 {
		t.Fatalf("expected exactly 2 bookmarks after merge, got %d", dst.Count())
	}

	var rootFolders int
	for _, b := range dst.Children(0) {
		if b.URL == "" && b.Title == "Work" {
			rootFolders++
		}
	}
	if rootFolders != 1 {
		t.Fatalf("expected exactly one root-level \"Work\" folder, got %d", rootFolders)
	}
	if _, ok := dst.FindURL("gemini://foo.test/"); !ok {
		t.Fatal("expected foo to still be findable after merge")
	}
}

func TestImportAddMissingOnlyReparentsNewChildIntoMergedFolder(t *testing.T) {
	// A child unique to the imported folder (no URL collision) must land
	// inside the existing folder, not a dropped duplicate.
	dst := New(filepath.Join(t.TempDir(), "bookmarks.ini"))
	work := dst.Add("", "Work", 0, 0, false)
	dst.Add("gemini://foo.test/", "foo", work.ID, 0, false)

	src := New(filepath.Join(t.TempDir(), "other.ini"))
	srcWork := src.Add("", "Work", 0, 0, false)
	src.Add("gemini://bar.test/", "bar", srcWork.ID, 0, false)

	dst.Import(src, AddMissingOnly, "")

	if dst.Count() != 3 { // Work, foo, bar
		t.Fatalf("expected 3 bookmarks, got %d", dst.Count())
	}
	bar, ok := dst.FindURL("gemini://bar.test/")
	if !ok {
		t.Fatal("expected bar to be imported")
	}
	if bar.ParentID != work.ID {
		t.Fatalf("expected bar reparented onto existing Work folder %d, got parent %d", work.ID, bar.ParentID)
	}
}

func TestImportAddAllIntoDuplicateFolder(t *testing.T) {
	dst := New(filepath.Join(t.TempDir(), "bookmarks.ini"))
	dst.Add("gemini://keep.test/", "Keep", 0, 0, false)

	src := New(filepath.Join(t.TempDir(), "other.ini"))
	src.Add("gemini://keep.test/", "Duplicate", 0, 0, false)

	dst.Import(src, AddAllIntoDuplicateFolder, "Imported")
	if dst.Count() != 3 { // original + new folder + duplicate child
		t.Fatalf("expected 3 bookmarks, got %d", dst.Count())
	}
}

func TestSortDensifiesOrder(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "bookmarks.ini"))
	a := s.Add("gemini://a.test/", "A", 0, 0, false)
	b := s.Add("gemini://b.test/", "B", 0, 0, false)
	a.Order = 50
	b.Order = -7

	s.Sort(0)
	children := s.Children(0)
	if children[0].ID != b.ID || children[0].Order != 1 {
		t.Fatalf("expected b first with order 1, got %+v", children[0])
	}
	if children[1].ID != a.ID || children[1].Order != 2 {
		t.Fatalf("expected a second with order 2, got %+v", children[1])
	}
}
