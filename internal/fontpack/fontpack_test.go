package fontpack

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeDirPack(t *testing.T, dir, ini string, files []string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "fontpack.ini"), []byte(ini), 0o600); err != nil {
		t.Fatal(err)
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f), []byte("stub"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
}

func writeZipPack(t *testing.T, path, ini string, files []string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("fontpack.ini")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte(ini)); err != nil {
		t.Fatal(err)
	}
	for _, name := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte("stub")); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

const sampleINI = `
[example]
name = "Example Sans"
priority = 10
regular = "Example-Regular.ttf"
bold = "Example-Bold.ttf"

[example-mono]
name = "Example Mono"
priority = 5
regular = "Example-Mono.ttf:0"
monospace = true
`

func TestLoadDirectoryResolvesStyleFallbacks(t *testing.T) {
	dir := t.TempDir()
	writeDirPack(t, dir, sampleINI, []string{"Example-Regular.ttf", "Example-Bold.ttf", "Example-Mono.ttf"})

	r := NewRegistry()
	pack, err := r.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if pack.Kind != "directory" {
		t.Errorf("expected directory kind, got %q", pack.Kind)
	}
	if len(pack.Specs) != 2 {
		t.Fatalf("expected 2 specs, got %d", len(pack.Specs))
	}

	var sans *FontSpec
	for _, s := range pack.Specs {
		if s.ID == "example" {
			sans = s
		}
	}
	if sans == nil {
		t.Fatal("expected to find spec \"example\"")
	}
	if sans.File(StyleItalic) == nil || filepath.Base(sans.File(StyleItalic).SourcePath) != "Example-Regular.ttf" {
		t.Error("expected italic to fall back to regular")
	}
	// semibold not set, bold is: semibold should fall back to bold.
	if sans.File(StyleSemibold) == nil || filepath.Base(sans.File(StyleSemibold).SourcePath) != "Example-Bold.ttf" {
		t.Error("expected semibold to fall back to bold")
	}
}

func TestLoadRejectsSpecWithoutRegular(t *testing.T) {
	dir := t.TempDir()
	writeDirPack(t, dir, `
[broken]
name = "Broken"
bold = "Broken-Bold.ttf"
`, []string{"Broken-Bold.ttf"})

	r := NewRegistry()
	if _, err := r.Load(dir); err == nil {
		t.Fatal("expected an error for a spec with no regular style")
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	dir := t.TempDir()
	writeDirPack(t, dir, `
[incomplete]
name = "Incomplete"
regular = "Missing.ttf"
`, nil)

	r := NewRegistry()
	if _, err := r.Load(dir); err == nil {
		t.Fatal("expected an error for a spec referencing a nonexistent file")
	}
}

func TestLoadArchivePack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pack.zip")
	writeZipPack(t, path, sampleINI, []string{"Example-Regular.ttf", "Example-Bold.ttf", "Example-Mono.ttf"})

	r := NewRegistry()
	pack, err := r.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if pack.Kind != "archive" {
		t.Errorf("expected archive kind, got %q", pack.Kind)
	}
	if len(pack.Specs) != 2 {
		t.Fatalf("expected 2 specs, got %d", len(pack.Specs))
	}
}

func TestListSortsAndDisambiguatesDuplicateNames(t *testing.T) {
	dirA, dirB := t.TempDir(), t.TempDir()
	writeDirPack(t, dirA, `
[alpha]
name = "Shared Name"
priority = 1
regular = "A.ttf"
`, []string{"A.ttf"})
	writeDirPack(t, dirB, `
[beta]
name = "Shared Name"
priority = 2
regular = "B.ttf"
`, []string{"B.ttf"})

	r := NewRegistry()
	if _, err := r.Load(dirA); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Load(dirB); err != nil {
		t.Fatal(err)
	}

	list := r.List(true)
	if len(list) != 2 {
		t.Fatalf("expected 2 specs, got %d", len(list))
	}
	// higher priority (beta, 2) sorts first.
	if list[0].ID != "beta" {
		t.Errorf("expected beta first by priority, got %s", list[0].ID)
	}
	if list[0].DisplayName != "Shared Name [beta]" {
		t.Errorf("expected disambiguated display name, got %q", list[0].DisplayName)
	}
	if list[1].DisplayName != "Shared Name [alpha]" {
		t.Errorf("expected disambiguated display name, got %q", list[1].DisplayName)
	}
}

func TestFileObjectsAreDeduplicatedAcrossSpecs(t *testing.T) {
	dir := t.TempDir()
	writeDirPack(t, dir, `
[one]
name = "One"
regular = "Shared.ttf"

[two]
name = "Two"
regular = "Shared.ttf"
`, []string{"Shared.ttf"})

	r := NewRegistry()
	pack, err := r.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	var one, two *FontSpec
	for _, s := range pack.Specs {
		switch s.ID {
		case "one":
			one = s
		case "two":
			two = s
		}
	}
	if one.File(StyleRegular) != two.File(StyleRegular) {
		t.Error("expected specs referencing the same file to share one FontFile object")
	}
}

func TestReloadReplacesPackInPlace(t *testing.T) {
	dir := t.TempDir()
	writeDirPack(t, dir, sampleINI, []string{"Example-Regular.ttf", "Example-Bold.ttf", "Example-Mono.ttf"})

	r := NewRegistry()
	if _, err := r.Load(dir); err != nil {
		t.Fatal(err)
	}
	writeDirPack(t, dir, `
[example]
name = "Example Sans"
priority = 10
regular = "Example-Regular.ttf"
`, []string{"Example-Regular.ttf"})

	if _, err := r.Reload(dir); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if len(r.Packs()) != 1 {
		t.Fatalf("expected exactly 1 pack after reload, got %d", len(r.Packs()))
	}
	if len(r.Packs()[0].Specs) != 1 {
		t.Fatalf("expected the reloaded pack to reflect the new ini, got %d specs", len(r.Packs()[0].Specs))
	}
}

func TestParseCmapIndexAndSearch(t *testing.T) {
	data := []byte(`
# comment
NotoSans-Regular.ttf: 41-5a 61-7a
NotoSansCJK-Regular.ttc: 4e00-9fff
`)
	entries, err := ParseCmapIndex(data)
	if err != nil {
		t.Fatalf("ParseCmapIndex: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	fetch := func(ctx context.Context, url string) ([]byte, error) { return data, nil }
	matches, err := SearchCodepoints(context.Background(), fetch, "gemini://fonts.example/cmap", []rune{'A', 0x4e2d})
	if err != nil {
		t.Fatalf("SearchCodepoints: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected both entries to match, got %v", matches)
	}
}

func TestMatchingPacks(t *testing.T) {
	dir := t.TempDir()
	writeDirPack(t, dir, sampleINI, []string{"Example-Regular.ttf", "Example-Bold.ttf", "Example-Mono.ttf"})

	r := NewRegistry()
	if _, err := r.Load(dir); err != nil {
		t.Fatal(err)
	}

	packs := r.MatchingPacks([]string{"Example-Regular.ttf"})
	if len(packs) != 1 {
		t.Fatalf("expected 1 matching pack, got %d", len(packs))
	}

	none := r.MatchingPacks([]string{"NoSuchFile.ttf"})
	if len(none) != 0 {
		t.Errorf("expected no matching packs, got %d", len(none))
	}
}
