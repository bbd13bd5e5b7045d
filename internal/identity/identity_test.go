package identity

import (
	"path/filepath"
	"testing"
)

func TestCreateAndPersist(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, nil)

	id, err := s.Create("anon@example.test", "test identity", false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id.Fingerprint == "" {
		t.Fatal("expected non-empty fingerprint")
	}

	s2 := New(dir, nil)
	if err := s2.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(s2.List()) != 1 {
		t.Fatalf("expected 1 identity after reload, got %d", len(s2.List()))
	}
	if s2.List()[0].CommonName() != "anon@example.test" {
		t.Errorf("unexpected common name %q", s2.List()[0].CommonName())
	}
}

func TestUsePrefixMinimality(t *testing.T) {
	var prefixes []string
	prefixes = insertPrefix(prefixes, "gemini://example.test/")
	prefixes = insertPrefix(prefixes, "gemini://example.test/blog/")

	if len(prefixes) != 1 || prefixes[0] != "gemini://example.test/" {
		t.Fatalf("expected narrower prefix to be absorbed, got %v", prefixes)
	}

	prefixes = insertPrefix(prefixes, "gemini://other.test/")
	if len(prefixes) != 2 {
		t.Fatalf("expected 2 disjoint prefixes, got %v", prefixes)
	}

	prefixes = insertPrefix(prefixes, "gemini://")
	if len(prefixes) != 1 || prefixes[0] != "gemini://" {
		t.Fatalf("expected broader prefix to absorb both, got %v", prefixes)
	}
}

func TestIdentityForURLLongestPrefixAndTitanFallback(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, nil)

	broad, err := s.Create("broad", "", false)
	if err != nil {
		t.Fatal(err)
	}
	narrow, err := s.Create("narrow", "", false)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.SignIn(broad.Fingerprint, "gemini://example.test/"); err != nil {
		t.Fatal(err)
	}
	if err := s.SignIn(narrow.Fingerprint, "gemini://example.test/blog/"); err != nil {
		t.Fatal(err)
	}

	got, ok := s.IdentityForURL("gemini://example.test/blog/post1.gmi")
	if !ok || got.Fingerprint != narrow.Fingerprint {
		t.Fatalf("expected narrow identity to win longest-prefix match, got %v", got)
	}

	got, ok = s.IdentityForURL("gemini://example.test/about.gmi")
	if !ok || got.Fingerprint != broad.Fingerprint {
		t.Fatalf("expected broad identity for unrelated path, got %v", got)
	}

	_, ok = s.IdentityForURL("titan://example.test/blog/post1.gmi;size=5")
	if !ok {
		t.Fatal("expected titan URL to fall back to gemini-scheme prefix match")
	}
}

func TestSignInRemovesCompetingUse(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, nil)

	a, _ := s.Create("a", "", false)
	b, _ := s.Create("b", "", false)

	if err := s.SignIn(a.Fingerprint, "gemini://example.test/"); err != nil {
		t.Fatal(err)
	}
	if err := s.SignIn(b.Fingerprint, "gemini://example.test/"); err != nil {
		t.Fatal(err)
	}

	if len(a.UsePrefixes()) != 0 {
		t.Errorf("expected a's use-prefix to be reclaimed by b, got %v", a.UsePrefixes())
	}
	if len(b.UsePrefixes()) != 1 {
		t.Errorf("expected b to hold the prefix, got %v", b.UsePrefixes())
	}
}

func TestFuzzyLookup(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, nil)
	id, _ := s.Create("Jane Doe", "", false)

	if got, ok := s.FuzzyLookup(id.Fingerprint[:8]); !ok || got.Fingerprint != id.Fingerprint {
		t.Fatal("expected fingerprint-prefix fuzzy match")
	}
	if got, ok := s.FuzzyLookup("jane doe"); !ok || got.Fingerprint != id.Fingerprint {
		t.Fatal("expected case-insensitive common-name fuzzy match")
	}
	if _, ok := s.FuzzyLookup("nope"); ok {
		t.Fatal("expected no match for unrelated query")
	}
}

func TestDelete(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, nil)
	id, _ := s.Create("temp", "", true)

	if err := s.Delete(id.Fingerprint); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := s.FuzzyLookup(id.Fingerprint); ok {
		t.Fatal("expected identity to be gone after delete")
	}
	if _, err := filepath.Abs(dir); err != nil {
		t.Fatal(err)
	}
}
