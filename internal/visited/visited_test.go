package visited

import (
	"path/filepath"
	"testing"
	"time"
)

func TestVisitURLUpsert(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "visited.txt"), 0, nil)
	s.VisitURL("gemini://example.test/", 0)
	s.VisitURL("gemini://example.test/", FlagKept)

	r, ok := s.Lookup("gemini://example.test/")
	if !ok {
		t.Fatal("expected record to exist")
	}
	if r.Flags&FlagKept == 0 {
		t.Error("expected kept flag to be merged in, not clobbered")
	}
	if s.Count() != 1 {
		t.Fatalf("expected 1 record, got %d", s.Count())
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "visited.txt")
	s := New(path, 0, nil)
	s.VisitURL("gemini://a.test/", 0)
	s.VisitURL("gemini://b.test/", FlagKept)
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	s2 := New(path, 0, nil)
	if err := s2.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s2.Count() != 2 {
		t.Fatalf("expected 2 records after reload, got %d", s2.Count())
	}
	r, ok := s2.Lookup("gemini://b.test/")
	if !ok || r.Flags&FlagKept == 0 {
		t.Error("expected kept flag to survive round-trip")
	}
}

func TestSweepRespectsKept(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "visited.txt"), time.Hour, nil)

	s.mu.Lock()
	s.records["gemini://old.test/"] = &Record{URL: "gemini://old.test/", When: time.Now().Add(-2 * time.Hour)}
	s.records["gemini://kept.test/"] = &Record{URL: "gemini://kept.test/", When: time.Now().Add(-2 * time.Hour), Flags: FlagKept}
	s.records["gemini://fresh.test/"] = &Record{URL: "gemini://fresh.test/", When: time.Now()}
	s.mu.Unlock()

	removed := s.Sweep()
	if removed != 1 {
		t.Fatalf("expected 1 record removed, got %d", removed)
	}
	if _, ok := s.Lookup("gemini://old.test/"); ok {
		t.Error("expected stale non-kept record to be swept")
	}
	if _, ok := s.Lookup("gemini://kept.test/"); !ok {
		t.Error("expected kept record to survive sweep")
	}
	if _, ok := s.Lookup("gemini://fresh.test/"); !ok {
		t.Error("expected fresh record to survive sweep")
	}
}

func TestRecentOrdering(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "visited.txt"), 0, nil)
	s.mu.Lock()
	s.records["gemini://a.test/"] = &Record{URL: "gemini://a.test/", When: time.Now().Add(-time.Minute)}
	s.records["gemini://b.test/"] = &Record{URL: "gemini://b.test/", When: time.Now()}
	s.mu.Unlock()

	recent := s.Recent(-1)
	if len(recent) != 2 || recent[0].URL != "gemini://b.test/" {
		t.Fatalf("expected most recent first, got %v", recent)
	}
}
