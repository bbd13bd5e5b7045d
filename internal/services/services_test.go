package services

import (
	"testing"

	"github.com/vellum-gemini/vellum/internal/config"
	"github.com/vellum-gemini/vellum/internal/request"
)

func newTestServices(t *testing.T) *Services {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()

	s, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewWiresEveryStore(t *testing.T) {
	s := newTestServices(t)

	if s.Trust == nil || s.Identity == nil || s.Visited == nil || s.Bookmarks == nil || s.SiteSpec == nil {
		t.Fatal("expected every store to be constructed")
	}
	if s.Feeds == nil {
		t.Fatal("expected the feed aggregator to be constructed")
	}
	if s.Cache == nil {
		t.Fatal("expected a response cache to be constructed")
	}

	s.Bookmarks.Add("gemini://example.test/", "Example", 0, 0, false)
	if err := s.Bookmarks.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reopened, err := New(s.Config, nil)
	if err != nil {
		t.Fatalf("New (reopen): %v", err)
	}
	defer reopened.Close()
	if _, ok := reopened.Bookmarks.FindURL("gemini://example.test/"); !ok {
		t.Error("expected the bookmark saved by the first Services to survive a reopen")
	}
}

func TestActiveRequestRoundTrip(t *testing.T) {
	s := newTestServices(t)

	if s.ActiveRequest() != nil {
		t.Fatal("expected no active request initially")
	}
	s.SetActiveRequest(nil)
	if s.ActiveRequest() != nil {
		t.Error("expected ActiveRequest to remain nil")
	}

	req := request.New(nil)
	s.SetActiveRequest(req)
	if s.ActiveRequest() != req {
		t.Error("expected ActiveRequest to return the request just set")
	}
}

func TestDialerForFallsBackWithoutProxyConfigured(t *testing.T) {
	s := newTestServices(t)
	dial := s.DialerFor("gemini")
	if dial == nil {
		t.Fatal("expected a non-nil dialer even with no proxy configured")
	}
}

func TestBundleReturnsAllFiveStores(t *testing.T) {
	s := newTestServices(t)
	stores := s.Bundle()
	if stores.Bookmarks != s.Bookmarks || stores.Identity != s.Identity || stores.Trust != s.Trust ||
		stores.Visited != s.Visited || stores.SiteSpec != s.SiteSpec {
		t.Error("expected Bundle to reference the same store instances")
	}
}
