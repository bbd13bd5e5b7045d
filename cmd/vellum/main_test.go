package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/vellum-gemini/vellum/internal/config"
	"github.com/vellum-gemini/vellum/internal/services"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"info":  slog.LevelInfo,
		"":      slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func newTestServices(t *testing.T) *services.Services {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	svc, err := services.New(cfg, nil)
	if err != nil {
		t.Fatalf("services.New: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestRunBookmarksAddAndList(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()

	if err := runBookmarks(ctx, svc, []string{"add", "gemini://example.test/", "Example"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, ok := svc.Bookmarks.FindURL("gemini://example.test/"); !ok {
		t.Fatal("expected the bookmark to be findable after add")
	}
	if err := runBookmarks(ctx, svc, []string{"list"}); err != nil {
		t.Fatalf("list: %v", err)
	}
}

func TestRunBookmarksRejectsUnknownSubcommand(t *testing.T) {
	svc := newTestServices(t)
	if err := runBookmarks(context.Background(), svc, []string{"nope"}); err == nil {
		t.Fatal("expected an error for an unknown bookmarks subcommand")
	}
}

func TestRunTrustList(t *testing.T) {
	svc := newTestServices(t)
	if err := runTrust(context.Background(), svc, []string{"list"}); err != nil {
		t.Fatalf("trust list: %v", err)
	}
}

func TestRunFeedsList(t *testing.T) {
	svc := newTestServices(t)
	if err := runFeeds(context.Background(), svc, []string{"list"}); err != nil {
		t.Fatalf("feeds list: %v", err)
	}
}

func TestRunExportImportRoundTrip(t *testing.T) {
	svc := newTestServices(t)
	svc.Bookmarks.Add("gemini://example.test/", "Example", 0, 0, false)
	if err := svc.Bookmarks.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	dir := t.TempDir()
	bundlePath := dir + "/export.zip"
	if err := runExport(context.Background(), svc, []string{bundlePath}); err != nil {
		t.Fatalf("export: %v", err)
	}

	other := newTestServices(t)
	if err := runImport(context.Background(), other, []string{bundlePath}); err != nil {
		t.Fatalf("import: %v", err)
	}
	if _, ok := other.Bookmarks.FindURL("gemini://example.test/"); !ok {
		t.Fatal("expected the imported bookmark to be present")
	}
}
