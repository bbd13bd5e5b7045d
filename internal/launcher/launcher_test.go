package launcher

import (
	"context"
	"testing"
)

func TestCommandForPerPlatform(t *testing.T) {
	cases := map[string]string{
		"darwin":  "/usr/bin/open",
		"windows": "cmd",
		"linux":   "/usr/bin/x-www-browser",
		"freebsd": "/usr/bin/x-www-browser",
	}
	for goos, wantName := range cases {
		name, _ := commandFor(goos)
		if name != wantName {
			t.Errorf("commandFor(%q) = %q, want %q", goos, name, wantName)
		}
	}
}

func TestWindowsArgsIncludeStart(t *testing.T) {
	_, args := commandFor("windows")
	found := false
	for _, a := range args {
		if a == "start" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected windows args to include \"start\", got %v", args)
	}
}

func TestOpenSpawnsConfiguredCommand(t *testing.T) {
	orig := commandForFunc
	defer func() { commandForFunc = orig }()
	commandForFunc = func(goos string) (string, []string) { return "/bin/echo", nil }

	if err := open(context.Background(), "linux", "gemini://example.test/"); err != nil {
		t.Fatalf("open: %v", err)
	}
}

func TestOpenReportsSpawnFailure(t *testing.T) {
	orig := commandForFunc
	defer func() { commandForFunc = orig }()
	commandForFunc = func(goos string) (string, []string) { return "/no/such/binary-xyz", nil }

	if err := open(context.Background(), "linux", "gemini://example.test/"); err == nil {
		t.Fatal("expected an error for a nonexistent command")
	}
}
