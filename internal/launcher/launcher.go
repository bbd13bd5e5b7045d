// Package launcher implements spec.md §6's default-browser dispatch: a
// non-gemini-family URL handed off to whatever the platform considers the
// user's default browser, rather than fetched by Vellum itself.
//
// Grounded on original_source/src/app.c's per-platform opener dispatch
// (the macOS/Linux/Windows command selection) and
// internal/mimehooks.runHook's exec.CommandContext usage for spawning an
// external process without a shell.
package launcher

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
)

// commandFor returns the external command (and its arguments, minus the
// URL itself) used to open url in the platform default browser, mirroring
// app.c's openInDefaultBrowser_App choice of /usr/bin/open,
// /usr/bin/x-www-browser, or start.
func commandFor(goos string) (string, []string) {
	switch goos {
	case "darwin":
		return "/usr/bin/open", nil
	case "windows":
		// "start" is a cmd.exe builtin, not an executable; the empty first
		// argument is cmd's traditional (ignored) window-title slot.
		return "cmd", []string{"/c", "start", ""}
	default:
		return "/usr/bin/x-www-browser", nil
	}
}

// commandForFunc is swappable in tests so they don't depend on a real
// browser binary being present.
var commandForFunc = commandFor

// Open hands url off to the platform default browser.
func Open(ctx context.Context, url string) error {
	return open(ctx, runtime.GOOS, url)
}

func open(ctx context.Context, goos, url string) error {
	name, args := commandForFunc(goos)
	args = append(args, url)
	cmd := exec.CommandContext(ctx, name, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launcher: open %s: %w", url, err)
	}
	// The browser is a detached, long-running process; Vellum doesn't wait
	// for it, matching app.c's fire-and-forget process spawn.
	go func() { _ = cmd.Wait() }()
	return nil
}
