// Command vellum is a headless CLI front-end to the Gemini-family browser
// core: it exercises request dispatch, the bookmark/trust/feed stores, the
// export/import bundle, and the default-browser launcher end to end,
// standing in for the SDL UI that is out of scope for this module.
//
// Grounded on cmd/opencloudmesh-go/main.go's flag-parsing precedence
// (defaults -> TOML file -> CLI flag overrides) and bootstrap-logger
// construction, generalized from a long-running server's single set of
// flags into a subcommand dispatcher, since the core has several
// independent entry points (fetch, bookmarks, trust, feeds, open, bundle)
// rather than one HTTP listener.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/vellum-gemini/vellum/internal/config"
	"github.com/vellum-gemini/vellum/internal/services"
)

var subcommands = map[string]func(ctx context.Context, svc *services.Services, args []string) error{
	"fetch":       runFetch,
	"bookmarks":   runBookmarks,
	"trust":       runTrust,
	"feeds":       runFeeds,
	"open":        runOpen,
	"export":      runExport,
	"import":      runImport,
	"serve-debug": runServeDebug,
}

func main() {
	globalFlags := flag.NewFlagSet("vellum", flag.ExitOnError)
	configPath := globalFlags.String("config", "", "Path to TOML preferences file (optional)")
	dataDir := globalFlags.String("data-dir", "", "Root directory for persistent state (overrides config)")
	loggingLevel := globalFlags.String("logging-level", "", "Log level: debug, info, warn, error (overrides config)")

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	// flag.Parse stops at the first non-flag argument, so global flags
	// must precede the subcommand name: "vellum -config f.toml fetch url".
	if err := globalFlags.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}
	if globalFlags.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	cmdName := globalFlags.Arg(0)
	run, ok := subcommands[cmdName]
	if !ok {
		if cmdName == "-h" || cmdName == "-help" || cmdName == "--help" || cmdName == "help" {
			usage()
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "vellum: unknown subcommand %q\n", cmdName)
		usage()
		os.Exit(1)
	}

	bootstrapLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(config.LoaderOptions{
		ConfigPath: *configPath,
		FlagOverrides: config.FlagOverrides{
			DataDir:      dataDir,
			LoggingLevel: loggingLevel,
		},
		Logger: bootstrapLogger,
	})
	if err != nil {
		bootstrapLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Logging.Level)}))
	slog.SetDefault(logger)

	svc, err := services.New(cfg, logger)
	if err != nil {
		logger.Error("failed to wire services", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	if err := run(context.Background(), svc, globalFlags.Args()[1:]); err != nil {
		logger.Error("command failed", "command", cmdName, "error", err)
		os.Exit(1)
	}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `vellum: a headless Gemini-family browser core

Usage:
  vellum [-config path] [-data-dir dir] [-logging-level level] <command> [args]

Commands:
  fetch <url>                 Fetch a URL and print its header and body
  bookmarks list               List bookmarks
  bookmarks add <url> <title>  Add a bookmark
  trust list                   List trusted (host,port) TOFU entries
  feeds refresh                Poll every subscribed feed once
  feeds list                   List known feed entries
  open <url>                   Hand a URL off to the platform default browser
  export <path.zip>            Write an export bundle of all persistent state
  import <path.zip>            Import an export bundle (add-missing semantics)
  serve-debug [addr]           Serve the embedded resource archive over HTTP for inspection`)
}
