package main

import (
	"context"
	"fmt"

	"github.com/vellum-gemini/vellum/internal/services"
)

func runFeeds(ctx context.Context, svc *services.Services, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: vellum feeds <refresh|list>")
	}

	switch args[0] {
	case "refresh":
		ok := svc.Feeds.Refresh(ctx)
		if !ok {
			return fmt.Errorf("feeds: refresh not started (already in progress, or no subscribed feeds)")
		}
		fmt.Printf("subscribed: %d, unread: %d\n", svc.Feeds.NumSubscribed(), svc.Feeds.NumUnread())
		return svc.Feeds.Save()

	case "list":
		for _, e := range svc.Feeds.ListEntries() {
			fmt.Printf("%s\t%s\n", e.Title, e.URL)
		}
		return nil

	default:
		return fmt.Errorf("vellum feeds: unknown subcommand %q", args[0])
	}
}
