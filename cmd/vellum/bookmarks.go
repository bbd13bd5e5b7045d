package main

import (
	"context"
	"fmt"

	"github.com/vellum-gemini/vellum/internal/services"
)

func runBookmarks(ctx context.Context, svc *services.Services, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: vellum bookmarks <list|add> [args]")
	}

	switch args[0] {
	case "list":
		for _, b := range svc.Bookmarks.All() {
			if b.IsFolder() {
				continue
			}
			fmt.Printf("%d\t%s\t%s\n", b.ID, b.Title, b.URL)
		}
		return nil

	case "add":
		if len(args) != 3 {
			return fmt.Errorf("usage: vellum bookmarks add <url> <title>")
		}
		b := svc.Bookmarks.Add(args[1], args[2], 0, 0, svc.Config.Bookmarks.PrependNew)
		if err := svc.Bookmarks.Save(); err != nil {
			return err
		}
		fmt.Printf("added bookmark %d: %s\n", b.ID, b.URL)
		return nil

	default:
		return fmt.Errorf("vellum bookmarks: unknown subcommand %q", args[0])
	}
}
