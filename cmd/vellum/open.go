package main

import (
	"context"
	"fmt"

	"github.com/vellum-gemini/vellum/internal/launcher"
	"github.com/vellum-gemini/vellum/internal/services"
)

func runOpen(ctx context.Context, svc *services.Services, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: vellum open <url>")
	}
	return launcher.Open(ctx, args[0])
}
