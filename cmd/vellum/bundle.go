package main

import (
	"context"
	"fmt"
	"os"

	"github.com/vellum-gemini/vellum/internal/bundle"
	"github.com/vellum-gemini/vellum/internal/services"
)

func runExport(ctx context.Context, svc *services.Services, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: vellum export <path.zip>")
	}
	f, err := os.Create(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	if err := bundle.Export(f, bundle.Everything, svc.Bundle()); err != nil {
		return err
	}
	fmt.Printf("exported state to %s\n", args[0])
	return nil
}

func runImport(ctx context.Context, svc *services.Services, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: vellum import <path.zip>")
	}
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	plan := bundle.Plan{
		Bookmarks: bundle.MethodAddMissing,
		Identity:  bundle.MethodAddMissing,
		Trust:     bundle.MethodAddMissing,
		Visited:   bundle.MethodAddMissing,
		SiteSpec:  bundle.MethodAddMissing,
	}
	if err := bundle.Import(f, info.Size(), plan, svc.Bundle()); err != nil {
		return err
	}
	fmt.Printf("imported state from %s\n", args[0])
	return nil
}
