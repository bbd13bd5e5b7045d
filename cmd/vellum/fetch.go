package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/vellum-gemini/vellum/internal/services"
)

func runFetch(ctx context.Context, svc *services.Services, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: vellum fetch <url>")
	}
	url := args[0]

	req := svc.NewRequest()
	if err := req.SetURL(url); err != nil {
		return err
	}

	if err := req.Submit(ctx); err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	svc.SetActiveRequest(req)
	defer svc.SetActiveRequest(nil)

	status, meta, _, err := req.LockResponse()
	if err != nil {
		return err
	}
	defer req.UnlockResponse()

	fmt.Printf("%d %s\n", status, meta)

	body, err := req.Body()
	if err != nil {
		return err
	}
	defer body.Close()

	if _, err := io.Copy(os.Stdout, body); err != nil {
		return err
	}

	svc.Visited.VisitURL(req.URL(), 0)
	return svc.Visited.Save()
}
