package main

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/vellum-gemini/vellum/internal/services"
)

func runTrust(ctx context.Context, svc *services.Services, args []string) error {
	if len(args) < 1 || args[0] != "list" {
		return fmt.Errorf("usage: vellum trust list")
	}
	for key, e := range svc.Trust.Entries() {
		fmt.Printf("%s\t%s\t%s\n", key, e.Expiry.Format("2006-01-02"), hex.EncodeToString(e.Fingerprint))
	}
	return nil
}
