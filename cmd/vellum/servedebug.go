package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/vellum-gemini/vellum/internal/resources"
	"github.com/vellum-gemini/vellum/internal/services"
)

// runServeDebug mounts the embedded resource archive over plain HTTP, for
// inspecting bundled help pages and icons during development. It has no
// role in the Gemini-family request pipeline itself.
func runServeDebug(ctx context.Context, svc *services.Services, args []string) error {
	addr := ":8073"
	if len(args) == 1 {
		addr = args[0]
	}

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Handle("/archive/*", http.StripPrefix("/archive/", http.FileServer(http.FS(resources.FS()))))

	svc.Logger.Info("serving embedded resource archive", "addr", addr)
	fmt.Printf("serving /archive/* on %s\n", addr)
	return http.ListenAndServe(addr, r)
}
