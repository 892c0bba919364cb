package web

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hpungsan/tandem/internal/docs"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// NewServer creates the HTTP server for the document browser, the JSON API
// and the websocket sync endpoint.
func NewServer(svc *docs.Service, version, bind string, port int) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", bind, port),
		Handler:           NewHandler(svc, version),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// NewHandler builds the routed handler used by NewServer.
func NewHandler(svc *docs.Service, version string) http.Handler {
	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		log.Fatalf("failed to create template sub-FS: %v", err)
	}
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		log.Fatalf("failed to create static sub-FS: %v", err)
	}

	h := &Handlers{
		svc:      svc,
		renderer: NewRenderer(templateSub, version),
		hub:      NewHub(),
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/docs", http.StatusFound)
	})
	mux.HandleFunc("GET /docs", h.HandleList)
	mux.HandleFunc("GET /docs/{id}", h.HandleDetail)

	mux.HandleFunc("GET /api/docs", h.HandleAPIList)
	mux.HandleFunc("POST /api/docs", h.HandleAPICreate)
	mux.HandleFunc("GET /api/docs/{id}", h.HandleAPIFetch)
	mux.HandleFunc("DELETE /api/docs/{id}", h.HandleAPIDelete)
	mux.HandleFunc("GET /api/docs/{id}/changes", h.HandleAPIChanges)
	mux.HandleFunc("POST /api/docs/{id}/append", h.HandleAPIAppend)
	mux.HandleFunc("POST /api/docs/{id}/merge", h.HandleAPIMerge)
	mux.HandleFunc("POST /api/docs/{id}/rebase", h.HandleAPIRebase)
	mux.HandleFunc("GET /api/docs/{id}/ws", h.HandleWS)

	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(staticSub)))

	return securityHeaders(mux)
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// Run starts the HTTP server and handles graceful shutdown on SIGINT/SIGTERM.
func Run(srv *http.Server) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Printf("tandem running at http://%s", srv.Addr)

	if strings.Contains(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "::") {
		log.Printf("WARNING: server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Println("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
