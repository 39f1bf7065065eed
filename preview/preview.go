// Package preview serves the optimized destination tree over HTTP so
// the output can be inspected in a browser before deployment.
package preview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server is a static file server over the destination tree.
type Server struct {
	addr   string
	root   string
	logger *slog.Logger
	http   *http.Server
}

// New creates a preview server for the tree at root.
func New(addr, root string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Handle("/*", http.FileServer(http.Dir(root)))

	return &Server{
		addr:   addr,
		root:   root,
		logger: logger,
		http: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Serve blocks until ctx is cancelled or the listener fails. Shutdown
// drains in-flight requests for a few seconds.
func (s *Server) Serve(ctx context.Context) error {
	if _, err := os.Stat(s.root); err != nil {
		return fmt.Errorf("preview: destination tree %s: %w", s.root, err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("preview server listening", "addr", s.addr, "root", s.root)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("preview: shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("preview: serve: %w", err)
	}
}
