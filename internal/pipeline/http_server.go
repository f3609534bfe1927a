package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rharber/whoop-scraper/internal/whoop"
)

const maxScrapeBodyBytes = 16 << 10

// ScrapeServer exposes the pipeline over HTTP: one POST with account
// credentials runs one scrape and returns the line-protocol body.
// Params: listen address, request path, runner, and logger.
// Returns: runnable HTTP server tied to a lifecycle context.
type ScrapeServer struct {
	listen string
	ln     net.Listener
	server *http.Server
	logger *slog.Logger
}

type scrapeRequest struct {
	Username string `json:"whoop_username"`
	Password string `json:"whoop_password"`
}

// NewScrapeServer creates the serve-mode HTTP server and binds the listener.
// Params: listen address in host:port; path request path; runner pipeline
// runner; logger root logger.
// Returns: server instance or bind error.
func NewScrapeServer(listen string, path string, runner *Runner, logger *slog.Logger) (*ScrapeServer, error) {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, fmt.Errorf("listen %q: %w", listen, err)
	}

	mux := http.NewServeMux()
	mux.Handle(path, scrapeHandler(runner, logger))

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &ScrapeServer{
		listen: listen,
		ln:     ln,
		server: server,
		logger: logger,
	}, nil
}

// Addr reports the bound listener address.
// Params: none.
// Returns: host:port the server accepted on.
func (s *ScrapeServer) Addr() string {
	return s.ln.Addr().String()
}

// Run starts serving and shuts down on context cancellation.
// Params: ctx lifecycle context.
// Returns: nil on graceful stop; error on early serve failures.
func (s *ScrapeServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(s.ln)
	}()

	s.logger.Info("scrape server started", slog.String("listen", s.listen))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
		err := <-errCh
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		s.logger.Error("scrape server stopped unexpectedly", slog.String("listen", s.listen), slog.String("error", err.Error()))
		return err
	}
}

// scrapeHandler runs one pipeline execution per POST request.
// Params: runner pipeline runner; logger root logger.
// Returns: HTTP handler producing line-protocol responses.
func scrapeHandler(runner *Runner, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req scrapeRequest
		decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxScrapeBodyBytes))
		if err := decoder.Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.Username) == "" || strings.TrimSpace(req.Password) == "" {
			http.Error(w, "whoop_username and whoop_password are required", http.StatusBadRequest)
			return
		}

		batch, count, err := runner.Collect(r.Context(), req.Username, req.Password)
		if err != nil {
			logger.Warn("scrape request failed", slog.String("error", err.Error()))
			http.Error(w, err.Error(), scrapeStatus(err))
			return
		}

		logger.Info("scrape request served", slog.Int("readings", count))
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(batch)
	})
}

// scrapeStatus maps pipeline errors to response codes.
// Params: err terminal pipeline error.
// Returns: 401 for rejected credentials, 502 for upstream fetch failures,
// 500 otherwise.
func scrapeStatus(err error) int {
	var authErr *whoop.AuthError
	if errors.As(err, &authErr) {
		return http.StatusUnauthorized
	}
	var fetchErr *whoop.FetchError
	if errors.As(err, &fetchErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
