package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rharber/whoop-scraper/internal/config"
)

// Sink consumes one encoded line-protocol batch.
// Params: context and batch bytes (newline-terminated lines).
// Returns: error if the batch cannot be delivered.
type Sink interface {
	Write(ctx context.Context, batch []byte) error
}

// WriterSink writes batches to an io.Writer, typically stdout.
// Params: destination writer.
// Returns: writer sink instance.
type WriterSink struct {
	dst io.Writer
}

// NewWriterSink creates a writer sink.
// Params: dst destination writer.
// Returns: sink implementation.
func NewWriterSink(dst io.Writer) *WriterSink {
	return &WriterSink{dst: dst}
}

// Write copies the batch to the destination writer.
// Params: ctx is unused; batch encoded lines.
// Returns: write error.
func (s *WriterSink) Write(_ context.Context, batch []byte) error {
	if len(batch) == 0 {
		return nil
	}
	if _, err := s.dst.Write(batch); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	return nil
}

// FileSink appends batches to one file, opening it per write so repeated
// scheduled runs share the file safely.
// Params: target file path.
// Returns: file sink instance.
type FileSink struct {
	path string
}

// NewFileSink creates a file sink.
// Params: path target file path.
// Returns: sink implementation.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// Write appends the batch to the target file.
// Params: ctx is unused; batch encoded lines.
// Returns: open/write error.
func (s *FileSink) Write(_ context.Context, batch []byte) error {
	if len(batch) == 0 {
		return nil
	}

	file, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %q: %w", s.path, err)
	}

	_, writeErr := file.Write(batch)
	closeErr := file.Close()
	if writeErr != nil {
		return fmt.Errorf("append %q: %w", s.path, writeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close %q: %w", s.path, closeErr)
	}
	return nil
}

// HTTPSink posts batches to a line-protocol write endpoint, such as an
// InfluxDB /write URL or a telegraf http_listener_v2 input.
// Params: endpoint URL and request timeout.
// Returns: HTTP sink instance.
type HTTPSink struct {
	url    string
	client *http.Client
}

// NewHTTPSink creates an HTTP push sink.
// Params: url write endpoint; timeout per-request bound.
// Returns: sink implementation.
func NewHTTPSink(url string, timeout time.Duration) *HTTPSink {
	return &HTTPSink{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Write posts the batch body to the write endpoint.
// Params: ctx for cancellation; batch encoded lines.
// Returns: transport error or unexpected-status error.
func (s *HTTPSink) Write(ctx context.Context, batch []byte) error {
	if len(batch) == 0 {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(batch))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", s.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		bodyText := strings.TrimSpace(string(body))
		if bodyText == "" {
			return fmt.Errorf("POST %s: unexpected status %s", s.url, resp.Status)
		}
		return fmt.Errorf("POST %s: unexpected status %s: %s", s.url, resp.Status, bodyText)
	}

	return nil
}

// NewSinkFromConfig builds the configured output sink.
// Params: cfg validated output section; stdout writer used for the stdout sink.
// Returns: sink implementation or error on unknown selector.
func NewSinkFromConfig(cfg config.OutputConfig, stdout io.Writer) (Sink, error) {
	switch cfg.Sink {
	case "stdout":
		return NewWriterSink(stdout), nil
	case "file":
		return NewFileSink(cfg.Path), nil
	case "http":
		return NewHTTPSink(cfg.URL, cfg.Timeout.Duration), nil
	default:
		return nil, fmt.Errorf("unknown output sink %q", cfg.Sink)
	}
}
