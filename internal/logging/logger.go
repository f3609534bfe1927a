package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/rharber/whoop-scraper/internal/config"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
	ansiCyan   = "\x1b[36m"
	ansiGray   = "\x1b[90m"
)

// New builds a slog logger from the configured console/file sinks.
// Params: cfg validated logging configuration.
// Returns: logger, close function for file resources, or setup error.
func New(cfg config.LogConfig) (*slog.Logger, func(), error) {
	var (
		handlers []slog.Handler
		closers  []io.Closer
	)

	if cfg.Console.Enabled {
		level, err := parseLevel(cfg.Console.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("console sink: %w", err)
		}
		handlers = append(handlers, newSinkHandler(os.Stderr, cfg.Console.Format, level))
	}

	if cfg.File.Enabled {
		level, err := parseLevel(cfg.File.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("file sink: %w", err)
		}
		file, err := os.OpenFile(cfg.File.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file %q: %w", cfg.File.Path, err)
		}
		closers = append(closers, file)
		handlers = append(handlers, newSinkHandler(file, cfg.File.Format, level))
	}

	if len(handlers) == 0 {
		handlers = append(handlers, newSinkHandler(os.Stderr, "line", slog.LevelInfo))
	}

	closeFn := func() {
		for _, closer := range closers {
			_ = closer.Close()
		}
	}

	if len(handlers) == 1 {
		return slog.New(handlers[0]), closeFn, nil
	}
	return slog.New(&multiHandler{handlers: handlers}), closeFn, nil
}

// newSinkHandler builds one sink handler for the requested format.
// Params: dst sink writer; format line or json; level minimum level.
// Returns: slog handler.
func newSinkHandler(dst io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.NewJSONHandler(dst, opts)
	}
	return slog.NewTextHandler(&colorLineWriter{dst: dst}, opts)
}

// parseLevel maps configured level names to slog levels.
// Params: value lowercase level name.
// Returns: slog level or error on unknown name.
func parseLevel(value string) (slog.Level, error) {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", value)
	}
}

// multiHandler fans one record out to all sink handlers.
// Params: handler list.
// Returns: combined slog handler.
type multiHandler struct {
	handlers []slog.Handler
}

// Enabled reports whether any sink accepts the level.
// Params: ctx request context; level record level.
// Returns: true when at least one sink is enabled.
func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle forwards the record to every enabled sink.
// Params: ctx request context; record log record.
// Returns: first sink error.
func (h *multiHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// WithAttrs clones the handler set with added attributes.
// Params: attrs attributes to attach.
// Returns: new combined handler.
func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: next}
}

// WithGroup clones the handler set with a group prefix.
// Params: name group name.
// Returns: new combined handler.
func (h *multiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: next}
}

var (
	levelPattern  = regexp.MustCompile(`level=([A-Z+-]+)`)
	quotedPattern = regexp.MustCompile(`"[^"]*"`)
	ipPattern     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	numberPattern = regexp.MustCompile(`\b\d+(\.\d+)?\b`)
)

// colorLineWriter colorizes one log line per Write call: a base color from
// the level token plus token colors for quoted strings, IPs, and numbers.
// Lines without a level token pass through unchanged.
// Params: dst destination writer.
// Returns: io.Writer implementation for text log sinks.
type colorLineWriter struct {
	dst io.Writer
}

// Write colorizes and forwards one log line.
// Params: p one rendered log line, optionally newline-terminated.
// Returns: reported length of p and destination write error.
func (w *colorLineWriter) Write(p []byte) (int, error) {
	line := string(p)
	trailing := ""
	if strings.HasSuffix(line, "\n") {
		line = strings.TrimSuffix(line, "\n")
		trailing = "\n"
	}

	base := levelColor(line)
	if base == "" {
		if _, err := w.dst.Write(p); err != nil {
			return 0, err
		}
		return len(p), nil
	}

	rendered := base + colorTokens(line, base) + ansiReset + trailing
	if _, err := io.WriteString(w.dst, rendered); err != nil {
		return 0, err
	}
	return len(p), nil
}

// levelColor selects the base color for the line level token.
// Params: line rendered log line.
// Returns: ANSI color or empty string when no level token is present.
func levelColor(line string) string {
	match := levelPattern.FindStringSubmatch(line)
	if match == nil {
		return ""
	}

	switch {
	case strings.HasPrefix(match[1], "DEBUG"):
		return ansiGray
	case strings.HasPrefix(match[1], "INFO"):
		return ansiBlue
	case strings.HasPrefix(match[1], "WARN"):
		return ansiYellow
	case strings.HasPrefix(match[1], "ERROR"):
		return ansiRed
	default:
		return ""
	}
}

type tokenSpan struct {
	start int
	end   int
	color string
}

// colorTokens wraps quoted strings, IPs, and numbers in token colors,
// restoring the base color after each token.
// Params: line log line without trailing newline; base active line color.
// Returns: colorized line body.
func colorTokens(line string, base string) string {
	var spans []tokenSpan
	for _, span := range quotedPattern.FindAllStringIndex(line, -1) {
		spans = appendSpan(spans, tokenSpan{start: span[0], end: span[1], color: ansiGreen})
	}
	for _, span := range ipPattern.FindAllStringIndex(line, -1) {
		spans = appendSpan(spans, tokenSpan{start: span[0], end: span[1], color: ansiCyan})
	}
	for _, span := range numberPattern.FindAllStringIndex(line, -1) {
		spans = appendSpan(spans, tokenSpan{start: span[0], end: span[1], color: ansiYellow})
	}

	var builder strings.Builder
	cursor := 0
	for _, span := range spans {
		builder.WriteString(line[cursor:span.start])
		builder.WriteString(span.color)
		builder.WriteString(line[span.start:span.end])
		builder.WriteString(ansiReset)
		builder.WriteString(base)
		cursor = span.end
	}
	builder.WriteString(line[cursor:])
	return builder.String()
}

// appendSpan inserts a span keeping the list ordered and non-overlapping;
// earlier-registered token kinds win on overlap.
// Params: spans ordered accepted spans; candidate new span.
// Returns: updated span list.
func appendSpan(spans []tokenSpan, candidate tokenSpan) []tokenSpan {
	insert := len(spans)
	for i, span := range spans {
		if candidate.end <= span.start {
			insert = i
			break
		}
		if candidate.start < span.end {
			return spans
		}
	}

	spans = append(spans, tokenSpan{})
	copy(spans[insert+1:], spans[insert:])
	spans[insert] = candidate
	return spans
}
