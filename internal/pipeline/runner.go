package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/rharber/whoop-scraper/internal/lineproto"
	"github.com/rharber/whoop-scraper/internal/whoop"
)

const (
	tagSource = "source"
	tagUserID = "user_id"

	sourceValue = "whoop"
)

// API is the vendor client surface the runner depends on.
// Params: login plus the two metric retrieval operations.
// Returns: interface satisfied by *whoop.Client and test fakes.
type API interface {
	Login(ctx context.Context, username string, password string) (whoop.Session, error)
	FetchHeartRate(ctx context.Context, session whoop.Session, window whoop.Window, step time.Duration) ([]lineproto.Reading, error)
	FetchCycles(ctx context.Context, session whoop.Session, window whoop.Window) ([]lineproto.Reading, error)
}

// Options defines polling windows for one run.
// Params: per-metric window lengths, sample step, and optional start date.
// Returns: runner options value.
type Options struct {
	HeartrateWindow time.Duration
	HeartrateStep   time.Duration
	CycleWindow     time.Duration
	StartDate       string
}

// Runner executes the one-shot authenticate/fetch/encode/emit sequence.
// Params: vendor API, output sink, options, and logger.
// Returns: runner instance; stateless between runs.
type Runner struct {
	api    API
	sink   Sink
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// NewRunner creates a one-shot pipeline runner.
// Params: api vendor client; sink output destination; opts polling windows;
// logger root logger.
// Returns: runner instance.
func NewRunner(api API, sink Sink, opts Options, logger *slog.Logger) *Runner {
	return &Runner{
		api:    api,
		sink:   sink,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// Run executes the pipeline once and writes the encoded batch to the sink.
// Zero fetched readings is a success with no output.
// Params: ctx for cancellation; username/password account credentials.
// Returns: nil on success or the first terminal error.
func (r *Runner) Run(ctx context.Context, username string, password string) error {
	batch, count, err := r.Collect(ctx, username, password)
	if err != nil {
		return err
	}

	if count == 0 {
		r.logger.Info("no readings in window, nothing to emit")
		return nil
	}

	if err := r.sink.Write(ctx, batch); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	r.logger.Info("readings emitted", slog.Int("readings", count))
	return nil
}

// Collect authenticates, fetches all readings, and encodes them. All fetches
// complete before any bytes are produced: a mid-run failure emits nothing.
// Params: ctx for cancellation; username/password account credentials.
// Returns: encoded line-protocol batch, reading count, or terminal error.
func (r *Runner) Collect(ctx context.Context, username string, password string) ([]byte, int, error) {
	session, err := r.api.Login(ctx, username, password)
	if err != nil {
		return nil, 0, fmt.Errorf("authenticate: %w", err)
	}
	r.logger.Debug("authenticated", slog.Int64("user_id", session.UserID))

	end, err := r.windowEnd()
	if err != nil {
		return nil, 0, err
	}

	heartRate, err := r.api.FetchHeartRate(ctx, session, whoop.NewWindow(end, r.opts.HeartrateWindow), r.opts.HeartrateStep)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch heart rate: %w", err)
	}

	cycles, err := r.api.FetchCycles(ctx, session, whoop.NewWindow(end, r.opts.CycleWindow))
	if err != nil {
		return nil, 0, fmt.Errorf("fetch cycles: %w", err)
	}

	readings := make([]lineproto.Reading, 0, len(heartRate)+len(cycles))
	userID := strconv.FormatInt(session.UserID, 10)
	for _, reading := range append(heartRate, cycles...) {
		readings = append(readings, reading.WithTag(tagSource, sourceValue).WithTag(tagUserID, userID))
	}

	batch, err := lineproto.MarshalAll(readings)
	if err != nil {
		return nil, 0, fmt.Errorf("encode readings: %w", err)
	}

	r.logger.Debug(
		"readings collected",
		slog.Int("heartrate", len(heartRate)),
		slog.Int("cycles", len(cycles)),
	)
	return batch, len(readings), nil
}

// windowEnd resolves the window end instant from options.
// Params: none.
// Returns: configured start date at midnight UTC, or current time.
func (r *Runner) windowEnd() (time.Time, error) {
	date := strings.TrimSpace(r.opts.StartDate)
	if date == "" {
		return r.now().UTC(), nil
	}

	parsed, err := time.ParseInLocation("2006-01-02", date, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse start date %q: %w", date, err)
	}
	return parsed, nil
}
