package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/rharber/whoop-scraper/internal/lineproto"
	"github.com/rharber/whoop-scraper/internal/whoop"
)

type fakeAPI struct {
	session  whoop.Session
	loginErr error

	heartRate    []lineproto.Reading
	heartRateErr error
	cycles       []lineproto.Reading
	cyclesErr    error

	loginCalls  int
	cyclesCalls int
}

func (f *fakeAPI) Login(_ context.Context, _ string, _ string) (whoop.Session, error) {
	f.loginCalls++
	if f.loginErr != nil {
		return whoop.Session{}, f.loginErr
	}
	return f.session, nil
}

func (f *fakeAPI) FetchHeartRate(_ context.Context, _ whoop.Session, _ whoop.Window, _ time.Duration) ([]lineproto.Reading, error) {
	if f.heartRateErr != nil {
		return nil, f.heartRateErr
	}
	return f.heartRate, nil
}

func (f *fakeAPI) FetchCycles(_ context.Context, _ whoop.Session, _ whoop.Window) ([]lineproto.Reading, error) {
	f.cyclesCalls++
	if f.cyclesErr != nil {
		return nil, f.cyclesErr
	}
	return f.cycles, nil
}

type recordSink struct {
	batches [][]byte
	err     error
}

func (s *recordSink) Write(_ context.Context, batch []byte) error {
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, append([]byte(nil), batch...))
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions() Options {
	return Options{
		HeartrateWindow: 480 * time.Second,
		HeartrateStep:   6 * time.Second,
		CycleWindow:     120 * time.Hour,
	}
}

func TestRunnerEndToEndSleepReading(t *testing.T) {
	api := &fakeAPI{
		session: whoop.Session{UserID: 77, Token: "tok123"},
		cycles: []lineproto.Reading{
			{
				Measurement: "sleep",
				Fields:      map[string]float64{"efficiency": 92.5},
				Time:        time.Unix(1700000000, 0).UTC(),
			},
		},
	}
	sink := &recordSink{}

	runner := NewRunner(api, sink, testOptions(), discardLogger())
	if err := runner.Run(context.Background(), "ryan@example.com", "hunter2"); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(sink.batches) != 1 {
		t.Fatalf("unexpected batch count: got=%d want=1", len(sink.batches))
	}
	want := "sleep,source=whoop,user_id=77 efficiency=92.5 1700000000000000000\n"
	if got := string(sink.batches[0]); got != want {
		t.Fatalf("unexpected output:\n got=%q\nwant=%q", got, want)
	}
}

func TestRunnerTagsAllReadings(t *testing.T) {
	api := &fakeAPI{
		session: whoop.Session{UserID: 77, Token: "tok123"},
		heartRate: []lineproto.Reading{
			{
				Measurement: "heartrate",
				Fields:      map[string]float64{"bpm": 62},
				Time:        time.Unix(1700000000, 0).UTC(),
			},
		},
		cycles: []lineproto.Reading{
			{
				Measurement: "recovery",
				Fields:      map[string]float64{"recovery_score": 67},
				Time:        time.Unix(1700000000, 0).UTC(),
			},
		},
	}
	sink := &recordSink{}

	runner := NewRunner(api, sink, testOptions(), discardLogger())
	if err := runner.Run(context.Background(), "ryan@example.com", "hunter2"); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	want := "heartrate,source=whoop,user_id=77 bpm=62 1700000000000000000\n" +
		"recovery,source=whoop,user_id=77 recovery_score=67 1700000000000000000\n"
	if got := string(sink.batches[0]); got != want {
		t.Fatalf("unexpected output:\n got=%q\nwant=%q", got, want)
	}
}

func TestRunnerEmptyFetchIsSuccess(t *testing.T) {
	api := &fakeAPI{session: whoop.Session{UserID: 77, Token: "tok123"}}
	sink := &recordSink{}

	runner := NewRunner(api, sink, testOptions(), discardLogger())
	if err := runner.Run(context.Background(), "ryan@example.com", "hunter2"); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(sink.batches) != 0 {
		t.Fatalf("expected no sink writes, got %d", len(sink.batches))
	}
}

func TestRunnerAuthFailureAbortsRun(t *testing.T) {
	authErr := &whoop.AuthError{Reason: "credentials rejected"}
	api := &fakeAPI{loginErr: authErr}
	sink := &recordSink{}

	runner := NewRunner(api, sink, testOptions(), discardLogger())
	err := runner.Run(context.Background(), "ryan@example.com", "wrong")
	if err == nil {
		t.Fatalf("expected error")
	}

	var gotErr *whoop.AuthError
	if !errors.As(err, &gotErr) {
		t.Fatalf("expected *whoop.AuthError, got %T: %v", err, err)
	}
	if api.cyclesCalls != 0 {
		t.Fatalf("expected no fetch after auth failure, got %d cycle calls", api.cyclesCalls)
	}
	if len(sink.batches) != 0 {
		t.Fatalf("expected no sink writes, got %d", len(sink.batches))
	}
}

func TestRunnerMidRunFetchFailureEmitsNothing(t *testing.T) {
	api := &fakeAPI{
		session: whoop.Session{UserID: 77, Token: "tok123"},
		heartRate: []lineproto.Reading{
			{
				Measurement: "heartrate",
				Fields:      map[string]float64{"bpm": 62},
				Time:        time.Unix(1700000000, 0).UTC(),
			},
		},
		cyclesErr: &whoop.FetchError{Endpoint: "cycles", Reason: "request failed"},
	}
	sink := &recordSink{}

	runner := NewRunner(api, sink, testOptions(), discardLogger())
	err := runner.Run(context.Background(), "ryan@example.com", "hunter2")

	var fetchErr *whoop.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected *whoop.FetchError, got %T: %v", err, err)
	}
	if len(sink.batches) != 0 {
		t.Fatalf("expected no sink writes after mid-run failure, got %d", len(sink.batches))
	}
}

func TestRunnerStartDateWindowEnd(t *testing.T) {
	api := &fakeAPI{session: whoop.Session{UserID: 77, Token: "tok123"}}
	opts := testOptions()
	opts.StartDate = "2023-11-14"

	var gotWindow whoop.Window
	api.heartRate = nil
	runner := NewRunner(&windowCaptureAPI{inner: api, window: &gotWindow}, &recordSink{}, opts, discardLogger())
	if err := runner.Run(context.Background(), "ryan@example.com", "hunter2"); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	wantEnd := time.Date(2023, 11, 14, 0, 0, 0, 0, time.UTC)
	if !gotWindow.End.Equal(wantEnd) {
		t.Fatalf("unexpected window end: got=%v want=%v", gotWindow.End, wantEnd)
	}
	if !gotWindow.Start.Equal(wantEnd.Add(-480 * time.Second)) {
		t.Fatalf("unexpected window start: %v", gotWindow.Start)
	}
}

type windowCaptureAPI struct {
	inner  *fakeAPI
	window *whoop.Window
}

func (a *windowCaptureAPI) Login(ctx context.Context, username string, password string) (whoop.Session, error) {
	return a.inner.Login(ctx, username, password)
}

func (a *windowCaptureAPI) FetchHeartRate(ctx context.Context, session whoop.Session, window whoop.Window, step time.Duration) ([]lineproto.Reading, error) {
	*a.window = window
	return a.inner.FetchHeartRate(ctx, session, window, step)
}

func (a *windowCaptureAPI) FetchCycles(ctx context.Context, session whoop.Session, window whoop.Window) ([]lineproto.Reading, error) {
	return a.inner.FetchCycles(ctx, session, window)
}
