package pipeline

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rharber/whoop-scraper/internal/lineproto"
	"github.com/rharber/whoop-scraper/internal/whoop"
)

func startTestServer(t *testing.T, api API) (string, func()) {
	t.Helper()

	runner := NewRunner(api, &recordSink{}, testOptions(), discardLogger())
	server, err := NewScrapeServer("127.0.0.1:0", "/scrape", runner, discardLogger())
	if err != nil {
		t.Fatalf("NewScrapeServer() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.Run(ctx)
	}()

	stop := func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("server Run() error: %v", err)
		}
	}
	return "http://" + server.Addr() + "/scrape", stop
}

func TestScrapeServerServesLineProtocol(t *testing.T) {
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
	url, stop := startTestServer(t, api)
	defer stop()

	resp, err := http.Post(url, "application/json", strings.NewReader(`{"whoop_username":"ryan@example.com","whoop_password":"hunter2"}`))
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	want := "sleep,source=whoop,user_id=77 efficiency=92.5 1700000000000000000\n"
	if string(body) != want {
		t.Fatalf("unexpected body:\n got=%q\nwant=%q", string(body), want)
	}
}

func TestScrapeServerRejectsBadRequests(t *testing.T) {
	api := &fakeAPI{session: whoop.Session{UserID: 77, Token: "tok123"}}
	url, stop := startTestServer(t, api)
	defer stop()

	resp, err := http.Post(url, "application/json", strings.NewReader(`{not json`))
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected status for invalid JSON: %d", resp.StatusCode)
	}

	resp, err = http.Post(url, "application/json", strings.NewReader(`{"whoop_username":"ryan@example.com"}`))
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected status for missing password: %d", resp.StatusCode)
	}

	resp, err = http.Get(url)
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("unexpected status for GET: %d", resp.StatusCode)
	}
}

func TestScrapeServerMapsPipelineErrors(t *testing.T) {
	api := &fakeAPI{loginErr: &whoop.AuthError{Reason: "credentials rejected"}}
	url, stop := startTestServer(t, api)
	defer stop()

	resp, err := http.Post(url, "application/json", strings.NewReader(`{"whoop_username":"ryan@example.com","whoop_password":"wrong"}`))
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unexpected status for auth failure: %d", resp.StatusCode)
	}
}

func TestScrapeServerMapsFetchErrors(t *testing.T) {
	api := &fakeAPI{
		session:   whoop.Session{UserID: 77, Token: "tok123"},
		cyclesErr: &whoop.FetchError{Endpoint: "cycles", Reason: "request failed"},
	}
	url, stop := startTestServer(t, api)
	defer stop()

	resp, err := http.Post(url, "application/json", strings.NewReader(`{"whoop_username":"ryan@example.com","whoop_password":"hunter2"}`))
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("unexpected status for fetch failure: %d", resp.StatusCode)
	}
}
