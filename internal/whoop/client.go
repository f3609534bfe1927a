package whoop

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rharber/whoop-scraper/internal/lineproto"
)

// apiTimeFormat is the UTC timestamp layout the vendor API expects in
// start/end query parameters.
const apiTimeFormat = "2006-01-02T15:04:05.000000Z"

const (
	heartRateEndpoint = "heart_rate"
	cyclesEndpoint    = "cycles"
)

// Session carries the credentials issued by a successful login.
// Params: vendor user id and opaque bearer token.
// Returns: session value valid for one process invocation; no refresh.
type Session struct {
	UserID int64
	Token  string
}

// Window is one half-open polling interval [Start, End].
// Params: start/end instants.
// Returns: window value passed to fetch operations.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow builds a window ending at end and reaching back length.
// Params: end instant and window length.
// Returns: window value.
func NewWindow(end time.Time, length time.Duration) Window {
	return Window{Start: end.Add(-length), End: end}
}

// Client is a minimal Whoop web API client.
// Params: API base URL and bounded request timeout.
// Returns: client instance safe for sequential use.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a Whoop API client.
// Params: baseURL API endpoint root (no trailing slash required); timeout
// bounds each request.
// Returns: configured client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type loginRequest struct {
	GrantType    string `json:"grant_type"`
	IssueRefresh bool   `json:"issueRefresh"`
	Password     string `json:"password"`
	Username     string `json:"username"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	User        struct {
		ID int64 `json:"id"`
	} `json:"user"`
}

// Login exchanges credentials for a session token via the password grant.
// Params: ctx for cancellation; username/password non-empty credentials.
// Returns: session with user id and token, or *AuthError; never both.
func (c *Client) Login(ctx context.Context, username string, password string) (Session, error) {
	if strings.TrimSpace(username) == "" || strings.TrimSpace(password) == "" {
		return Session{}, &AuthError{Reason: "username and password are required"}
	}

	payload, err := json.Marshal(loginRequest{
		GrantType:    "password",
		IssueRefresh: false,
		Password:     password,
		Username:     username,
	})
	if err != nil {
		return Session{}, &AuthError{Reason: "encode login request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth/token", bytes.NewReader(payload))
	if err != nil {
		return Session{}, &AuthError{Reason: "build login request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Session{}, &AuthError{Reason: "login request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Session{}, &AuthError{Reason: fmt.Sprintf("credentials rejected: status %s", resp.Status)}
	}

	var decoded loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Session{}, &AuthError{Reason: "decode login response", Err: err}
	}
	if strings.TrimSpace(decoded.AccessToken) == "" {
		return Session{}, &AuthError{Reason: "login response has empty access token"}
	}
	if decoded.User.ID <= 0 {
		return Session{}, &AuthError{Reason: "login response has no user id"}
	}

	return Session{UserID: decoded.User.ID, Token: decoded.AccessToken}, nil
}

type heartRateResponse struct {
	Values []heartRateSample `json:"values"`
}

type heartRateSample struct {
	BPM  *float64 `json:"data"`
	Time *int64   `json:"time"`
}

// FetchHeartRate retrieves BPM samples for the window at the given step.
// Params: ctx for cancellation; session valid login session; window polling
// interval; step spacing between samples.
// Returns: one heartrate reading per sample, or *FetchError.
func (c *Client) FetchHeartRate(ctx context.Context, session Session, window Window, step time.Duration) ([]lineproto.Reading, error) {
	query := url.Values{}
	query.Set("start", window.Start.UTC().Format(apiTimeFormat))
	query.Set("end", window.End.UTC().Format(apiTimeFormat))
	query.Set("step", strconv.Itoa(int(step/time.Second)))

	target := fmt.Sprintf("%s/users/%d/metrics/heart_rate", c.baseURL, session.UserID)

	var decoded heartRateResponse
	if err := c.getJSON(ctx, heartRateEndpoint, target, query, session.Token, &decoded); err != nil {
		return nil, err
	}

	readings := make([]lineproto.Reading, 0, len(decoded.Values))
	for idx, sample := range decoded.Values {
		if sample.BPM == nil || sample.Time == nil {
			return nil, &FetchError{
				Endpoint: heartRateEndpoint,
				Reason:   fmt.Sprintf("values[%d] is missing data or time", idx),
			}
		}
		readings = append(readings, lineproto.Reading{
			Measurement: "heartrate",
			Fields:      map[string]float64{"bpm": *sample.BPM},
			Time:        time.UnixMilli(*sample.Time).UTC(),
		})
	}

	return readings, nil
}

type cycleDay struct {
	Days     []string       `json:"days"`
	Sleep    *cycleSleep    `json:"sleep"`
	Recovery *cycleRecovery `json:"recovery"`
	Strain   *cycleStrain   `json:"strain"`
}

type cycleSleep struct {
	State      string   `json:"state"`
	Score      *float64 `json:"score"`
	Efficiency *float64 `json:"efficiency"`
}

type cycleRecovery struct {
	Score *float64 `json:"score"`
}

type cycleStrain struct {
	Workouts []cycleWorkout `json:"workouts"`
}

type cycleWorkout struct {
	MaxHeartRate *float64 `json:"maxHeartRate"`
}

// FetchCycles retrieves daily cycle summaries and maps them into sleep,
// recovery, and workout readings. Incomplete sleeps are skipped; a day with
// no reportable values yields no readings.
// Params: ctx for cancellation; session valid login session; window polling
// interval (typically several days).
// Returns: reading list in API day order, or *FetchError.
func (c *Client) FetchCycles(ctx context.Context, session Session, window Window) ([]lineproto.Reading, error) {
	query := url.Values{}
	query.Set("start", window.Start.UTC().Format(apiTimeFormat))
	query.Set("end", window.End.UTC().Format(apiTimeFormat))

	target := fmt.Sprintf("%s/users/%d/cycles", c.baseURL, session.UserID)

	var decoded []cycleDay
	if err := c.getJSON(ctx, cyclesEndpoint, target, query, session.Token, &decoded); err != nil {
		return nil, err
	}

	var readings []lineproto.Reading
	for idx, day := range decoded {
		dayReadings, err := mapCycleDay(idx, day)
		if err != nil {
			return nil, err
		}
		readings = append(readings, dayReadings...)
	}

	return readings, nil
}

// mapCycleDay converts one cycle summary into readings.
// Params: idx position for error text; day decoded cycle record.
// Returns: readings for the day or *FetchError on missing required fields.
func mapCycleDay(idx int, day cycleDay) ([]lineproto.Reading, error) {
	hasValues := (day.Sleep != nil && day.Sleep.State == "complete") ||
		(day.Recovery != nil && day.Recovery.Score != nil) ||
		(day.Strain != nil && len(day.Strain.Workouts) > 0)
	if !hasValues {
		return nil, nil
	}

	if len(day.Days) == 0 {
		return nil, &FetchError{Endpoint: cyclesEndpoint, Reason: fmt.Sprintf("cycles[%d] has no days", idx)}
	}
	dayTime, err := time.ParseInLocation("2006-01-02", day.Days[0], time.UTC)
	if err != nil {
		return nil, &FetchError{
			Endpoint: cyclesEndpoint,
			Reason:   fmt.Sprintf("cycles[%d] has invalid day %q", idx, day.Days[0]),
			Err:      err,
		}
	}

	var readings []lineproto.Reading

	if day.Sleep != nil && day.Sleep.State == "complete" {
		if day.Sleep.Score == nil {
			return nil, &FetchError{
				Endpoint: cyclesEndpoint,
				Reason:   fmt.Sprintf("cycles[%d] complete sleep has no score", idx),
			}
		}
		fields := map[string]float64{"sleep_score": *day.Sleep.Score}
		if day.Sleep.Efficiency != nil {
			fields["efficiency"] = *day.Sleep.Efficiency
		}
		readings = append(readings, lineproto.Reading{
			Measurement: "sleep",
			Fields:      fields,
			Time:        dayTime,
		})
	}

	if day.Recovery != nil && day.Recovery.Score != nil {
		readings = append(readings, lineproto.Reading{
			Measurement: "recovery",
			Fields:      map[string]float64{"recovery_score": *day.Recovery.Score},
			Time:        dayTime,
		})
	}

	if day.Strain != nil {
		for widx, workout := range day.Strain.Workouts {
			if workout.MaxHeartRate == nil {
				return nil, &FetchError{
					Endpoint: cyclesEndpoint,
					Reason:   fmt.Sprintf("cycles[%d].workouts[%d] has no maxHeartRate", idx, widx),
				}
			}
			readings = append(readings, lineproto.Reading{
				Measurement: "workout",
				Fields:      map[string]float64{"max_heartrate": *workout.MaxHeartRate},
				Time:        dayTime,
			})
		}
	}

	return readings, nil
}

// getJSON performs one authorized GET and decodes the JSON response.
// Params: ctx for cancellation; endpoint label for errors; target URL;
// query parameters; token bearer token; out decode destination.
// Returns: nil or *FetchError describing transport/status/decode failure.
func (c *Client) getJSON(ctx context.Context, endpoint string, target string, query url.Values, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return &FetchError{Endpoint: endpoint, Reason: "build request", Err: err}
	}
	req.URL.RawQuery = query.Encode()
	req.Header.Set("Authorization", "bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return &FetchError{Endpoint: endpoint, Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &FetchError{Endpoint: endpoint, Reason: fmt.Sprintf("authorization rejected: status %s", resp.Status)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		bodyText := strings.TrimSpace(string(body))
		if bodyText == "" {
			return &FetchError{Endpoint: endpoint, Reason: fmt.Sprintf("unexpected status %s", resp.Status)}
		}
		return &FetchError{Endpoint: endpoint, Reason: fmt.Sprintf("unexpected status %s: %s", resp.Status, bodyText)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &FetchError{Endpoint: endpoint, Reason: "decode response", Err: err}
	}

	return nil
}
