package eventbridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/emotional-recursion/erf/internal/assessment"
	"github.com/emotional-recursion/erf/internal/config"
)

func testSettings(maxBody int64) Settings {
	return Settings{Enabled: true, Host: "127.0.0.1", Port: 0, MaxBodyBytes: maxBody, ReadTimeout: time.Second, WriteTimeout: time.Second, IdleTimeout: time.Second}
}

func startServer(t *testing.T, settings Settings, opts ...Option) *Server {
	t.Helper()
	srv := NewServer(settings, opts...)
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
	})
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("start server: %v", err)
	}
	return srv
}

func postEvent(t *testing.T, base string, payload any) int {
	t.Helper()
	buf, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	resp, err := http.Post(base+"/events", "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("post event: %v", err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestSettingsFromConfigHonorsEnv(t *testing.T) {
	t.Setenv(EnvPort, "9001")
	t.Setenv(EnvHost, "0.0.0.0")
	t.Setenv(EnvEnabled, "false")
	settings, err := SettingsFromConfig(&config.Config{})
	if err != nil {
		t.Fatalf("SettingsFromConfig: %v", err)
	}
	if settings.Port != 9001 {
		t.Fatalf("expected port 9001, got %d", settings.Port)
	}
	if settings.Host != "0.0.0.0" {
		t.Fatalf("expected host override, got %s", settings.Host)
	}
	if settings.Enabled {
		t.Fatalf("expected enabled=false from env override")
	}
}

func TestSettingsFromConfigUsesProjectValues(t *testing.T) {
	enabled := false
	cfg := &config.Config{}
	cfg.Project.Bridge = config.BridgeConfig{
		Enabled:      &enabled,
		Host:         " localhost ",
		Port:         7000,
		MaxBodyBytes: 2048,
		ReadTimeout:  "3s",
		IdleTimeout:  "2m",
	}
	settings, err := SettingsFromConfig(cfg)
	if err != nil {
		t.Fatalf("SettingsFromConfig: %v", err)
	}
	if settings.Enabled || settings.Host != "localhost" || settings.Port != 7000 {
		t.Fatalf("unexpected settings: %+v", settings)
	}
	if settings.URL() != "http://localhost:7000" {
		t.Fatalf("url = %s", settings.URL())
	}
	if settings.MaxBodyBytes != 2048 {
		t.Fatalf("max body = %d", settings.MaxBodyBytes)
	}
	if settings.ReadTimeout != 3*time.Second || settings.WriteTimeout != DefaultWriteTimeout || settings.IdleTimeout != 2*time.Minute {
		t.Fatalf("timeouts = %v/%v/%v", settings.ReadTimeout, settings.WriteTimeout, settings.IdleTimeout)
	}

	defaults, err := SettingsFromConfig(nil)
	if err != nil || defaults != DefaultSettings() {
		t.Fatalf("nil config = %+v, %v", defaults, err)
	}
}

func TestSettingsFromConfigRejectsBadEnv(t *testing.T) {
	cases := map[string][2]string{
		"port text":  {EnvPort, "not-a-port"},
		"port range": {EnvPort, "70000"},
		"port zero":  {EnvPort, "0"},
		"host":       {EnvHost, "http://example.com"},
		"enabled":    {EnvEnabled, "sometimes"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(env[0], env[1])
			if _, err := SettingsFromConfig(&config.Config{}); err == nil || !strings.Contains(err.Error(), "eventbridge:") {
				t.Fatalf("expected eventbridge error for %s=%s, got %v", env[0], env[1], err)
			}
		})
	}
}

func TestEventValidate(t *testing.T) {
	cases := []struct {
		name    string
		event   Event
		wantErr string
	}{
		{"turn", Event{EventID: "a", Type: "Turn", SessionID: "s", Text: "hi"}, ""},
		{"session end", Event{EventID: "a", Type: "session_end", SessionID: "s"}, ""},
		{"turn without text", Event{EventID: "a", Type: "turn", SessionID: "s", Text: "  "}, "text is required"},
		{"missing session", Event{EventID: "a", Type: "turn", Text: "hi"}, "session_id is required"},
		{"missing id", Event{Type: "turn", SessionID: "s", Text: "hi"}, "event_id is required"},
		{"unknown type", Event{EventID: "a", Type: "model_response", SessionID: "s"}, "not supported"},
		{"bad version", Event{Version: 99, EventID: "a", Type: "turn", SessionID: "s", Text: "hi"}, "version 99"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			evt := tc.event
			evt.Normalize()
			err := evt.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("expected valid event, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestNormalizeDefaultsSpeaker(t *testing.T) {
	evt := Event{EventID: " a ", Type: " TURN ", SessionID: " s ", Text: "hi"}
	evt.Normalize()
	if evt.Speaker != SpeakerAssistant || evt.Type != TypeTurn || evt.SessionID != "s" || evt.EventID != "a" {
		t.Fatalf("unexpected normalized event: %+v", evt)
	}
}

func TestAssessmentEventRoundTrip(t *testing.T) {
	a := assessment.New(assessment.WithIDGenerator(func() string { return "rep-1" }))
	report := a.Analyze("session:s", "I feel happy.\nI am sure.\nThat is all.")
	evt, err := AssessmentEvent("s", report)
	if err != nil {
		t.Fatalf("AssessmentEvent: %v", err)
	}
	if evt.Type != TypeAssessment || evt.EventID != "rep-1" {
		t.Fatalf("unexpected event: %+v", evt)
	}
	got, err := evt.Report()
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if got.ID != report.ID || got.Responses != report.Responses {
		t.Fatalf("decoded report mismatch: %+v", got)
	}
	if _, err := (Event{Type: TypeTurn}).Report(); err == nil {
		t.Fatalf("expected error for turn event")
	}
}

func TestServerAcceptsEvents(t *testing.T) {
	t.Parallel()
	fixed := time.Unix(1730000000, 0).UTC()
	recorded := make(chan Event, 1)
	srv := startServer(t, testSettings(1024),
		WithClock(func() time.Time { return fixed }),
		WithProcessor(EventProcessorFunc(func(e Event) error {
			recorded <- e
			return nil
		})))
	base := srv.BaseURL()
	resp, err := http.Get(base + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	var health healthResponse
	_ = json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || health.Status != string(StatusReady) || health.Version != ProtocolVersion {
		t.Fatalf("unexpected health %d %+v", resp.StatusCode, health)
	}
	status := postEvent(t, base, Event{
		Version:   EventSchemaVersion,
		EventID:   "evt-1",
		Type:      TypeTurn,
		SessionID: "sess",
		Text:      "I feel curious.",
	})
	if status != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", status)
	}
	select {
	case evt := <-recorded:
		if !evt.ServerTime.Equal(fixed) {
			t.Fatalf("expected server time %s, got %s", fixed, evt.ServerTime)
		}
		if evt.Speaker != SpeakerAssistant {
			t.Fatalf("expected default speaker, got %q", evt.Speaker)
		}
	default:
		t.Fatalf("event not forwarded to processor")
	}
}

func TestServerRejectsBadRequests(t *testing.T) {
	t.Parallel()
	srv := startServer(t, testSettings(1024),
		WithProcessor(EventProcessorFunc(func(e Event) error {
			if e.SessionID == "broken" {
				return context.DeadlineExceeded
			}
			return nil
		})))
	base := srv.BaseURL()

	resp, err := http.Post(base+"/events", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid JSON, got %d", resp.StatusCode)
	}
	if got := postEvent(t, base, map[string]any{"event_id": "e", "type": "turn", "session_id": "s"}); got != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty turn, got %d", got)
	}
	if got := postEvent(t, base, map[string]any{"event_id": "e", "type": "session_end", "session_id": "broken"}); got != http.StatusInternalServerError {
		t.Fatalf("expected 500 for processor failure, got %d", got)
	}
	resp, err = http.Get(base + "/events")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestServerEnforcesPayloadLimit(t *testing.T) {
	t.Parallel()
	srv := startServer(t, testSettings(64))
	payload := map[string]any{
		"version":    EventSchemaVersion,
		"event_id":   "evt",
		"type":       TypeTurn,
		"session_id": "sess",
		"text":       strings.Repeat("a", 512),
	}
	if got := postEvent(t, srv.BaseURL(), payload); got != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", got)
	}
}

type staticReports map[string]assessment.Report

func (s staticReports) LatestReport(id string) (assessment.Report, bool) {
	r, ok := s[id]
	return r, ok
}

func TestServerServesSessionReports(t *testing.T) {
	t.Parallel()
	report := assessment.New(assessment.WithIDGenerator(func() string { return "r-9" })).
		Analyze("session:known", "I feel calm.\nI wonder why.\nI am here.")
	srv := startServer(t, testSettings(1024), WithReportSource(staticReports{"known": report}))
	base := srv.BaseURL()

	resp, err := http.Get(base + "/sessions/known")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var got assessment.Report
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || got.ID != "r-9" {
		t.Fatalf("unexpected response %d %+v", resp.StatusCode, got)
	}

	resp, err = http.Get(base + "/sessions/unknown")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestServerStreamsSessionEvents(t *testing.T) {
	t.Parallel()
	router := NewRouter()
	srv := startServer(t, testSettings(1024), WithRouter(router))

	// Routed before the stream subscribes, so both come from the backlog.
	router.Route(Event{EventID: "a-1", Type: TypeAssessment, SessionID: "live"})
	router.Route(Event{EventID: "end-1", Type: TypeSessionEnd, SessionID: "live"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.BaseURL()+"/sessions/live/stream", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	var kinds []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			kinds = append(kinds, strings.TrimPrefix(line, "event: "))
		}
	}
	if strings.Join(kinds, ",") != "assessment,session_end" {
		t.Fatalf("unexpected stream events: %v", kinds)
	}
}

func waitForStatus(t *testing.T, srv *Server, want ServerStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		status := make(chan ServerStatus, 1)
		go func() { status <- srv.Status() }()
		select {
		case got := <-status:
			if got == want {
				return
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("Status blocked while waiting for %s", want)
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never reported %s", want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestShutdownDrainsWithoutBlockingStatus(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	processor := EventProcessorFunc(func(Event) error {
		close(entered)
		<-release
		return nil
	})
	srv := startServer(t, testSettings(1024), WithProcessor(processor))

	posted := make(chan int, 1)
	go func() {
		buf, _ := json.Marshal(Event{Version: EventSchemaVersion, EventID: "slow", Type: TypeTurn, SessionID: "s", Text: "hi"})
		resp, err := http.Post(srv.BaseURL()+"/events", "application/json", bytes.NewReader(buf))
		if err != nil {
			posted <- 0
			return
		}
		resp.Body.Close()
		posted <- resp.StatusCode
	}()
	<-entered

	shutdown := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdown <- srv.Shutdown(ctx)
	}()

	// Status must stay readable while the in-flight request holds the drain open.
	waitForStatus(t, srv, StatusDraining)
	close(release)
	if err := <-shutdown; err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if code := <-posted; code != http.StatusAccepted {
		t.Fatalf("in-flight request status = %d, want 202", code)
	}
	if srv.Addr() != "" {
		t.Fatalf("listener should be released after shutdown")
	}
}

func TestStartDisabled(t *testing.T) {
	srv := NewServer(Settings{Enabled: false})
	if err := srv.Start(context.Background()); err != ErrServerDisabled {
		t.Fatalf("expected ErrServerDisabled, got %v", err)
	}
}
