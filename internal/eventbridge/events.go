package eventbridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emotional-recursion/erf/internal/assessment"
)

const (
	// ProtocolVersion identifies the bridge contract version exposed via /health.
	ProtocolVersion = "1.0.0"
	// EventSchemaVersion is the currently supported inbound event version.
	EventSchemaVersion = 1
)

// Event types.
const (
	// TypeTurn carries one conversation turn.
	TypeTurn = "turn"
	// TypeSessionEnd closes a session.
	TypeSessionEnd = "session_end"
	// TypeAssessment is published by the server side when a session is re-assessed.
	TypeAssessment = "assessment"
)

// SpeakerAssistant marks turns produced by the assessed system.
const SpeakerAssistant = "assistant"

// Event captures a single conversation notification.
type Event struct {
	Version    int             `json:"version"`
	EventID    string          `json:"event_id"`
	Type       string          `json:"type"`
	ClientTime time.Time       `json:"client_time"`
	ServerTime time.Time       `json:"server_time"`
	SessionID  string          `json:"session_id"`
	Speaker    string          `json:"speaker,omitempty"`
	Text       string          `json:"text,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Normalize applies defaults and canonical formatting before validation.
func (e *Event) Normalize() {
	if e == nil {
		return
	}
	if e.Version == 0 {
		e.Version = EventSchemaVersion
	}
	e.EventID = strings.TrimSpace(e.EventID)
	e.Type = strings.ToLower(strings.TrimSpace(e.Type))
	e.SessionID = strings.TrimSpace(e.SessionID)
	e.Speaker = strings.ToLower(strings.TrimSpace(e.Speaker))
	if e.Type == TypeTurn && e.Speaker == "" {
		e.Speaker = SpeakerAssistant
	}
}

// StampServerTime overwrites ServerTime with the supplied clock reading (UTC).
func (e *Event) StampServerTime(now time.Time) {
	if e == nil {
		return
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	e.ServerTime = now.UTC()
}

// Validate enforces baseline schema requirements for incoming events.
func (e Event) Validate() error {
	if e.Version != EventSchemaVersion {
		return fmt.Errorf("version %d not supported", e.Version)
	}
	if e.EventID == "" {
		return errors.New("event_id is required")
	}
	if e.SessionID == "" {
		return errors.New("session_id is required")
	}
	switch e.Type {
	case TypeTurn:
		if strings.TrimSpace(e.Text) == "" {
			return errors.New("text is required for turn events")
		}
	case TypeSessionEnd:
	case "":
		return errors.New("type is required")
	default:
		return fmt.Errorf("type %q not supported", e.Type)
	}
	return nil
}

// AssessmentEvent wraps a report for delivery to subscribers.
func AssessmentEvent(sessionID string, r assessment.Report) (Event, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return Event{}, fmt.Errorf("eventbridge: encode report: %w", err)
	}
	return Event{
		Version:    EventSchemaVersion,
		EventID:    r.ID,
		Type:       TypeAssessment,
		SessionID:  sessionID,
		ServerTime: r.CreatedAt,
		Payload:    payload,
	}, nil
}

// Report decodes the payload of an assessment event.
func (e Event) Report() (assessment.Report, error) {
	var r assessment.Report
	if e.Type != TypeAssessment {
		return r, fmt.Errorf("eventbridge: %s event carries no report", e.Type)
	}
	if err := json.Unmarshal(e.Payload, &r); err != nil {
		return r, fmt.Errorf("eventbridge: decode report: %w", err)
	}
	return r, nil
}

// EventProcessor consumes validated events.
type EventProcessor interface {
	HandleEvent(Event) error
}

// EventProcessorFunc adapts a function into an EventProcessor.
type EventProcessorFunc func(Event) error

// HandleEvent executes f(e).
func (f EventProcessorFunc) HandleEvent(e Event) error {
	if f == nil {
		return nil
	}
	return f(e)
}

// ReportSource looks up the latest report for a session.
type ReportSource interface {
	LatestReport(sessionID string) (assessment.Report, bool)
}

// Logger records bridge status information. It matches logging.Logger's signature.
type Logger interface {
	Printf(format string, args ...any)
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	RouterReady   bool   `json:"router_ready"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type eventResponse struct {
	Status     string    `json:"status"`
	ServerTime time.Time `json:"server_time"`
}
