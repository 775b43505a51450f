package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/emotional-recursion/erf/internal/assessment"
	"github.com/emotional-recursion/erf/internal/eventbridge"
)

const (
	defaultRetainedReports = 256
	sessionSourcePrefix    = "session:"
)

// SessionSource is the report source recorded for bridge sessions.
func SessionSource(sessionID string) string {
	return sessionSourcePrefix + sessionID
}

// SessionOf maps a report back to its session id, or "" when the report
// came from somewhere else.
func SessionOf(r assessment.Report) string {
	id, ok := strings.CutPrefix(r.Source, sessionSourcePrefix)
	if !ok {
		return ""
	}
	return id
}

type session struct {
	mu        sync.Mutex
	closed    bool
	responses []string
	seen      map[string]struct{}
}

// SessionTracker accumulates assistant turns per session. Every turn
// re-assesses the session, hands the report to the turn sinks and publishes
// it to the router. A session_end event delivers the final report to the
// sinks and forgets the transcript.
//
// Turns of one session are scored one at a time, so reports and published
// assessments never go backwards. Open sessions and latest reports are both
// capped at the retention limit; the least recently active one goes first.
type SessionTracker struct {
	assessor  *assessment.Assessor
	router    *eventbridge.Router
	sinks     []Sink
	turnSinks []Sink
	logger    Logger
	retain    int

	mu       sync.Mutex
	sessions map[string]*session
	active   []string
	latest   map[string]assessment.Report
	order    []string
}

// TrackerOption customizes a SessionTracker.
type TrackerOption func(*SessionTracker)

// TrackerWithRouter publishes assessments and session ends to r.
func TrackerWithRouter(r *eventbridge.Router) TrackerOption {
	return func(t *SessionTracker) {
		t.router = r
	}
}

// TrackerWithSinks appends sinks that receive each session's final report.
func TrackerWithSinks(sinks ...Sink) TrackerOption {
	return func(t *SessionTracker) {
		t.sinks = appendSinks(t.sinks, sinks)
	}
}

// TrackerWithTurnSinks appends sinks that receive every intermediate report,
// such as an AlertSink watching for band changes within a session.
func TrackerWithTurnSinks(sinks ...Sink) TrackerOption {
	return func(t *SessionTracker) {
		t.turnSinks = appendSinks(t.turnSinks, sinks)
	}
}

// TrackerWithLogger routes diagnostics to l.
func TrackerWithLogger(l Logger) TrackerOption {
	return func(t *SessionTracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// TrackerWithRetention caps how many open sessions and latest reports are
// kept.
func TrackerWithRetention(n int) TrackerOption {
	return func(t *SessionTracker) {
		if n > 0 {
			t.retain = n
		}
	}
}

// NewSessionTracker builds a tracker that scores with assessor.
func NewSessionTracker(assessor *assessment.Assessor, opts ...TrackerOption) *SessionTracker {
	if assessor == nil {
		assessor = assessment.New()
	}
	t := &SessionTracker{
		assessor: assessor,
		logger:   nopLogger{},
		retain:   defaultRetainedReports,
		sessions: map[string]*session{},
		latest:   map[string]assessment.Report{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// HandleEvent implements eventbridge.EventProcessor.
func (t *SessionTracker) HandleEvent(evt eventbridge.Event) error {
	switch evt.Type {
	case eventbridge.TypeTurn:
		return t.turn(evt)
	case eventbridge.TypeSessionEnd:
		return t.end(evt)
	default:
		return nil
	}
}

// LatestReport implements eventbridge.ReportSource.
func (t *SessionTracker) LatestReport(sessionID string) (assessment.Report, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.latest[sessionID]
	return r, ok
}

// Active returns the number of open sessions.
func (t *SessionTracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// acquire returns the open session for id, locked. A session closed between
// lookup and lock is replaced by a fresh one.
func (t *SessionTracker) acquire(id string) *session {
	for {
		t.mu.Lock()
		s := t.sessions[id]
		if s == nil {
			s = &session{seen: map[string]struct{}{}}
			t.sessions[id] = s
		}
		t.active = touch(t.active, id)
		evicted := t.evictSessionsLocked()
		t.mu.Unlock()

		for _, e := range evicted {
			t.logger.Printf("monitor: session %s evicted without session_end", e)
		}
		s.mu.Lock()
		if !s.closed {
			return s
		}
		s.mu.Unlock()
	}
}

func (t *SessionTracker) evictSessionsLocked() []string {
	var evicted []string
	for len(t.active) > t.retain {
		oldest := t.active[0]
		t.active = t.active[1:]
		delete(t.sessions, oldest)
		evicted = append(evicted, oldest)
	}
	return evicted
}

func (t *SessionTracker) turn(evt eventbridge.Event) error {
	if evt.Speaker != eventbridge.SpeakerAssistant {
		return nil
	}
	s := t.acquire(evt.SessionID)
	defer s.mu.Unlock()
	if _, dup := s.seen[evt.EventID]; dup {
		return nil
	}
	s.seen[evt.EventID] = struct{}{}
	s.responses = append(s.responses, assessment.SplitResponses(evt.Text)...)

	report := t.assessor.AnalyzeResponses(SessionSource(evt.SessionID), s.responses)
	t.remember(evt.SessionID, report)
	if t.router != nil {
		published, err := eventbridge.AssessmentEvent(evt.SessionID, report)
		if err != nil {
			return fmt.Errorf("monitor: session %s: %w", evt.SessionID, err)
		}
		t.router.Route(published)
	}
	if err := deliver(context.Background(), t.turnSinks, report); err != nil {
		return fmt.Errorf("monitor: session %s: %w", evt.SessionID, err)
	}
	return nil
}

func (t *SessionTracker) end(evt eventbridge.Event) error {
	t.mu.Lock()
	s := t.sessions[evt.SessionID]
	delete(t.sessions, evt.SessionID)
	t.active = remove(t.active, evt.SessionID)
	t.mu.Unlock()

	responses := 0
	if s != nil {
		// Wait for an in-flight turn so the final report includes it.
		s.mu.Lock()
		s.closed = true
		responses = len(s.responses)
		s.mu.Unlock()
	}
	report, scored := t.LatestReport(evt.SessionID)

	if t.router != nil {
		t.router.Route(evt)
	}
	if s == nil || !scored {
		return nil
	}
	t.logger.Printf("monitor: session %s closed after %d responses", evt.SessionID, responses)
	if err := deliver(context.Background(), t.sinks, report); err != nil {
		return fmt.Errorf("monitor: session %s: %w", evt.SessionID, err)
	}
	return nil
}

func (t *SessionTracker) remember(sessionID string, r assessment.Report) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.order = touch(t.order, sessionID)
	t.latest[sessionID] = r
	for len(t.order) > t.retain {
		oldest := t.order[0]
		t.order = t.order[1:]
		delete(t.latest, oldest)
	}
}

func appendSinks(dst, sinks []Sink) []Sink {
	for _, s := range sinks {
		if s != nil {
			dst = append(dst, s)
		}
	}
	return dst
}

// touch moves id to the back of order, appending it when absent.
func touch(order []string, id string) []string {
	return append(remove(order, id), id)
}

func remove(order []string, id string) []string {
	for i, v := range order {
		if v == id {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}
