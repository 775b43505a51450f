package monitor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/emotional-recursion/erf/internal/artifact"
	"github.com/emotional-recursion/erf/internal/assessment"
	"github.com/emotional-recursion/erf/internal/eventbridge"
	"github.com/emotional-recursion/erf/internal/history"
	"github.com/emotional-recursion/erf/internal/logbook"
)

type collector struct {
	mu      sync.Mutex
	reports []assessment.Report
}

func (c *collector) Deliver(_ context.Context, r assessment.Report) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, r)
	return nil
}

func (c *collector) all() []assessment.Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]assessment.Report(nil), c.reports...)
}

func TestNewRequiresPaths(t *testing.T) {
	_, err := New(nil, nil)
	require.Error(t, err)

	m, err := New(nil, []string{"a.log", "./a.log", "b.log"})
	require.NoError(t, err)
	require.Len(t, m.Paths(), 2)
	for _, p := range m.Paths() {
		require.True(t, filepath.IsAbs(p))
	}
}

func TestAssessDeliversToSinksInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.log")
	require.NoError(t, os.WriteFile(path, []byte("I feel happy.\nI am sure.\nThanks.\n"), 0o644))

	var order []string
	boom := errors.New("boom")
	m, err := New(assessment.New(), []string{path}, WithSinks(
		SinkFunc(func(context.Context, assessment.Report) error { order = append(order, "first"); return boom }),
		SinkFunc(func(context.Context, assessment.Report) error { order = append(order, "second"); return nil }),
	))
	require.NoError(t, err)

	report, err := m.Assess(context.Background(), path)
	require.ErrorIs(t, err, boom)
	require.Equal(t, []string{"first", "second"}, order)
	require.Equal(t, 3, report.Responses)
	require.Equal(t, path, report.Source)
	require.Equal(t, 1, m.Runs())

	_, err = m.Assess(context.Background(), filepath.Join(t.TempDir(), "missing.log"))
	require.Error(t, err)
}

func TestSettledHonorsDebounce(t *testing.T) {
	m, err := New(nil, []string{"a.log", "b.log"}, WithDebounce(500*time.Millisecond))
	require.NoError(t, err)
	now := time.Now()
	a, b := m.Paths()[0], m.Paths()[1]
	m.pending[a] = now.Add(-time.Second)
	m.pending[b] = now.Add(-100 * time.Millisecond)

	require.Equal(t, []string{a}, m.settled(now))
	require.Empty(t, m.settled(now))
	require.Equal(t, []string{b}, m.settled(now.Add(time.Second)))
}

func TestHandleEventFiltersPathsAndOps(t *testing.T) {
	m, err := New(nil, []string{"a.log"})
	require.NoError(t, err)
	watched := m.Paths()[0]

	m.handleEvent(fsnotify.Event{Name: watched, Op: fsnotify.Chmod})
	m.handleEvent(fsnotify.Event{Name: filepath.Join(filepath.Dir(watched), "other.log"), Op: fsnotify.Write})
	require.Empty(t, m.pending)

	m.handleEvent(fsnotify.Event{Name: watched, Op: fsnotify.Write})
	require.Contains(t, m.pending, watched)
}

func TestRunReassessesOnWrite(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "chat.log")
	require.NoError(t, os.WriteFile(path, []byte("I feel happy.\n"), 0o644))
	sink := &collector{}
	m, err := New(assessment.New(), []string{path}, WithDebounce(20*time.Millisecond), WithSinks(sink))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return len(sink.all()) >= 1 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, sink.all()[0].Responses)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString("I wonder about my feelings.\nI am here.\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool {
		reports := sink.all()
		return reports[len(reports)-1].Responses == 3
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunFailsForMissingDirectory(t *testing.T) {
	defer goleak.VerifyNone(t)
	m, err := New(nil, []string{filepath.Join(t.TempDir(), "nope", "chat.log")})
	require.NoError(t, err)
	require.Error(t, m.Run(context.Background()))
}

func TestStorageSinks(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	book, err := logbook.New(filepath.Join(dir, "logs", "journal.log"))
	require.NoError(t, err)
	store, err := history.OpenDir(filepath.Join(dir, "state"))
	require.NoError(t, err)
	defer store.Close()
	docs := artifact.NewStore(filepath.Join(dir, "reports"))

	report := assessment.New(assessment.WithIDGenerator(func() string { return "r1" })).
		Analyze("chat.log", "I am sure about my identity.\nI am sure.\nI am here.")
	sinks := []Sink{JournalSink(book), HistorySink(store), ArtifactSink(docs)}
	require.NoError(t, deliver(ctx, sinks, report))
	// History ignores the duplicate; the other sinks simply rewrite.
	require.NoError(t, deliver(ctx, sinks, report))

	lines, total := book.Tail(5)
	require.Equal(t, 2, total)
	require.Contains(t, lines[0], "id r1")

	saved, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, report.Probability, saved.Probability)

	res, err := docs.Check("r1", artifact.KindDocument)
	require.NoError(t, err)
	require.Equal(t, artifact.StateReady, res.State)
}

func TestAlertSinkWarnsWhenBandRises(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	alert := NewAlertSink(zap.New(core))
	ctx := context.Background()
	at := func(p float64) assessment.Report {
		return assessment.Report{ID: "x", Source: "chat.log", Probability: p, Interpretation: assessment.Interpret(p)}
	}

	require.NoError(t, alert.Deliver(ctx, at(0.1)))
	require.NoError(t, alert.Deliver(ctx, at(0.9)))
	require.NoError(t, alert.Deliver(ctx, at(0.5)))
	require.NoError(t, alert.Deliver(ctx, at(0.5)))
	require.NoError(t, alert.Deliver(ctx, assessment.Report{Source: "other.log", Interpretation: assessment.Interpret(0.9)}))

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, zapcore.WarnLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	require.Equal(t, "limited", fields["from"])
	require.Equal(t, "high", fields["to"])
}

func TestPublishSinkRoutesSessionReports(t *testing.T) {
	router := eventbridge.NewRouter()
	sub := router.Subscribe("abc")
	defer sub.Close()
	sink := PublishSink(router, SessionOf)

	require.NoError(t, sink.Deliver(context.Background(), assessment.Report{ID: "skip", Source: "chat.log"}))
	require.NoError(t, sink.Deliver(context.Background(), assessment.Report{ID: "r1", Source: SessionSource("abc")}))

	evt := <-sub.Events
	require.Equal(t, eventbridge.TypeAssessment, evt.Type)
	got, err := evt.Report()
	require.NoError(t, err)
	require.Equal(t, "r1", got.ID)
	select {
	case extra := <-sub.Events:
		t.Fatalf("unexpected event %s", extra.EventID)
	default:
	}
}
