package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/emotional-recursion/erf/internal/artifact"
	"github.com/emotional-recursion/erf/internal/assessment"
	"github.com/emotional-recursion/erf/internal/eventbridge"
	"github.com/emotional-recursion/erf/internal/history"
	"github.com/emotional-recursion/erf/internal/logbook"
)

// Sink receives finished reports.
type Sink interface {
	Deliver(ctx context.Context, r assessment.Report) error
}

// SinkFunc adapts a function into a Sink.
type SinkFunc func(ctx context.Context, r assessment.Report) error

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, r assessment.Report) error {
	if f == nil {
		return nil
	}
	return f(ctx, r)
}

// deliver hands r to every sink in order. One failing sink does not stop the
// rest.
func deliver(ctx context.Context, sinks []Sink, r assessment.Report) error {
	var errs []error
	for _, s := range sinks {
		if err := s.Deliver(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// JournalSink appends a summary line to the logbook.
func JournalSink(book *logbook.Logbook) Sink {
	return SinkFunc(func(_ context.Context, r assessment.Report) error {
		if err := book.Record(r); err != nil {
			return fmt.Errorf("monitor: journal: %w", err)
		}
		return nil
	})
}

// HistorySink saves the report to the history database. Re-delivering the
// same report is not an error.
func HistorySink(store *history.Store) Sink {
	return SinkFunc(func(ctx context.Context, r assessment.Report) error {
		err := store.Save(ctx, r)
		if err != nil && !errors.Is(err, history.ErrDuplicate) {
			return fmt.Errorf("monitor: history: %w", err)
		}
		return nil
	})
}

// ArtifactSink writes the report document pair.
func ArtifactSink(store *artifact.Store) Sink {
	return SinkFunc(func(_ context.Context, r assessment.Report) error {
		if _, err := store.Write(r); err != nil {
			return fmt.Errorf("monitor: artifact: %w", err)
		}
		return nil
	})
}

// PublishSink routes each report to bridge subscribers of the session that
// session(r) names. Reports with an empty session are skipped.
func PublishSink(router *eventbridge.Router, session func(assessment.Report) string) Sink {
	return SinkFunc(func(_ context.Context, r assessment.Report) error {
		id := session(r)
		if id == "" {
			return nil
		}
		evt, err := eventbridge.AssessmentEvent(id, r)
		if err != nil {
			return fmt.Errorf("monitor: publish: %w", err)
		}
		router.Route(evt)
		return nil
	})
}

// AlertSink logs a warning whenever a source moves into a higher
// interpretation band than it was last seen in.
type AlertSink struct {
	log  *zap.Logger
	mu   sync.Mutex
	last map[string]assessment.Level
}

// NewAlertSink returns an AlertSink writing to log.
func NewAlertSink(log *zap.Logger) *AlertSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &AlertSink{log: log, last: map[string]assessment.Level{}}
}

// Deliver implements Sink.
func (a *AlertSink) Deliver(_ context.Context, r assessment.Report) error {
	level := r.Interpretation.Level
	a.mu.Lock()
	prev, seen := a.last[r.Source]
	a.last[r.Source] = level
	a.mu.Unlock()
	if !seen || level.Rank() <= prev.Rank() {
		return nil
	}
	a.log.Warn("interpretation band rose",
		zap.String("source", r.Source),
		zap.String("from", string(prev)),
		zap.String("to", string(level)),
		zap.Float64("probability", r.Probability),
		zap.Int("stage", int(r.CurrentStage)),
		zap.String("report_id", r.ID),
	)
	return nil
}
