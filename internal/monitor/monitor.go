// Package monitor re-assesses transcripts in the background. Monitor follows
// files on disk and SessionTracker follows conversations posted to the event
// bridge. Both hand every report to the same ordered set of sinks.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/emotional-recursion/erf/internal/assessment"
	"github.com/emotional-recursion/erf/internal/config"
)

// Logger matches logging.Logger's Printf.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Monitor watches transcript files and assesses them after writes settle.
type Monitor struct {
	assessor *assessment.Assessor
	paths    []string
	watched  map[string]struct{}
	sinks    []Sink
	debounce time.Duration
	logger   Logger

	mu      sync.Mutex
	pending map[string]time.Time
	runs    int
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithDebounce sets the quiet period that must pass after the last write.
func WithDebounce(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.debounce = d
		}
	}
}

// WithSinks appends sinks. Reports reach them in the order given.
func WithSinks(sinks ...Sink) Option {
	return func(m *Monitor) {
		for _, s := range sinks {
			if s != nil {
				m.sinks = append(m.sinks, s)
			}
		}
	}
}

// WithLogger routes diagnostics to l.
func WithLogger(l Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// New prepares a monitor for the given transcript paths.
func New(assessor *assessment.Assessor, paths []string, opts ...Option) (*Monitor, error) {
	if assessor == nil {
		assessor = assessment.New()
	}
	m := &Monitor{
		assessor: assessor,
		watched:  map[string]struct{}{},
		debounce: config.DefaultDebounce,
		logger:   nopLogger{},
		pending:  map[string]time.Time{},
	}
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("monitor: resolve %s: %w", p, err)
		}
		if _, dup := m.watched[abs]; dup {
			continue
		}
		m.watched[abs] = struct{}{}
		m.paths = append(m.paths, abs)
	}
	if len(m.paths) == 0 {
		return nil, errors.New("monitor: no files to watch")
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Paths returns the absolute paths being watched.
func (m *Monitor) Paths() []string {
	return append([]string(nil), m.paths...)
}

// Runs reports how many assessments have completed.
func (m *Monitor) Runs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs
}

// Assess reads path, assesses it and delivers the report to every sink.
// Sink failures are joined into the returned error; the report is still
// returned.
func (m *Monitor) Assess(ctx context.Context, path string) (assessment.Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return assessment.Report{}, fmt.Errorf("monitor: read %s: %w", path, err)
	}
	report := m.assessor.Analyze(path, string(data))
	m.mu.Lock()
	m.runs++
	m.mu.Unlock()
	return report, deliver(ctx, m.sinks, report)
}

// Run assesses every existing file once, then re-assesses on change until
// ctx is cancelled. Cancellation is not an error.
func (m *Monitor) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("monitor: create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors often replace files by rename, so watch the directories.
	dirs := map[string]struct{}{}
	for _, p := range m.paths {
		dirs[filepath.Dir(p)] = struct{}{}
	}
	sorted := make([]string, 0, len(dirs))
	for d := range dirs {
		sorted = append(sorted, d)
	}
	sort.Strings(sorted)
	for _, d := range sorted {
		if err := watcher.Add(d); err != nil {
			return fmt.Errorf("monitor: watch %s: %w", d, err)
		}
	}

	for _, p := range m.paths {
		if _, err := os.Stat(p); err != nil {
			m.logger.Printf("monitor: %s not present yet", p)
			continue
		}
		m.run(ctx, p)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				m.handleEvent(event)
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				m.logger.Printf("monitor: watcher error: %v", err)
			}
		}
	})
	g.Go(func() error {
		tick := m.debounce / 5
		if tick < 10*time.Millisecond {
			tick = 10 * time.Millisecond
		}
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				for _, p := range m.settled(time.Now()) {
					m.run(gctx, p)
				}
			}
		}
	})
	return g.Wait()
}

func (m *Monitor) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}
	name := filepath.Clean(event.Name)
	if _, ok := m.watched[name]; !ok {
		return
	}
	m.mu.Lock()
	m.pending[name] = time.Now()
	m.mu.Unlock()
}

// settled removes and returns the paths whose last event is older than the
// debounce window.
func (m *Monitor) settled(now time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []string
	for p, at := range m.pending {
		if now.Sub(at) >= m.debounce {
			due = append(due, p)
			delete(m.pending, p)
		}
	}
	sort.Strings(due)
	return due
}

func (m *Monitor) run(ctx context.Context, path string) {
	report, err := m.Assess(ctx, path)
	if err != nil {
		m.logger.Printf("monitor: %v", err)
		if report.ID == "" {
			return
		}
	}
	m.logger.Printf("monitor: assessed %s stage=%d p=%.2f", path, int(report.CurrentStage), report.Probability)
}
