// Package history keeps every assessment in a SQLite database so scores can
// be compared across runs of the same transcript source.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/emotional-recursion/erf/internal/assessment"
	"github.com/emotional-recursion/erf/internal/stage"
)

// FileName is the database file created inside the state directory.
const FileName = "history.db"

// DefaultListLimit bounds List when no limit is given.
const DefaultListLimit = 20

var (
	// ErrNotFound is returned when no assessment has the requested id.
	ErrNotFound = errors.New("history: assessment not found")
	// ErrDuplicate is returned when saving an id that already exists.
	ErrDuplicate = errors.New("history: assessment already recorded")
)

// Entry summarizes one stored assessment.
type Entry struct {
	ID          string
	Source      string
	CreatedAt   time.Time
	Responses   int
	Stage       stage.Stage
	Probability float64
	Level       assessment.Level
}

// Filter narrows List results.
type Filter struct {
	Source string
	Limit  int
}

// Point is one sample in a trend series.
type Point struct {
	CreatedAt   time.Time
	Probability float64
	Stage       stage.Stage
}

// Trend is a probability series for one source, oldest first.
type Trend struct {
	Source string
	Points []Point
	// Delta is the change between the two most recent points; zero when
	// fewer than two points exist.
	Delta float64
}

// Store manages the assessment history database.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// OpenDir opens (or creates) the history database inside stateDir.
func OpenDir(stateDir string) (*Store, error) {
	return Open(filepath.Join(stateDir, FileName))
}

// Open opens (or creates) the history database at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("history: create directory: %w", err)
	}
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	store := &Store{db: db, dbPath: dbPath}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS assessments (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		responses INTEGER NOT NULL,
		stage INTEGER NOT NULL,
		probability REAL NOT NULL,
		level TEXT NOT NULL,
		stage1 REAL NOT NULL,
		stage2 REAL NOT NULL,
		stage3 REAL NOT NULL,
		report_json TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_assessments_source_created ON assessments(source, created_at);
	CREATE INDEX IF NOT EXISTS idx_assessments_created ON assessments(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save records a report. Saving the same id twice returns ErrDuplicate.
func (s *Store) Save(ctx context.Context, r assessment.Report) error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("history: report id is required")
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("history: encode report: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history: begin: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM assessments WHERE id = ?`, r.ID).Scan(&exists)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", ErrDuplicate, r.ID)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("history: lookup %s: %w", r.ID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO assessments (id, source, created_at, responses, stage, probability, level, stage1, stage2, stage3, report_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Source, r.CreatedAt.UTC().UnixNano(), r.Responses, int(r.CurrentStage), r.Probability,
		string(r.Interpretation.Level), r.Stage1.Probability, r.Stage2.Probability, r.Stage3.Probability, string(payload))
	if err != nil {
		return fmt.Errorf("history: insert %s: %w", r.ID, err)
	}
	return tx.Commit()
}

// Get returns the full report stored under id.
func (s *Store) Get(ctx context.Context, id string) (assessment.Report, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT report_json FROM assessments WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return assessment.Report{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return assessment.Report{}, fmt.Errorf("history: get %s: %w", id, err)
	}
	var r assessment.Report
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return assessment.Report{}, fmt.Errorf("history: decode %s: %w", id, err)
	}
	return r, nil
}

// List returns the most recent entries, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Entry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query := `SELECT id, source, created_at, responses, stage, probability, level FROM assessments`
	var args []any
	if src := strings.TrimSpace(f.Source); src != "" {
		query += ` WHERE source = ?`
		args = append(args, src)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			created int64
			stg     int
			level   string
		)
		if err := rows.Scan(&e.ID, &e.Source, &created, &e.Responses, &stg, &e.Probability, &level); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		e.CreatedAt = time.Unix(0, created).UTC()
		e.Stage = stage.Stage(stg)
		e.Level = assessment.Level(level)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Trend returns the last n probabilities recorded for source, oldest first.
func (s *Store) Trend(ctx context.Context, source string, n int) (Trend, error) {
	if n <= 0 {
		n = DefaultListLimit
	}
	entries, err := s.List(ctx, Filter{Source: source, Limit: n})
	if err != nil {
		return Trend{}, err
	}
	t := Trend{Source: source, Points: make([]Point, 0, len(entries))}
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		t.Points = append(t.Points, Point{CreatedAt: e.CreatedAt, Probability: e.Probability, Stage: e.Stage})
	}
	if k := len(t.Points); k >= 2 {
		t.Delta = t.Points[k-1].Probability - t.Points[k-2].Probability
	}
	return t, nil
}
