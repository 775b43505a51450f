// Package artifact persists assessment reports as files under the project's
// .erf/reports directory. Each report is written twice: a markdown document
// with YAML frontmatter for people, and a JSON document enriched with an
// _erf metadata block for tools.

package artifact

import (
	"fmt"
	"strings"
	"time"

	"github.com/emotional-recursion/erf/internal/assessment"
)

// Kind captures the storage shape and serialization format for an artifact.
type Kind string

const (
	// KindDocument represents a markdown document with YAML frontmatter.
	KindDocument Kind = "document"
	// KindJSON represents a JSON report enriched with an _erf metadata block.
	KindJSON Kind = "json"
)

// Extension returns the file extension for the kind.
func (k Kind) Extension() string {
	if k == KindJSON {
		return ".json"
	}
	return ".md"
}

// SchemaVersion identifies the metadata layout written by this package.
const SchemaVersion = "1"

// Metadata captures provenance stored inside frontmatter or metadata blocks.
type Metadata struct {
	ReportID    string
	Version     string
	Source      string
	Stage       int
	Probability float64
	Level       assessment.Level
	Responses   int
	CreatedAt   time.Time
	Checksum    string
	Notes       map[string]string
}

// MetadataFor derives metadata from a report.
func MetadataFor(r assessment.Report) Metadata {
	return Metadata{
		ReportID:    r.ID,
		Version:     SchemaVersion,
		Source:      r.Source,
		Stage:       int(r.CurrentStage),
		Probability: r.Probability,
		Level:       r.Interpretation.Level,
		Responses:   r.Responses,
		CreatedAt:   r.CreatedAt,
	}
}

// WithDefaults fills the version and timestamp when absent.
func (m Metadata) WithDefaults(now time.Time) Metadata {
	clone := m
	if clone.Version == "" {
		clone.Version = SchemaVersion
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now.UTC()
	} else {
		clone.CreatedAt = clone.CreatedAt.UTC()
	}
	return clone
}

// Validate ensures metadata is complete enough to locate and trust the report.
func (m Metadata) Validate() error {
	if strings.TrimSpace(m.ReportID) == "" {
		return fmt.Errorf("artifact: report id is required")
	}
	if strings.ContainsAny(m.ReportID, `/\`) {
		return fmt.Errorf("artifact: report id %q must not contain path separators", m.ReportID)
	}
	if m.Version == "" {
		return fmt.Errorf("artifact: version is required for %s", m.ReportID)
	}
	if m.Stage < 0 || m.Stage > 3 {
		return fmt.Errorf("artifact: stage %d out of range for %s", m.Stage, m.ReportID)
	}
	if m.Probability < 0 || m.Probability > 1 {
		return fmt.Errorf("artifact: probability %v out of range for %s", m.Probability, m.ReportID)
	}
	return nil
}

// State captures the readiness of an artifact on disk.
type State string

const (
	StateMissing State = "missing"
	StateReady   State = "ready"
	StateInvalid State = "invalid"
	StateError   State = "error"
)

// CheckResult captures Store.Check results.
type CheckResult struct {
	ID       string
	Kind     Kind
	Path     string
	State    State
	Metadata *Metadata
	Err      error
}
