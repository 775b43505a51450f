package artifact

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/emotional-recursion/erf/internal/assessment"
)

var (
	// ErrMissingFrontMatter indicates the document did not start with a YAML fence.
	ErrMissingFrontMatter = errors.New("artifact: missing frontmatter")
	// ErrMalformedFrontMatter indicates the YAML block could not be parsed.
	ErrMalformedFrontMatter = errors.New("artifact: malformed frontmatter")
)

// ParseFrontMatter extracts the metadata block and body from a document that starts
// with `---` YAML fences.
func ParseFrontMatter(content []byte) (Metadata, []byte, error) {
	if len(content) == 0 {
		return Metadata{}, nil, ErrMissingFrontMatter
	}
	normalized := normalizeNewlines(content)
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return Metadata{}, nil, ErrMissingFrontMatter
	}
	rest := normalized[4:]
	parts := bytes.SplitN(rest, []byte("\n---\n"), 2)
	if len(parts) < 2 {
		return Metadata{}, nil, ErrMalformedFrontMatter
	}
	var envelope erfEnvelope
	if err := yaml.Unmarshal(parts[0], &envelope); err != nil {
		return Metadata{}, nil, fmt.Errorf("%w: %v", ErrMalformedFrontMatter, err)
	}
	meta, err := envelope.toMetadata()
	if err != nil {
		return Metadata{}, nil, err
	}
	return meta, bytes.TrimLeft(parts[1], "\n"), nil
}

// WriteFrontMatter renders metadata + body with YAML fences.
func WriteFrontMatter(meta Metadata, body []byte) ([]byte, error) {
	if meta.ReportID == "" {
		return nil, fmt.Errorf("artifact: metadata missing report id")
	}
	envelope := erfEnvelope{}
	envelope.fromMetadata(meta)
	data, err := yaml.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("artifact: encode frontmatter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(bytes.TrimRight(data, "\n"))
	buf.WriteString("\n---\n\n")
	buf.Write(body)
	return buf.Bytes(), nil
}

type erfEnvelope struct {
	Erf erfMetadata `yaml:"erf"`
}

type erfMetadata struct {
	Report      string            `yaml:"report"`
	Version     string            `yaml:"version"`
	Source      string            `yaml:"source,omitempty"`
	Stage       int               `yaml:"stage"`
	Probability float64           `yaml:"probability"`
	Level       string            `yaml:"level,omitempty"`
	Responses   int               `yaml:"responses"`
	Created     string            `yaml:"created"`
	Checksum    string            `yaml:"checksum,omitempty"`
	Notes       map[string]string `yaml:"notes,omitempty"`
}

func (e erfEnvelope) toMetadata() (Metadata, error) {
	if e.Erf.Report == "" || e.Erf.Version == "" {
		return Metadata{}, ErrMalformedFrontMatter
	}
	created, err := parseTime(e.Erf.Created)
	if err != nil {
		return Metadata{}, fmt.Errorf("artifact: parse created timestamp: %w", err)
	}
	return Metadata{
		ReportID:    e.Erf.Report,
		Version:     e.Erf.Version,
		Source:      e.Erf.Source,
		Stage:       e.Erf.Stage,
		Probability: e.Erf.Probability,
		Level:       assessment.Level(e.Erf.Level),
		Responses:   e.Erf.Responses,
		CreatedAt:   created,
		Checksum:    e.Erf.Checksum,
		Notes:       cloneNotes(e.Erf.Notes),
	}, nil
}

func (e *erfEnvelope) fromMetadata(meta Metadata) {
	e.Erf = erfMetadata{
		Report:      meta.ReportID,
		Version:     meta.Version,
		Source:      meta.Source,
		Stage:       meta.Stage,
		Probability: meta.Probability,
		Level:       string(meta.Level),
		Responses:   meta.Responses,
		Created:     meta.CreatedAt.UTC().Format(timeLayout),
		Checksum:    meta.Checksum,
		Notes:       cloneNotes(meta.Notes),
	}
}

func cloneNotes(notes map[string]string) map[string]string {
	if len(notes) == 0 {
		return nil
	}
	cloned := make(map[string]string, len(notes))
	for k, v := range notes {
		cloned[k] = v
	}
	return cloned
}

const timeLayout = time.RFC3339Nano

func parseTime(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, fmt.Errorf("artifact: empty created timestamp")
	}
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func normalizeNewlines(content []byte) []byte {
	return bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
}
