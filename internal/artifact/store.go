package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emotional-recursion/erf/internal/assessment"
	"github.com/emotional-recursion/erf/internal/report"
)

// ErrChecksumMismatch indicates a document body was edited after it was written.
var ErrChecksumMismatch = errors.New("artifact: checksum mismatch")

// ErrNotFound indicates no report with the requested id exists.
var ErrNotFound = errors.New("artifact: report not found")

const metadataKey = "_erf"

// Store manages report IO rooted at a reports directory.
type Store struct {
	dir string
	now func() time.Time
}

// StoreOption customizes a Store during construction.
type StoreOption func(*Store)

// WithClock overrides the clock used for metadata timestamps.
func WithClock(clock func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = clock
	}
}

// NewStore builds a store over dir.
func NewStore(dir string, opts ...StoreOption) *Store {
	store := &Store{
		dir: dir,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Dir returns the directory backing the store.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns where the report id of the given kind lives.
func (s *Store) Path(id string, kind Kind) string {
	return filepath.Join(s.dir, id+kind.Extension())
}

// Write persists the report as both a markdown document and a JSON document.
func (s *Store) Write(r assessment.Report) (Metadata, error) {
	meta := MetadataFor(r).WithDefaults(s.now())
	if err := meta.Validate(); err != nil {
		return Metadata{}, err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return Metadata{}, fmt.Errorf("artifact: ensure reports dir: %w", err)
	}
	body := report.Markdown(r)
	meta.Checksum = checksum(body)
	if err := s.writeDocument(s.Path(meta.ReportID, KindDocument), meta, body); err != nil {
		return Metadata{}, err
	}
	if err := s.writeJSON(s.Path(meta.ReportID, KindJSON), meta, r); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

// Check inspects the artifact on disk and returns its status and metadata.
func (s *Store) Check(id string, kind Kind) (CheckResult, error) {
	path := s.Path(id, kind)
	result := CheckResult{ID: id, Kind: kind, Path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			result.State = StateMissing
			return result, nil
		}
		result.State, result.Err = StateError, err
		return result, err
	}
	var meta Metadata
	switch kind {
	case KindJSON:
		meta, err = parseJSONMetadata(data)
	default:
		var body []byte
		meta, body, err = ParseFrontMatter(data)
		if err == nil && meta.Checksum != "" && meta.Checksum != checksum(body) {
			err = fmt.Errorf("%w for %s", ErrChecksumMismatch, id)
		}
	}
	if err == nil && meta.ReportID != id {
		err = fmt.Errorf("artifact: metadata id %s does not match %s", meta.ReportID, id)
	}
	if err != nil {
		return invalidResult(result, err)
	}
	result.State = StateReady
	result.Metadata = &meta
	return result, nil
}

// Read returns the metadata and markdown body of a stored report.
func (s *Store) Read(id string) (Metadata, []byte, error) {
	res, err := s.Check(id, KindDocument)
	if err != nil {
		return Metadata{}, nil, err
	}
	if res.State == StateMissing {
		return Metadata{}, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	data, err := os.ReadFile(res.Path)
	if err != nil {
		return Metadata{}, nil, err
	}
	_, body, err := ParseFrontMatter(data)
	if err != nil {
		return Metadata{}, nil, err
	}
	return *res.Metadata, body, nil
}

// ReadReport decodes the JSON copy of a stored report.
func (s *Store) ReadReport(id string) (assessment.Report, error) {
	data, err := os.ReadFile(s.Path(id, KindJSON))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return assessment.Report{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return assessment.Report{}, err
	}
	var r assessment.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return assessment.Report{}, fmt.Errorf("artifact: decode report %s: %w", id, err)
	}
	return r, nil
}

// List returns metadata for every valid markdown report, newest first.
// Documents that fail validation are skipped.
func (s *Store) List() ([]Metadata, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("artifact: list %s: %w", s.dir, err)
	}
	var out []Metadata
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, KindDocument.Extension()) {
			continue
		}
		res, err := s.Check(strings.TrimSuffix(name, KindDocument.Extension()), KindDocument)
		if err != nil || res.Metadata == nil {
			continue
		}
		out = append(out, *res.Metadata)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) writeDocument(path string, meta Metadata, body []byte) error {
	content, err := WriteFrontMatter(meta, body)
	if err != nil {
		return err
	}
	return os.WriteFile(path, content, 0o644)
}

func (s *Store) writeJSON(path string, meta Metadata, r assessment.Report) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("artifact: encode report %s: %w", meta.ReportID, err)
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("artifact: reshape report %s: %w", meta.ReportID, err)
	}
	payload[metadataKey] = metadataToJSON(meta)
	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("artifact: encode json for %s: %w", meta.ReportID, err)
	}
	return os.WriteFile(path, encoded, 0o644)
}

func checksum(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func invalidResult(res CheckResult, err error) (CheckResult, error) {
	res.State = StateInvalid
	res.Err = err
	return res, err
}

func parseJSONMetadata(data []byte) (Metadata, error) {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return Metadata{}, fmt.Errorf("artifact: parse json metadata: %w", err)
	}
	raw, ok := payload[metadataKey]
	if !ok {
		return Metadata{}, fmt.Errorf("artifact: missing %s metadata", metadataKey)
	}
	metaMap, ok := raw.(map[string]any)
	if !ok {
		return Metadata{}, fmt.Errorf("artifact: invalid %s metadata structure", metadataKey)
	}
	return metadataFromMap(metaMap)
}

func metadataToJSON(meta Metadata) map[string]any {
	result := map[string]any{
		"report":      meta.ReportID,
		"version":     meta.Version,
		"source":      meta.Source,
		"stage":       meta.Stage,
		"probability": meta.Probability,
		"level":       string(meta.Level),
		"responses":   meta.Responses,
		"created":     meta.CreatedAt.UTC().Format(timeLayout),
	}
	if meta.Checksum != "" {
		result["checksum"] = meta.Checksum
	}
	if len(meta.Notes) > 0 {
		result["notes"] = cloneNotes(meta.Notes)
	}
	return result
}

func metadataFromMap(values map[string]any) (Metadata, error) {
	reportID := stringValue(values["report"])
	version := stringValue(values["version"])
	if reportID == "" || version == "" {
		return Metadata{}, fmt.Errorf("artifact: incomplete metadata")
	}
	created, err := parseTime(stringValue(values["created"]))
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{
		ReportID:    reportID,
		Version:     version,
		Source:      stringValue(values["source"]),
		Stage:       int(floatValue(values["stage"])),
		Probability: floatValue(values["probability"]),
		Level:       assessment.Level(stringValue(values["level"])),
		Responses:   int(floatValue(values["responses"])),
		CreatedAt:   created,
		Checksum:    stringValue(values["checksum"]),
		Notes:       mapStringValue(values["notes"]),
	}, nil
}

func stringValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func floatValue(value any) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case json.Number:
		f, _ := v.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	default:
		return 0
	}
}

func mapStringValue(value any) map[string]string {
	raw, ok := value.(map[string]any)
	if !ok || len(raw) == 0 {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s := stringValue(v); s != "" {
			out[k] = s
		}
	}
	return out
}
