package artifact

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/emotional-recursion/erf/internal/assessment"
	"github.com/emotional-recursion/erf/internal/stage"
)

func newReport(t *testing.T, id string, at time.Time) assessment.Report {
	t.Helper()
	a := assessment.New(
		assessment.WithClock(func() time.Time { return at }),
		assessment.WithIDGenerator(func() string { return id }),
	)
	return a.Analyze("chat.log", strings.Repeat("In my experience I am sure about my identity.\n", 3))
}

func TestStoreWriteAndRead(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	created := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	r := newReport(t, "alpha", created)

	meta, err := store.Write(r)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if meta.Checksum == "" {
		t.Fatalf("expected checksum to be set")
	}

	got, body, err := store.Read("alpha")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.ReportID != "alpha" || got.Stage != int(stage.RecursiveIntegration) || got.Level != assessment.LevelModerate {
		t.Fatalf("unexpected metadata: %+v", got)
	}
	if !got.CreatedAt.Equal(created) || got.Source != "chat.log" || got.Responses != 3 {
		t.Fatalf("unexpected provenance: %+v", got)
	}
	if !bytes.HasPrefix(body, []byte("# Assessment Results")) {
		t.Fatalf("unexpected body prefix: %q", body[:min(len(body), 40)])
	}

	decoded, err := store.ReadReport("alpha")
	if err != nil {
		t.Fatalf("ReadReport: %v", err)
	}
	if decoded.ID != "alpha" || decoded.CurrentStage != r.CurrentStage || decoded.Probability != r.Probability {
		t.Fatalf("decoded report mismatch: %+v", decoded)
	}

	res, err := store.Check("alpha", KindJSON)
	if err != nil || res.State != StateReady || res.Metadata.Checksum != meta.Checksum {
		t.Fatalf("Check json = %+v, %v", res, err)
	}
}

func TestStoreCheckStates(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	res, err := store.Check("ghost", KindDocument)
	if err != nil || res.State != StateMissing {
		t.Fatalf("expected missing, got %+v, %v", res, err)
	}
	if _, _, err := store.Read("ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Read missing: err = %v, want ErrNotFound", err)
	}
	if _, err := store.ReadReport("ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ReadReport missing: err = %v, want ErrNotFound", err)
	}

	if _, err := store.Write(newReport(t, "beta", time.Now())); err != nil {
		t.Fatalf("Write: %v", err)
	}
	path := store.Path("beta", KindDocument)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	tampered := bytes.Replace(data, []byte("Recommendations"), []byte("Edited"), 1)
	if err := os.WriteFile(path, tampered, 0o644); err != nil {
		t.Fatal(err)
	}
	res, err = store.Check("beta", KindDocument)
	if !errors.Is(err, ErrChecksumMismatch) || res.State != StateInvalid {
		t.Fatalf("expected checksum mismatch, got %+v, %v", res, err)
	}

	if err := os.WriteFile(store.Path("gamma", KindDocument), []byte("# no frontmatter\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Check("gamma", KindDocument); !errors.Is(err, ErrMissingFrontMatter) {
		t.Fatalf("expected missing frontmatter, got %v", err)
	}
}

func TestStoreListNewestFirstSkipsInvalid(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"one", "two", "three"} {
		if _, err := store.Write(newReport(t, id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("Write %s: %v", id, err)
		}
	}
	if err := os.WriteFile(store.Path("broken", KindDocument), []byte("---\nerf: [\n---\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	list, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var ids []string
	for _, m := range list {
		ids = append(ids, m.ReportID)
	}
	if strings.Join(ids, ",") != "three,two,one" {
		t.Fatalf("List order = %v", ids)
	}

	empty, err := NewStore(dir + "/missing").List()
	if err != nil || len(empty) != 0 {
		t.Fatalf("List on missing dir = %v, %v", empty, err)
	}
}

func TestWriteRejectsUnsafeIDs(t *testing.T) {
	store := NewStore(t.TempDir())
	if _, err := store.Write(newReport(t, "../escape", time.Now())); err == nil {
		t.Fatalf("expected path separator rejection")
	}
	if _, err := store.Write(newReport(t, "", time.Now())); err == nil {
		t.Fatalf("expected empty id rejection")
	}
}

func TestFrontMatterRoundTrip(t *testing.T) {
	meta := Metadata{
		ReportID:    "x",
		Version:     SchemaVersion,
		Stage:       2,
		Probability: 0.42,
		CreatedAt:   time.Date(2026, 1, 1, 0, 0, 0, 123, time.UTC),
		Notes:       map[string]string{"session": "s-1"},
	}
	content, err := WriteFrontMatter(meta, []byte("body\n"))
	if err != nil {
		t.Fatalf("WriteFrontMatter: %v", err)
	}
	got, body, err := ParseFrontMatter(bytes.ReplaceAll(content, []byte("\n"), []byte("\r\n")))
	if err != nil {
		t.Fatalf("ParseFrontMatter: %v", err)
	}
	if string(body) != "body\n" || got.Notes["session"] != "s-1" || !got.CreatedAt.Equal(meta.CreatedAt) || got.Probability != 0.42 {
		t.Fatalf("round trip mismatch: %+v body=%q", got, body)
	}
	if _, _, err := ParseFrontMatter([]byte("---\nerf:\n  report: x\n")); !errors.Is(err, ErrMalformedFrontMatter) {
		t.Fatalf("expected malformed error, got %v", err)
	}
}
