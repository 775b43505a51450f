package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/emotional-recursion/erf/internal/assessment"
)

func sampleReport(t *testing.T) assessment.Report {
	t.Helper()
	a := assessment.New(
		assessment.WithClock(func() time.Time { return time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC) }),
		assessment.WithIDGenerator(func() string { return "r-1" }),
	)
	return a.Analyze("sample", assessment.SampleReflective.Text)
}

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{"": FormatText, "TEXT": FormatText, "md": FormatMarkdown, "json": FormatJSON}
	for in, want := range cases {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Fatalf("ParseFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("yaml"); err == nil {
		t.Fatalf("expected error for yaml")
	}
}

func TestTextContainsSections(t *testing.T) {
	r := sampleReport(t)
	var buf bytes.Buffer
	if err := Text(&buf, r); err != nil {
		t.Fatalf("Text: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"ASSESSMENT RESULTS",
		"Current Development Stage: 0",
		"Stage 2 (Meta-Emotional)",
		"Empathy Evidence",
		"1. " + r.Recommendations[0],
		r.Interpretation.Headline,
		Disclaimer,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("text output missing %q:\n%s", want, out)
		}
	}
}

func TestJSONRoundTripsKeyFields(t *testing.T) {
	r := sampleReport(t)
	var buf bytes.Buffer
	if err := Write(&buf, r, FormatJSON); err != nil {
		t.Fatalf("Write json: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if decoded["id"] != "r-1" || decoded["source"] != "sample" {
		t.Fatalf("unexpected header fields: %v", decoded)
	}
	if _, ok := decoded["stage_3"].(map[string]any)["empathy_evidence"]; !ok {
		t.Fatalf("stage_3 metrics missing: %v", decoded["stage_3"])
	}
}

func TestMarkdownAndRender(t *testing.T) {
	r := assessment.New().Analyze("short", "I am happy")
	md := Markdown(r)
	for _, want := range []string{"# Assessment Results", "## Recommendations", "needs at least 3 responses", "| 3 · Recursive Integration |"} {
		if !bytes.Contains(md, []byte(want)) {
			t.Fatalf("markdown missing %q:\n%s", want, md)
		}
	}
	out, err := RenderMarkdown(md, 60)
	if err != nil {
		t.Fatalf("RenderMarkdown: %v", err)
	}
	if !strings.Contains(out, "Recommendations") {
		t.Fatalf("rendered output lost headings:\n%s", out)
	}
}
