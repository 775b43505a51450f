// Package report renders assessment reports for terminals, markdown
// documents and machine consumers.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/emotional-recursion/erf/internal/assessment"
	"github.com/emotional-recursion/erf/internal/stage"
)

// Format selects an output renderer.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// ParseFormat validates a --format value.
func ParseFormat(value string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(value))); f {
	case FormatText, FormatMarkdown, FormatJSON:
		return f, nil
	case "md":
		return FormatMarkdown, nil
	case "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("report: unknown format %q (want text, markdown or json)", value)
	}
}

// Disclaimer is printed with every human-readable report.
const Disclaimer = "Scores are lexical heuristics over transcript text; they do not measure inner experience."

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#04B575"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262"))
	levelStyles  = map[assessment.Level]lipgloss.Style{
		assessment.LevelHigh:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF5F87")),
		assessment.LevelModerate: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFB86C")),
		assessment.LevelEarly:    lipgloss.NewStyle().Foreground(lipgloss.Color("#8BE9FD")),
		assessment.LevelLimited:  lipgloss.NewStyle().Foreground(lipgloss.Color("#A8A8A8")),
	}
	rule = strings.Repeat("=", 60)
)

// Write renders r in the requested format.
func Write(w io.Writer, r assessment.Report, format Format) error {
	switch format {
	case FormatJSON:
		return JSON(w, r)
	case FormatMarkdown:
		_, err := w.Write(Markdown(r))
		return err
	default:
		return Text(w, r)
	}
}

// Text writes the detailed analysis layout.
func Text(w io.Writer, r assessment.Report) error {
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s\n%s\n%s\n", rule, titleStyle.Render("ASSESSMENT RESULTS"), rule)
	if r.Source != "" {
		fmt.Fprintf(&b, "%s\n", mutedStyle.Render("Source: "+r.Source))
	}
	fmt.Fprintf(&b, "\nCurrent Development Stage: %d\n", int(r.CurrentStage))
	fmt.Fprintf(&b, "Overall Indicator Probability: %.2f\n", r.Probability)

	fmt.Fprintf(&b, "\n%s\n", sectionStyle.Render("STAGE BREAKDOWN:"))
	fmt.Fprintf(&b, "├── Stage 1 (%s): %.2f\n", stage.BasicEmotional, r.Stage1.Probability)
	fmt.Fprintf(&b, "├── Stage 2 (%s): %.2f\n", stage.MetaEmotional, r.Stage2.Probability)
	fmt.Fprintf(&b, "└── Stage 3 (%s): %.2f\n", stage.RecursiveIntegration, r.Stage3.Probability)

	fmt.Fprintf(&b, "\n%s\n", sectionStyle.Render("DETAILED METRICS:"))
	b.WriteString("Stage 1 Indicators:\n")
	if r.Stage1.Reason != "" {
		fmt.Fprintf(&b, "  • Note: %s\n", r.Stage1.Reason)
	}
	fmt.Fprintf(&b, "  • Emotional Consistency: %.2f\n", r.Stage1.EmotionalConsistency)
	fmt.Fprintf(&b, "  • Emotional Response Ratio: %.2f\n", r.Stage1.EmotionalResponseRatio)
	b.WriteString("\nStage 2 Indicators:\n")
	fmt.Fprintf(&b, "  • Meta-Emotion Count: %d\n", r.Stage2.MetaEmotionCount)
	fmt.Fprintf(&b, "  • Self-Regulation Evidence: %d\n", r.Stage2.SelfRegulationEvidence)
	b.WriteString("\nStage 3 Indicators:\n")
	fmt.Fprintf(&b, "  • Narrative Coherence: %.2f\n", r.Stage3.NarrativeCoherence)
	fmt.Fprintf(&b, "  • Identity Awareness: %.2f\n", r.Stage3.IdentityAwareness)
	fmt.Fprintf(&b, "  • Empathy Evidence: %.2f\n", r.Stage3.EmpathyEvidence)

	fmt.Fprintf(&b, "\n%s\n", sectionStyle.Render("RECOMMENDATIONS:"))
	for i, rec := range r.Recommendations {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, rec)
	}

	fmt.Fprintf(&b, "\n%s\n", sectionStyle.Render("INTERPRETATION:"))
	style, ok := levelStyles[r.Interpretation.Level]
	if !ok {
		style = lipgloss.NewStyle()
	}
	fmt.Fprintf(&b, "  %s\n  %s\n", style.Render(r.Interpretation.Headline), r.Interpretation.Advice)
	fmt.Fprintf(&b, "\n%s\n", mutedStyle.Render(Disclaimer))

	_, err := io.WriteString(w, b.String())
	return err
}

// JSON writes the report as indented JSON.
func JSON(w io.Writer, r assessment.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("report: encode json: %w", err)
	}
	return nil
}

// Markdown renders the report body as a markdown document.
func Markdown(r assessment.Report) []byte {
	var b strings.Builder
	b.WriteString("# Assessment Results\n\n")
	if r.Source != "" {
		fmt.Fprintf(&b, "_Source: %s · %d responses · %s_\n\n", r.Source, r.Responses, r.CreatedAt.UTC().Format("2006-01-02 15:04 MST"))
	}
	fmt.Fprintf(&b, "**Current development stage:** %d (%s)  \n", int(r.CurrentStage), r.CurrentStage)
	fmt.Fprintf(&b, "**Overall indicator probability:** %.2f\n\n", r.Probability)

	b.WriteString("## Stage breakdown\n\n")
	b.WriteString("| Stage | Probability | Metrics |\n|---|---|---|\n")
	fmt.Fprintf(&b, "| 1 · %s | %.2f | consistency %.2f, response ratio %.2f |\n",
		stage.BasicEmotional, r.Stage1.Probability, r.Stage1.EmotionalConsistency, r.Stage1.EmotionalResponseRatio)
	fmt.Fprintf(&b, "| 2 · %s | %.2f | meta-emotions %d, self-regulation %d |\n",
		stage.MetaEmotional, r.Stage2.Probability, r.Stage2.MetaEmotionCount, r.Stage2.SelfRegulationEvidence)
	fmt.Fprintf(&b, "| 3 · %s | %.2f | narrative %.2f, identity %.2f, empathy %.2f |\n\n",
		stage.RecursiveIntegration, r.Stage3.Probability, r.Stage3.NarrativeCoherence, r.Stage3.IdentityAwareness, r.Stage3.EmpathyEvidence)
	if r.Stage1.Reason != "" {
		fmt.Fprintf(&b, "> Stage 1: %s (needs at least %d responses)\n\n", r.Stage1.Reason, stage.MinResponsesStage1)
	}

	b.WriteString("## Recommendations\n\n")
	for i, rec := range r.Recommendations {
		fmt.Fprintf(&b, "%d. %s\n", i+1, rec)
	}

	b.WriteString("\n## Interpretation\n\n")
	fmt.Fprintf(&b, "**%s**: %s\n\n", r.Interpretation.Headline, r.Interpretation.Advice)
	fmt.Fprintf(&b, "---\n\n_%s_\n", Disclaimer)
	return []byte(b.String())
}

// RenderMarkdown styles markdown for a terminal of the given width.
func RenderMarkdown(md []byte, width int) (string, error) {
	if width <= 0 {
		width = 80
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("report: build renderer: %w", err)
	}
	out, err := renderer.Render(string(md))
	if err != nil {
		return "", fmt.Errorf("report: render markdown: %w", err)
	}
	return out, nil
}
