package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/emotional-recursion/erf/internal/assessment"
	"github.com/emotional-recursion/erf/internal/history"
	"github.com/emotional-recursion/erf/internal/report"
)

var errNoData = errors.New("no conversation data provided")

func newAnalyzeCmd(dir func() string) *cobra.Command {
	var format string
	var save bool
	cmd := &cobra.Command{
		Use:   "analyze [file|-]",
		Short: "Assess a transcript (one response per line)",
		Long: `Assess a transcript file, or stdin when the argument is "-" or omitted.
Each non-blank line is one AI response.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := report.ParseFormat(format)
			if err != nil {
				return err
			}
			source, text, err := readInput(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			if strings.TrimSpace(text) == "" {
				return errNoData
			}
			return runAssessment(cmd.Context(), cmd.OutOrStdout(), dir(), source, text, f, save)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", string(report.FormatText), "Output format: text, markdown or json")
	cmd.Flags().BoolVar(&save, "save", false, "Record the report in history, the journal and .erf/reports")
	return cmd
}

func newSampleCmd(dir func() string) *cobra.Command {
	var format string
	var save bool
	names := make([]string, 0, 2)
	for _, s := range assessment.Samples() {
		names = append(names, s.Name)
	}
	cmd := &cobra.Command{
		Use:       "sample " + strings.Join(names, "|"),
		Short:     "Assess one of the built-in sample transcripts",
		Args:      cobra.ExactArgs(1),
		ValidArgs: names,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := report.ParseFormat(format)
			if err != nil {
				return err
			}
			sample, err := assessment.LookupSample(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if f == report.FormatText {
				fmt.Fprintf(out, "%s\n%s\n\n", sample.Title, sample.Description)
			}
			return runAssessment(cmd.Context(), out, dir(), "sample:"+sample.Name, sample.Text, f, save)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", string(report.FormatText), "Output format: text, markdown or json")
	cmd.Flags().BoolVar(&save, "save", false, "Record the report in history, the journal and .erf/reports")
	return cmd
}

func runAssessment(ctx context.Context, out io.Writer, dir, source, text string, f report.Format, save bool) error {
	ws, err := openWorkspace(dir, save)
	if err != nil {
		return err
	}
	defer ws.Close()
	r := ws.assessor.Analyze(source, text)
	if err := report.Write(out, r, f); err != nil {
		return err
	}
	if !save {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ws.history.Save(ctx, r); err != nil {
		return err
	}
	if err := ws.book.Record(r); err != nil {
		return err
	}
	meta, err := ws.artifacts().Write(r)
	if err != nil {
		return err
	}
	ws.log.Printf("saved report %s for %s", meta.ReportID, source)
	if f == report.FormatText {
		fmt.Fprintf(out, "\nSaved report %s\n", r.ID)
	}
	return nil
}

func newHistoryCmd(dir func() string) *cobra.Command {
	var source string
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded assessments, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ws, err := openWorkspace(dir(), true)
			if err != nil {
				return err
			}
			defer ws.Close()
			entries, err := ws.history.List(cmd.Context(), history.Filter{Source: source, Limit: limit})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No assessments recorded.")
				return nil
			}
			t := table.New().
				Border(lipgloss.NormalBorder()).
				Headers("ID", "CREATED", "SOURCE", "RESPONSES", "STAGE", "P", "LEVEL")
			for _, e := range entries {
				t.Row(e.ID, e.CreatedAt.Local().Format("2006-01-02 15:04"), e.Source,
					strconv.Itoa(e.Responses), strconv.Itoa(int(e.Stage)),
					fmt.Sprintf("%.2f", e.Probability), string(e.Level))
			}
			fmt.Fprintln(out, t.Render())
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "Only show assessments of this source")
	cmd.Flags().IntVar(&limit, "limit", history.DefaultListLimit, "Maximum rows")
	return cmd
}

func newTrendCmd(dir func() string) *cobra.Command {
	var points int
	cmd := &cobra.Command{
		Use:   "trend <source>",
		Short: "Show how a source's indicator probability changed over time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(dir(), true)
			if err != nil {
				return err
			}
			defer ws.Close()
			trend, err := ws.history.Trend(cmd.Context(), args[0], points)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(trend.Points) == 0 {
				fmt.Fprintf(out, "No assessments recorded for %s.\n", args[0])
				return nil
			}
			for _, p := range trend.Points {
				fmt.Fprintf(out, "%s  stage %d  p=%.2f  %s\n",
					p.CreatedAt.Local().Format("2006-01-02 15:04:05"), int(p.Stage), p.Probability,
					strings.Repeat("█", int(p.Probability*20+0.5)))
			}
			fmt.Fprintf(out, "delta %+.2f over the last two assessments\n", trend.Delta)
			return nil
		},
	}
	cmd.Flags().IntVarP(&points, "points", "n", 10, "Number of most recent assessments")
	return cmd
}

func newThresholdCmd(dir func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "threshold [value]",
		Short: "Show or set the probability a stage must exceed to be reached",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(dir(), len(args) == 1)
			if err != nil {
				return err
			}
			defer ws.Close()
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				fmt.Fprintf(out, "%.2f\n", ws.cfg.StageThreshold())
				return nil
			}
			value, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("threshold %q is not a number", args[0])
			}
			if err := ws.cfg.SetStageThreshold(value); err != nil {
				return err
			}
			ws.book.Info("Stage threshold set to %.2f", value)
			fmt.Fprintf(out, "Stage threshold set to %.2f\n", value)
			return nil
		},
	}
}
