// cmd/erf/main.go
//
// Entry point for the erf CLI. With no arguments it opens the interactive
// TUI; subcommands analyze transcripts, watch files, serve the event bridge
// and query the assessment history.

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/emotional-recursion/erf/internal/artifact"
	"github.com/emotional-recursion/erf/internal/assessment"
	"github.com/emotional-recursion/erf/internal/config"
	"github.com/emotional-recursion/erf/internal/history"
	"github.com/emotional-recursion/erf/internal/logbook"
	"github.com/emotional-recursion/erf/internal/logging"
	"github.com/emotional-recursion/erf/internal/tui"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// workspace bundles everything a command needs from the project directory.
type workspace struct {
	dir      string
	cfg      *config.Config
	log      *logging.Logger
	book     *logbook.Logbook
	history  *history.Store
	assessor *assessment.Assessor
}

// openWorkspace loads config from dir. With stateful set it also creates the
// .erf tree and opens the log, journal and history database.
func openWorkspace(dir string, stateful bool) (*workspace, error) {
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		dir = config.ResolveProjectDir(cwd)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}
	ws := &workspace{dir: abs, log: logging.Nop()}
	if stateful {
		if err := config.InitDir(abs); err != nil {
			return nil, err
		}
	}
	cfg, err := config.NewConfig(abs)
	if err != nil {
		return nil, err
	}
	ws.cfg = cfg
	ws.assessor, err = assessment.FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	if !stateful {
		return ws, nil
	}
	if ws.log, err = logging.New(abs, logging.OptionsFromConfig(cfg)); err != nil {
		return nil, err
	}
	if ws.book, err = logbook.New(cfg.JournalPath()); err != nil {
		ws.Close()
		return nil, err
	}
	if ws.history, err = history.OpenDir(cfg.StateDir()); err != nil {
		ws.Close()
		return nil, err
	}
	return ws, nil
}

func (ws *workspace) artifacts() *artifact.Store {
	return artifact.NewStore(ws.cfg.ReportsDir())
}

// Close releases the history database and flushes the log.
func (ws *workspace) Close() error {
	var errs []error
	if ws.history != nil {
		errs = append(errs, ws.history.Close())
	}
	if ws.log != nil {
		errs = append(errs, ws.log.Close())
	}
	return errors.Join(errs...)
}

func newRootCmd() *cobra.Command {
	var projectDir string
	root := &cobra.Command{
		Use:   "erf",
		Short: "Lexical emotional-recursion indicators for AI conversation transcripts",
		Long: `erf scores AI conversation transcripts for emotional-recursion indicators:
basic emotional consistency, meta-emotional phrasing and self-referential
integration. The scores are word and phrase counts over the transcript.
They are exploratory signals, not evidence of consciousness.

Run without arguments to open the interactive demo.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ws, err := openWorkspace(projectDir, true)
			if err != nil {
				return err
			}
			defer ws.Close()
			app := tui.NewApp(ws.assessor, tui.WithHistory(ws.history), tui.WithLogbook(ws.book))
			p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithInput(cmd.InOrStdin()), tea.WithOutput(cmd.OutOrStdout()))
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("run TUI: %w", err)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&projectDir, "dir", "C", "", "Project directory holding .erf (default: $ERF_HOME or the current directory)")

	dir := func() string { return projectDir }
	root.AddCommand(
		newAnalyzeCmd(dir),
		newSampleCmd(dir),
		newMonitorCmd(dir),
		newServeCmd(dir),
		newHistoryCmd(dir),
		newTrendCmd(dir),
		newThresholdCmd(dir),
		newInitCmd(dir),
	)
	return root
}

func newInitCmd(dir func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the .erf directory with a default config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ws, err := openWorkspace(dir(), true)
			if err != nil {
				return err
			}
			defer ws.Close()
			ws.book.Info("Project initialized")
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized %s\n", ws.cfg.ErfProjectDir)
			return nil
		},
	}
}

func readInput(in io.Reader, args []string) (source string, text string, err error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(in)
		if err != nil {
			return "", "", fmt.Errorf("read stdin: %w", err)
		}
		return "stdin", string(data), nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", "", fmt.Errorf("read transcript: %w", err)
	}
	return args[0], string(data), nil
}
