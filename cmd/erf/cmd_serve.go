package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/emotional-recursion/erf/internal/assessment"
	"github.com/emotional-recursion/erf/internal/eventbridge"
	"github.com/emotional-recursion/erf/internal/monitor"
)

const shutdownGrace = 5 * time.Second

// signalContext cancels on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// storageSinks are the sinks every background run writes to.
func (ws *workspace) storageSinks() []monitor.Sink {
	return []monitor.Sink{
		monitor.JournalSink(ws.book),
		monitor.HistorySink(ws.history),
		monitor.ArtifactSink(ws.artifacts()),
	}
}

func (ws *workspace) alertSink() *monitor.AlertSink {
	return monitor.NewAlertSink(ws.log.Zap().Named("alert"))
}

func newMonitorCmd(dir func() string) *cobra.Command {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "monitor <file>...",
		Short: "Re-assess transcript files whenever they change",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(dir(), true)
			if err != nil {
				return err
			}
			defer ws.Close()
			if debounce <= 0 {
				debounce = ws.cfg.MonitorDebounce()
			}
			out := cmd.OutOrStdout()
			printer := monitor.SinkFunc(func(_ context.Context, r assessment.Report) error {
				fmt.Fprintf(out, "%s  %s  stage %d  p=%.2f (%s)\n",
					r.CreatedAt.Local().Format("15:04:05"), r.Source, int(r.CurrentStage), r.Probability, r.Interpretation.Level)
				return nil
			})
			m, err := monitor.New(ws.assessor, args,
				monitor.WithDebounce(debounce),
				monitor.WithSinks(ws.storageSinks()...),
				monitor.WithSinks(ws.alertSink(), printer),
				monitor.WithLogger(ws.log.Named("monitor")),
			)
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			ws.book.Info("Monitor started for %d files", len(m.Paths()))
			fmt.Fprintf(out, "Watching %d file(s), debounce %s. Ctrl+C stops.\n", len(m.Paths()), debounce)
			if err := m.Run(ctx); err != nil {
				return err
			}
			ws.book.Info("Monitor stopped after %d assessments", m.Runs())
			return nil
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", 0, "Quiet period after a write before re-assessing (default from config)")
	return cmd
}

// watchSession names the bridge session that carries a watched file's reports.
func watchSession(r assessment.Report) string {
	if r.Source == "" {
		return ""
	}
	return "file:" + filepath.Base(r.Source)
}

func newServeCmd(dir func() string) *cobra.Command {
	var watch []string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept conversation turns over HTTP and assess sessions live",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ws, err := openWorkspace(dir(), true)
			if err != nil {
				return err
			}
			defer ws.Close()
			settings, err := eventbridge.SettingsFromConfig(ws.cfg)
			if err != nil {
				return err
			}
			if !settings.Enabled {
				return fmt.Errorf("event bridge is disabled (bridge.enabled or ERF_BRIDGE_ENABLED)")
			}
			bridgeLog := ws.log.Named("eventbridge")
			router := eventbridge.NewRouter(eventbridge.RouterWithLogger(bridgeLog))
			tracker := monitor.NewSessionTracker(ws.assessor,
				monitor.TrackerWithRouter(router),
				monitor.TrackerWithSinks(ws.storageSinks()...),
				monitor.TrackerWithTurnSinks(ws.alertSink()),
				monitor.TrackerWithLogger(ws.log.Named("sessions")),
			)
			srv := eventbridge.NewServer(settings,
				eventbridge.WithProcessor(tracker),
				eventbridge.WithReportSource(tracker),
				eventbridge.WithRouter(router),
				eventbridge.WithLogger(bridgeLog),
			)

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			if err := srv.Start(ctx); err != nil {
				return err
			}
			ws.book.Info("Event bridge listening on %s", srv.BaseURL())
			fmt.Fprintf(cmd.OutOrStdout(), "Event bridge listening on %s. Ctrl+C stops.\n", srv.BaseURL())

			g, gctx := errgroup.WithContext(ctx)
			if len(watch) > 0 {
				m, err := monitor.New(ws.assessor, watch,
					monitor.WithDebounce(ws.cfg.MonitorDebounce()),
					monitor.WithSinks(ws.storageSinks()...),
					monitor.WithSinks(ws.alertSink(), monitor.PublishSink(router, watchSession)),
					monitor.WithLogger(ws.log.Named("monitor")),
				)
				if err != nil {
					_ = srv.Shutdown(context.Background())
					return err
				}
				g.Go(func() error { return m.Run(gctx) })
			}
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					return fmt.Errorf("shutdown event bridge: %w", err)
				}
				return nil
			})
			if err := g.Wait(); err != nil {
				return err
			}
			ws.book.Info("Event bridge stopped with %d open sessions", tracker.Active())
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&watch, "watch", nil, "Also watch these transcript files and stream their reports as session file:<name>")
	return cmd
}
