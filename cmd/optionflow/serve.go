package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/optionflow/internal/config"
	httpapi "github.com/sawpanic/optionflow/internal/interfaces/http"
	"github.com/sawpanic/optionflow/internal/interfaces/http/handlers"
	"github.com/sawpanic/optionflow/internal/interfaces/output"
	"github.com/sawpanic/optionflow/internal/scheduler"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(cfg *config.Config) *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and websocket feed",
		Long:  "Starts the HTTP API (/health, /analyze, /scan, /history, /metrics, /ws) and any enabled watch jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}

			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			hub := httpapi.NewHub(func(n int) { a.metrics.WSClients.Set(float64(n)) })
			a.pipeline.SetProgress(hub)

			server := httpapi.NewServer(cfg.Server, handlers.Deps{
				Analyzer:       a.analyzer,
				Scanner:        a.pipeline,
				History:        a.history,
				Metrics:        a.metrics,
				DefaultSymbols: cfg.Scan.Symbols,
				HistoryLimit:   cfg.History.DefaultLimit,
				Version:        version,
			}, hub, a.metrics.Handler())

			sched, err := scheduler.New(cfg.Schedule, a.pipeline)
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() { errCh <- server.Start() }()

			schedDone := make(chan struct{})
			if len(cfg.Schedule.Jobs) > 0 {
				go func() {
					defer close(schedDone)
					_ = sched.Start(ctx)
				}()
			} else {
				close(schedDone)
			}

			var serveErr error
			select {
			case <-ctx.Done():
			case err := <-errCh:
				if err != nil {
					serveErr = fmt.Errorf("server failed: %w", err)
				}
			}
			cancel()

			shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stop()
			if err := server.Shutdown(shutdownCtx); err != nil && serveErr == nil {
				serveErr = fmt.Errorf("shutdown failed: %w", err)
			}

			// in-flight scheduled scans must finish before the history pool closes
			select {
			case <-schedDone:
			case <-shutdownCtx.Done():
				log.Warn().Msg("Scheduler did not stop before the shutdown timeout")
			}
			if serveErr != nil {
				return serveErr
			}
			log.Info().Msg("Server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Listen host (server.host when unset)")
	cmd.Flags().IntVar(&port, "port", 0, "Listen port (server.port when unset)")
	return cmd
}

func newWatchCmd(cfg *config.Config, flags *globalFlags) *cobra.Command {
	var (
		list bool
		once string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run scheduled watch scans",
		Long:  "Runs the schedule.jobs scans on their cron schedules until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			emitter := output.NewEmitter(cmd.OutOrStdout())
			if list {
				if wantJSON(flags) {
					return emitter.JSON(cfg.Schedule.Jobs)
				}
				emitter.JobsTable(cfg.Schedule.Jobs)
				return nil
			}
			if len(cfg.Schedule.Jobs) == 0 {
				return errors.New("no schedule.jobs configured")
			}

			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			sched, err := scheduler.New(cfg.Schedule, a.pipeline)
			if err != nil {
				return err
			}

			if once != "" {
				result, err := sched.RunJob(ctx, once)
				if err != nil {
					return fmt.Errorf("job %s failed: %w", once, err)
				}
				if wantJSON(flags) {
					return emitter.JSON(result)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job '%s' run %s: %d qualified, %d failed in %s\n",
					result.JobName, result.RunID, result.Qualified, result.Failed, result.Duration.Round(time.Millisecond))
				return nil
			}

			log.Info().Int("jobs", len(cfg.Schedule.Jobs)).Msg("Watching. Press Ctrl+C to stop.")
			if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "List configured jobs and exit")
	cmd.Flags().StringVar(&once, "once", "", "Run the named job immediately and exit")
	return cmd
}
