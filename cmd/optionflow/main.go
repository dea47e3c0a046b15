package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sawpanic/optionflow/internal/config"
)

const (
	appName = "optionflow"
	version = "v0.4.0"
)

type globalFlags struct {
	configPath string
	logLevel   string
	jsonOut    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	cfg := &config.Config{}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Unusual options activity scanner",
		Version: version,
		Long: `optionflow scores option chains for unusual activity, reads the directional
sentiment of the flow and proposes multi-leg strategies around it.

Run a one-off analysis or scan from the command line, serve the HTTP API with
a websocket feed, or watch the market on a cron schedule.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			if flags.logLevel != "" {
				loaded.Log.Level = flags.logLevel
			}
			if err := setupLogging(loaded.Log, os.Stderr); err != nil {
				return err
			}
			log.Debug().Interface("config", loaded.Redacted()).Msg("Configuration loaded")
			if tuned := loaded.Tuned(); len(tuned) > 0 {
				log.Warn().Strs("settings", tuned).Msg("Scoring constants overridden; confidence is not comparable with standard runs")
			}
			*cfg = *loaded
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to YAML config (defaults plus environment when empty)")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&flags.jsonOut, "json", false, "Write JSON instead of tables")

	rootCmd.AddCommand(
		newAnalyzeCmd(cfg, flags),
		newScanCmd(cfg, flags),
		newHistoryCmd(cfg, flags),
		newServeCmd(cfg),
		newWatchCmd(cfg, flags),
	)
	return rootCmd
}

// setupLogging configures the global logger. Console output is used on a
// terminal in auto mode.
func setupLogging(cfg config.LogConfig, out *os.File) error {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = l
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var w io.Writer = out
	switch cfg.Format {
	case "console":
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	case "json":
	default:
		if term.IsTerminal(int(out.Fd())) {
			w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
		}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	return nil
}

// wantJSON reports whether command output should be JSON
func wantJSON(flags *globalFlags) bool {
	return flags.jsonOut || !term.IsTerminal(int(os.Stdout.Fd()))
}
