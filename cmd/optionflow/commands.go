package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sawpanic/optionflow/internal/config"
	"github.com/sawpanic/optionflow/internal/interfaces/output"
	"github.com/sawpanic/optionflow/internal/models"
)

// parseExpiration accepts an empty string (nearest) or YYYY-MM-DD
func parseExpiration(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("expiration must be YYYY-MM-DD, got %q", raw)
	}
	return t, nil
}

// dateFlag is a YYYY-MM-DD flag. The zero value selects the nearest expiration.
type dateFlag struct {
	t time.Time
}

var _ pflag.Value = (*dateFlag)(nil)

func (d *dateFlag) String() string {
	if d.t.IsZero() {
		return ""
	}
	return d.t.Format("2006-01-02")
}

func (d *dateFlag) Set(s string) error {
	t, err := parseExpiration(s)
	if err != nil {
		return err
	}
	d.t = t
	return nil
}

func (d *dateFlag) Type() string { return "date" }

// scanFlags are the batch scan filters
type scanFlags struct {
	symbols       []string
	minVolume     int64
	minConfidence int
	concurrency   int
	expiration    dateFlag
}

func (f *scanFlags) bind(fs *pflag.FlagSet) {
	fs.StringSliceVar(&f.symbols, "symbols", nil, "Comma-separated symbols (scan.symbols when empty)")
	fs.Int64Var(&f.minVolume, "min-volume", 0, "Skip underlyings trading fewer shares (config when 0)")
	fs.IntVar(&f.minConfidence, "min-confidence", models.ConfidenceFromConfig, "Minimum overall confidence, 0 keeps every analyzed symbol (scan.min_confidence when unset)")
	fs.IntVar(&f.concurrency, "concurrency", 0, "Symbols analyzed in parallel (config when 0)")
	fs.Var(&f.expiration, "expiration", "Expiration date YYYY-MM-DD (nearest when empty)")
}

func (f *scanFlags) filters() models.ScanFilters {
	return models.ScanFilters{
		MinVolume:     f.minVolume,
		MinConfidence: f.minConfidence,
		Concurrency:   f.concurrency,
		Expiration:    f.expiration.t,
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newAnalyzeCmd(cfg *config.Config, flags *globalFlags) *cobra.Command {
	var expiration dateFlag

	cmd := &cobra.Command{
		Use:   "analyze SYMBOL",
		Short: "Analyze one symbol's option chain",
		Long:  "Scores one expiration of the symbol's chain, reads sentiment and proposes strategies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			symbol := strings.ToUpper(strings.TrimSpace(args[0]))
			result, err := a.analyzer.AnalyzeSymbol(ctx, symbol, expiration.t)
			if err != nil {
				log.Error().Err(err).Str("symbol", symbol).Str("kind", models.ErrorKind(err)).Msg("Analysis failed")
				return err
			}

			emitter := output.NewEmitter(cmd.OutOrStdout())
			if wantJSON(flags) {
				return emitter.JSON(result)
			}
			emitter.SymbolTable(result)
			return nil
		},
	}

	cmd.Flags().Var(&expiration, "expiration", "Expiration date YYYY-MM-DD (nearest when empty)")
	return cmd
}

func newScanCmd(cfg *config.Config, flags *globalFlags) *cobra.Command {
	var (
		sf      scanFlags
		csvPath string
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan a list of symbols for unusual activity",
		Long:  "Analyzes symbols concurrently and ranks those above the confidence threshold",
		RunE: func(cmd *cobra.Command, args []string) error {
			list := sf.symbols
			if len(list) == 0 {
				list = cfg.Scan.Symbols
			}
			if len(list) == 0 {
				return fmt.Errorf("no symbols given and scan.symbols is empty")
			}

			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			run, err := a.pipeline.Run(ctx, list, sf.filters())
			if err != nil {
				return err
			}

			emitter := output.NewEmitter(cmd.OutOrStdout())
			if csvPath != "" {
				if err := emitter.EmitScanCSV(csvPath, run); err != nil {
					return err
				}
				log.Info().Str("path", csvPath).Int("rows", len(run.Results)).Msg("Wrote scan CSV")
			}
			if wantJSON(flags) {
				return emitter.JSON(run)
			}
			emitter.ScanTable(run)
			return nil
		},
	}

	sf.bind(cmd.Flags())
	cmd.Flags().StringVar(&csvPath, "csv", "", "Also write results to this CSV file")
	return cmd
}

func newHistoryCmd(cfg *config.Config, flags *globalFlags) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history SYMBOL",
		Short: "Show recorded scan outcomes for a symbol",
		Long:  "Reads the scan history store. Only the postgres store outlives the process.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				limit = cfg.History.DefaultLimit
			}
			if cfg.History.Postgres.DSN == "" {
				log.Warn().Msg("No history.postgres.dsn configured; in-memory history starts empty")
			}

			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			symbol := strings.ToUpper(strings.TrimSpace(args[0]))
			entries, err := a.history.Recent(ctx, symbol, limit)
			if err != nil {
				return fmt.Errorf("history lookup failed: %w", err)
			}

			emitter := output.NewEmitter(cmd.OutOrStdout())
			if wantJSON(flags) {
				return emitter.JSON(entries)
			}
			emitter.HistoryTable(symbol, entries)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Entries to show (history.default_limit when 0)")
	return cmd
}
