// Package output renders analysis results as terminal tables, JSON and CSV.
package output

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/sawpanic/optionflow/internal/fileio"
	"github.com/sawpanic/optionflow/internal/models"
	"github.com/sawpanic/optionflow/internal/scheduler"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Emitter struct {
	w io.Writer
}

func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{w: w}
}

// JSON writes v as indented JSON
func (e *Emitter) JSON(v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	_, err = fmt.Fprintln(e.w, string(b))
	return err
}

// SymbolTable prints one analysis: header, flagged contracts and strategies
func (e *Emitter) SymbolTable(r *models.SymbolResult) {
	fmt.Fprintf(e.w, "%s  last %.2f (%+.2f%%)  volume %d\n",
		r.Symbol, r.Quote.Last, r.Quote.ChangePercent, r.Quote.Volume)
	fmt.Fprintf(e.w, "Expiration %s (%dd)  sentiment %s  confidence %d\n\n",
		r.Expiration.Format("2006-01-02"), r.DaysToExpiration, r.Sentiment, r.OverallConfidence)

	contracts := append(append([]models.ScoredContract{}, r.UnusualCalls...), r.UnusualPuts...)
	if len(contracts) == 0 {
		fmt.Fprintln(e.w, "No unusual contracts")
	} else {
		fmt.Fprintf(e.w, "%-5s %9s %9s %9s %7s %7s %5s  %s\n",
			"TYPE", "STRIKE", "VOLUME", "OI", "IV", "DELTA", "CONF", "REASONS")
		for _, c := range contracts {
			fmt.Fprintf(e.w, "%-5s %9.2f %9d %9d %6.1f%% %7.2f %5d  %s\n",
				c.Type, c.Strike, c.Volume, c.OpenInterest, c.ImpliedVol*100, c.Delta,
				c.Confidence, strings.Join(c.Reasons, "; "))
		}
	}

	if len(r.Strategies) == 0 {
		return
	}
	fmt.Fprintf(e.w, "\n%-16s %-24s %9s %10s %10s %5s\n",
		"STRATEGY", "LEGS", "PREMIUM", "MAX GAIN", "MAX LOSS", "PROB")
	for _, s := range r.Strategies {
		prob := strconv.Itoa(s.Probability)
		if s.ProbabilityHeuristic {
			prob += "~"
		}
		fmt.Fprintf(e.w, "%-16s %-24s %9.2f %10s %10s %5s\n",
			s.Type, legs(s.Legs), s.NetPremium, amount(s.MaxProfit), amount(s.MaxLoss), prob)
	}
}

// ScanTable prints the ranked results of a scan and its failures
func (e *Emitter) ScanTable(run *models.ScanRun) {
	fmt.Fprintf(e.w, "Scan %s: %d requested, %d analyzed, %d skipped, %d failed in %s\n\n",
		shortID(run.ID), run.SymbolsRequested, run.SymbolsSucceeded, run.SymbolsSkipped,
		len(run.Failures), run.Duration.Round(time.Millisecond))

	if len(run.Results) == 0 {
		fmt.Fprintf(e.w, "No symbols reached confidence %d\n", run.Filters.MinConfidence)
	} else {
		fmt.Fprintf(e.w, "%-4s %-8s %5s %-17s %6s %6s %6s  %s\n",
			"#", "SYMBOL", "CONF", "SENTIMENT", "CALLS", "PUTS", "STRATS", "TOP STRATEGY")
		for i, r := range run.Results {
			top := "-"
			if len(r.Strategies) > 0 {
				top = string(r.Strategies[0].Type)
			}
			fmt.Fprintf(e.w, "%-4d %-8s %5d %-17s %6d %6d %6d  %s\n",
				i+1, r.Symbol, r.OverallConfidence, r.Sentiment,
				len(r.UnusualCalls), len(r.UnusualPuts), len(r.Strategies), top)
		}
	}

	if len(run.Failures) > 0 {
		fmt.Fprintf(e.w, "\n%-8s %-13s %s\n", "FAILED", "KIND", "ERROR")
		for _, f := range run.Failures {
			fmt.Fprintf(e.w, "%-8s %-13s %s\n", f.Symbol, f.Kind, f.Error)
		}
	}
}

// HistoryTable prints recorded outcomes for one symbol, newest first
func (e *Emitter) HistoryTable(symbol string, entries []models.HistoryEntry) {
	if len(entries) == 0 {
		fmt.Fprintf(e.w, "No history for %s\n", symbol)
		return
	}
	fmt.Fprintf(e.w, "%-20s %-10s %5s %-17s %6s %6s %6s\n",
		"RECORDED", "RUN", "CONF", "SENTIMENT", "CALLS", "PUTS", "STRATS")
	for _, h := range entries {
		fmt.Fprintf(e.w, "%-20s %-10s %5d %-17s %6d %6d %6d\n",
			h.RecordedAt.Local().Format("2006-01-02 15:04:05"), shortID(h.RunID), h.Confidence,
			h.Sentiment, h.UnusualCalls, h.UnusualPuts, h.Strategies)
	}
}

// JobsTable prints configured watch jobs
func (e *Emitter) JobsTable(jobs []scheduler.Job) {
	fmt.Fprintf(e.w, "%-20s %-20s %-8s %s\n", "JOB NAME", "SCHEDULE", "STATUS", "SYMBOLS")
	for _, job := range jobs {
		status := "enabled"
		if !job.Enabled {
			status = "disabled"
		}
		fmt.Fprintf(e.w, "%-20s %-20s %-8s %s\n", job.Name, job.Schedule, status, strings.Join(job.Symbols, ","))
	}
}

// EmitScanCSV writes one row per qualifying symbol
func (e *Emitter) EmitScanCSV(filePath string, run *models.ScanRun) error {
	return fileio.WriteAtomic(filePath, func(w io.Writer) error {
		writer := csv.NewWriter(w)
		header := []string{
			"RunID", "Symbol", "Confidence", "Sentiment", "Last", "Expiration",
			"UnusualCalls", "UnusualPuts", "Strategies", "TopStrategy",
		}
		if err := writer.Write(header); err != nil {
			return fmt.Errorf("failed to write CSV header: %w", err)
		}

		for _, r := range run.Results {
			top := ""
			if len(r.Strategies) > 0 {
				top = string(r.Strategies[0].Type)
			}
			record := []string{
				run.ID,
				r.Symbol,
				strconv.Itoa(r.OverallConfidence),
				string(r.Sentiment),
				strconv.FormatFloat(r.Quote.Last, 'f', 2, 64),
				r.Expiration.Format("2006-01-02"),
				strconv.Itoa(len(r.UnusualCalls)),
				strconv.Itoa(len(r.UnusualPuts)),
				strconv.Itoa(len(r.Strategies)),
				top,
			}
			if err := writer.Write(record); err != nil {
				return fmt.Errorf("failed to write CSV record: %w", err)
			}
		}

		writer.Flush()
		return writer.Error()
	})
}

func legs(ls []models.Leg) string {
	parts := make([]string, 0, len(ls))
	for _, l := range ls {
		side := "+"
		if l.Direction == models.Sell {
			side = "-"
		}
		kind := "C"
		if l.Contract.Type == models.Put {
			kind = "P"
		}
		parts = append(parts, side+strconv.FormatFloat(l.Contract.Strike, 'f', -1, 64)+kind)
	}
	return strings.Join(parts, " ")
}

func amount(a models.Amount) string {
	if a.Unlimited {
		return "unlimited"
	}
	return strconv.FormatFloat(a.Value, 'f', 2, 64)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
