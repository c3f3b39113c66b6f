// Kestrel - Retail analytics over transaction ledgers.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

// Command kestrel-report runs the customer, basket and returns analyses
// over one CSV ledger and prints a JSON report.
//
// Usage:
//
//	kestrel-report -csv /path/to/online_retail.csv [-min-support 0.01] [-out report.json]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/schollz/progressbar/v3"

	"github.com/opensource-finance/kestrel/internal/analytics"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ledger"
)

const dataset = "report"

// Report is the JSON document written by the command.
type Report struct {
	Source      string                      `json:"source"`
	GeneratedAt time.Time                   `json:"generatedAt"`
	Cleaning    ledger.CleanReport          `json:"cleaning"`
	RFM         *analytics.RFMSummary       `json:"rfm,omitempty"`
	Segments    []analytics.SegmentView     `json:"segments,omitempty"`
	Rules       *analytics.RuleReportView   `json:"rules,omitempty"`
	Risk        *analytics.DistributionView `json:"risk,omitempty"`
	Policy      *analytics.CandidateView    `json:"policy,omitempty"`
	Errors      map[string]string           `json:"errors,omitempty"`
}

func main() {
	csvPath := flag.String("csv", "", "Path to the transactions CSV file")
	outPath := flag.String("out", "", "Write the report here instead of stdout")
	minSupport := flag.Float64("min-support", 0, "Minimum itemset support (0 = configured default)")
	topN := flag.Int("top", 20, "Number of rules to report")
	sampleSize := flag.Int("sample", 0, "Order sample size for the policy (0 = configured default)")
	seed := flag.Uint64("seed", 42, "Order sample seed")
	quiet := flag.Bool("quiet", false, "Hide progress output")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: kestrel-report -csv /path/to/transactions.csv [-out report.json]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	report, err := run(ctx, options{
		csvPath:    *csvPath,
		minSupport: *minSupport,
		topN:       *topN,
		sampleSize: *sampleSize,
		seed:       *seed,
		progress:   !*quiet,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "kestrel-report: %v\n", err)
		os.Exit(1)
	}

	var out io.Writer = os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "kestrel-report: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		fmt.Fprintf(os.Stderr, "kestrel-report: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	csvPath    string
	minSupport float64
	topN       int
	sampleSize int
	seed       uint64
	progress   bool
}

// run loads the ledger and fills every section it can. A failed section is
// reported under Errors; only a ledger that cannot be read aborts the run.
func run(ctx context.Context, opts options) (*Report, error) {
	f, err := os.Open(opts.csvPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	lines, clean, err := ledger.ReadCSV(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", opts.csvPath, err)
	}

	cfg := domain.DefaultAnalyticsConfig()
	snapshots := ledger.NewSnapshots(ledger.NewStaticLoader(map[string][]domain.TransactionLine{dataset: lines}), ledger.SnapshotConfig{})
	svc, err := analytics.NewService(snapshots, cache.NewLRUCache(64), cfg, time.Hour)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Source:      opts.csvPath,
		GeneratedAt: time.Now().UTC(),
		Cleaning:    clean,
		Errors:      make(map[string]string),
	}

	if rows, seg, err := svc.Segments(ctx, dataset, domain.Window{}); err != nil {
		report.Errors["rfm"] = err.Error()
	} else {
		rfm := analytics.NewRFMReport(rows)
		report.RFM = &rfm.Summary
		report.Segments = analytics.NewSegmentReport(seg).Segments
	}

	rules, err := svc.MineRules(ctx, dataset, analytics.MineRequest{
		MinSupport: opts.minSupport,
		TopN:       opts.topN,
	})
	if err != nil {
		report.Errors["rules"] = err.Error()
	} else {
		view := analytics.NewRuleReportView(rules)
		report.Rules = &view
	}

	sample := analytics.SampleParams{Size: opts.sampleSize, Seed: &opts.seed}
	orders, err := svc.OrderSample(ctx, dataset, sample)
	if err != nil {
		report.Errors["risk"] = err.Error()
		report.Errors["policy"] = err.Error()
		return report, nil
	}

	dist, err := svc.RiskDistribution(ctx, dataset, sample)
	if err != nil {
		report.Errors["risk"] = err.Error()
	} else {
		view := analytics.NewDistributionView(dist)
		report.Risk = &view
	}

	params := svc.PolicyParams(analytics.PolicyParams{SampleParams: sample})
	var bar *progressbar.ProgressBar
	if opts.progress {
		bar = progressbar.Default(-1, "evaluating thresholds")
		params.OnEvaluate = func(domain.PolicyCandidate) { bar.Add(1) }
	}
	best, err := svc.OptimizePolicy(ctx, orders, params)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		report.Errors["policy"] = err.Error()
	} else {
		view := analytics.NewPolicyView(best).Optimal
		report.Policy = &view
	}

	if len(report.Errors) == 0 {
		report.Errors = nil
	}
	return report, nil
}
