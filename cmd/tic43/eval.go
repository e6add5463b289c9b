package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tfvieira/tic43/evaluation/answer_eval"
	"github.com/tfvieira/tic43/internal/verdict"
)

type evalOptions struct {
	workers    int
	dataDir    string
	outputDir  string
	sqlitePath string
}

func newEvalCommand(global *globalOptions) *cobra.Command {
	opts := &evalOptions{}

	cmd := &cobra.Command{
		Use:   "eval [datasets...]",
		Short: "Generate and judge answers for each dataset and store the results",
		Long: `Reads <data-dir>/<name>.csv (or .json/.yaml), runs every question through the
generator and the judge with a bounded worker pool, and writes
<output-dir>/<name>.csv. Without arguments the configured datasets are used.
A dataset that cannot be read or written is reported and the batch continues;
the exit code is 1 if any dataset failed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configureColor(global.plain)
			container, err := buildContainer(global)
			if err != nil {
				return err
			}
			defer func() { _ = container.Shutdown(cmd.Context()) }()

			cfg := container.Config
			flags := cmd.Flags()
			if flags.Changed("workers") {
				cfg.Evaluator.Workers = opts.workers
			}
			if flags.Changed("data-dir") {
				cfg.Evaluator.DataDir = opts.dataDir
			}
			if flags.Changed("output-dir") {
				cfg.Evaluator.OutputDir = opts.outputDir
			}
			if flags.Changed("sqlite") {
				cfg.Evaluator.SQLitePath = opts.sqlitePath
			}
			if errs := cfg.Validate(); len(errs) > 0 {
				return usageError(errs)
			}

			names := args
			if len(names) == 0 {
				names = cfg.Evaluator.Datasets
			}
			if len(names) == 0 {
				return usageError(fmt.Errorf("no datasets given and evaluator.datasets is empty"))
			}

			evaluator, err := container.Evaluator()
			if err != nil {
				return err
			}
			out, err := container.Sink()
			if err != nil {
				return err
			}
			if cfg.Observability.Metrics.Enabled && cfg.Observability.Metrics.PrometheusPort > 0 {
				container.Metrics.StartPrometheusServer(cfg.Observability.Metrics.PrometheusPort)
			}

			runner := answer_eval.NewRunner(evaluator, container.Source(), out, cfg.Evaluator.Workers,
				answer_eval.WithRunnerMetrics(container.Metrics),
				answer_eval.WithRunnerTracer(container.Tracer),
			)
			report := runner.Run(cmd.Context(), names)
			printBatchReport(cmd.OutOrStdout(), report)

			if report.Failed() {
				return fmt.Errorf("%d of %d dataset(s) failed", countFailed(report), len(report.Datasets))
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntVarP(&opts.workers, "workers", "w", answer_eval.DefaultWorkers, "concurrent generate → judge workers (1-64)")
	flags.StringVar(&opts.dataDir, "data-dir", "", "directory holding the input datasets")
	flags.StringVar(&opts.outputDir, "output-dir", "", "directory receiving <name>.csv results")
	flags.StringVar(&opts.sqlitePath, "sqlite", "", "also store results in this SQLite database")
	return cmd
}

func countFailed(report answer_eval.BatchReport) int {
	n := 0
	for _, d := range report.Datasets {
		if d.Err != nil {
			n++
		}
	}
	return n
}

func printBatchReport(w io.Writer, report answer_eval.BatchReport) {
	fmt.Fprintf(w, "%s %s\n", bold("run"), gray(report.RunID))
	for _, d := range report.Datasets {
		if d.Err != nil {
			fmt.Fprintf(w, "  %s %s: %v\n", red("✗"), d.Name, d.Err)
			continue
		}
		s := d.Summary
		fmt.Fprintf(w, "  %s %s: %d records, %d errors, mean score %.2f (%v)\n",
			green("✓"), d.Name, s.Total, s.Errors, s.MeanScore, d.Duration.Round(time.Millisecond))
		for _, line := range ratingHistogram(s) {
			fmt.Fprintf(w, "      %s\n", gray(line))
		}
	}
}

// ratingHistogram lists non-zero rating counts, best rating first, then errors.
func ratingHistogram(s answer_eval.Summary) []string {
	ratings := verdict.Ratings()
	var lines []string
	for i := len(ratings) - 1; i >= 0; i-- {
		r := ratings[i]
		if n := s.Ratings[r]; n > 0 {
			lines = append(lines, fmt.Sprintf("%-38s %d", r, n))
		}
	}
	if s.Errors > 0 {
		lines = append(lines, fmt.Sprintf("%-38s %d", verdict.RatingError, s.Errors))
	}
	return lines
}
