package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/patrykstefanski/async-bench/internal/config"
	"github.com/patrykstefanski/async-bench/internal/metrics"
	"github.com/patrykstefanski/async-bench/internal/model"
	"github.com/patrykstefanski/async-bench/internal/output"
	"github.com/patrykstefanski/async-bench/internal/runner"
	"github.com/patrykstefanski/async-bench/internal/server"
	"github.com/patrykstefanski/async-bench/internal/store"
	"github.com/patrykstefanski/async-bench/internal/telemetry"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a benchmark suite from a configuration file",
	Long: `Run every benchmark of a suite file against every server it names.

Results are printed as a table, and can additionally be written to a
results file (--output) and appended to an SQLite database (--db).

With --metrics-addr, the in-process servers report connection events to a
Prometheus endpoint served for the duration of the run.

Example:
  async-bench run --config suite.yaml --output results.json --db results.db`,
	Args: cobra.NoArgs,
	RunE: runSuite,
}

func runSuite(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	outputPath, _ := cmd.Flags().GetString("output")
	dbPath, _ := cmd.Flags().GetString("db")
	formatName, _ := cmd.Flags().GetString("format")
	pause, _ := cmd.Flags().GetDuration("pause")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	if configFile == "" {
		return errors.New("config file is required")
	}
	format, err := output.ParseFormat(formatName)
	if err != nil {
		return err
	}

	suite, err := config.LoadSuite(configFile)
	if err != nil {
		return err
	}
	if outputPath != "" {
		suite.Output = outputPath
	}
	if dbPath != "" {
		suite.Database = dbPath
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var observer server.Observer
	stopTelemetry := func() error { return nil }
	if metricsAddr != "" {
		collector := telemetry.NewCollector()
		observer = collector
		ctx, stopTelemetry = serveTelemetry(ctx, metricsAddr, collector)
	}

	console := progressConsole(cmd)
	console.PrintHeader(fmt.Sprintf("Suite: %s", suite.Name))

	var stopWatch func()
	finishWatch := func() {
		if stopWatch != nil {
			stopWatch()
			stopWatch = nil
		}
	}

	report, runErr := runner.Run(ctx, suite, runner.Options{
		Logger:   logger,
		Observer: observer,
		Pause:    pause,
		Hooks: runner.Hooks{
			BenchmarkStarted: func(srv, benchmark string, engine *metrics.Engine) {
				stopWatch = console.Watch(ctx, engine.GetSnapshot)
			},
			BenchmarkFinished: func(r *model.Result) {
				finishWatch()
				printFinished(console, r)
			},
		},
	})
	finishWatch()
	if err := stopTelemetry(); err != nil {
		runErr = errors.Join(runErr, err)
	}

	if err := saveResults(ctx, suite, report.Results); err != nil {
		return errors.Join(runErr, err)
	}
	if runErr != nil {
		return runErr
	}

	return output.WriteResults(cmd.OutOrStdout(), format, report.Results, stdoutColors(cmd))
}

func printFinished(console *output.Console, r *model.Result) {
	cs := console.Colors()
	fmt.Fprintf(console.Writer(), "%s %s/%s: %d requests in %.2fs, rate: %s req/s\n",
		cs.Success.Sprint(output.SuccessIcon(noColor)),
		r.Server, r.Benchmark, r.Requests, r.Elapsed.Seconds(),
		cs.Rate.Sprintf("%.2f", r.Rate))
}

// serveTelemetry serves the collector on addr until the returned stop
// function is called. The returned context is cancelled when the endpoint
// fails, so a run does not continue unobserved.
func serveTelemetry(ctx context.Context, addr string, c *telemetry.Collector) (context.Context, func() error) {
	runCtx, cancelRun := context.WithCancel(ctx)
	telCtx, cancelTel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan error, 1)

	go func() {
		err := telemetry.ListenAndServe(telCtx, addr, telemetry.NewRouter(c), logger)
		if err != nil {
			cancelRun()
		}
		done <- err
	}()

	return runCtx, func() error {
		cancelTel()
		err := <-done
		cancelRun()
		return err
	}
}

// saveResults writes results to the suite's results file and database. Both
// are skipped when no results were collected.
func saveResults(ctx context.Context, suite *config.Suite, results []*model.Result) error {
	if len(results) == 0 {
		return nil
	}

	if suite.Output != "" {
		if err := store.WriteJSON(suite.Output, suite.Name, results); err != nil {
			return err
		}
		logger.WithField("path", suite.Output).Info("Results written")
	}

	if suite.Database != "" {
		st, err := store.NewSQLiteStore(suite.Database)
		if err != nil {
			return err
		}
		defer st.Close()

		// Saving must not be cut short by an interrupt that ended the run.
		ctx = context.WithoutCancel(ctx)
		for _, r := range results {
			if err := st.SaveResult(ctx, r); err != nil {
				return err
			}
		}
		logger.WithFields(logrus.Fields{
			"path":    suite.Database,
			"results": len(results),
		}).Info("Results stored")
	}
	return nil
}

func init() {
	runCmd.Flags().StringP("config", "f", "", "suite configuration file (YAML or JSON)")
	runCmd.Flags().StringP("output", "o", "", "write results to this JSON file")
	runCmd.Flags().String("db", "", "append results to this SQLite database")
	runCmd.Flags().String("format", string(output.FormatText), "output format (text, json, yaml, html)")
	runCmd.Flags().Duration("pause", 100*time.Millisecond, "pause between benchmarks")
	runCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics of the in-process servers on this address")
	runCmd.Flags().BoolP("quiet", "q", false, "do not show live progress")
}
