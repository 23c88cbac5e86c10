package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/patrykstefanski/async-bench/internal/bench"
	"github.com/patrykstefanski/async-bench/internal/metrics"
	"github.com/patrykstefanski/async-bench/internal/output"
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run a load generator against a hello server",
}

var throughputCmd = &cobra.Command{
	Use:   "throughput <HOST-IPV4> <PORT>",
	Short: "Measure how many requests per second a server answers",
	Long: `Open num-workers * num-conns connections, wait until all of them are
connected and let every connection send num-reqs requests back to back.
Every response is checked byte for byte.

Example:
  async-bench bench throughput 127.0.0.1 8080 -w 4 -c 64 -r 10000`,
	Args: cobra.ExactArgs(2),
	RunE: runThroughput,
}

var latencyCmd = &cobra.Command{
	Use:   "latency <HOST-IPV4> <PORT>",
	Short: "Measure the latency of single requests",
	Long: `Like throughput, but every connection sleeps --delay before each request
and the round trip of every request is recorded. The report lists the
mean, the quantiles and the best and worst samples in nanoseconds.

Example:
  async-bench bench latency 127.0.0.1 8080 -c 16 -r 1000 -d 1ms`,
	Args: cobra.ExactArgs(2),
	RunE: runLatency,
}

func runThroughput(cmd *cobra.Command, args []string) error {
	cfg, err := throughputConfig(cmd, args)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	jsonOutput, _ := cmd.Flags().GetBool("json")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := metrics.NewEngine()
	defer engine.Stop()

	stopWatch := progressConsole(cmd).Watch(ctx, engine.GetSnapshot)
	res, err := bench.RunThroughput(ctx, cfg, engine, bench.WithLogger(logger))
	stopWatch()
	if err != nil {
		return err
	}

	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	output.PrintThroughput(cmd.OutOrStdout(), res)
	return nil
}

func runLatency(cmd *cobra.Command, args []string) error {
	tcfg, err := throughputConfig(cmd, args)
	if err != nil {
		return err
	}
	cfg := bench.LatencyConfig{ThroughputConfig: tcfg}
	cfg.Delay, _ = cmd.Flags().GetDuration("delay")
	cfg.Ranked, _ = cmd.Flags().GetInt("best")
	if err := cfg.Validate(); err != nil {
		return err
	}
	jsonOutput, _ := cmd.Flags().GetBool("json")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := metrics.NewEngine()
	defer engine.Stop()

	stopWatch := progressConsole(cmd).Watch(ctx, engine.GetSnapshot)
	res, err := bench.RunLatency(ctx, cfg, engine, bench.WithLogger(logger))
	stopWatch()
	if err != nil {
		return err
	}

	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	output.PrintLatencyReport(cmd.OutOrStdout(), res.Report)
	return nil
}

func throughputConfig(cmd *cobra.Command, args []string) (bench.ThroughputConfig, error) {
	cfg := bench.DefaultThroughputConfig()
	cfg.Host = args[0]

	port, err := strconv.Atoi(args[1])
	if err != nil {
		return cfg, fmt.Errorf("invalid port %q", args[1])
	}
	cfg.Port = port

	cfg.Workers, _ = cmd.Flags().GetInt("num-workers")
	cfg.Conns, _ = cmd.Flags().GetInt("num-conns")
	cfg.Reqs, _ = cmd.Flags().GetInt("num-reqs")
	cfg.Timeout, _ = cmd.Flags().GetDuration("timeout")
	return cfg, nil
}

// progressConsole returns the console live progress is drawn on. Progress
// goes to stderr so stdout carries only the report.
func progressConsole(cmd *cobra.Command) *output.Console {
	quiet, _ := cmd.Flags().GetBool("quiet")
	return output.NewConsole(output.ConsoleConfig{
		Writer:  cmd.ErrOrStderr(),
		Quiet:   quiet,
		NoColor: noColor,
	})
}

// stdoutColors returns the color scheme for reports written to stdout.
func stdoutColors(cmd *cobra.Command) *output.ColorScheme {
	w := cmd.OutOrStdout()
	return output.SchemeFor(!noColor && output.IsTerminal(w) && output.SupportsColors())
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func addLoadFlags(cmd *cobra.Command) {
	cmd.Flags().IntP("num-workers", "w", 1, "number of workers")
	cmd.Flags().IntP("num-conns", "c", 1, "number of connections per worker")
	cmd.Flags().IntP("num-reqs", "r", 1, "number of requests per connection")
	cmd.Flags().Duration("timeout", 0, "timeout of every exchange, 0 disables it")
	cmd.Flags().Bool("json", false, "print the result as JSON")
	cmd.Flags().BoolP("quiet", "q", false, "do not show live progress")
}

func init() {
	addLoadFlags(throughputCmd)
	addLoadFlags(latencyCmd)

	latencyCmd.Flags().DurationP("delay", "d", time.Millisecond, "pause before every request")
	latencyCmd.Flags().Int("best", metrics.DefaultRankedSamples, "number of best and worst samples to list")

	benchCmd.AddCommand(throughputCmd)
	benchCmd.AddCommand(latencyCmd)
}
