package cli

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

var (
	logLevel string
	noColor  bool

	// logger is configured from the persistent flags before any command runs.
	logger = logrus.New()
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:     "async-bench",
	Short:   "Hello servers and load generators for async I/O benchmarks",
	Version: version,
	Long: `async-bench measures the raw request/response throughput of async I/O
runtimes. It runs minimal TCP servers that answer every read with a static
HTTP response, and load generators that measure throughput and latency
against them.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Arguments are valid at this point; later failures are not usage errors.
		cmd.SilenceUsage = true
		return setupLogging(cmd)
	},
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command and prints the error, if any, to stderr.
// This is called by main.main().
func Execute() error {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func setupLogging(cmd *cobra.Command) error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}

	logger.SetOutput(cmd.ErrOrStderr())
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		DisableColors: noColor,
		FullTimestamp: true,
	})
	return nil
}

func init() {
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	RootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	RootCmd.AddCommand(serveCmd)
	RootCmd.AddCommand(benchCmd)
	RootCmd.AddCommand(runCmd)
	RootCmd.AddCommand(reportCmd)
}
