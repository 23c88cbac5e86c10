package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/patrykstefanski/async-bench/internal/server"
	"github.com/patrykstefanski/async-bench/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve <HOST-IPV4> <PORT> [GOMAXPROCS]",
	Short: "Run a hello server",
	Long: `Run a hello server that answers every read with a static HTTP response.

The goroutine mode serves every connection on its own goroutine. With
--listeners greater than one it opens several SO_REUSEPORT listeners on the
same address. The reactor mode (Linux only) runs one epoll loop per
GOMAXPROCS worker.

Examples:
  async-bench serve 127.0.0.1 8080
  async-bench serve 0.0.0.0 8080 4 --timeout 5s
  async-bench serve 0.0.0.0 8080 8 --mode reactor --metrics-addr :9090`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := serveConfig(cmd, args)
	if err != nil {
		return err
	}
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []server.Option{server.WithLogger(logger)}
	if metricsAddr != "" {
		collector := telemetry.NewCollector()
		ep, err := telemetry.Listen(metricsAddr, telemetry.NewRouter(collector), logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := ep.Shutdown(); err != nil {
				logger.WithError(err).Warn("Stopping telemetry failed")
			}
		}()
		opts = append(opts, server.WithObserver(collector))
	}

	srv, err := server.New(cfg, opts...)
	if err != nil {
		return err
	}
	return srv.Serve(ctx)
}

// serveConfig builds the server configuration from the positional arguments
// and the flags of cmd.
func serveConfig(cmd *cobra.Command, args []string) (server.Config, error) {
	cfg := server.DefaultConfig()
	cfg.Host = args[0]

	port, err := strconv.Atoi(args[1])
	if err != nil {
		return cfg, fmt.Errorf("invalid port %q", args[1])
	}
	cfg.Port = port

	if len(args) == 3 {
		procs, err := strconv.Atoi(args[2])
		if err != nil || procs < 1 {
			return cfg, fmt.Errorf("invalid GOMAXPROCS %q", args[2])
		}
		cfg.Procs = procs
	}

	modeName, _ := cmd.Flags().GetString("mode")
	mode, err := server.ParseMode(modeName)
	if err != nil {
		return cfg, err
	}
	cfg.Mode = mode

	cfg.Timeout, _ = cmd.Flags().GetDuration("timeout")
	cfg.Listeners, _ = cmd.Flags().GetInt("listeners")
	cfg.ReusePort, _ = cmd.Flags().GetBool("reuse-port")

	return cfg, cfg.Validate()
}

func init() {
	serveCmd.Flags().String("mode", string(server.ModeGoroutine), "multiplexing mode (goroutine, reactor)")
	serveCmd.Flags().Duration("timeout", 0, "timeout of every read and write, 0 disables it")
	serveCmd.Flags().Int("listeners", 1, "number of SO_REUSEPORT listeners (goroutine mode)")
	serveCmd.Flags().Bool("reuse-port", false, "set SO_REUSEPORT even with a single listener")
	serveCmd.Flags().String("metrics-addr", "", "serve /metrics and /healthz on this address")
}
