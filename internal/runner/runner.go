// Package runner executes benchmark suites.
//
// For every server of a suite the runner starts an in-process hello server
// on an ephemeral port, runs all benchmarks against it one after another and
// stops it again. A suite with a target runs its benchmarks against that
// external server instead.
package runner

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/patrykstefanski/async-bench/internal/bench"
	"github.com/patrykstefanski/async-bench/internal/config"
	"github.com/patrykstefanski/async-bench/internal/metrics"
	"github.com/patrykstefanski/async-bench/internal/model"
	"github.com/patrykstefanski/async-bench/internal/server"
)

// Hooks observe the progress of a run. Every field is optional.
type Hooks struct {
	// BenchmarkStarted is called before a benchmark starts with the engine
	// that records it.
	BenchmarkStarted func(srv, benchmark string, engine *metrics.Engine)

	// BenchmarkFinished is called with the result of every benchmark.
	BenchmarkFinished func(r *model.Result)
}

// Options configure a run.
type Options struct {
	Logger logrus.FieldLogger
	Hooks  Hooks

	// Observer is attached to every in-process server.
	Observer server.Observer

	// Pause is slept between two benchmarks so the previous connections can
	// drain.
	Pause time.Duration
}

// Report is the outcome of a suite run.
type Report struct {
	Suite    string          `json:"suite"`
	Started  time.Time       `json:"started"`
	Duration time.Duration   `json:"duration"`
	Results  []*model.Result `json:"results"`
}

// Run executes suite. The first failing benchmark stops the run; the results
// collected so far are returned together with the error.
func Run(ctx context.Context, suite *config.Suite, opts Options) (*Report, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("suite", suite.Name)

	report := &Report{Suite: suite.Name, Started: time.Now()}
	defer func() {
		report.Duration = time.Since(report.Started)
	}()

	if suite.Target != nil {
		name := suite.Target.Name
		if name == "" {
			name = net.JoinHostPort(suite.Target.Host, strconv.Itoa(suite.Target.Port))
		}
		err := runBenchmarks(ctx, suite, target{name: name, host: suite.Target.Host, port: suite.Target.Port}, opts, log, report)
		return report, err
	}

	for _, spec := range suite.Servers {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := runServer(ctx, suite, spec, opts, log, report); err != nil {
			return report, err
		}
	}
	return report, nil
}

type target struct {
	name string
	mode string
	host string
	port int
}

func runServer(ctx context.Context, suite *config.Suite, spec config.ServerSpec, opts Options, log logrus.FieldLogger, report *Report) error {
	log = log.WithField("server", spec.Name)

	srvOpts := []server.Option{server.WithLogger(log)}
	if opts.Observer != nil {
		srvOpts = append(srvOpts, server.WithObserver(opts.Observer))
	}

	srv, err := server.New(spec.ServerConfig(suite.Host), srvOpts...)
	if err != nil {
		return fmt.Errorf("server %s: %w", spec.Name, err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server %s: %w", spec.Name, err)
	}

	addr := srv.Addr().(*net.TCPAddr)
	t := target{name: spec.Name, mode: string(srv.Config().Mode), host: suite.Host, port: addr.Port}
	runErr := runBenchmarks(ctx, suite, t, opts, log, report)

	closeErr := srv.Close()
	if closeErr != nil {
		closeErr = fmt.Errorf("server %s: %w", spec.Name, closeErr)
	}
	return errors.Join(runErr, closeErr)
}

func runBenchmarks(ctx context.Context, suite *config.Suite, t target, opts Options, log logrus.FieldLogger, report *Report) error {
	for i, b := range suite.Benchmarks {
		if i > 0 && opts.Pause > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(opts.Pause):
			}
		}

		res, err := runBenchmark(ctx, suite, t, b, opts, log.WithField("benchmark", b.Name))
		if err != nil {
			return fmt.Errorf("benchmark %s against %s: %w", b.Name, t.name, err)
		}
		report.Results = append(report.Results, res)
		if opts.Hooks.BenchmarkFinished != nil {
			opts.Hooks.BenchmarkFinished(res)
		}
	}
	return nil
}

func runBenchmark(ctx context.Context, suite *config.Suite, t target, b config.BenchmarkSpec, opts Options, log logrus.FieldLogger) (*model.Result, error) {
	engine := metrics.NewEngine()
	defer engine.Stop()

	if opts.Hooks.BenchmarkStarted != nil {
		opts.Hooks.BenchmarkStarted(t.name, b.Name, engine)
	}

	res := &model.Result{
		ID:        model.NewID(),
		Suite:     suite.Name,
		Server:    t.name,
		Mode:      t.mode,
		Benchmark: b.Name,
		Kind:      string(b.Kind),
		Workers:   b.Workers,
		Conns:     b.Conns,
		Reqs:      b.Reqs,
		StartedAt: time.Now().UTC(),
	}

	log.Info("Running benchmark")

	switch b.Kind {
	case config.KindLatency:
		cfg := b.LatencyConfig(t.host, t.port)
		lr, err := bench.RunLatency(ctx, cfg, engine, bench.WithLogger(log))
		if err != nil {
			return nil, err
		}
		res.Delay = cfg.Delay
		res.Requests = lr.Requests
		res.Elapsed = lr.Elapsed
		res.Rate = rate(lr.Requests, lr.Elapsed)
		res.Latency = lr.Report

	default:
		tr, err := bench.RunThroughput(ctx, b.ThroughputConfig(t.host, t.port), engine, bench.WithLogger(log))
		if err != nil {
			return nil, err
		}
		res.Requests = tr.Requests
		res.Elapsed = tr.Elapsed
		res.Rate = tr.Rate
	}

	log.WithFields(logrus.Fields{
		"requests": res.Requests,
		"elapsed":  res.Elapsed,
		"rate":     res.Rate,
	}).Info("Benchmark finished")
	return res, nil
}

func rate(requests int, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(requests) / elapsed.Seconds()
}
