// Package bench implements the load generators used against the hello
// servers.
//
// Both generators open Workers*Conns connections first and only then release
// all of them at once, so connection setup is never part of the measurement.
// Every response is read in full and compared byte for byte. The first error
// on any connection aborts the whole run.
package bench

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/patrykstefanski/async-bench/internal/hello"
	"github.com/patrykstefanski/async-bench/internal/metrics"
)

// ErrResponseMismatch is returned when a server answers with anything other
// than hello.Response.
var ErrResponseMismatch = errors.New("unexpected response")

// Option configures a run.
type Option func(*options)

type options struct {
	log logrus.FieldLogger
}

// WithLogger sets the logger. The default is the standard logrus logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

func newOptions(opts []Option) options {
	o := options{log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ThroughputResult is the outcome of a throughput run.
type ThroughputResult struct {
	Requests int           `json:"requests"`
	Elapsed  time.Duration `json:"elapsed"`
	Rate     float64       `json:"rate"`
}

func (r *ThroughputResult) String() string {
	return fmt.Sprintf("%d requests in %.2fs, rate: %.2f req/s", r.Requests, r.Elapsed.Seconds(), r.Rate)
}

// LatencyResult is the outcome of a latency run.
type LatencyResult struct {
	Requests int                    `json:"requests"`
	Elapsed  time.Duration          `json:"elapsed"`
	Report   *metrics.LatencyReport `json:"report"`
}

// RunThroughput runs cfg against the server and measures how long all
// exchanges take together. rec may be nil.
func RunThroughput(ctx context.Context, cfg ThroughputConfig, rec Recorder, opts ...Option) (*ThroughputResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	total, _ := cfg.TotalRequests()
	if rec == nil {
		rec = nopRecorder{}
	}
	o := newOptions(opts)
	log := o.log.WithFields(logrus.Fields{
		"addr":    cfg.Address(),
		"workers": cfg.Workers,
		"conns":   cfg.Conns,
		"reqs":    cfg.Reqs,
	})

	rec.SetPhase(metrics.PhaseConnect)
	conns, err := connect(ctx, cfg, rec)
	if err != nil {
		rec.SetPhase(metrics.PhaseDone)
		return nil, err
	}
	defer closeConns(conns, rec)
	log.Debug("Connected")

	rec.SetPhase(metrics.PhaseMeasure)
	elapsed, err := measure(ctx, conns, func(_ context.Context, c net.Conn, _ int, buf []byte) error {
		for i := 0; i < cfg.Reqs; i++ {
			if err := exchange(c, buf, cfg.Timeout); err != nil {
				rec.RecordRequest(false, 0)
				return err
			}
			rec.RecordRequest(true, int64(len(hello.Response)))
		}
		return nil
	})
	rec.SetPhase(metrics.PhaseDone)
	if err != nil {
		return nil, err
	}

	res := &ThroughputResult{
		Requests: total,
		Elapsed:  elapsed,
		Rate:     float64(total) / elapsed.Seconds(),
	}
	log.WithField("rate", res.Rate).Debug("Throughput run finished")
	return res, nil
}

// RunLatency runs cfg against the server and measures every exchange. Each
// connection performs one unmeasured warm-up exchange before the start. rec
// may be nil.
func RunLatency(ctx context.Context, cfg LatencyConfig, rec Recorder, opts ...Option) (*LatencyResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	total, _ := cfg.TotalRequests()
	if rec == nil {
		rec = nopRecorder{}
	}
	o := newOptions(opts)
	log := o.log.WithFields(logrus.Fields{
		"addr":    cfg.Address(),
		"workers": cfg.Workers,
		"conns":   cfg.Conns,
		"reqs":    cfg.Reqs,
		"delay":   cfg.Delay,
	})

	rec.SetPhase(metrics.PhaseConnect)
	conns, err := connect(ctx, cfg.ThroughputConfig, rec)
	if err != nil {
		rec.SetPhase(metrics.PhaseDone)
		return nil, err
	}
	defer closeConns(conns, rec)

	rec.SetPhase(metrics.PhaseWarmup)
	if err := warmUp(ctx, conns, cfg.Timeout); err != nil {
		rec.SetPhase(metrics.PhaseDone)
		return nil, err
	}
	log.Debug("Connected and warmed up")

	// One array for all samples; connection i owns [i*Reqs, (i+1)*Reqs).
	latencies := make([]time.Duration, total)

	rec.SetPhase(metrics.PhaseMeasure)
	elapsed, err := measure(ctx, conns, func(ctx context.Context, c net.Conn, idx int, buf []byte) error {
		own := latencies[idx*cfg.Reqs : (idx+1)*cfg.Reqs]

		var timer *time.Timer
		if cfg.Delay > 0 {
			timer = time.NewTimer(cfg.Delay)
			timer.Stop()
			defer timer.Stop()
		}

		for i := range own {
			if timer != nil {
				timer.Reset(cfg.Delay)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-timer.C:
				}
			}
			start := time.Now()
			if err := exchange(c, buf, cfg.Timeout); err != nil {
				rec.RecordRequest(false, 0)
				return err
			}
			own[i] = time.Since(start)
			rec.RecordLatency(own[i], true, int64(len(hello.Response)))
		}
		return nil
	})
	rec.SetPhase(metrics.PhaseDone)
	if err != nil {
		return nil, err
	}

	report, err := metrics.NewLatencyReport(latencies, cfg.Ranked)
	if err != nil {
		return nil, err
	}
	log.WithField("median", report.Median).Debug("Latency run finished")

	return &LatencyResult{
		Requests: total,
		Elapsed:  elapsed,
		Report:   report,
	}, nil
}

// connect opens cfg.Conns connections from each of cfg.Workers goroutines.
// On failure every connection opened so far is closed.
func connect(ctx context.Context, cfg ThroughputConfig, rec Recorder) ([]net.Conn, error) {
	conns := make([]net.Conn, cfg.Connections())
	addr := cfg.Address()

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.Workers; w++ {
		w := w
		g.Go(func() error {
			d := net.Dialer{Timeout: cfg.Timeout}
			for i := 0; i < cfg.Conns; i++ {
				c, err := d.DialContext(gctx, "tcp4", addr)
				if err != nil {
					return fmt.Errorf("connecting to %s failed: %w", addr, err)
				}
				conns[w*cfg.Conns+i] = c
				rec.AddActiveConns(1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		closeConns(conns, rec)
		return nil, err
	}
	return conns, nil
}

func closeConns(conns []net.Conn, rec Recorder) {
	for _, c := range conns {
		if c == nil {
			continue
		}
		c.Close()
		rec.AddActiveConns(-1)
	}
}

func warmUp(ctx context.Context, conns []net.Conn, timeout time.Duration) error {
	return fanOut(ctx, conns, nil, func(_ context.Context, c net.Conn, _ int, buf []byte) error {
		return exchange(c, buf, timeout)
	})
}

// measure runs fn on every connection in its own goroutine. All goroutines
// are released together and the returned duration spans from the release
// until the last of them finished.
func measure(ctx context.Context, conns []net.Conn, fn func(ctx context.Context, c net.Conn, idx int, buf []byte) error) (time.Duration, error) {
	var begin time.Time
	err := fanOut(ctx, conns, func() { begin = time.Now() }, fn)
	return time.Since(begin), err
}

// fanOut runs fn on every connection in its own goroutine. Once all of them
// are ready, release is called and they start together. The first error, or
// ctx being done, interrupts the I/O blocked on every other connection. On
// success the connections are left without a deadline.
func fanOut(ctx context.Context, conns []net.Conn, release func(), fn func(ctx context.Context, c net.Conn, idx int, buf []byte) error) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := interruptOnDone(runCtx, conns)

	start := make(chan struct{})
	var ready sync.WaitGroup
	ready.Add(len(conns))

	// firstErr is the error that interrupted the others, not whichever
	// interrupted exchange errgroup happens to see first.
	var (
		failOnce sync.Once
		firstErr error
	)
	fail := func(err error) {
		failOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	var g errgroup.Group
	for i, c := range conns {
		i, c := i, c
		g.Go(func() error {
			buf := make([]byte, hello.ReadBufferSize)
			ready.Done()
			<-start
			if err := fn(runCtx, c, i, buf); err != nil {
				fail(err)
				return err
			}
			return nil
		})
	}

	ready.Wait()
	if release != nil {
		release()
	}
	close(start)

	g.Wait()
	// Deregister before the deferred cancel so a successful phase does not
	// leave expired deadlines behind.
	stop()
	return cancelled(ctx, firstErr)
}

// interruptOnDone makes blocked reads and writes on conns fail as soon as ctx
// is done.
func interruptOnDone(ctx context.Context, conns []net.Conn) func() bool {
	return context.AfterFunc(ctx, func() {
		now := time.Now()
		for _, c := range conns {
			c.SetDeadline(now)
		}
	})
}

// cancelled prefers the parent's cancellation over the I/O error it caused.
func cancelled(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// exchange writes one request and reads exactly one response into buf.
func exchange(c net.Conn, buf []byte, timeout time.Duration) error {
	if timeout > 0 {
		if err := c.SetDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}

	n, err := c.Write(hello.Request)
	if err != nil {
		return fmt.Errorf("writing failed: %w", err)
	}
	if n != len(hello.Request) {
		return fmt.Errorf("writing failed: %w", hello.ErrShortWrite)
	}

	resp := buf[:len(hello.Response)]
	if _, err := io.ReadFull(c, resp); err != nil {
		return fmt.Errorf("reading failed: %w", err)
	}
	if !hello.IsResponse(resp) {
		return fmt.Errorf("%w: %q", ErrResponseMismatch, resp)
	}
	return nil
}
