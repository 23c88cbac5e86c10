package runner

import (
	"context"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrykstefanski/async-bench/internal/config"
	"github.com/patrykstefanski/async-bench/internal/metrics"
	"github.com/patrykstefanski/async-bench/internal/model"
	"github.com/patrykstefanski/async-bench/internal/server"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newSuite(t *testing.T, yaml string) *config.Suite {
	t.Helper()
	s, err := config.ParseSuite([]byte(yaml), "suite.yaml")
	require.NoError(t, err)
	return s
}

func TestRunInProcessServers(t *testing.T) {
	suite := newSuite(t, `
name: loopback
servers:
  - name: goroutine
  - name: prefork
    listeners: 2
benchmarks:
  - name: tput
    kind: throughput
    workers: 2
    conns: 2
    reqs: 25
  - name: lat
    kind: latency
    conns: 2
    reqs: 10
    delay: 0s
    ranked: 3
`)

	var (
		mu       sync.Mutex
		started  []string
		finished []*model.Result
	)
	opts := Options{
		Logger: quietLogger(),
		Hooks: Hooks{
			BenchmarkStarted: func(srv, benchmark string, engine *metrics.Engine) {
				assert.NotNil(t, engine)
				mu.Lock()
				started = append(started, srv+"/"+benchmark)
				mu.Unlock()
			},
			BenchmarkFinished: func(r *model.Result) {
				mu.Lock()
				finished = append(finished, r)
				mu.Unlock()
			},
		},
	}

	report, err := Run(context.Background(), suite, opts)
	require.NoError(t, err)

	assert.Equal(t, "loopback", report.Suite)
	assert.Greater(t, report.Duration, time.Duration(0))
	assert.Equal(t, []string{"goroutine/tput", "goroutine/lat", "prefork/tput", "prefork/lat"}, started)
	require.Len(t, report.Results, 4)
	assert.Equal(t, report.Results, finished)

	ids := make(map[string]bool)
	for _, r := range report.Results {
		assert.Equal(t, "loopback", r.Suite)
		assert.Equal(t, string(server.ModeGoroutine), r.Mode)
		assert.False(t, r.StartedAt.IsZero())
		assert.Len(t, r.ID, 26)
		assert.False(t, ids[r.ID], "duplicate id %s", r.ID)
		ids[r.ID] = true
		assert.Greater(t, r.Rate, 0.0)
	}

	tput := report.Results[0]
	assert.Equal(t, model.KindThroughput, tput.Kind)
	assert.Equal(t, 100, tput.Requests)
	assert.Nil(t, tput.Latency)

	lat := report.Results[1]
	assert.Equal(t, model.KindLatency, lat.Kind)
	assert.Equal(t, 20, lat.Requests)
	require.NotNil(t, lat.Latency)
	assert.Equal(t, 20, lat.Latency.Count)
	assert.Len(t, lat.Latency.Best, 3)
	assert.Len(t, lat.Latency.Worst, 3)
}

type countingObserver struct {
	server.NopObserver
	opened atomic.Int64
	served atomic.Int64
}

func (o *countingObserver) ConnOpened()    { o.opened.Add(1) }
func (o *countingObserver) RequestServed() { o.served.Add(1) }

func TestRunObserver(t *testing.T) {
	suite := newSuite(t, `
name: observed
servers:
  - name: goroutine
benchmarks:
  - name: tput
    kind: throughput
    workers: 1
    conns: 2
    reqs: 10
`)

	obs := &countingObserver{}
	report, err := Run(context.Background(), suite, Options{Logger: quietLogger(), Observer: obs})
	require.NoError(t, err)
	require.Len(t, report.Results, 1)

	assert.Equal(t, int64(2), obs.opened.Load())
	assert.Equal(t, int64(20), obs.served.Load())
}

func TestRunTarget(t *testing.T) {
	srv, err := server.New(server.DefaultConfig(), server.WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Close()

	port := srv.Addr().(*net.TCPAddr).Port
	suite := &config.Suite{
		Name:   "external",
		Target: &config.Target{Host: "127.0.0.1", Port: port},
		Benchmarks: []config.BenchmarkSpec{
			{Name: "tput", Kind: config.KindThroughput, Reqs: 10},
		},
	}
	suite.ApplyDefaults()
	require.NoError(t, suite.Validate())

	report, err := Run(context.Background(), suite, Options{Logger: quietLogger()})
	require.NoError(t, err)
	require.Len(t, report.Results, 1)

	r := report.Results[0]
	assert.Equal(t, net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), r.Server)
	assert.Empty(t, r.Mode)
	assert.Equal(t, 10, r.Requests)
}

func TestRunTargetUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	suite := &config.Suite{
		Name:   "down",
		Target: &config.Target{Name: "gone", Host: "127.0.0.1", Port: port},
		Benchmarks: []config.BenchmarkSpec{
			{Name: "first", Kind: config.KindThroughput},
			{Name: "second", Kind: config.KindThroughput},
		},
	}
	suite.ApplyDefaults()

	report, err := Run(context.Background(), suite, Options{Logger: quietLogger()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "benchmark first against gone")
	assert.Empty(t, report.Results)
}

func TestRunCancelled(t *testing.T) {
	suite := newSuite(t, `
name: cancelled
servers:
  - name: a
  - name: b
benchmarks:
  - name: tput
    kind: throughput
`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := Run(ctx, suite, Options{Logger: quietLogger()})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, report.Results)
}

func TestRunPause(t *testing.T) {
	suite := newSuite(t, `
name: paused
servers:
  - name: a
benchmarks:
  - name: one
    kind: throughput
  - name: two
    kind: throughput
`)

	start := time.Now()
	report, err := Run(context.Background(), suite, Options{Logger: quietLogger(), Pause: 50 * time.Millisecond})
	require.NoError(t, err)
	assert.Len(t, report.Results, 2)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestRate(t *testing.T) {
	assert.Equal(t, 0.0, rate(10, 0))
	assert.InDelta(t, 20.0, rate(10, 500*time.Millisecond), 1e-9)
}
