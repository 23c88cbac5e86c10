package server

import (
	"bytes"
	"context"
	"io"
	"net"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrykstefanski/async-bench/internal/hello"
)

// recordingObserver counts events for assertions.
type recordingObserver struct {
	mu       sync.Mutex
	opened   int
	closed   int
	served   int
	ioErrs   map[string]int
	timeouts map[string]int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		ioErrs:   make(map[string]int),
		timeouts: make(map[string]int),
	}
}

func (o *recordingObserver) ConnOpened() {
	o.mu.Lock()
	o.opened++
	o.mu.Unlock()
}

func (o *recordingObserver) ConnClosed() {
	o.mu.Lock()
	o.closed++
	o.mu.Unlock()
}

func (o *recordingObserver) RequestServed() {
	o.mu.Lock()
	o.served++
	o.mu.Unlock()
}

func (o *recordingObserver) IOError(op string, _ error) {
	o.mu.Lock()
	o.ioErrs[op]++
	o.mu.Unlock()
}

func (o *recordingObserver) Timeout(op string) {
	o.mu.Lock()
	o.timeouts[op]++
	o.mu.Unlock()
}

func (o *recordingObserver) snapshot() (opened, closed, served int, timeouts map[string]int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t := make(map[string]int, len(o.timeouts))
	for k, v := range o.timeouts {
		t[k] = v
	}
	return o.opened, o.closed, o.served, t
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func startServer(t *testing.T, cfg Config, obs Observer) *Server {
	t.Helper()

	srv, err := New(cfg, WithLogger(quietLogger()), WithObserver(obs))
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() {
		_ = srv.Close()
	})
	return srv
}

func exchange(t *testing.T, conn net.Conn) {
	t.Helper()

	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	_, err := conn.Write(hello.Request)
	require.NoError(t, err)

	buf := make([]byte, len(hello.Response))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.True(t, hello.IsResponse(buf), "unexpected response %q", buf)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "with timeout", mutate: func(c *Config) { c.Timeout = hello.DefaultTimeout }},
		{name: "reactor", mutate: func(c *Config) { c.Mode = ModeReactor; c.Procs = 2 }},
		{name: "hostname", mutate: func(c *Config) { c.Host = "localhost" }, wantErr: true},
		{name: "ipv6", mutate: func(c *Config) { c.Host = "::1" }, wantErr: true},
		{name: "port too large", mutate: func(c *Config) { c.Port = 70000 }, wantErr: true},
		{name: "negative procs", mutate: func(c *Config) { c.Procs = -1 }, wantErr: true},
		{name: "no listeners", mutate: func(c *Config) { c.Listeners = 0 }, wantErr: true},
		{name: "negative timeout", mutate: func(c *Config) { c.Timeout = -time.Second }, wantErr: true},
		{name: "unknown mode", mutate: func(c *Config) { c.Mode = "threads" }, wantErr: true},
		{name: "reactor timeout", mutate: func(c *Config) { c.Mode = ModeReactor; c.Timeout = time.Second }, wantErr: true},
		{name: "reactor listeners", mutate: func(c *Config) { c.Mode = ModeReactor; c.Listeners = 2 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeGoroutine, m)

	m, err = ParseMode(" Reactor ")
	require.NoError(t, err)
	assert.Equal(t, ModeReactor, m)

	_, err = ParseMode("fibers")
	assert.Error(t, err)
}

func TestServer_RespondsToEveryRead(t *testing.T) {
	obs := newRecordingObserver()
	srv := startServer(t, DefaultConfig(), obs)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	for i := 0; i < 5; i++ {
		exchange(t, conn)
	}

	require.Eventually(t, func() bool {
		_, _, served, _ := obs.snapshot()
		return served == 5
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_ManyConnections(t *testing.T) {
	srv := startServer(t, DefaultConfig(), NopObserver{})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := net.Dial("tcp", srv.Addr().String())
			if !assert.NoError(t, err) {
				return
			}
			defer conn.Close()
			for j := 0; j < 10; j++ {
				exchange(t, conn)
			}
		}()
	}
	wg.Wait()
}

func TestServer_ReadTimeoutDropsIdleConnection(t *testing.T) {
	obs := newRecordingObserver()
	cfg := DefaultConfig()
	cfg.Timeout = 100 * time.Millisecond
	srv := startServer(t, cfg, obs)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	// One exchange inside the deadline still works.
	exchange(t, conn)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)

	require.Eventually(t, func() bool {
		_, closed, _, timeouts := obs.snapshot()
		return closed == 1 && timeouts["read"] == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_WriteTimeoutDropsStalledReader(t *testing.T) {
	obs := newRecordingObserver()
	cfg := DefaultConfig()
	cfg.Timeout = 100 * time.Millisecond
	srv := startServer(t, cfg, obs)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.(*net.TCPConn).SetReadBuffer(1024))

	exchange(t, conn)

	// Keep sending without reading until the server's replies back up.
	done := make(chan struct{})
	go func() {
		defer close(done)
		chunk := bytes.Repeat(hello.Request, hello.ReadBufferSize/len(hello.Request))
		conn.SetWriteDeadline(time.Now().Add(20 * time.Second))
		for {
			if _, err := conn.Write(chunk); err != nil {
				return
			}
		}
	}()

	require.Eventually(t, func() bool {
		_, closed, _, timeouts := obs.snapshot()
		return closed == 1 && timeouts["write"] == 1
	}, 15*time.Second, 10*time.Millisecond)

	conn.Close()
	<-done
}

func TestServer_ResetReportsIOError(t *testing.T) {
	obs := newRecordingObserver()
	srv := startServer(t, DefaultConfig(), obs)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	exchange(t, conn)

	// Linger 0 makes Close send RST, which fails the server's pending read.
	require.NoError(t, conn.(*net.TCPConn).SetLinger(0))
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		obs.mu.Lock()
		defer obs.mu.Unlock()
		return obs.closed == 1 && obs.ioErrs["read"] == 1
	}, 2*time.Second, 10*time.Millisecond)

	_, _, _, timeouts := obs.snapshot()
	assert.Empty(t, timeouts)
}

func TestServer_PeerCloseIsNotAnError(t *testing.T) {
	obs := newRecordingObserver()
	srv := startServer(t, DefaultConfig(), obs)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	exchange(t, conn)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		opened, closed, _, _ := obs.snapshot()
		return opened == 1 && closed == 1
	}, 2*time.Second, 10*time.Millisecond)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Empty(t, obs.ioErrs)
}

func TestServer_MultipleListeners(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("SO_REUSEPORT not available")
	}

	cfg := DefaultConfig()
	cfg.Listeners = 3
	srv := startServer(t, cfg, NopObserver{})

	for i := 0; i < 8; i++ {
		conn, err := net.Dial("tcp", srv.Addr().String())
		require.NoError(t, err)
		exchange(t, conn)
		conn.Close()
	}
}

func TestServer_CloseDropsOpenConnections(t *testing.T) {
	srv, err := New(DefaultConfig(), WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	exchange(t, conn)

	require.NoError(t, srv.Close())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, err = conn.Read(make([]byte, 1))
	assert.Error(t, err)
}

func TestServer_ServeReturnsOnCancel(t *testing.T) {
	srv, err := New(DefaultConfig(), WithLogger(quietLogger()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx)
	}()

	require.Eventually(t, func() bool { return srv.Addr() != nil }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServer_StartTwice(t *testing.T) {
	srv := startServer(t, DefaultConfig(), nil)
	assert.Error(t, srv.Start(context.Background()))
}

func TestServer_WaitBeforeStart(t *testing.T) {
	srv, err := New(DefaultConfig())
	require.NoError(t, err)
	assert.ErrorIs(t, srv.Wait(), ErrNotStarted)
}
