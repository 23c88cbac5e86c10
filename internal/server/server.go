// Package server implements the hello servers: a TCP listener that answers
// every read with a static HTTP response.
//
// Two multiplexing strategies are available. ModeGoroutine hands every
// accepted connection to its own goroutine and relies on the Go runtime
// netpoller, optionally with several SO_REUSEPORT listeners. ModeReactor runs
// one edge-triggered epoll loop per worker over non-blocking sockets.
//
// # Failure handling
//
// Any read or write error, deadline expiry or short write is logged and the
// connection is dropped. Other connections are not affected. Accept errors
// that are not temporary stop the server and are returned from Wait.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrReactorUnsupported is returned when ModeReactor is requested on a
// platform without epoll.
var ErrReactorUnsupported = errors.New("reactor mode requires linux")

// ErrNotStarted is returned by Wait when Start was never called.
var ErrNotStarted = errors.New("server not started")

const maxAcceptDelay = time.Second

// eventLoop is a self-contained serving strategy with its own sockets.
type eventLoop interface {
	Addr() net.Addr
	Run(ctx context.Context) error
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. The default is the standard logrus logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithObserver sets the observer notified about connection events.
func WithObserver(o Observer) Option {
	return func(s *Server) {
		if o != nil {
			s.obs = o
		}
	}
}

// Server is a hello server. Create it with New, then call Start or Serve.
type Server struct {
	cfg Config
	log logrus.FieldLogger
	obs Observer

	mu        sync.Mutex
	started   bool
	addr      net.Addr
	listeners []net.Listener
	active    map[net.Conn]struct{}
	cancel    context.CancelFunc
	group     *errgroup.Group
	connWg    sync.WaitGroup
}

// New validates cfg and creates a server.
func New(cfg Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:    cfg,
		log:    logrus.StandardLogger(),
		obs:    NopObserver{},
		active: make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the server configuration.
func (s *Server) Config() Config {
	return s.cfg
}

// Addr returns the bound address. It is nil before Start returns.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start binds the listening sockets and starts serving in the background.
// Serving stops when ctx is cancelled or Close is called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("server already started")
	}

	if s.cfg.Procs > 0 {
		runtime.GOMAXPROCS(s.cfg.Procs)
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)

	switch s.cfg.Mode {
	case ModeReactor:
		loop, err := newReactor(s.cfg, s.log, s.obs)
		if err != nil {
			cancel()
			return err
		}
		s.addr = loop.Addr()
		g.Go(func() error {
			return loop.Run(gctx)
		})

	default:
		listeners, err := s.listen(ctx)
		if err != nil {
			cancel()
			return err
		}
		s.listeners = listeners
		s.addr = listeners[0].Addr()

		for i, ln := range listeners {
			i, ln := i, ln
			g.Go(func() error {
				return s.acceptLoop(gctx, i, ln)
			})
		}
		g.Go(func() error {
			<-gctx.Done()
			s.shutdownConns()
			return nil
		})
	}

	s.started = true
	s.cancel = cancel
	s.group = g

	s.log.WithFields(logrus.Fields{
		"addr":      s.addr.String(),
		"mode":      s.cfg.Mode,
		"procs":     runtime.GOMAXPROCS(0),
		"listeners": s.cfg.Listeners,
		"timeout":   s.cfg.Timeout,
	}).Info("Listening")

	return nil
}

// Wait blocks until the server stops and returns the first fatal error.
func (s *Server) Wait() error {
	s.mu.Lock()
	g := s.group
	s.mu.Unlock()

	if g == nil {
		return ErrNotStarted
	}

	err := g.Wait()
	s.connWg.Wait()
	return err
}

// Serve starts the server and blocks until ctx is cancelled or a fatal error
// occurs. Cancellation is not an error.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	return s.Wait()
}

// Close stops accepting, drops open connections and waits for the serving
// goroutines to exit.
func (s *Server) Close() error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	return s.Wait()
}

// listen opens cfg.Listeners sockets on the same address. Later listeners
// reuse the port resolved by the first one, so Port 0 works for all of them.
func (s *Server) listen(ctx context.Context) ([]net.Listener, error) {
	lc := net.ListenConfig{}
	if s.cfg.ReusePort || s.cfg.Listeners > 1 {
		lc.Control = reusePortControl
	}

	first, err := lc.Listen(ctx, "tcp4", s.cfg.Address())
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", s.cfg.Address(), err)
	}

	listeners := []net.Listener{first}
	port := first.Addr().(*net.TCPAddr).Port
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(port))

	for i := 1; i < s.cfg.Listeners; i++ {
		ln, err := lc.Listen(ctx, "tcp4", addr)
		if err != nil {
			for _, l := range listeners {
				l.Close()
			}
			return nil, fmt.Errorf("listen on %s (listener %d): %w", addr, i, err)
		}
		listeners = append(listeners, ln)
	}

	return listeners, nil
}

func (s *Server) acceptLoop(ctx context.Context, id int, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		ln.Close()
	})
	defer stop()

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if isTemporary(err) {
				if delay == 0 {
					delay = 5 * time.Millisecond
				} else {
					delay *= 2
				}
				if delay > maxAcceptDelay {
					delay = maxAcceptDelay
				}
				s.log.WithError(err).WithField("listener", id).Warnf("Accepting failed; retrying in %v", delay)
				select {
				case <-time.After(delay):
					continue
				case <-ctx.Done():
					return nil
				}
			}
			return fmt.Errorf("accepting failed: %w", err)
		}
		delay = 0

		if !s.track(conn) {
			conn.Close()
			return nil
		}
		go s.serveConn(conn)
	}
}

// track registers conn for shutdown. It reports false once shutdown began.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return false
	}
	s.active[conn] = struct{}{}
	s.connWg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	if s.active != nil {
		delete(s.active, conn)
	}
	s.mu.Unlock()

	conn.Close()
	s.connWg.Done()
}

func (s *Server) shutdownConns() {
	s.mu.Lock()
	active := s.active
	s.active = nil
	s.mu.Unlock()

	for conn := range active {
		conn.Close()
	}
}

func isTemporary(err error) bool {
	var te interface{ Temporary() bool }
	return errors.As(err, &te) && te.Temporary()
}
