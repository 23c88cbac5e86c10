package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
)

// NewRouter returns the telemetry HTTP handler serving GET /healthz and
// GET /metrics.
func NewRouter(c *Collector) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", handleHealthz)
	r.Handle("/metrics", promhttp.HandlerFor(c.Registry(), promhttp.HandlerOpts{
		Registry: c.Registry(),
	}))
	return r
}

type healthResponse struct {
	Status string `json:"status"`
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(healthResponse{Status: "ok"})
}

// Endpoint is a running telemetry HTTP server.
type Endpoint struct {
	srv  *http.Server
	ln   net.Listener
	log  logrus.FieldLogger
	done chan error
}

// Listen binds addr and starts serving handler in the background.
func Listen(addr string, handler http.Handler, log logrus.FieldLogger) (*Endpoint, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	e := &Endpoint{
		srv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
			WriteTimeout:      writeTimeout,
		},
		ln:   ln,
		log:  log,
		done: make(chan error, 1),
	}

	go func() {
		err := e.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		e.done <- err
		close(e.done)
	}()

	log.WithField("addr", ln.Addr().String()).Info("Telemetry listening")
	return e, nil
}

// Addr returns the bound address.
func (e *Endpoint) Addr() net.Addr {
	return e.ln.Addr()
}

// Shutdown stops the server gracefully, waiting at most shutdownTimeout.
func (e *Endpoint) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := e.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("telemetry shutdown: %w", err)
	}
	return <-e.done
}

// ListenAndServe serves handler on addr until ctx is cancelled.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler, log logrus.FieldLogger) error {
	e, err := Listen(addr, handler, log)
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return e.Shutdown()
	case err := <-e.done:
		if err != nil {
			return fmt.Errorf("telemetry server error: %w", err)
		}
		return nil
	}
}
