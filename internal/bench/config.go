package bench

import (
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"time"

	"github.com/patrykstefanski/async-bench/internal/metrics"
)

// ErrTooManyRequests is returned when workers*conns*reqs overflows.
var ErrTooManyRequests = errors.New("total number of requests is too large")

// ThroughputConfig describes a throughput run.
type ThroughputConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`

	// Workers times Conns connections are opened. Every connection performs
	// Reqs sequential exchanges.
	Workers int `json:"workers" yaml:"workers"`
	Conns   int `json:"conns" yaml:"conns"`
	Reqs    int `json:"reqs" yaml:"reqs"`

	// Timeout bounds dialing and every single exchange. Zero disables it.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// DefaultThroughputConfig returns one worker with one connection doing one
// request against 127.0.0.1.
func DefaultThroughputConfig() ThroughputConfig {
	return ThroughputConfig{
		Host:    "127.0.0.1",
		Workers: 1,
		Conns:   1,
		Reqs:    1,
	}
}

// Validate checks the configuration.
func (c ThroughputConfig) Validate() error {
	var errs []error

	if ip := net.ParseIP(c.Host); ip == nil || ip.To4() == nil {
		errs = append(errs, fmt.Errorf("invalid IPv4 host %q", c.Host))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be between 1 and 65535, got %d", c.Port))
	}
	if c.Workers < 1 {
		errs = append(errs, errors.New("number of workers must be at least 1"))
	}
	if c.Conns < 1 {
		errs = append(errs, errors.New("number of connections must be at least 1"))
	}
	if c.Reqs < 1 {
		errs = append(errs, errors.New("number of requests must be at least 1"))
	}
	if c.Timeout < 0 {
		errs = append(errs, errors.New("timeout cannot be negative"))
	}
	if len(errs) == 0 {
		if _, err := c.TotalRequests(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Address returns host:port.
func (c ThroughputConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Connections returns the total number of connections.
func (c ThroughputConfig) Connections() int {
	return c.Workers * c.Conns
}

// TotalRequests returns workers*conns*reqs, or ErrTooManyRequests when the
// product does not fit in an int.
func (c ThroughputConfig) TotalRequests() (int, error) {
	if c.Workers < 1 || c.Conns < 1 || c.Reqs < 1 {
		return 0, errors.New("counts must be at least 1")
	}
	if c.Workers > math.MaxInt/c.Conns {
		return 0, ErrTooManyRequests
	}
	conns := c.Workers * c.Conns
	if conns > math.MaxInt/c.Reqs {
		return 0, ErrTooManyRequests
	}
	return conns * c.Reqs, nil
}

// LatencyConfig describes a latency run.
type LatencyConfig struct {
	ThroughputConfig `yaml:",inline"`

	// Delay is slept before every measured request.
	Delay time.Duration `json:"delay" yaml:"delay"`

	// Ranked is how many best and worst samples the report lists.
	Ranked int `json:"ranked" yaml:"ranked"`
}

// DefaultLatencyConfig returns DefaultThroughputConfig with a 1ms delay.
func DefaultLatencyConfig() LatencyConfig {
	return LatencyConfig{
		ThroughputConfig: DefaultThroughputConfig(),
		Delay:            time.Millisecond,
		Ranked:           metrics.DefaultRankedSamples,
	}
}

// Validate checks the configuration.
func (c LatencyConfig) Validate() error {
	var errs []error
	if err := c.ThroughputConfig.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Delay < 0 {
		errs = append(errs, errors.New("delay cannot be negative"))
	}
	if c.Ranked < 0 {
		errs = append(errs, errors.New("number of ranked samples cannot be negative"))
	}
	return errors.Join(errs...)
}
