// Package model holds the records produced by benchmark runs.
package model

import (
	"time"

	"github.com/patrykstefanski/async-bench/internal/metrics"
)

// Benchmark kinds.
const (
	KindThroughput = "throughput"
	KindLatency    = "latency"
)

// Result is the outcome of one benchmark against one server.
type Result struct {
	ID        string `json:"id" yaml:"id"`
	Suite     string `json:"suite" yaml:"suite"`
	Server    string `json:"server" yaml:"server"`
	Mode      string `json:"mode,omitempty" yaml:"mode,omitempty"`
	Benchmark string `json:"benchmark" yaml:"benchmark"`
	Kind      string `json:"kind" yaml:"kind"`

	Workers int           `json:"workers" yaml:"workers"`
	Conns   int           `json:"conns" yaml:"conns"`
	Reqs    int           `json:"reqs" yaml:"reqs"`
	Delay   time.Duration `json:"delay,omitempty" yaml:"delay,omitempty"`

	Requests int           `json:"requests" yaml:"requests"`
	Elapsed  time.Duration `json:"elapsed" yaml:"elapsed"`

	// Rate is requests per second over Elapsed.
	Rate float64 `json:"rate" yaml:"rate"`

	// Latency is set for latency benchmarks only.
	Latency *metrics.LatencyReport `json:"latency,omitempty" yaml:"latency,omitempty"`

	StartedAt time.Time `json:"started_at" yaml:"started_at"`
}
