// Package config loads benchmark suite files.
//
// A suite names the servers to start, or an already running target, and the
// benchmarks to run against each of them. Suites are written in YAML or JSON
// and are checked against an embedded JSON schema before they are decoded.
package config

import (
	"time"

	"github.com/patrykstefanski/async-bench/internal/bench"
	"github.com/patrykstefanski/async-bench/internal/metrics"
	"github.com/patrykstefanski/async-bench/internal/server"
)

// Kind selects the load generator of a benchmark.
type Kind string

const (
	KindThroughput Kind = "throughput"
	KindLatency    Kind = "latency"
)

// DefaultHost is used for in-process servers when a suite names no host.
const DefaultHost = "127.0.0.1"

// Suite is a benchmark suite.
type Suite struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Host is the address in-process servers bind to.
	Host string `json:"host,omitempty" yaml:"host,omitempty"`

	// Target points at an external server. Servers must be empty when it is
	// set.
	Target *Target `json:"target,omitempty" yaml:"target,omitempty"`

	Servers    []ServerSpec    `json:"servers,omitempty" yaml:"servers,omitempty"`
	Benchmarks []BenchmarkSpec `json:"benchmarks" yaml:"benchmarks"`

	// Output is a results file written after the run.
	Output string `json:"output,omitempty" yaml:"output,omitempty"`

	// Database is an SQLite file the results are appended to.
	Database string `json:"database,omitempty" yaml:"database,omitempty"`
}

// Target is an external server.
type Target struct {
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// ServerSpec describes an in-process hello server.
type ServerSpec struct {
	Name      string   `json:"name" yaml:"name"`
	Mode      string   `json:"mode,omitempty" yaml:"mode,omitempty"`
	Procs     int      `json:"procs,omitempty" yaml:"procs,omitempty"`
	Listeners int      `json:"listeners,omitempty" yaml:"listeners,omitempty"`
	Timeout   Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// BenchmarkSpec describes one load generator run.
type BenchmarkSpec struct {
	Name    string `json:"name" yaml:"name"`
	Kind    Kind   `json:"kind" yaml:"kind"`
	Workers int    `json:"workers,omitempty" yaml:"workers,omitempty"`
	Conns   int    `json:"conns,omitempty" yaml:"conns,omitempty"`
	Reqs    int    `json:"reqs,omitempty" yaml:"reqs,omitempty"`

	// Delay applies to latency benchmarks. Nil means 1ms.
	Delay *Duration `json:"delay,omitempty" yaml:"delay,omitempty"`

	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Ranked applies to latency benchmarks. Nil means
	// metrics.DefaultRankedSamples; 0 lists no ranked samples.
	Ranked *int `json:"ranked,omitempty" yaml:"ranked,omitempty"`
}

// ApplyDefaults fills in every field left empty.
func (s *Suite) ApplyDefaults() {
	if s.Host == "" {
		s.Host = DefaultHost
	}
	for i := range s.Servers {
		sv := &s.Servers[i]
		if sv.Mode == "" {
			sv.Mode = string(server.ModeGoroutine)
		}
		if sv.Listeners == 0 {
			sv.Listeners = 1
		}
	}
	for i := range s.Benchmarks {
		b := &s.Benchmarks[i]
		if b.Workers == 0 {
			b.Workers = 1
		}
		if b.Conns == 0 {
			b.Conns = 1
		}
		if b.Reqs == 0 {
			b.Reqs = 1
		}
		if b.Kind == KindLatency {
			if b.Delay == nil {
				d := Duration(time.Millisecond)
				b.Delay = &d
			}
			if b.Ranked == nil {
				n := metrics.DefaultRankedSamples
				b.Ranked = &n
			}
		}
	}
}

// ServerConfig converts sv into a server configuration listening on an
// ephemeral port of host.
func (sv ServerSpec) ServerConfig(host string) server.Config {
	mode, _ := server.ParseMode(sv.Mode)

	cfg := server.DefaultConfig()
	cfg.Host = host
	cfg.Port = 0
	cfg.Mode = mode
	cfg.Procs = sv.Procs
	cfg.Listeners = sv.Listeners
	cfg.Timeout = time.Duration(sv.Timeout)
	return cfg
}

// ThroughputConfig converts b into a throughput run against host:port.
func (b BenchmarkSpec) ThroughputConfig(host string, port int) bench.ThroughputConfig {
	return bench.ThroughputConfig{
		Host:    host,
		Port:    port,
		Workers: b.Workers,
		Conns:   b.Conns,
		Reqs:    b.Reqs,
		Timeout: time.Duration(b.Timeout),
	}
}

// LatencyConfig converts b into a latency run against host:port.
func (b BenchmarkSpec) LatencyConfig(host string, port int) bench.LatencyConfig {
	cfg := bench.LatencyConfig{
		ThroughputConfig: b.ThroughputConfig(host, port),
		Delay:            time.Millisecond,
		Ranked:           metrics.DefaultRankedSamples,
	}
	if b.Delay != nil {
		cfg.Delay = time.Duration(*b.Delay)
	}
	if b.Ranked != nil {
		cfg.Ranked = *b.Ranked
	}
	return cfg
}
