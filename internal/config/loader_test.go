package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/patrykstefanski/async-bench/internal/server"
)

const yamlSuite = `
name: runtimes
description: goroutine vs reactor
servers:
  - name: goroutine
  - name: goroutine-timeout
    timeout: 5s
  - name: prefork
    listeners: 4
  - name: reactor
    mode: reactor
    procs: 2
benchmarks:
  - name: tput
    kind: throughput
    workers: 2
    conns: 50
    reqs: 1000
  - name: lat
    kind: latency
    conns: 10
    reqs: 100
output: results.json
`

func TestParseSuite_YAML(t *testing.T) {
	suite, err := ParseSuite([]byte(yamlSuite), "suite.yaml")
	if err != nil {
		t.Fatalf("ParseSuite() error = %v", err)
	}

	if suite.Name != "runtimes" {
		t.Errorf("Name = %q, want runtimes", suite.Name)
	}
	if suite.Host != DefaultHost {
		t.Errorf("Host = %q, want default %q", suite.Host, DefaultHost)
	}
	if len(suite.Servers) != 4 {
		t.Fatalf("len(Servers) = %d, want 4", len(suite.Servers))
	}
	if suite.Servers[0].Mode != string(server.ModeGoroutine) || suite.Servers[0].Listeners != 1 {
		t.Errorf("Servers[0] = %+v, want goroutine mode with one listener", suite.Servers[0])
	}
	if got := time.Duration(suite.Servers[1].Timeout); got != 5*time.Second {
		t.Errorf("Servers[1].Timeout = %v, want 5s", got)
	}
	if suite.Servers[2].Listeners != 4 {
		t.Errorf("Servers[2].Listeners = %d, want 4", suite.Servers[2].Listeners)
	}

	tput := suite.Benchmarks[0]
	if tput.Kind != KindThroughput || tput.Workers != 2 || tput.Conns != 50 || tput.Reqs != 1000 {
		t.Errorf("Benchmarks[0] = %+v", tput)
	}
	if tput.Delay != nil {
		t.Errorf("throughput benchmark got a delay: %v", *tput.Delay)
	}

	lat := suite.Benchmarks[1]
	if lat.Workers != 1 {
		t.Errorf("Benchmarks[1].Workers = %d, want default 1", lat.Workers)
	}
	if lat.Delay == nil || time.Duration(*lat.Delay) != time.Millisecond {
		t.Errorf("Benchmarks[1].Delay = %v, want default 1ms", lat.Delay)
	}
	if lat.Ranked == nil || *lat.Ranked != 10 {
		t.Errorf("Benchmarks[1].Ranked = %v, want default 10", lat.Ranked)
	}
	if suite.Output != "results.json" {
		t.Errorf("Output = %q, want results.json", suite.Output)
	}
}

func TestParseSuite_JSON(t *testing.T) {
	data := `{
  "name": "external",
  "target": {"host": "10.0.0.7", "port": 9000},
  "benchmarks": [
    {"name": "lat", "kind": "latency", "delay": "0s", "ranked": 5}
  ]
}`

	suite, err := ParseSuite([]byte(data), "suite.json")
	if err != nil {
		t.Fatalf("ParseSuite() error = %v", err)
	}

	if suite.Target == nil || suite.Target.Host != "10.0.0.7" || suite.Target.Port != 9000 {
		t.Errorf("Target = %+v", suite.Target)
	}

	cfg := suite.Benchmarks[0].LatencyConfig(suite.Target.Host, suite.Target.Port)
	if cfg.Delay != 0 {
		t.Errorf("Delay = %v, want explicit 0", cfg.Delay)
	}
	if cfg.Ranked != 5 {
		t.Errorf("Ranked = %d, want 5", cfg.Ranked)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("LatencyConfig.Validate() error = %v", err)
	}
}

func TestParseSuite_ExplicitZeroRanked(t *testing.T) {
	data := `
name: unranked
servers:
  - name: goroutine
benchmarks:
  - name: lat
    kind: latency
    ranked: 0
`
	suite, err := ParseSuite([]byte(data), "suite.yaml")
	if err != nil {
		t.Fatalf("ParseSuite() error = %v", err)
	}

	b := suite.Benchmarks[0]
	if b.Ranked == nil || *b.Ranked != 0 {
		t.Fatalf("Ranked = %v, want explicit 0", b.Ranked)
	}
	if cfg := b.LatencyConfig(DefaultHost, 8080); cfg.Ranked != 0 {
		t.Errorf("LatencyConfig().Ranked = %d, want 0", cfg.Ranked)
	}
}

func TestParseSuite_SchemaErrors(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		wantField string
	}{
		{
			name:      "missing benchmarks",
			data:      "name: x\nservers: [{name: a}]\n",
			wantField: "",
		},
		{
			name:      "unknown kind",
			data:      "name: x\nservers: [{name: a}]\nbenchmarks: [{name: b, kind: soak}]\n",
			wantField: "benchmarks[0].kind",
		},
		{
			name:      "zero conns",
			data:      "name: x\nservers: [{name: a}]\nbenchmarks: [{name: b, kind: throughput, conns: 0}]\n",
			wantField: "benchmarks[0].conns",
		},
		{
			name:      "bad duration",
			data:      "name: x\nservers: [{name: a, timeout: soon}]\nbenchmarks: [{name: b, kind: throughput}]\n",
			wantField: "servers[0].timeout",
		},
		{
			name:      "unknown field",
			data:      "name: x\nservers: [{name: a, threads: 4}]\nbenchmarks: [{name: b, kind: throughput}]\n",
			wantField: "servers[0]",
		},
		{
			name:      "hostname target",
			data:      "name: x\ntarget: {host: example.com, port: 80}\nbenchmarks: [{name: b, kind: throughput}]\n",
			wantField: "target.host",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSuite([]byte(tt.data), "suite.yaml")
			if err == nil {
				t.Fatal("ParseSuite() succeeded, want error")
			}

			var verrs *ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("error %T is not *ValidationErrors: %v", err, err)
			}
			found := false
			for _, e := range verrs.Errors {
				if e.Field == tt.wantField {
					found = true
				}
			}
			if !found {
				t.Errorf("no error on field %q in %v", tt.wantField, err)
			}
		})
	}
}

func TestParseSuite_InvalidSyntax(t *testing.T) {
	if _, err := ParseSuite([]byte("name: [unterminated"), "suite.yaml"); err == nil {
		t.Error("ParseSuite() succeeded on invalid YAML")
	}
	if _, err := ParseSuite([]byte(`{"name":`), "suite.json"); err == nil {
		t.Error("ParseSuite() succeeded on invalid JSON")
	}
}

func TestLoadSuite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "suite.yml")
	if err := os.WriteFile(path, []byte(yamlSuite), 0o644); err != nil {
		t.Fatal(err)
	}

	suite, err := LoadSuite(path)
	if err != nil {
		t.Fatalf("LoadSuite() error = %v", err)
	}
	if len(suite.Benchmarks) != 2 {
		t.Errorf("len(Benchmarks) = %d, want 2", len(suite.Benchmarks))
	}

	_, err = LoadSuite(filepath.Join(dir, "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "failed to read suite file") {
		t.Errorf("LoadSuite(missing) error = %v", err)
	}
}

func TestServerSpec_ServerConfig(t *testing.T) {
	sv := ServerSpec{Name: "r", Mode: "reactor", Procs: 4, Listeners: 1}
	cfg := sv.ServerConfig("127.0.0.1")

	if cfg.Mode != server.ModeReactor || cfg.Procs != 4 || cfg.Port != 0 {
		t.Errorf("ServerConfig() = %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("ServerConfig().Validate() error = %v", err)
	}
}

func TestInstancePath(t *testing.T) {
	tests := map[string]string{
		"":                   "",
		"/name":              "name",
		"/benchmarks/0/kind": "benchmarks[0].kind",
		"/servers/12":        "servers[12]",
		"/target/host":       "target.host",
	}
	for in, want := range tests {
		if got := instancePath(in); got != want {
			t.Errorf("instancePath(%q) = %q, want %q", in, got, want)
		}
	}
}
