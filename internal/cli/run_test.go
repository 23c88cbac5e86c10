package cli

import (
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrykstefanski/async-bench/internal/model"
	"github.com/patrykstefanski/async-bench/internal/store"
)

const testSuite = `
name: cli
servers:
  - name: goroutine
benchmarks:
  - name: tput
    kind: throughput
    conns: 2
    reqs: 10
  - name: lat
    kind: latency
    conns: 2
    reqs: 5
    delay: 0s
`

func writeSuite(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "suite.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunSuite(t *testing.T) {
	suitePath := writeSuite(t, testSuite)
	dir := t.TempDir()
	outPath := filepath.Join(dir, "results.json")
	dbPath := filepath.Join(dir, "results.db")

	stdout, stderr, err := executeCommand("run", "-f", suitePath, "-o", outPath, "--db", dbPath, "--pause", "0s", "-q", "--no-color")
	require.NoError(t, err)

	assert.Contains(t, stdout, "SERVER")
	assert.Contains(t, stdout, "goroutine")
	assert.Contains(t, stdout, "Highest rate:")
	assert.Contains(t, stderr, "goroutine/tput: 20 requests in")
	assert.Contains(t, stderr, "goroutine/lat: 10 requests in")

	f, err := store.ReadJSON(outPath)
	require.NoError(t, err)
	assert.Equal(t, "cli", f.Suite)
	require.Len(t, f.Results, 2)
	assert.Equal(t, "tput", f.Results[0].Benchmark)
	assert.Equal(t, "lat", f.Results[1].Benchmark)

	stdout, _, err = executeCommand("report", "--db", dbPath, "--suite", "cli", "--format", "json")
	require.NoError(t, err)

	var stored []*model.Result
	require.NoError(t, json.Unmarshal([]byte(stdout), &stored))
	assert.Len(t, stored, 2)

	stdout, _, err = executeCommand("report", outPath, "--field", "$.requests", "--field", "$.latency.count")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 3)
	assert.Regexp(t, `^SERVER\s+BENCHMARK\s+\$\.requests\s+\$\.latency\.count$`, lines[0])
	assert.Regexp(t, `^goroutine\s+tput\s+20\s+-$`, lines[1])
	assert.Regexp(t, `^goroutine\s+lat\s+10\s+10$`, lines[2])
}

func TestRunSuiteFormats(t *testing.T) {
	suitePath := writeSuite(t, testSuite)

	stdout, _, err := executeCommand("run", "-f", suitePath, "--format", "yaml", "--pause", "0s", "-q")
	require.NoError(t, err)
	assert.Contains(t, stdout, "benchmark: tput")
	assert.Contains(t, stdout, "kind: latency")

	_, _, err = executeCommand("run", "-f", suitePath, "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
}

func TestRunSuiteWithMetrics(t *testing.T) {
	suitePath := writeSuite(t, testSuite)

	stdout, stderr, err := executeCommand("run", "-f", suitePath, "--metrics-addr", "127.0.0.1:0", "--pause", "0s", "-q", "--no-color")
	require.NoError(t, err)
	assert.Contains(t, stderr, "Telemetry listening")
	assert.Contains(t, stdout, "goroutine")
}

func TestRunSuiteMetricsAddrInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	suitePath := writeSuite(t, testSuite)

	_, _, err = executeCommand("run", "-f", suitePath, "--metrics-addr", ln.Addr().String(), "--pause", "0s", "-q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen on "+ln.Addr().String())
}

func TestRunHelpListsFormats(t *testing.T) {
	stdout, _, err := executeCommand("run", "--help")
	require.NoError(t, err)
	assert.Contains(t, stdout, "(text, json, yaml, html)")
	assert.Contains(t, stdout, "--metrics-addr")

	stdout, _, err = executeCommand("report", "--help")
	require.NoError(t, err)
	assert.Contains(t, stdout, "(text, json, yaml, html)")
}

func TestRunRequiresConfig(t *testing.T) {
	_, _, err := executeCommand("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file is required")
}

func TestRunInvalidSuite(t *testing.T) {
	suitePath := writeSuite(t, "name: broken\nbenchmarks:\n  - name: x\n    kind: sprint\n")

	_, _, err := executeCommand("run", "-f", suitePath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "benchmarks[0].kind")
}

func TestReportRequiresSource(t *testing.T) {
	_, _, err := executeCommand("report")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "either --db or at least one results file is required")
}

func TestReportFilesFilterAndLimit(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.json")
	b := filepath.Join(dir, "b.json")

	require.NoError(t, store.WriteJSON(a, "nightly", []*model.Result{
		{ID: "1", Suite: "nightly", Server: "s1", Benchmark: "b1", Kind: model.KindThroughput, Rate: 10},
		{ID: "2", Suite: "nightly", Server: "s1", Benchmark: "b2", Kind: model.KindThroughput, Rate: 20},
	}))
	require.NoError(t, store.WriteJSON(b, "weekly", []*model.Result{
		{ID: "3", Suite: "weekly", Server: "s2", Benchmark: "b3", Kind: model.KindThroughput, Rate: 30},
	}))

	stdout, _, err := executeCommand("report", a, b, "--suite", "nightly", "--format", "json")
	require.NoError(t, err)
	var got []*model.Result
	require.NoError(t, json.Unmarshal([]byte(stdout), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)

	stdout, _, err = executeCommand("report", a, b, "--limit", "1", "--field", "$.id")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(stdout, "\n"))
}
