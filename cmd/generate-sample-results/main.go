// Command generate-sample-results writes a results file with synthetic data,
// for trying out the report command without running a suite.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/patrykstefanski/async-bench/internal/metrics"
	"github.com/patrykstefanski/async-bench/internal/model"
	"github.com/patrykstefanski/async-bench/internal/store"
)

const sampleSuite = "sample"

func main() {
	outputPath := "sample-results.json"
	if len(os.Args) > 1 {
		outputPath = os.Args[1]
	}

	results, err := createSampleResults(time.Now().UTC())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := store.WriteJSON(outputPath, sampleSuite, results); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Sample results generated: %s\n", outputPath)
}

func createSampleResults(now time.Time) ([]*model.Result, error) {
	rng := rand.New(rand.NewSource(1))

	servers := []struct {
		name  string
		mode  string
		rate  float64
		base  time.Duration
		spike time.Duration
	}{
		{"goroutine", "goroutine", 182_340.51, 41 * time.Microsecond, 2 * time.Millisecond},
		{"prefork-4", "goroutine", 211_007.93, 37 * time.Microsecond, 3 * time.Millisecond},
		{"reactor-4", "reactor", 254_812.12, 29 * time.Microsecond, 1 * time.Millisecond},
	}

	var results []*model.Result
	for i, srv := range servers {
		started := now.Add(time.Duration(i*2) * time.Minute)

		const tputReqs = 64 * 10_000
		results = append(results, &model.Result{
			ID:        model.NewID(),
			Suite:     sampleSuite,
			Server:    srv.name,
			Mode:      srv.mode,
			Benchmark: "throughput-64",
			Kind:      model.KindThroughput,
			Workers:   4,
			Conns:     16,
			Reqs:      10_000,
			Requests:  tputReqs,
			Elapsed:   time.Duration(float64(tputReqs) / srv.rate * float64(time.Second)),
			Rate:      srv.rate,
			StartedAt: started,
		})

		samples := make([]time.Duration, 16*1000)
		for j := range samples {
			samples[j] = srv.base + time.Duration(rng.ExpFloat64()*float64(srv.base)/4)
			if rng.Intn(1000) == 0 {
				samples[j] += time.Duration(rng.Int63n(int64(srv.spike)))
			}
		}
		report, err := metrics.NewLatencyReport(samples, metrics.DefaultRankedSamples)
		if err != nil {
			return nil, err
		}

		elapsed := time.Duration(len(samples)/16) * (time.Millisecond + report.Mean)
		results = append(results, &model.Result{
			ID:        model.NewID(),
			Suite:     sampleSuite,
			Server:    srv.name,
			Mode:      srv.mode,
			Benchmark: "latency-16",
			Kind:      model.KindLatency,
			Workers:   1,
			Conns:     16,
			Reqs:      1000,
			Delay:     time.Millisecond,
			Requests:  len(samples),
			Elapsed:   elapsed,
			Rate:      float64(len(samples)) / elapsed.Seconds(),
			Latency:   report,
			StartedAt: started.Add(time.Minute),
		})
	}
	return results, nil
}
