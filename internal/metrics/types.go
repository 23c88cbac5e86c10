// Package metrics aggregates the measurements of a load-generator run.
//
// Engine keeps live counters and an HDR histogram for progress display and
// per-second time buckets. LatencyReport computes the exact quantile report
// from the full latency sample once a run is over.
package metrics

import "time"

// Phase is the stage a run is in.
type Phase string

const (
	PhaseInit    Phase = "init"
	PhaseConnect Phase = "connect"
	PhaseWarmup  Phase = "warmup"
	PhaseMeasure Phase = "measure"
	PhaseDone    Phase = "done"
)

// LatencyPercentiles is the compact latency view stored in every bucket.
type LatencyPercentiles struct {
	Min time.Duration `json:"min"`
	Max time.Duration `json:"max"`
	P50 time.Duration `json:"p50"`
	P90 time.Duration `json:"p90"`
	P95 time.Duration `json:"p95"`
	P99 time.Duration `json:"p99"`
}

// TimeBucket holds the metrics of one emission interval together with the
// running totals at the time it was emitted.
type TimeBucket struct {
	Timestamp time.Time `json:"timestamp"`

	TotalRequests  int64 `json:"totalRequests"`
	TotalSuccesses int64 `json:"totalSuccesses"`
	TotalFailures  int64 `json:"totalFailures"`
	TotalBytes     int64 `json:"totalBytes"`

	IntervalRequests  int64   `json:"intervalRequests"`
	IntervalRPS       float64 `json:"intervalRps"`
	IntervalErrorRate float64 `json:"intervalErrorRate"`

	Latency LatencyPercentiles `json:"latency"`

	ActiveConns int   `json:"activeConns"`
	Phase       Phase `json:"phase"`
}
