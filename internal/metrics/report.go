package metrics

import (
	"errors"
	"math"
	"slices"
	"time"
)

// DefaultRankedSamples is how many best and worst latencies a report lists.
const DefaultRankedSamples = 10

var (
	// ErrNoSamples is returned when a report is requested for an empty sample.
	ErrNoSamples = errors.New("no latency samples")

	// ErrMeanOverflow is returned when the latency sum does not fit in int64.
	ErrMeanOverflow = errors.New("overflow in the calculation of mean")

	// ErrQuantileOverflow is returned when a quantile index does not fit in int.
	ErrQuantileOverflow = errors.New("overflow in the calculation of quantiles")
)

// LatencyReport is the exact latency summary of a run. Quantile q of n sorted
// samples is the sample at index n*q, truncated.
type LatencyReport struct {
	Count  int           `json:"count" yaml:"count"`
	Mean   time.Duration `json:"mean" yaml:"mean"`
	Min    time.Duration `json:"min" yaml:"min"`
	Max    time.Duration `json:"max" yaml:"max"`
	Median time.Duration `json:"median" yaml:"median"`
	Q90    time.Duration `json:"q0_9" yaml:"q0_9"`
	Q95    time.Duration `json:"q0_95" yaml:"q0_95"`
	Q99    time.Duration `json:"q0_99" yaml:"q0_99"`
	Q995   time.Duration `json:"q0_995" yaml:"q0_995"`
	Q999   time.Duration `json:"q0_999" yaml:"q0_999"`
	Q9995  time.Duration `json:"q0_9995" yaml:"q0_9995"`
	Q9999  time.Duration `json:"q0_9999" yaml:"q0_9999"`

	// Best holds the lowest latencies in ascending order, Worst the highest
	// in descending order.
	Best  []time.Duration `json:"best" yaml:"best"`
	Worst []time.Duration `json:"worst" yaml:"worst"`
}

// NewLatencyReport computes a report from samples, listing up to ranked best
// and worst samples. samples is sorted in place.
func NewLatencyReport(samples []time.Duration, ranked int) (*LatencyReport, error) {
	n := len(samples)
	if n == 0 {
		return nil, ErrNoSamples
	}

	if n > math.MaxInt/9999 {
		return nil, ErrQuantileOverflow
	}

	var sum int64
	for _, s := range samples {
		if sum > math.MaxInt64-int64(s) {
			return nil, ErrMeanOverflow
		}
		sum += int64(s)
	}

	slices.Sort(samples)

	if ranked < 0 {
		ranked = 0
	}
	if ranked > n {
		ranked = n
	}

	best := make([]time.Duration, ranked)
	copy(best, samples[:ranked])

	worst := make([]time.Duration, ranked)
	for i := 0; i < ranked; i++ {
		worst[i] = samples[n-i-1]
	}

	return &LatencyReport{
		Count:  n,
		Mean:   time.Duration(sum / int64(n)),
		Min:    samples[0],
		Max:    samples[n-1],
		Median: samples[n/2],
		Q90:    quantile(samples, 9, 10),
		Q95:    quantile(samples, 95, 100),
		Q99:    quantile(samples, 99, 100),
		Q995:   quantile(samples, 995, 1000),
		Q999:   quantile(samples, 999, 1000),
		Q9995:  quantile(samples, 9995, 10000),
		Q9999:  quantile(samples, 9999, 10000),
		Best:   best,
		Worst:  worst,
	}, nil
}

// quantile returns sorted[len*num/den].
func quantile(sorted []time.Duration, num, den int) time.Duration {
	return sorted[len(sorted)*num/den]
}
