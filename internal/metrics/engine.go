package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Engine collects live metrics of a run.
//
// Counters are atomics. The latency histogram is an HDR histogram guarded by
// a mutex because RecordValue is not safe for concurrent use. A background
// emitter closes a time bucket every BucketInterval, even when nothing
// completed during the interval.
type Engine struct {
	// Values are nanoseconds.
	latencyHist   *hdrhistogram.Histogram
	latencyHistMu sync.Mutex

	totalRequests   atomic.Int64
	successRequests atomic.Int64
	failedRequests  atomic.Int64
	totalBytes      atomic.Int64

	activeConns atomic.Int32

	bucketStore *TimeBucketStore

	phaseMu      sync.RWMutex
	currentPhase Phase
	phaseHistory []PhaseChange
	startTime    time.Time

	emitterCancel context.CancelFunc
	emitterWg     sync.WaitGroup
	stopOnce      sync.Once

	config EngineConfig
}

// EngineConfig contains configuration for the metrics engine.
type EngineConfig struct {
	// BucketInterval is the time-series resolution (default: 1s).
	BucketInterval time.Duration

	// MaxBuckets is the number of buckets retained (default: 3600).
	MaxBuckets int

	// HistogramMin is the lowest recordable latency in nanoseconds (default: 1).
	HistogramMin int64

	// HistogramMax is the highest recordable latency in nanoseconds (default: 1 hour).
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3).
	HistogramSigFigs int
}

// DefaultEngineConfig returns the default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BucketInterval:   time.Second,
		MaxBuckets:       3600,
		HistogramMin:     1,
		HistogramMax:     int64(time.Hour),
		HistogramSigFigs: 3,
	}
}

// PhaseChange records when a phase transition occurred.
type PhaseChange struct {
	Phase     Phase     `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
	Requests  int64     `json:"requests"`
}

// NewEngine creates an engine with the default configuration.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig())
}

// NewEngineWithConfig creates an engine and starts its emitter. Call Stop to
// release the emitter goroutine.
func NewEngineWithConfig(config EngineConfig) *Engine {
	def := DefaultEngineConfig()
	if config.BucketInterval <= 0 {
		config.BucketInterval = def.BucketInterval
	}
	if config.HistogramMin <= 0 {
		config.HistogramMin = def.HistogramMin
	}
	if config.HistogramMax <= config.HistogramMin {
		config.HistogramMax = def.HistogramMax
	}
	if config.HistogramSigFigs < 1 || config.HistogramSigFigs > 5 {
		config.HistogramSigFigs = def.HistogramSigFigs
	}

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		latencyHist:   hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		bucketStore:   NewTimeBucketStore(config.MaxBuckets),
		currentPhase:  PhaseInit,
		startTime:     time.Now(),
		emitterCancel: cancel,
		config:        config,
	}

	e.emitterWg.Add(1)
	go e.runEmitter(ctx)

	return e
}

// RecordLatency records one completed exchange with its latency.
func (e *Engine) RecordLatency(d time.Duration, success bool, bytes int64) {
	v := int64(d)
	if v < e.config.HistogramMin {
		v = e.config.HistogramMin
	}
	if v > e.config.HistogramMax {
		v = e.config.HistogramMax
	}

	e.latencyHistMu.Lock()
	_ = e.latencyHist.RecordValue(v)
	e.latencyHistMu.Unlock()

	e.RecordRequest(success, bytes)
}

// RecordRequest counts one completed exchange without timing it. It never
// blocks, which keeps it out of the way of throughput runs.
func (e *Engine) RecordRequest(success bool, bytes int64) {
	e.totalRequests.Add(1)
	e.totalBytes.Add(bytes)
	if success {
		e.successRequests.Add(1)
	} else {
		e.failedRequests.Add(1)
	}
	e.bucketStore.RecordRequest(success)
}

// SetPhase records a phase transition. Setting the current phase again is a
// no-op. Entering PhaseMeasure restarts the elapsed clock.
func (e *Engine) SetPhase(phase Phase) {
	e.phaseMu.Lock()
	defer e.phaseMu.Unlock()

	if e.currentPhase == phase {
		return
	}

	now := time.Now()
	e.currentPhase = phase
	e.phaseHistory = append(e.phaseHistory, PhaseChange{
		Phase:     phase,
		Timestamp: now,
		Requests:  e.totalRequests.Load(),
	})
	if phase == PhaseMeasure {
		e.startTime = now
	}
}

// GetPhase returns the current phase.
func (e *Engine) GetPhase() Phase {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()
	return e.currentPhase
}

// SetActiveConns updates the open connection count.
func (e *Engine) SetActiveConns(n int) {
	e.activeConns.Store(int32(n))
}

// AddActiveConns adjusts the open connection count by delta.
func (e *Engine) AddActiveConns(delta int) {
	e.activeConns.Add(int32(delta))
}

// GetActiveConns returns the open connection count.
func (e *Engine) GetActiveConns() int {
	return int(e.activeConns.Load())
}

func (e *Engine) runEmitter(ctx context.Context) {
	defer e.emitterWg.Done()

	ticker := time.NewTicker(e.config.BucketInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.emitBucket()
		}
	}
}

func (e *Engine) emitBucket() {
	e.bucketStore.CreateBucket(
		e.totalRequests.Load(),
		e.successRequests.Load(),
		e.failedRequests.Load(),
		e.totalBytes.Load(),
		e.GetLatencyPercentiles(),
		e.GetActiveConns(),
		e.GetPhase(),
	)
}

// GetLatencyPercentiles returns the current latency percentiles.
func (e *Engine) GetLatencyPercentiles() LatencyPercentiles {
	e.latencyHistMu.Lock()
	defer e.latencyHistMu.Unlock()

	return LatencyPercentiles{
		Min: time.Duration(e.latencyHist.Min()),
		Max: time.Duration(e.latencyHist.Max()),
		P50: time.Duration(e.latencyHist.ValueAtQuantile(50)),
		P90: time.Duration(e.latencyHist.ValueAtQuantile(90)),
		P95: time.Duration(e.latencyHist.ValueAtQuantile(95)),
		P99: time.Duration(e.latencyHist.ValueAtQuantile(99)),
	}
}

// GetSnapshot returns a point-in-time view of all metrics.
func (e *Engine) GetSnapshot() *Snapshot {
	e.latencyHistMu.Lock()
	latency := LatencyStats{
		Min:    time.Duration(e.latencyHist.Min()),
		Max:    time.Duration(e.latencyHist.Max()),
		Mean:   time.Duration(e.latencyHist.Mean()),
		StdDev: time.Duration(e.latencyHist.StdDev()),
		P50:    time.Duration(e.latencyHist.ValueAtQuantile(50)),
		P90:    time.Duration(e.latencyHist.ValueAtQuantile(90)),
		P95:    time.Duration(e.latencyHist.ValueAtQuantile(95)),
		P99:    time.Duration(e.latencyHist.ValueAtQuantile(99)),
		Count:  e.latencyHist.TotalCount(),
	}
	e.latencyHistMu.Unlock()

	e.phaseMu.RLock()
	start := e.startTime
	phase := e.currentPhase
	e.phaseMu.RUnlock()

	elapsed := time.Since(start)
	total := e.totalRequests.Load()
	failed := e.failedRequests.Load()

	overallRPS := 0.0
	if elapsed > 0 {
		overallRPS = float64(total) / elapsed.Seconds()
	}

	currentRPS := overallRPS
	if latest := e.bucketStore.Latest(); latest != nil {
		currentRPS = latest.IntervalRPS
	}

	steadyRPS, _ := e.bucketStore.CalculateSteadyStateRPS()

	errorRate := 0.0
	if total > 0 {
		errorRate = float64(failed) / float64(total)
	}

	return &Snapshot{
		TotalRequests:   total,
		SuccessRequests: e.successRequests.Load(),
		FailedRequests:  failed,
		TotalBytes:      e.totalBytes.Load(),
		Latency:         latency,
		RPS:             overallRPS,
		CurrentRPS:      currentRPS,
		SteadyStateRPS:  steadyRPS,
		ErrorRate:       errorRate,
		ActiveConns:     e.GetActiveConns(),
		CurrentPhase:    phase,
		Elapsed:         elapsed,
		StartTime:       start,
		Timestamp:       time.Now(),
	}
}

// GetTimeSeries returns the retained time buckets, oldest first.
func (e *Engine) GetTimeSeries() []*TimeBucket {
	return e.bucketStore.GetBuckets()
}

// GetPhaseHistory returns a copy of the phase transitions.
func (e *Engine) GetPhaseHistory() []PhaseChange {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()

	result := make([]PhaseChange, len(e.phaseHistory))
	copy(result, e.phaseHistory)
	return result
}

// Stop stops the emitter and emits a final bucket. It is safe to call more
// than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.emitterCancel()
		e.emitterWg.Wait()
		e.emitBucket()
	})
}

// Reset clears all metrics. The emitter keeps running.
func (e *Engine) Reset() {
	e.latencyHistMu.Lock()
	e.latencyHist.Reset()
	e.latencyHistMu.Unlock()

	e.totalRequests.Store(0)
	e.successRequests.Store(0)
	e.failedRequests.Store(0)
	e.totalBytes.Store(0)
	e.activeConns.Store(0)

	e.phaseMu.Lock()
	e.currentPhase = PhaseInit
	e.phaseHistory = nil
	e.startTime = time.Now()
	e.phaseMu.Unlock()

	e.bucketStore.Reset()
}

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	TotalRequests   int64         `json:"totalRequests"`
	SuccessRequests int64         `json:"successRequests"`
	FailedRequests  int64         `json:"failedRequests"`
	TotalBytes      int64         `json:"totalBytes"`
	Latency         LatencyStats  `json:"latency"`
	RPS             float64       `json:"rps"`
	CurrentRPS      float64       `json:"currentRps"`
	SteadyStateRPS  float64       `json:"steadyStateRps"`
	ErrorRate       float64       `json:"errorRate"`
	ActiveConns     int           `json:"activeConns"`
	CurrentPhase    Phase         `json:"currentPhase"`
	Elapsed         time.Duration `json:"elapsed"`
	StartTime       time.Time     `json:"startTime"`
	Timestamp       time.Time     `json:"timestamp"`
}

// LatencyStats contains histogram latency statistics.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}
