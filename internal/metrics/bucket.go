package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
)

// TimeBucketStore keeps the most recent maxBuckets buckets in FIFO order,
// discarding the oldest once full. Request counts for the current interval
// are accumulated with atomics so recording never takes the lock.
type TimeBucketStore struct {
	mu         sync.RWMutex
	buckets    *queue.Queue
	maxBuckets int

	lastBucketTime time.Time

	currentRequests  atomic.Int64
	currentSuccesses atomic.Int64
	currentFailures  atomic.Int64
}

// NewTimeBucketStore creates a store retaining at most maxBuckets buckets.
// A non-positive value means one hour of one-second buckets.
func NewTimeBucketStore(maxBuckets int) *TimeBucketStore {
	if maxBuckets <= 0 {
		maxBuckets = 3600
	}

	return &TimeBucketStore{
		buckets:        queue.New(),
		maxBuckets:     maxBuckets,
		lastBucketTime: time.Now(),
	}
}

// RecordRequest adds one request to the current interval.
func (tbs *TimeBucketStore) RecordRequest(success bool) {
	tbs.currentRequests.Add(1)
	if success {
		tbs.currentSuccesses.Add(1)
	} else {
		tbs.currentFailures.Add(1)
	}
}

// CreateBucket closes the current interval and appends a bucket for it.
func (tbs *TimeBucketStore) CreateBucket(
	totalRequests, totalSuccesses, totalFailures, totalBytes int64,
	latencies LatencyPercentiles,
	activeConns int,
	phase Phase,
) *TimeBucket {
	tbs.mu.Lock()
	defer tbs.mu.Unlock()

	now := time.Now()

	intervalRequests := tbs.currentRequests.Swap(0)
	tbs.currentSuccesses.Swap(0)
	intervalFailures := tbs.currentFailures.Swap(0)

	seconds := now.Sub(tbs.lastBucketTime).Seconds()
	if seconds <= 0 {
		seconds = 1
	}
	tbs.lastBucketTime = now

	errorRate := 0.0
	if intervalRequests > 0 {
		errorRate = float64(intervalFailures) / float64(intervalRequests)
	}

	bucket := &TimeBucket{
		Timestamp:         now,
		TotalRequests:     totalRequests,
		TotalSuccesses:    totalSuccesses,
		TotalFailures:     totalFailures,
		TotalBytes:        totalBytes,
		IntervalRequests:  intervalRequests,
		IntervalRPS:       float64(intervalRequests) / seconds,
		IntervalErrorRate: errorRate,
		Latency:           latencies,
		ActiveConns:       activeConns,
		Phase:             phase,
	}

	tbs.buckets.Add(bucket)
	for tbs.buckets.Length() > tbs.maxBuckets {
		tbs.buckets.Remove()
	}

	return bucket
}

// GetBuckets returns the retained buckets, oldest first.
func (tbs *TimeBucketStore) GetBuckets() []*TimeBucket {
	tbs.mu.RLock()
	defer tbs.mu.RUnlock()

	n := tbs.buckets.Length()
	result := make([]*TimeBucket, 0, n)
	for i := 0; i < n; i++ {
		result = append(result, tbs.buckets.Get(i).(*TimeBucket))
	}
	return result
}

// Latest returns the most recent bucket or nil.
func (tbs *TimeBucketStore) Latest() *TimeBucket {
	tbs.mu.RLock()
	defer tbs.mu.RUnlock()

	if tbs.buckets.Length() == 0 {
		return nil
	}
	return tbs.buckets.Get(-1).(*TimeBucket)
}

// Len returns the number of retained buckets.
func (tbs *TimeBucketStore) Len() int {
	tbs.mu.RLock()
	defer tbs.mu.RUnlock()
	return tbs.buckets.Length()
}

// CalculateSteadyStateRPS averages the interval rate over the buckets emitted
// in PhaseMeasure. It returns the average and the number of buckets used.
func (tbs *TimeBucketStore) CalculateSteadyStateRPS() (float64, int) {
	tbs.mu.RLock()
	defer tbs.mu.RUnlock()

	var sum float64
	var count int
	for i := 0; i < tbs.buckets.Length(); i++ {
		b := tbs.buckets.Get(i).(*TimeBucket)
		if b.Phase != PhaseMeasure {
			continue
		}
		sum += b.IntervalRPS
		count++
	}

	if count == 0 {
		return 0, 0
	}
	return sum / float64(count), count
}

// Reset drops all buckets and pending interval counts.
func (tbs *TimeBucketStore) Reset() {
	tbs.mu.Lock()
	defer tbs.mu.Unlock()

	tbs.buckets = queue.New()
	tbs.lastBucketTime = time.Now()
	tbs.currentRequests.Store(0)
	tbs.currentSuccesses.Store(0)
	tbs.currentFailures.Store(0)
}
