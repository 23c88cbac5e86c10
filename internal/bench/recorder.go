package bench

import (
	"time"

	"github.com/patrykstefanski/async-bench/internal/metrics"
)

// Recorder receives every measured exchange of a run. *metrics.Engine
// implements it.
type Recorder interface {
	RecordLatency(d time.Duration, success bool, bytes int64)
	RecordRequest(success bool, bytes int64)
	SetPhase(phase metrics.Phase)
	AddActiveConns(delta int)
}

var _ Recorder = (*metrics.Engine)(nil)

type nopRecorder struct{}

func (nopRecorder) RecordLatency(time.Duration, bool, int64) {}
func (nopRecorder) RecordRequest(bool, int64)                {}
func (nopRecorder) SetPhase(metrics.Phase)                   {}
func (nopRecorder) AddActiveConns(int)                       {}
