package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/patrykstefanski/async-bench/internal/metrics"
	"github.com/patrykstefanski/async-bench/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "results.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func makeTestResult(suite string, startedAt time.Time) *model.Result {
	return &model.Result{
		ID:        model.NewID(),
		Suite:     suite,
		Server:    "goroutine",
		Mode:      "goroutine",
		Benchmark: "tput",
		Kind:      model.KindThroughput,
		Workers:   2,
		Conns:     50,
		Reqs:      1000,
		Requests:  100000,
		Elapsed:   1500 * time.Millisecond,
		Rate:      66666.67,
		StartedAt: startedAt.UTC().Truncate(time.Second),
	}
}

func TestSaveAndGetResult(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := makeTestResult("suite", time.Now())

	if err := s.SaveResult(ctx, r); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	got, err := s.GetResult(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}

	if got.ID != r.ID {
		t.Errorf("ID = %q, want %q", got.ID, r.ID)
	}
	if got.Requests != r.Requests {
		t.Errorf("Requests = %d, want %d", got.Requests, r.Requests)
	}
	if got.Elapsed != r.Elapsed {
		t.Errorf("Elapsed = %v, want %v", got.Elapsed, r.Elapsed)
	}
	if got.Rate != r.Rate {
		t.Errorf("Rate = %v, want %v", got.Rate, r.Rate)
	}
	if !got.StartedAt.Equal(r.StartedAt) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, r.StartedAt)
	}
	if got.Latency != nil {
		t.Errorf("Latency = %+v, want nil", got.Latency)
	}
}

func TestSaveResultWithLatencyReport(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	samples := []time.Duration{30 * time.Microsecond, 10 * time.Microsecond, 20 * time.Microsecond}
	report, err := metrics.NewLatencyReport(samples, 2)
	if err != nil {
		t.Fatal(err)
	}

	r := makeTestResult("suite", time.Now())
	r.Kind = model.KindLatency
	r.Delay = time.Millisecond
	r.Latency = report

	if err := s.SaveResult(ctx, r); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	got, err := s.GetResult(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if got.Delay != time.Millisecond {
		t.Errorf("Delay = %v, want 1ms", got.Delay)
	}
	if got.Latency == nil {
		t.Fatal("Latency = nil")
	}
	if got.Latency.Median != 20*time.Microsecond {
		t.Errorf("Latency.Median = %v, want 20µs", got.Latency.Median)
	}
	if len(got.Latency.Worst) != 2 || got.Latency.Worst[0] != 30*time.Microsecond {
		t.Errorf("Latency.Worst = %v", got.Latency.Worst)
	}
}

func TestSaveResultDuplicateID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := makeTestResult("suite", time.Now())

	if err := s.SaveResult(ctx, r); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}
	if err := s.SaveResult(ctx, r); err == nil {
		t.Error("second SaveResult with the same ID succeeded")
	}
}

func TestGetResultNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetResult(context.Background(), "nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetResult error = %v, want ErrNotFound", err)
	}
}

func TestListResults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		r := makeTestResult("a", base.Add(time.Duration(i)*time.Minute))
		if err := s.SaveResult(ctx, r); err != nil {
			t.Fatalf("SaveResult: %v", err)
		}
	}
	if err := s.SaveResult(ctx, makeTestResult("b", base)); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	all, err := s.ListResults(ctx, "", 0)
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(all) != 6 {
		t.Errorf("len(all) = %d, want 6", len(all))
	}

	got, err := s.ListResults(ctx, "a", 3)
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len(got) = %d, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].StartedAt.After(got[i-1].StartedAt) {
			t.Errorf("results not ordered newest first: %v after %v", got[i].StartedAt, got[i-1].StartedAt)
		}
	}
	for _, r := range got {
		if r.Suite != "a" {
			t.Errorf("Suite = %q, want a", r.Suite)
		}
	}

	none, err := s.ListResults(ctx, "missing", 10)
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("len(none) = %d, want 0", len(none))
	}
}
