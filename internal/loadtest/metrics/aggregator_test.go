package metrics

import (
	"fmt"
	"math"
	"sync"
	"testing"
	"time"
)

func TestAggregatorCounts(t *testing.T) {
	a := New()

	a.Record("upload", 10*time.Millisecond, true)
	a.Record("upload", 20*time.Millisecond, true)
	a.Record("upload", 30*time.Millisecond, false)
	a.Record("poll", 5*time.Millisecond, true)

	snap := a.Snapshot()

	if snap.TotalRequests != 4 {
		t.Errorf("TotalRequests = %d, want 4", snap.TotalRequests)
	}
	if snap.FailedRequests != 1 {
		t.Errorf("FailedRequests = %d, want 1", snap.FailedRequests)
	}
	if snap.ErrorRate != 0.25 {
		t.Errorf("ErrorRate = %f, want 0.25", snap.ErrorRate)
	}

	upload, ok := snap.Steps["upload"]
	if !ok {
		t.Fatal("no upload step in snapshot")
	}
	if upload.Count != 3 || upload.Failures != 1 {
		t.Errorf("upload count/failures = %d/%d, want 3/1", upload.Count, upload.Failures)
	}

	poll := snap.Steps["poll"]
	if poll.Count != 1 || poll.Failures != 0 {
		t.Errorf("poll count/failures = %d/%d, want 1/0", poll.Count, poll.Failures)
	}
}

func TestAggregatorPercentileAccuracy(t *testing.T) {
	a := New()

	// 1ms..100ms uniformly: p95 is 95ms, mean 50.5ms.
	for i := 1; i <= 100; i++ {
		a.Record("step", time.Duration(i)*time.Millisecond, true)
	}

	snap := a.Snapshot()

	p95 := snap.Latency.P95.Seconds() * 1000
	if math.Abs(p95-95) > 1 {
		t.Errorf("P95 = %.2fms, want 95ms within 1ms", p95)
	}

	mean := snap.Latency.Mean.Seconds() * 1000
	if math.Abs(mean-50.5) > 1 {
		t.Errorf("Mean = %.2fms, want 50.5ms within 1ms", mean)
	}

	if snap.Latency.Min < time.Millisecond || snap.Latency.Min > 2*time.Millisecond {
		t.Errorf("Min = %v, want ~1ms", snap.Latency.Min)
	}
	if snap.Latency.Max < 99*time.Millisecond || snap.Latency.Max > 101*time.Millisecond {
		t.Errorf("Max = %v, want ~100ms", snap.Latency.Max)
	}
}

func TestAggregatorErrorRateFromRawOutcomes(t *testing.T) {
	a := New()

	// 7 failures out of 200 raw outcomes.
	for i := 0; i < 200; i++ {
		a.Record("step", time.Millisecond, i >= 7)
	}

	snap := a.Snapshot()
	if want := 7.0 / 200.0; snap.ErrorRate != want {
		t.Errorf("ErrorRate = %f, want %f", snap.ErrorRate, want)
	}
}

func TestAggregatorClampsOutOfRange(t *testing.T) {
	a := New()

	a.Record("step", 0, true)
	a.Record("step", 2*time.Hour, true)

	snap := a.Snapshot()
	if snap.TotalRequests != 2 {
		t.Errorf("TotalRequests = %d, want 2", snap.TotalRequests)
	}
	if snap.Latency.Max > time.Hour+time.Minute {
		t.Errorf("Max = %v, want clamped near 1h", snap.Latency.Max)
	}
}

func TestAggregatorConcurrentRecord(t *testing.T) {
	a := New()

	const workers = 16
	const perWorker = 500

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			step := fmt.Sprintf("step-%d", w%4)
			for i := 0; i < perWorker; i++ {
				a.Record(step, time.Duration(i+1)*time.Microsecond, i%10 != 0)
			}
		}(w)
	}
	wg.Wait()

	snap := a.Snapshot()
	if want := int64(workers * perWorker); snap.TotalRequests != want {
		t.Errorf("TotalRequests = %d, want %d", snap.TotalRequests, want)
	}
	if want := int64(workers * perWorker / 10); snap.FailedRequests != want {
		t.Errorf("FailedRequests = %d, want %d", snap.FailedRequests, want)
	}
	if len(snap.Steps) != 4 {
		t.Errorf("steps = %d, want 4", len(snap.Steps))
	}
}

func TestSnapshotEmpty(t *testing.T) {
	a := New()
	snap := a.Snapshot()

	if snap.TotalRequests != 0 || snap.ErrorRate != 0 {
		t.Errorf("empty snapshot: total=%d rate=%f", snap.TotalRequests, snap.ErrorRate)
	}
	if snap.Latency.P95 != 0 {
		t.Errorf("empty P95 = %v, want 0", snap.Latency.P95)
	}
}
