// Package metrics aggregates per-request outcomes from all virtual
// users into running counts and HDR-histogram latency percentiles.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Histogram range: 1 microsecond to 1 hour, 3 significant figures.
// Three significant figures keeps percentile error within 0.1%, well
// inside the 1% accuracy bound the verdict relies on.
const (
	histogramMin     = 1
	histogramMax     = 3600000000
	histogramSigFigs = 3
)

// Aggregator collects request outcomes concurrently from all virtual
// users. Counters are atomic; histograms are mutex-protected because
// hdrhistogram.RecordValue is not thread-safe.
type Aggregator struct {
	totalHist   *hdrhistogram.Histogram
	totalHistMu sync.Mutex

	steps   map[string]*stepAccumulator
	stepsMu sync.RWMutex

	totalRequests  atomic.Int64
	failedRequests atomic.Int64

	activeVUs  atomic.Int32
	spawnedVUs atomic.Int32

	startTime time.Time
}

type stepAccumulator struct {
	mu    sync.Mutex
	hist  *hdrhistogram.Histogram
	count int64
	fails int64
}

// New creates an empty aggregator; the run's elapsed clock starts now.
func New() *Aggregator {
	return &Aggregator{
		totalHist: hdrhistogram.New(histogramMin, histogramMax, histogramSigFigs),
		steps:     make(map[string]*stepAccumulator),
		startTime: time.Now(),
	}
}

// Record adds one outcome. Safe for concurrent use.
func (a *Aggregator) Record(step string, duration time.Duration, success bool) {
	micros := duration.Microseconds()
	if micros < histogramMin {
		micros = histogramMin
	}
	if micros > histogramMax {
		micros = histogramMax
	}

	a.totalHistMu.Lock()
	_ = a.totalHist.RecordValue(micros)
	a.totalHistMu.Unlock()

	acc := a.stepAccumulator(step)
	acc.mu.Lock()
	_ = acc.hist.RecordValue(micros)
	acc.count++
	if !success {
		acc.fails++
	}
	acc.mu.Unlock()

	a.totalRequests.Add(1)
	if !success {
		a.failedRequests.Add(1)
	}
}

func (a *Aggregator) stepAccumulator(step string) *stepAccumulator {
	a.stepsMu.RLock()
	acc, ok := a.steps[step]
	a.stepsMu.RUnlock()
	if ok {
		return acc
	}

	a.stepsMu.Lock()
	defer a.stepsMu.Unlock()
	if acc, ok = a.steps[step]; ok {
		return acc
	}
	acc = &stepAccumulator{hist: hdrhistogram.New(histogramMin, histogramMax, histogramSigFigs)}
	a.steps[step] = acc
	return acc
}

// SetActiveVUs updates the live virtual-user count.
func (a *Aggregator) SetActiveVUs(n int) {
	a.activeVUs.Store(int32(n))
}

// SetSpawnedVUs updates the total spawned virtual-user count.
func (a *Aggregator) SetSpawnedVUs(n int) {
	a.spawnedVUs.Store(int32(n))
}

// TotalRequests returns the running total outcome count.
func (a *Aggregator) TotalRequests() int64 {
	return a.totalRequests.Load()
}

// LatencyStats holds the latency distribution for one step or for the
// whole run.
type LatencyStats struct {
	Count    int64         `json:"count"`
	Failures int64         `json:"failures"`
	Min      time.Duration `json:"min"`
	Max      time.Duration `json:"max"`
	Mean     time.Duration `json:"mean"`
	P50      time.Duration `json:"p50"`
	P95      time.Duration `json:"p95"`
	P99      time.Duration `json:"p99"`
}

// Snapshot is a consistent (possibly slightly stale) view of all
// metrics, usable for periodic reporting or the final verdict.
type Snapshot struct {
	TotalRequests  int64                   `json:"totalRequests"`
	FailedRequests int64                   `json:"failedRequests"`
	ErrorRate      float64                 `json:"errorRate"`
	RPS            float64                 `json:"rps"`
	Latency        LatencyStats            `json:"latency"`
	Steps          map[string]LatencyStats `json:"steps"`
	ActiveVUs      int                     `json:"activeVUs"`
	SpawnedVUs     int                     `json:"spawnedVUs"`
	Elapsed        time.Duration           `json:"elapsed"`
	Timestamp      time.Time               `json:"timestamp"`
}

// Snapshot captures the current metrics.
func (a *Aggregator) Snapshot() *Snapshot {
	a.totalHistMu.Lock()
	total := statsFromHistogram(a.totalHist, 0)
	a.totalHistMu.Unlock()

	steps := make(map[string]LatencyStats)
	a.stepsMu.RLock()
	for name, acc := range a.steps {
		acc.mu.Lock()
		stats := statsFromHistogram(acc.hist, acc.fails)
		stats.Count = acc.count
		acc.mu.Unlock()
		steps[name] = stats
	}
	a.stepsMu.RUnlock()

	totalReqs := a.totalRequests.Load()
	failed := a.failedRequests.Load()
	total.Count = totalReqs
	total.Failures = failed

	errorRate := 0.0
	if totalReqs > 0 {
		errorRate = float64(failed) / float64(totalReqs)
	}

	elapsed := time.Since(a.startTime)
	rps := 0.0
	if elapsed.Seconds() > 0 {
		rps = float64(totalReqs) / elapsed.Seconds()
	}

	return &Snapshot{
		TotalRequests:  totalReqs,
		FailedRequests: failed,
		ErrorRate:      errorRate,
		RPS:            rps,
		Latency:        total,
		Steps:          steps,
		ActiveVUs:      int(a.activeVUs.Load()),
		SpawnedVUs:     int(a.spawnedVUs.Load()),
		Elapsed:        elapsed,
		Timestamp:      time.Now(),
	}
}

func statsFromHistogram(h *hdrhistogram.Histogram, fails int64) LatencyStats {
	if h.TotalCount() == 0 {
		return LatencyStats{Failures: fails}
	}
	return LatencyStats{
		Count:    h.TotalCount(),
		Failures: fails,
		Min:      time.Duration(h.Min()) * time.Microsecond,
		Max:      time.Duration(h.Max()) * time.Microsecond,
		Mean:     time.Duration(h.Mean()) * time.Microsecond,
		P50:      time.Duration(h.ValueAtQuantile(50)) * time.Microsecond,
		P95:      time.Duration(h.ValueAtQuantile(95)) * time.Microsecond,
		P99:      time.Duration(h.ValueAtQuantile(99)) * time.Microsecond,
	}
}
