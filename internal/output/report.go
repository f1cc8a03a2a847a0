package output

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/wesleyorama2/riposte/internal/loadtest"
	"github.com/wesleyorama2/riposte/internal/loadtest/metrics"
)

// Report is the JSON shape written by WriteReport.
type Report struct {
	RunID     string    `json:"run_id"`
	Name      string    `json:"name"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Duration  string    `json:"duration"`

	Summary struct {
		TotalRequests  int64   `json:"total_requests"`
		FailedRequests int64   `json:"failed_requests"`
		ErrorRate      float64 `json:"error_rate"`
		RPS            float64 `json:"requests_per_second"`
		LatencyMs      latency `json:"latency_ms"`
	} `json:"summary"`

	Steps map[string]stepReport `json:"steps"`

	Verdict struct {
		Passed     bool     `json:"passed"`
		Violations []string `json:"violations,omitempty"`
	} `json:"verdict"`
}

type latency struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
	P50  float64 `json:"p50"`
	P95  float64 `json:"p95"`
	P99  float64 `json:"p99"`
}

type stepReport struct {
	Count     int64   `json:"count"`
	Failures  int64   `json:"failures"`
	LatencyMs latency `json:"latency_ms"`
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}

func latencyOf(stats metrics.LatencyStats) latency {
	return latency{
		Min:  millis(stats.Min),
		Max:  millis(stats.Max),
		Mean: millis(stats.Mean),
		P50:  millis(stats.P50),
		P95:  millis(stats.P95),
		P99:  millis(stats.P99),
	}
}

// BuildReport converts a run result into the exportable report shape.
func BuildReport(result *loadtest.RunResult) *Report {
	r := &Report{
		RunID:     result.ID,
		Name:      result.Name,
		StartTime: result.StartTime,
		EndTime:   result.EndTime,
		Duration:  result.Duration.String(),
		Steps:     make(map[string]stepReport),
	}

	snap := result.Metrics
	if snap != nil {
		r.Summary.TotalRequests = snap.TotalRequests
		r.Summary.FailedRequests = snap.FailedRequests
		r.Summary.ErrorRate = snap.ErrorRate
		r.Summary.RPS = snap.RPS
		r.Summary.LatencyMs = latencyOf(snap.Latency)

		for step, stats := range snap.Steps {
			r.Steps[step] = stepReport{
				Count:     stats.Count,
				Failures:  stats.Failures,
				LatencyMs: latencyOf(stats),
			}
		}
	}

	r.Verdict.Passed = result.Verdict.Passed
	for _, v := range result.Verdict.Violations {
		r.Verdict.Violations = append(r.Verdict.Violations, v.Message)
	}

	return r
}

// WriteReport writes the run result as indented JSON to path.
func WriteReport(result *loadtest.RunResult, path string) error {
	data, err := json.MarshalIndent(BuildReport(result), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}
