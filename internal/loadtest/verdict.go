package loadtest

import (
	"fmt"

	"github.com/wesleyorama2/riposte/internal/loadtest/metrics"
)

// ThresholdConfig holds the two pass/fail limits for a run. Loaded
// once before the run and read only by Evaluate at the end.
type ThresholdConfig struct {
	// P95LatencyMs is the maximum acceptable p95 latency across all
	// recorded requests, in milliseconds.
	P95LatencyMs float64

	// ErrorRate is the maximum acceptable failed/total fraction.
	ErrorRate float64
}

// Rule identifies a threshold rule.
type Rule string

const (
	RuleP95Latency Rule = "p95_latency"
	RuleErrorRate  Rule = "error_rate"
)

// Violation describes one rule a run exceeded.
type Violation struct {
	Rule    Rule    `json:"rule"`
	Limit   float64 `json:"limit"`
	Actual  float64 `json:"actual"`
	Message string  `json:"message"`
}

// Verdict is the advisory pass/fail judgment for a run. It never halts
// result collection.
type Verdict struct {
	Passed     bool        `json:"passed"`
	Violations []Violation `json:"violations,omitempty"`
}

// Evaluate compares final aggregated metrics against the thresholds.
// A zero limit disables its rule.
func Evaluate(snap *metrics.Snapshot, thresholds ThresholdConfig) Verdict {
	var violations []Violation

	if thresholds.P95LatencyMs > 0 {
		p95Ms := float64(snap.Latency.P95.Microseconds()) / 1000.0
		if p95Ms > thresholds.P95LatencyMs {
			violations = append(violations, Violation{
				Rule:    RuleP95Latency,
				Limit:   thresholds.P95LatencyMs,
				Actual:  p95Ms,
				Message: fmt.Sprintf("p95 response time %.2fms exceeds threshold %.2fms", p95Ms, thresholds.P95LatencyMs),
			})
		}
	}

	if thresholds.ErrorRate > 0 {
		if snap.ErrorRate > thresholds.ErrorRate {
			violations = append(violations, Violation{
				Rule:    RuleErrorRate,
				Limit:   thresholds.ErrorRate,
				Actual:  snap.ErrorRate,
				Message: fmt.Sprintf("error rate %.2f%% exceeds threshold %.2f%%", snap.ErrorRate*100, thresholds.ErrorRate*100),
			})
		}
	}

	return Verdict{Passed: len(violations) == 0, Violations: violations}
}
