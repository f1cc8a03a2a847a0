package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/wesleyorama2/riposte/internal/loadtest"
	"github.com/wesleyorama2/riposte/internal/loadtest/metrics"
)

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Writer: &buf, NoColor: true})

	c.PrintSummary(sampleResult())
	out := buf.String()

	for _, want := range []string{
		"sample run",
		"Failed ✗",
		"Total Reqs:    100",
		"upload",
		"poll",
		"error rate 2.00% exceeds threshold 1.00%",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestPrintSummaryQuiet(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Writer: &buf, NoColor: true, Quiet: true})

	result := sampleResult()
	result.Verdict = loadtest.Verdict{Passed: true}
	c.PrintSummary(result)

	if got := strings.TrimSpace(buf.String()); got != "PASSED" {
		t.Errorf("quiet summary = %q, want PASSED", got)
	}
}

func TestPrintProgressLine(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Writer: &buf, NoColor: true})

	c.PrintProgress(&metrics.Snapshot{
		Elapsed:       3 * time.Second,
		ActiveVUs:     4,
		SpawnedVUs:    10,
		TotalRequests: 42,
		RPS:           14.0,
		Latency:       metrics.LatencyStats{P95: 120 * time.Millisecond},
	})

	out := buf.String()
	if !strings.Contains(out, "VUs: 4/10") || !strings.Contains(out, "Reqs: 42") {
		t.Errorf("progress line = %q", out)
	}
}

func TestOrderedSteps(t *testing.T) {
	steps := map[string]metrics.LatencyStats{
		"Poll":    {},
		"Upload":  {},
		"zcustom": {},
		"Acquire": {},
	}

	got := orderedSteps(steps)
	want := []string{"Acquire", "Upload", "Poll", "zcustom"}
	if len(got) != len(want) {
		t.Fatalf("orderedSteps = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("orderedSteps[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestFormatDurationShort(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{500 * time.Nanosecond, "0ms"},
		{800 * time.Microsecond, "800µs"},
		{250 * time.Millisecond, "250ms"},
		{2500 * time.Millisecond, "2.50s"},
	}
	for _, tt := range tests {
		if got := formatDurationShort(tt.d); got != tt.want {
			t.Errorf("formatDurationShort(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
