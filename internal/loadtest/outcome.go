// Package loadtest implements the workflow load-testing engine:
// virtual users running a multi-phase batch workflow, a spawn-rate
// scheduler, credential bootstrap, a backoff poller, and threshold
// verdicts over aggregated metrics.
package loadtest

import (
	"time"

	"github.com/wesleyorama2/riposte/internal/batchapi"
)

// Step names the logical operation an outcome belongs to. Metrics are
// broken down by step.
type Step string

const (
	StepAcquire        Step = "Acquire"
	StepUpload         Step = "Upload"
	StepVerify         Step = "Verify"
	StepCreateJob      Step = "CreateJob"
	StepPoll           Step = "Poll"
	StepRetrieve       Step = "Retrieve"
	StepRetrieveErrors Step = "RetrieveErrors"
)

// RequestOutcome is the immutable record of one request exchange. It
// is produced by every step call and consumed only by the aggregator.
type RequestOutcome struct {
	Step       Step
	VUID       int
	Iteration  int64
	Start      time.Time
	Duration   time.Duration
	Success    bool
	ErrorKind  batchapi.ErrorKind
	StatusCode int
}

// Recorder consumes outcome records. Implementations must be safe for
// concurrent use by all virtual users.
type Recorder interface {
	Record(RequestOutcome)
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(RequestOutcome)

func (f RecorderFunc) Record(o RequestOutcome) { f(o) }

// outcomeOf builds a RequestOutcome from a step result.
func outcomeOf(step Step, vuID int, iteration int64, res batchapi.Result) RequestOutcome {
	return RequestOutcome{
		Step:       step,
		VUID:       vuID,
		Iteration:  iteration,
		Start:      res.Start,
		Duration:   res.Duration,
		Success:    res.Err == nil,
		ErrorKind:  batchapi.KindOf(res.Err),
		StatusCode: res.StatusCode,
	}
}
