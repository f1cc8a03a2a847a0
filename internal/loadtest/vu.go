package loadtest

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/riposte/internal/batchapi"
)

// Phase is the workflow state of a virtual user. Transitions move
// strictly forward through the phases of one WorkflowRun; Aborted is
// reachable from any non-terminal phase on a step failure. A new
// iteration resets to Uploading (bootstrap never repeats).
type Phase int32

const (
	PhaseBootstrapping Phase = iota
	PhaseUploading
	PhaseVerifying
	PhaseCreating
	PhasePolling
	PhaseRetrieving
	PhaseCompleted
	PhaseAborted
)

func (p Phase) String() string {
	switch p {
	case PhaseBootstrapping:
		return "bootstrapping"
	case PhaseUploading:
		return "uploading"
	case PhaseVerifying:
		return "verifying"
	case PhaseCreating:
		return "creating"
	case PhasePolling:
		return "polling"
	case PhaseRetrieving:
		return "retrieving"
	case PhaseCompleted:
		return "completed"
	case PhaseAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// VirtualUser simulates one client running the batch workflow. Each VU
// progresses sequentially through its own WorkflowRuns; concurrency
// exists only across VUs. All shared state (credential gate, dataset,
// recorder) is passed in explicitly so independent runs can coexist in
// one process.
type VirtualUser struct {
	// ID is the ordinal index assigned by the scheduler.
	ID int

	client   *batchapi.Client
	gate     *CredentialGate
	dataset  *Dataset
	poller   *Poller
	recorder Recorder

	// pickVerifyMode samples the verification mode once per
	// WorkflowRun. Uniform random by default; tests inject a fixed
	// choice.
	pickVerifyMode func() batchapi.VerifyMode

	cred *batchapi.Credential

	phase     atomic.Int32
	iteration atomic.Int64

	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
	doneOnce sync.Once
}

// NewVirtualUser creates a VU. It performs no work until Bootstrap and
// RunIteration are called by the scheduler's goroutine.
func NewVirtualUser(id int, client *batchapi.Client, gate *CredentialGate, dataset *Dataset, poller *Poller, recorder Recorder) *VirtualUser {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))
	vu := &VirtualUser{
		ID:       id,
		client:   client,
		gate:     gate,
		dataset:  dataset,
		poller:   poller,
		recorder: recorder,
		pickVerifyMode: func() batchapi.VerifyMode {
			if rng.Intn(2) == 0 {
				return batchapi.VerifyMetadata
			}
			return batchapi.VerifyContent
		},
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	vu.phase.Store(int32(PhaseBootstrapping))
	return vu
}

// Phase returns the VU's current workflow phase.
func (vu *VirtualUser) Phase() Phase {
	return Phase(vu.phase.Load())
}

// Iteration returns the number of started WorkflowRuns.
func (vu *VirtualUser) Iteration() int64 {
	return vu.iteration.Load()
}

func (vu *VirtualUser) setPhase(p Phase) {
	vu.phase.Store(int32(p))
}

// Bootstrap obtains the shared credential through the gate. An error
// here is fatal to the whole run, not just this VU.
func (vu *VirtualUser) Bootstrap(ctx context.Context) error {
	vu.setPhase(PhaseBootstrapping)
	cred, err := vu.gate.Acquire(ctx)
	if err != nil {
		vu.setPhase(PhaseAborted)
		return err
	}
	vu.cred = cred
	return nil
}

// RunIteration executes one complete WorkflowRun: Upload, Verify,
// CreateJob, Poll until terminal, Retrieve. Step failures abort the
// run at that phase; they are recorded as outcomes and swallowed here
// so one VU's failure never affects the others. The returned error is
// non-nil only for cancellation.
func (vu *VirtualUser) RunIteration(ctx context.Context) error {
	if vu.cred == nil {
		if err := vu.Bootstrap(ctx); err != nil {
			return err
		}
	}

	iter := vu.iteration.Add(1)
	payload := vu.dataset.Next()

	if err := vu.checkCancel(ctx); err != nil {
		return err
	}

	// Upload
	vu.setPhase(PhaseUploading)
	fileID, res := vu.client.Upload(ctx, vu.cred, payload)
	vu.record(StepUpload, iter, res)
	if res.Err != nil {
		vu.setPhase(PhaseAborted)
		return vu.checkCancel(ctx)
	}

	if err := vu.checkCancel(ctx); err != nil {
		return err
	}

	// Verify, in a mode chosen once per WorkflowRun.
	vu.setPhase(PhaseVerifying)
	res = vu.client.Verify(ctx, vu.cred, fileID, vu.pickVerifyMode())
	vu.record(StepVerify, iter, res)
	if res.Err != nil {
		vu.setPhase(PhaseAborted)
		return vu.checkCancel(ctx)
	}

	if err := vu.checkCancel(ctx); err != nil {
		return err
	}

	// CreateJob
	vu.setPhase(PhaseCreating)
	job, res := vu.client.CreateJob(ctx, vu.cred, fileID)
	vu.record(StepCreateJob, iter, res)
	if res.Err != nil {
		vu.setPhase(PhaseAborted)
		return vu.checkCancel(ctx)
	}

	// Poll until terminal status, deadline, or failure limit.
	vu.setPhase(PhasePolling)
	err := vu.poller.Poll(ctx,
		job,
		func(ctx context.Context, j *batchapi.JobHandle) batchapi.Result {
			return vu.client.PollOnce(ctx, vu.cred, j)
		},
		func(r batchapi.Result) {
			vu.record(StepPoll, iter, r)
		},
	)
	if err != nil {
		vu.setPhase(PhaseAborted)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// A deadline give-up follows only successful polls, so it gets
		// its own failed Poll outcome. The failure-limit path already
		// recorded each failed attempt. Retrieve is skipped either way.
		if errors.Is(err, ErrPollDeadline) {
			vu.recorder.Record(RequestOutcome{
				Step:      StepPoll,
				VUID:      vu.ID,
				Iteration: iter,
				Start:     time.Now(),
				ErrorKind: batchapi.KindOf(err),
			})
		}
		return nil
	}

	if err := vu.checkCancel(ctx); err != nil {
		return err
	}

	// Retrieve. Succeeded and partially-failed jobs have an output
	// artifact; partially-failed and failed jobs may have an error
	// artifact, whose fetch failure is recorded but never fatal.
	vu.setPhase(PhaseRetrieving)
	aborted := false
	if job.Status == batchapi.StatusSucceeded || job.Status == batchapi.StatusFailedPartial {
		res = vu.client.RetrieveOutput(ctx, vu.cred, job)
		vu.record(StepRetrieve, iter, res)
		if res.Err != nil {
			aborted = true
		}
	}
	if job.Status == batchapi.StatusFailedPartial || job.Status == batchapi.StatusFailed {
		res = vu.client.RetrieveErrors(ctx, vu.cred, job)
		vu.record(StepRetrieveErrors, iter, res)
	}

	if aborted {
		vu.setPhase(PhaseAborted)
	} else {
		vu.setPhase(PhaseCompleted)
	}
	return vu.checkCancel(ctx)
}

// checkCancel observes run-wide cancellation and this VU's stop signal.
func (vu *VirtualUser) checkCancel(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-vu.stopCh:
		return context.Canceled
	default:
		return nil
	}
}

// RequestStop asks the VU to stop before its next step.
func (vu *VirtualUser) RequestStop() {
	vu.stopOnce.Do(func() {
		close(vu.stopCh)
	})
}

// MarkDone is called by the scheduler when the VU's goroutine exits.
func (vu *VirtualUser) MarkDone() {
	vu.doneOnce.Do(func() {
		close(vu.doneCh)
	})
}

// Done returns a channel closed when the VU has fully stopped.
func (vu *VirtualUser) Done() <-chan struct{} {
	return vu.doneCh
}

func (vu *VirtualUser) record(step Step, iteration int64, res batchapi.Result) {
	vu.recorder.Record(outcomeOf(step, vu.ID, iteration, res))
}
