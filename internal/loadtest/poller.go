package loadtest

import (
	"context"
	"errors"
	"time"

	"github.com/wesleyorama2/riposte/internal/batchapi"
)

// Poll loop termination errors. Both mark the WorkflowRun failed at
// the Poll phase; Retrieve is skipped.
var (
	// ErrPollDeadline means the job never reached a terminal status
	// before the overall poll deadline.
	ErrPollDeadline = errors.New("poll deadline exceeded before job reached terminal status")

	// ErrPollFailures means too many consecutive poll requests failed.
	ErrPollFailures = errors.New("too many consecutive poll failures")
)

// PollConfig configures the backoff poller. Zero values take the
// defaults below.
type PollConfig struct {
	// InitialDelay is the wait before the second poll (default 2s).
	InitialDelay time.Duration

	// MaxDelay caps the backoff (default 30s).
	MaxDelay time.Duration

	// Deadline bounds the whole poll loop (default 5m).
	Deadline time.Duration

	// MaxConsecutiveFailures is how many transient poll failures in a
	// row are tolerated before giving up (default 3).
	MaxConsecutiveFailures int
}

func (c PollConfig) withDefaults() PollConfig {
	if c.InitialDelay <= 0 {
		c.InitialDelay = 2 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Deadline <= 0 {
		c.Deadline = 5 * time.Minute
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = 3
	}
	return c
}

// PollFunc performs one status fetch for a job, updating the handle.
type PollFunc func(ctx context.Context, job *batchapi.JobHandle) batchapi.Result

// Poller drives repeated Poll-once calls with exponential backoff
// until the job reaches a terminal status, the deadline elapses, or
// consecutive transient failures exceed the configured limit.
//
// The delay sequence starts at InitialDelay and doubles after every
// non-terminal poll, capped at MaxDelay: 2, 4, 8, 16, 30, 30, ... for
// the defaults. Waits are cancellable so a run-wide stop aborts a
// sleeping poller promptly.
type Poller struct {
	cfg PollConfig

	// wait suspends between polls. Tests replace it to observe the
	// delay sequence without sleeping.
	wait func(ctx context.Context, d time.Duration) error
}

// NewPoller creates a poller with the given configuration.
func NewPoller(cfg PollConfig) *Poller {
	return &Poller{
		cfg:  cfg.withDefaults(),
		wait: sleepContext,
	}
}

// Poll runs the loop for one job. Every poll attempt, successful or
// not, is passed to observe so it can be recorded as an outcome.
// Returns nil once the job is terminal, ErrPollDeadline /
// ErrPollFailures on give-up, or the context error on cancellation.
func (p *Poller) Poll(ctx context.Context, job *batchapi.JobHandle, poll PollFunc, observe func(batchapi.Result)) error {
	deadline := time.Now().Add(p.cfg.Deadline)
	delay := p.cfg.InitialDelay
	consecutiveFailures := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		res := poll(ctx, job)
		observe(res)

		if res.Err != nil {
			consecutiveFailures++
			if consecutiveFailures > p.cfg.MaxConsecutiveFailures {
				return ErrPollFailures
			}
		} else {
			consecutiveFailures = 0
			if job.Status.Terminal() {
				return nil
			}
		}

		// Sleeping past the deadline cannot succeed, so give up now.
		if time.Now().Add(delay).After(deadline) {
			return ErrPollDeadline
		}

		if err := p.wait(ctx, delay); err != nil {
			return err
		}

		delay *= 2
		if delay > p.cfg.MaxDelay {
			delay = p.cfg.MaxDelay
		}
	}
}

// sleepContext waits for d or until the context is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
