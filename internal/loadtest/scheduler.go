package loadtest

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// SchedulerConfig controls how virtual users are spawned and for how
// long they run.
type SchedulerConfig struct {
	// Users is the target concurrent population.
	Users int

	// SpawnRate is how many new users start per second.
	SpawnRate float64

	// Duration bounds the run in time. Zero means the run is bounded
	// by Iterations instead.
	Duration time.Duration

	// Iterations is the WorkflowRun count per virtual user. Zero means
	// each user iterates until Duration elapses.
	Iterations int64

	// GracefulStop is how long to wait for in-flight work after the
	// stop signal (default 30s).
	GracefulStop time.Duration

	// PacingMin/PacingMax bound the random wait between a virtual
	// user's iterations. Both zero disables pacing.
	PacingMin time.Duration
	PacingMax time.Duration
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.Users < 1 {
		c.Users = 1
	}
	if c.SpawnRate <= 0 {
		c.SpawnRate = float64(c.Users)
	}
	if c.GracefulStop <= 0 {
		c.GracefulStop = 30 * time.Second
	}
	return c
}

// Scheduler ramps up virtual users at the configured spawn rate until
// the target population is reached, keeps them iterating until the
// duration or iteration budget is exhausted, then signals cooperative
// cancellation and reaps them.
//
// A credential bootstrap failure is the only per-VU error that aborts
// the whole run; every other failure is recorded as an outcome and
// contained within its WorkflowRun.
type Scheduler struct {
	cfg   SchedulerConfig
	newVU func(id int) *VirtualUser
	log   zerolog.Logger

	vus   []*VirtualUser
	vusMu sync.Mutex

	spawned atomic.Int32
	active  atomic.Int32

	wg sync.WaitGroup

	stopCh   chan struct{}
	stopOnce sync.Once

	cancelMu sync.Mutex
	cancel   context.CancelFunc

	fatalMu  sync.Mutex
	fatalErr error
}

// NewScheduler creates a scheduler. newVU is the factory invoked once
// per spawned virtual user with its ordinal ID.
func NewScheduler(cfg SchedulerConfig, newVU func(id int) *VirtualUser, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cfg:    cfg.withDefaults(),
		newVU:  newVU,
		log:    log,
		stopCh: make(chan struct{}),
	}
}

// ActiveVUs returns the number of virtual users currently running.
func (s *Scheduler) ActiveVUs() int {
	return int(s.active.Load())
}

// SpawnedVUs returns how many virtual users have been started so far.
func (s *Scheduler) SpawnedVUs() int {
	return int(s.spawned.Load())
}

// Run executes the whole load profile and blocks until every virtual
// user has stopped or the grace timeout expired. It returns an error
// only when the run could not proceed (credential bootstrap failure);
// duration expiry and operator stop are normal completions.
func (s *Scheduler) Run(ctx context.Context) error {
	var runCtx context.Context
	var cancel context.CancelFunc
	if s.cfg.Duration > 0 {
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.Duration)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	s.cancelMu.Lock()
	s.cancel = cancel
	s.cancelMu.Unlock()
	defer cancel()

	s.log.Info().
		Int("users", s.cfg.Users).
		Float64("spawnRate", s.cfg.SpawnRate).
		Dur("duration", s.cfg.Duration).
		Int64("iterations", s.cfg.Iterations).
		Msg("starting load run")

	start := time.Now()
	controllerDone := make(chan struct{})
	go func() {
		defer close(controllerDone)
		s.rampController(runCtx, start)
	}()

	// allDone fires when every spawned VU goroutine has exited, which
	// ends iteration-bounded runs. The controller must finish first so
	// an empty WaitGroup cannot race a pending spawn.
	allDone := make(chan struct{})
	go func() {
		<-controllerDone
		s.wg.Wait()
		close(allDone)
	}()

	select {
	case <-runCtx.Done():
	case <-s.stopCh:
	case <-allDone:
	}

	cancel()
	s.shutdown()

	s.log.Info().
		Int("spawned", s.SpawnedVUs()).
		Dur("elapsed", time.Since(start)).
		Msg("load run finished")

	return s.FatalErr()
}

// FatalErr returns the run-aborting error, if any.
func (s *Scheduler) FatalErr() error {
	s.fatalMu.Lock()
	defer s.fatalMu.Unlock()
	return s.fatalErr
}

// rampController spawns virtual users at the configured rate until the
// target population is reached. It ticks frequently and computes the
// wanted population from elapsed time, the same way a ramping stage
// interpolates its target.
func (s *Scheduler) rampController(ctx context.Context, start time.Time) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	// First user starts immediately.
	s.spawn(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			elapsed := time.Since(start)
			target := int(math.Ceil(elapsed.Seconds() * s.cfg.SpawnRate))
			if target > s.cfg.Users {
				target = s.cfg.Users
			}
			for int(s.spawned.Load()) < target {
				s.spawn(ctx)
			}
			if int(s.spawned.Load()) >= s.cfg.Users {
				return
			}
		}
	}
}

func (s *Scheduler) spawn(ctx context.Context) {
	id := int(s.spawned.Add(1))
	vu := s.newVU(id)

	s.vusMu.Lock()
	s.vus = append(s.vus, vu)
	s.vusMu.Unlock()

	s.wg.Add(1)
	go s.runVU(ctx, vu)
}

// runVU drives one virtual user: bootstrap once, then iterate until
// the iteration budget, the run context, or a stop signal ends it.
func (s *Scheduler) runVU(ctx context.Context, vu *VirtualUser) {
	defer s.wg.Done()
	defer vu.MarkDone()

	s.active.Add(1)
	defer s.active.Add(-1)

	if err := vu.Bootstrap(ctx); err != nil {
		if ctx.Err() == nil {
			s.fatal(err)
		}
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		if s.cfg.Iterations > 0 && vu.Iteration() >= s.cfg.Iterations {
			return
		}

		if err := vu.RunIteration(ctx); err != nil {
			// Cancellation mid-iteration; outcomes already recorded
			// stay in the aggregator.
			return
		}

		if !s.applyPacing(ctx) {
			return
		}
	}
}

// applyPacing waits the configured random think time between
// iterations. Returns false when the wait was interrupted by stop.
func (s *Scheduler) applyPacing(ctx context.Context) bool {
	if s.cfg.PacingMax <= 0 {
		return true
	}
	wait := s.cfg.PacingMin
	if diff := s.cfg.PacingMax - s.cfg.PacingMin; diff > 0 {
		wait += time.Duration(rand.Int63n(int64(diff)))
	}
	if wait <= 0 {
		return true
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-s.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

// Stop requests an early abort: all pending waits (including backoff
// sleeps) are cancelled, recorded outcomes are preserved, and Run
// returns after the graceful shutdown.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.cancelMu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancelMu.Unlock()
}

// fatal records the run-aborting error and cancels everything.
func (s *Scheduler) fatal(err error) {
	s.fatalMu.Lock()
	if s.fatalErr == nil {
		s.fatalErr = err
		s.log.Error().Err(err).Msg("aborting run")
	}
	s.fatalMu.Unlock()
	s.Stop()
}

// shutdown asks all VUs to stop and waits up to the grace timeout.
func (s *Scheduler) shutdown() {
	s.vusMu.Lock()
	for _, vu := range s.vus {
		vu.RequestStop()
	}
	s.vusMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.cfg.GracefulStop):
		s.log.Warn().Msg("graceful stop timeout expired with virtual users still running")
	}
}
