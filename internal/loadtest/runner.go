package loadtest

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/riposte/internal/batchapi"
	"github.com/wesleyorama2/riposte/internal/loadtest/config"
	"github.com/wesleyorama2/riposte/internal/loadtest/metrics"
)

// RunResult is the complete output of one load-test run: the frozen
// metrics and the advisory verdict. It is produced even when
// individual WorkflowRuns failed; only a bootstrap failure or operator
// cancellation can end a run early, and even then the outcomes
// recorded so far are included.
type RunResult struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	StartTime time.Time         `json:"startTime"`
	EndTime   time.Time         `json:"endTime"`
	Duration  time.Duration     `json:"duration"`
	Metrics   *metrics.Snapshot `json:"metrics"`
	Verdict   Verdict           `json:"verdict"`

	// Fatal is set when the run aborted before completing its load
	// profile (credential bootstrap failure).
	Fatal error `json:"-"`
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the structured logger.
func WithLogger(log zerolog.Logger) RunnerOption {
	return func(r *Runner) {
		r.log = log
	}
}

// WithDataset injects a pre-built dataset instead of loading the
// configured file.
func WithDataset(d *Dataset) RunnerOption {
	return func(r *Runner) {
		r.dataset = d
	}
}

// WithSnapshotFunc registers a callback invoked once per second with a
// fresh metrics snapshot, for progress rendering.
func WithSnapshotFunc(fn func(*metrics.Snapshot)) RunnerOption {
	return func(r *Runner) {
		r.onSnapshot = fn
	}
}

// Runner wires the engine together for one run: target-API client,
// credential gate, dataset, scheduler, aggregator and verdict.
type Runner struct {
	cfg        *config.Config
	log        zerolog.Logger
	dataset    *Dataset
	onSnapshot func(*metrics.Snapshot)

	aggregator *metrics.Aggregator
	scheduler  *Scheduler
}

// NewRunner builds a runner from configuration. The dataset is loaded
// (and schema-validated) here so a bad input fails before any virtual
// user starts.
func NewRunner(cfg *config.Config, options ...RunnerOption) (*Runner, error) {
	r := &Runner{
		cfg: cfg,
		log: zerolog.Nop(),
	}
	for _, option := range options {
		option(r)
	}

	if r.dataset == nil {
		if cfg.Dataset.Path != "" {
			dataset, err := LoadDataset(cfg.Dataset.Path, cfg.Dataset.Schema)
			if err != nil {
				return nil, err
			}
			r.dataset = dataset
		} else {
			r.dataset = DefaultDataset()
		}
	}

	r.aggregator = metrics.New()
	recorder := RecorderFunc(func(o RequestOutcome) {
		r.aggregator.Record(string(o.Step), o.Duration, o.Success)
	})

	client := batchapi.NewClient(cfg.Host,
		batchapi.WithHTTPClient(newHTTPClient(cfg.HTTP)),
		batchapi.WithCredentialPath(cfg.Auth.CredentialPath),
		batchapi.WithBasicAuth(cfg.Auth.Username, cfg.Auth.Password),
	)

	gate := NewCredentialGate(client, recorder, cfg.Auth.Retries)
	pollCfg := PollConfig{
		InitialDelay:           time.Duration(cfg.Poll.InitialDelay),
		MaxDelay:               time.Duration(cfg.Poll.MaxDelay),
		Deadline:               time.Duration(cfg.Poll.Deadline),
		MaxConsecutiveFailures: cfg.Poll.MaxConsecutiveFailures,
	}

	newVU := func(id int) *VirtualUser {
		return NewVirtualUser(id, client, gate, r.dataset, NewPoller(pollCfg), recorder)
	}

	r.scheduler = NewScheduler(SchedulerConfig{
		Users:        cfg.Users,
		SpawnRate:    cfg.SpawnRate,
		Duration:     time.Duration(cfg.Duration),
		Iterations:   cfg.Iterations,
		GracefulStop: time.Duration(cfg.GracefulStop),
		PacingMin:    time.Duration(cfg.Pacing.Min),
		PacingMax:    time.Duration(cfg.Pacing.Max),
	}, newVU, r.log)

	return r, nil
}

// newHTTPClient builds the connection pool shared by all virtual
// users.
func newHTTPClient(cfg config.HTTPConfig) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &http.Client{
		Transport: transport,
		Timeout:   time.Duration(cfg.Timeout),
	}
}

// Run executes the load profile and returns the result. Cancelling ctx
// is an operator abort: the run stops promptly but still returns the
// metrics and verdict built from everything recorded so far.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()
	runID := uuid.NewString()

	r.log.Info().Str("run", runID).Str("name", r.cfg.Name).Msg("run starting")

	g, gctx := errgroup.WithContext(ctx)
	schedDone := make(chan struct{})

	g.Go(func() error {
		defer close(schedDone)
		return r.scheduler.Run(gctx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-schedDone:
				return nil
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				r.aggregator.SetActiveVUs(r.scheduler.ActiveVUs())
				r.aggregator.SetSpawnedVUs(r.scheduler.SpawnedVUs())
				if r.onSnapshot != nil {
					r.onSnapshot(r.aggregator.Snapshot())
				}
			}
		}
	})

	fatal := g.Wait()

	r.aggregator.SetActiveVUs(r.scheduler.ActiveVUs())
	r.aggregator.SetSpawnedVUs(r.scheduler.SpawnedVUs())
	snap := r.aggregator.Snapshot()
	verdict := Evaluate(snap, ThresholdConfig{
		P95LatencyMs: float64(r.cfg.Thresholds.P95Limit().Microseconds()) / 1000.0,
		ErrorRate:    r.cfg.Thresholds.ErrorRateLimit(),
	})

	end := time.Now()
	result := &RunResult{
		ID:        runID,
		Name:      r.cfg.Name,
		StartTime: start,
		EndTime:   end,
		Duration:  end.Sub(start),
		Metrics:   snap,
		Verdict:   verdict,
		Fatal:     fatal,
	}

	r.log.Info().
		Str("run", runID).
		Int64("requests", snap.TotalRequests).
		Float64("errorRate", snap.ErrorRate).
		Bool("passed", verdict.Passed).
		Msg("run finished")

	return result, fatal
}

// Stop requests an early abort of the run.
func (r *Runner) Stop() {
	r.scheduler.Stop()
}

// Snapshot returns the current metrics view.
func (r *Runner) Snapshot() *metrics.Snapshot {
	return r.aggregator.Snapshot()
}
