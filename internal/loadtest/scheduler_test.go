package loadtest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/wesleyorama2/riposte/internal/batchapi"
	"github.com/wesleyorama2/riposte/internal/mockapi"
)

// newTestScheduler wires a scheduler whose VUs share one gate and
// recorder against the given server, with instant poll waits.
func newTestScheduler(cfg SchedulerConfig, serverURL string, recorder Recorder) *Scheduler {
	client := batchapi.NewClient(serverURL, batchapi.WithBasicAuth("admin", "password"))
	gate := NewCredentialGate(client, recorder, 1)
	poller := NewPoller(PollConfig{Deadline: time.Minute})
	poller.wait = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	dataset := DefaultDataset()

	newVU := func(id int) *VirtualUser {
		vu := NewVirtualUser(id, client, gate, dataset, poller, recorder)
		vu.pickVerifyMode = func() batchapi.VerifyMode { return batchapi.VerifyMetadata }
		return vu
	}
	return NewScheduler(cfg, newVU, zerolog.Nop())
}

func TestSchedulerIterationBoundedRun(t *testing.T) {
	api := mockapi.New(mockapi.Config{PollsUntilDone: 0})
	server := httptest.NewServer(api.Handler())
	defer server.Close()

	recorder := &collectingRecorder{}
	s := newTestScheduler(SchedulerConfig{
		Users:      5,
		SpawnRate:  100,
		Iterations: 2,
	}, server.URL, recorder)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := s.SpawnedVUs(); got != 5 {
		t.Errorf("SpawnedVUs = %d, want 5", got)
	}
	if got := s.ActiveVUs(); got != 0 {
		t.Errorf("ActiveVUs after Run = %d, want 0", got)
	}

	counts := recorder.bySteps()
	if counts[StepAcquire] != 1 {
		t.Errorf("acquire outcomes = %d, want 1 shared across all users", counts[StepAcquire])
	}
	// 5 users x 2 iterations each.
	for _, step := range []Step{StepUpload, StepVerify, StepCreateJob, StepPoll, StepRetrieve} {
		if counts[step] != 10 {
			t.Errorf("%s outcomes = %d, want 10", step, counts[step])
		}
	}
}

func TestSchedulerRampsAtSpawnRate(t *testing.T) {
	api := mockapi.New(mockapi.Config{PollsUntilDone: 0})
	server := httptest.NewServer(api.Handler())
	defer server.Close()

	recorder := &collectingRecorder{}
	s := newTestScheduler(SchedulerConfig{
		Users:     10,
		SpawnRate: 20, // full population within ~500ms
		Duration:  2 * time.Second,
	}, server.URL, recorder)

	start := time.Now()
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	elapsed := time.Since(start)

	if got := s.SpawnedVUs(); got != 10 {
		t.Errorf("SpawnedVUs = %d, want 10", got)
	}
	if elapsed < 1900*time.Millisecond {
		t.Errorf("duration-bounded run ended after %v, want ~2s", elapsed)
	}
	if recorder.bySteps()[StepUpload] == 0 {
		t.Error("no workflow iterations completed during the run")
	}
}

func TestSchedulerBootstrapFailureAbortsRun(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	recorder := &collectingRecorder{}
	s := newTestScheduler(SchedulerConfig{
		Users:        3,
		SpawnRate:    100,
		Iterations:   1,
		GracefulStop: time.Second,
	}, server.URL, recorder)

	err := s.Run(context.Background())
	if err == nil {
		t.Fatal("expected a fatal error from the failed bootstrap")
	}

	counts := recorder.bySteps()
	if counts[StepUpload] != 0 {
		t.Errorf("upload outcomes = %d, want 0 when bootstrap fails", counts[StepUpload])
	}
}

func TestSchedulerStop(t *testing.T) {
	api := mockapi.New(mockapi.Config{PollsUntilDone: 0})
	server := httptest.NewServer(api.Handler())
	defer server.Close()

	recorder := &collectingRecorder{}
	s := newTestScheduler(SchedulerConfig{
		Users:        2,
		SpawnRate:    100,
		Duration:     time.Minute,
		GracefulStop: 2 * time.Second,
	}, server.URL, recorder)

	go func() {
		time.Sleep(200 * time.Millisecond)
		s.Stop()
	}()

	start := time.Now()
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Run took %v after Stop, want prompt return", elapsed)
	}
}

func TestSchedulerPacingBetweenIterations(t *testing.T) {
	api := mockapi.New(mockapi.Config{PollsUntilDone: 0})
	server := httptest.NewServer(api.Handler())
	defer server.Close()

	recorder := &collectingRecorder{}
	s := newTestScheduler(SchedulerConfig{
		Users:      1,
		SpawnRate:  100,
		Iterations: 3,
		PacingMin:  50 * time.Millisecond,
		PacingMax:  60 * time.Millisecond,
	}, server.URL, recorder)

	start := time.Now()
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Three iterations with pacing after each: at least ~150ms total.
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("run with pacing finished in %v, want >= 150ms", elapsed)
	}
	if got := recorder.bySteps()[StepUpload]; got != 3 {
		t.Errorf("upload outcomes = %d, want 3", got)
	}
}
