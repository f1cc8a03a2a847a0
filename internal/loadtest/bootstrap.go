package loadtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/wesleyorama2/riposte/internal/batchapi"
)

// CredentialGate performs the one-time shared credential acquisition.
//
// Any number of virtual users may call Acquire concurrently; the
// underlying request is issued at most once per run. The first caller
// performs the acquisition (with a bounded number of retries) while
// the rest block, then every caller receives the same credential or
// the same error. A failed gate is terminal: the run cannot proceed.
type CredentialGate struct {
	client   *batchapi.Client
	recorder Recorder
	attempts int

	once sync.Once
	cred *batchapi.Credential
	err  error
}

// NewCredentialGate creates a gate that tries the acquisition request
// up to attempts times. Every attempt is recorded under StepAcquire.
func NewCredentialGate(client *batchapi.Client, recorder Recorder, attempts int) *CredentialGate {
	if attempts < 1 {
		attempts = 1
	}
	return &CredentialGate{
		client:   client,
		recorder: recorder,
		attempts: attempts,
	}
}

// Acquire returns the shared credential, performing the acquisition on
// the first call. sync.Once gives the single-flight guarantee: callers
// arriving during the first acquisition block until it completes.
func (g *CredentialGate) Acquire(ctx context.Context) (*batchapi.Credential, error) {
	g.once.Do(func() {
		for attempt := 1; attempt <= g.attempts; attempt++ {
			cred, res := g.client.AcquireCredential(ctx)
			g.recorder.Record(outcomeOf(StepAcquire, 0, int64(attempt), res))

			if res.Err == nil {
				g.cred = cred
				g.err = nil
				return
			}
			g.err = res.Err

			if ctx.Err() != nil {
				g.err = ctx.Err()
				return
			}
		}
	})

	if g.err != nil {
		return nil, fmt.Errorf("credential bootstrap: %w", g.err)
	}
	return g.cred, nil
}
