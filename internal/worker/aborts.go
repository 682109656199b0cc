package worker

import (
	"context"
	"sync"
)

// abortRegistry tracks in-flight generations by correlation id so that an
// abortGeneration envelope can cancel them. Abort is idempotent: cancelling
// an unknown or already-finished id is a no-op.
type abortRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func newAbortRegistry() *abortRegistry {
	return &abortRegistry{cancels: make(map[string]context.CancelFunc)}
}

// track derives a cancellable context for the generation with the given
// correlation id. The caller must call the returned release func when the
// generation finishes.
func (a *abortRegistry) track(parent context.Context, id string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	a.mu.Lock()
	a.cancels[id] = cancel
	a.mu.Unlock()

	return ctx, func() {
		a.mu.Lock()
		delete(a.cancels, id)
		a.mu.Unlock()
		cancel()
	}
}

// abort cancels the generation with the given id, if it is still in flight.
func (a *abortRegistry) abort(id string) {
	a.mu.Lock()
	cancel := a.cancels[id]
	delete(a.cancels, id)
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// active reports whether id is still tracked.
func (a *abortRegistry) active(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.cancels[id]
	return ok
}
