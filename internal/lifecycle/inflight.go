// Package lifecycle implements the request lifecycle engine (C6): model
// parsing, cache-then-breaker-wrapped provider dispatch for non-streaming
// completions, and the full streaming pipeline (heartbeats, inactivity
// timeout, client-disconnect detection, cooperative cancellation) for
// streaming completions.
package lifecycle

import (
	"context"
	"sync"
	"time"
)

// inFlightRequest tracks one active generation so /api/chat/stop can
// cancel it by requestId.
type inFlightRequest struct {
	cancel    context.CancelFunc
	createdAt time.Time
}

// Registry is a concurrency-safe requestId -> cancellation handle map.
// sync.Map fits better than a mutex-guarded map here: entries are added
// and removed by different goroutines (the handler that started the
// request vs. the /api/chat/stop handler) far more often than the whole
// set is iterated.
type Registry struct {
	inFlight sync.Map // string -> *inFlightRequest
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register derives a cancelable context from parent and tracks it under
// requestID. The returned cancel func must be called by the owner once the
// request finishes, successfully or not, to remove the entry.
func (r *Registry) Register(parent context.Context, requestID string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	r.inFlight.Store(requestID, &inFlightRequest{cancel: cancel, createdAt: time.Now()})

	return ctx, func() {
		cancel()
		r.inFlight.Delete(requestID)
	}
}

// Stop cancels and removes the request tracked under requestID. It is
// intentionally idempotent and silent about unknown IDs: per the stop
// endpoint's contract, the caller must never be able to tell from the
// response whether a given requestId ever existed.
func (r *Registry) Stop(requestID string) {
	v, ok := r.inFlight.LoadAndDelete(requestID)
	if !ok {
		return
	}
	v.(*inFlightRequest).cancel()
}
