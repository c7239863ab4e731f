// Package cancel provides a linked cancellation scope: a combinator that
// merges N independent cancellation sources (the IDE's stop request, the
// run's internal abort, the engine's own teardown) into one context.
package cancel

import (
	"context"
	"sync"
)

// Scope merges several parent contexts into a single cancellation flag.
// Triggering any parent (or Cancel) cancels the scope; subscribers are
// notified exactly once with the first recorded cause.
type Scope struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	stops  []func() bool

	mu        sync.Mutex
	listeners map[chan struct{}]struct{}
	notified  bool
}

// NewScope links the given parents into one scope. With no parents the
// scope only cancels through Cancel.
func NewScope(parents ...context.Context) *Scope {
	ctx, cancel := context.WithCancelCause(context.Background())
	s := &Scope{
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[chan struct{}]struct{}),
	}
	for _, parent := range parents {
		parent := parent
		stop := context.AfterFunc(parent, func() {
			s.cancel(context.Cause(parent))
		})
		s.stops = append(s.stops, stop)
	}
	go func() {
		<-ctx.Done()
		s.broadcast()
	}()
	return s
}

// Link is a convenience wrapper returning just the merged context and its
// cancel function, for callers that do not need subscriptions.
func Link(parents ...context.Context) (context.Context, context.CancelCauseFunc) {
	s := NewScope(parents...)
	return s.ctx, s.Cancel
}

// Context returns the merged context.
func (s *Scope) Context() context.Context { return s.ctx }

// Done returns a channel closed when the scope is canceled.
func (s *Scope) Done() <-chan struct{} { return s.ctx.Done() }

// Err mirrors context.Context.Err for the merged context.
func (s *Scope) Err() error { return s.ctx.Err() }

// Cause returns the first cancellation cause, or nil while live.
func (s *Scope) Cause() error { return context.Cause(s.ctx) }

// Cancel cancels the scope with the given cause. Later causes are ignored.
func (s *Scope) Cancel(cause error) {
	s.cancel(cause)
}

// Subscribe returns a channel receiving exactly one ping when the scope
// cancels. Callers must Unsubscribe when done.
func (s *Scope) Subscribe() chan struct{} {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	if s.notified {
		ch <- struct{}{}
	} else {
		s.listeners[ch] = struct{}{}
	}
	s.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener channel.
func (s *Scope) Unsubscribe(ch chan struct{}) {
	s.mu.Lock()
	delete(s.listeners, ch)
	s.mu.Unlock()
}

// Release detaches the scope from its parents and cancels it. Called
// when a run completes normally, so AfterFunc registrations on
// long-lived parent contexts do not leak.
func (s *Scope) Release() {
	for _, stop := range s.stops {
		stop()
	}
	s.cancel(nil)
}

func (s *Scope) broadcast() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notified {
		return
	}
	s.notified = true
	for ch := range s.listeners {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
