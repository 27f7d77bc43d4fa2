// Package concurrency provides a small bounded-fan-out helper shared by the
// session store's JSON bucket scan and the sidebar snapshot builder's
// per-directory fetch, both of which need "run up to N at once, wait for
// all" without pulling in a full worker-pool framework.
package concurrency

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Limiter bounds the number of concurrently in-flight tasks submitted via Go.
type Limiter struct {
	group *errgroup.Group
	ctx   context.Context
}

// NewLimiter returns a Limiter that runs at most max tasks concurrently.
// Its context is derived from ctx and is canceled on the first task error or
// when ctx is canceled; tasks submitted after that still run, so tasks stop
// early only by checking Context.
func NewLimiter(ctx context.Context, max int) *Limiter {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max)
	return &Limiter{group: g, ctx: gctx}
}

// Go schedules fn to run, blocking only if max tasks are already in flight.
func (l *Limiter) Go(fn func() error) {
	l.group.Go(fn)
}

// Wait blocks until all scheduled tasks complete, returning the first error.
func (l *Limiter) Wait() error {
	return l.group.Wait()
}

// Context returns the limiter's derived context, canceled once any task
// returns an error.
func (l *Limiter) Context() context.Context {
	return l.ctx
}
