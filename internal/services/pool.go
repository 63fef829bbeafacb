// Package services implements the command API on top of the event store, presence
// tracker and typing coalescer.
package services

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"chat-realtime/internal/apperrors"
	"chat-realtime/internal/observability"
)

// Pool bounds concurrent store commands and gives each one a deadline.
type Pool struct {
	sem     *semaphore.Weighted
	timeout time.Duration
}

// NewPool allows workers concurrent commands, each limited to timeout.
func NewPool(workers int, timeout time.Duration) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(workers)), timeout: timeout}
}

// Do runs fn once a worker is free. Waiting counts against the deadline, and a
// missed deadline is reported as a timeout.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return apperrors.FromContext(err)
	}
	defer p.sem.Release(1)
	return apperrors.FromContext(fn(ctx))
}

func run[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}

func requestID(ctx context.Context) string {
	return observability.HeadersFromContext(ctx)["x-request-id"]
}
