// Package ratelimit implements the ordered chain of independent limiting
// policies in front of the tracker engine. Each policy owns its own counter
// state: they protect against different abuse patterns and never share
// windows even when scoped by the same key.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrRateLimited is returned when a quota policy rejects a request.
var ErrRateLimited = errors.New("rate limit exceeded")

// Policy is one element of the chain. A returned error short-circuits the
// remaining policies.
type Policy interface {
	Name() string
	Check(ctx context.Context, key string) error
}

// Chain evaluates its policies in fixed order.
type Chain struct {
	policies []Policy
}

func NewChain(policies ...Policy) *Chain {
	return &Chain{policies: policies}
}

func (c *Chain) Check(ctx context.Context, key string) error {
	for _, p := range c.policies {
		if err := p.Check(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// SlowDown injects an artificial delay once a scope key exceeds its budget
// instead of rejecting: graceful degradation under sustained load. The
// delay grows with the overshoot but is capped.
type SlowDown struct {
	store    CounterStore
	limit    int64
	window   time.Duration
	delay    time.Duration
	maxDelay time.Duration
}

func NewSlowDown(store CounterStore, limit int64, window, delay, maxDelay time.Duration) *SlowDown {
	return &SlowDown{store: store, limit: limit, window: window, delay: delay, maxDelay: maxDelay}
}

func (p *SlowDown) Name() string { return "slowdown" }

func (p *SlowDown) Check(ctx context.Context, key string) error {
	count, err := p.store.Incr(ctx, p.Name()+":"+key, p.window)
	if err != nil {
		// Counter backend trouble must not take down the announce path.
		return nil
	}
	over := count - p.limit
	if over <= 0 {
		return nil
	}

	wait := time.Duration(over) * p.delay
	if wait > p.maxDelay {
		wait = p.maxDelay
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Quota rejects requests beyond a fixed-window budget.
type Quota struct {
	store  CounterStore
	name   string
	limit  int64
	window time.Duration
}

func NewQuota(store CounterStore, name string, limit int64, window time.Duration) *Quota {
	return &Quota{store: store, name: name, limit: limit, window: window}
}

func (p *Quota) Name() string { return p.name }

func (p *Quota) Check(ctx context.Context, key string) error {
	count, err := p.store.Incr(ctx, p.name+":"+key, p.window)
	if err != nil {
		return nil
	}
	if count > p.limit {
		return ErrRateLimited
	}
	return nil
}
