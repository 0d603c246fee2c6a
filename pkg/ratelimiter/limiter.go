// Package ratelimiter throttles outbound RPC traffic so a misbehaving
// retry loop cannot hammer a public node into banning us.
package ratelimiter

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter wraps golang.org/x/time/rate.Limiter.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a limiter allowing rps requests per second with the given
// burst capacity.
func New(rps, burst int) *RateLimiter {
	if rps <= 0 {
		rps = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until a token is available or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.limiter.Wait(ctx)
}

// TryAcquire attempts to take a token without blocking.
func (rl *RateLimiter) TryAcquire() bool {
	return rl.limiter.Allow()
}

// PerNode hands out one shared limiter per node URL, so every caller
// hitting the same node draws from the same budget.
type PerNode struct {
	mu       sync.Mutex
	limiters map[string]*RateLimiter
	rps      int
	burst    int
}

func NewPerNode(rps, burst int) *PerNode {
	return &PerNode{
		limiters: make(map[string]*RateLimiter),
		rps:      rps,
		burst:    burst,
	}
}

func (p *PerNode) For(node string) *RateLimiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	rl, ok := p.limiters[node]
	if !ok {
		rl = New(p.rps, p.burst)
		p.limiters[node] = rl
	}
	return rl
}
