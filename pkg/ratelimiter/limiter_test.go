package ratelimiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquire_BurstThenEmpty(t *testing.T) {
	rl := New(1, 5)

	for i := 0; i < 5; i++ {
		assert.True(t, rl.TryAcquire(), "token %d should be available", i)
	}
	assert.False(t, rl.TryAcquire(), "bucket should be empty")
}

func TestWait_RespectsContext(t *testing.T) {
	rl := New(1, 1)
	require.True(t, rl.TryAcquire())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := rl.Wait(ctx)
	assert.Error(t, err, "wait on an empty bucket should hit the deadline")
}

func TestPerNode_SharedPerURL(t *testing.T) {
	p := NewPerNode(1, 1)

	a := p.For("https://node-a")
	b := p.For("https://node-b")
	assert.NotSame(t, a, b, "different nodes get different budgets")
	assert.Same(t, a, p.For("https://node-a"), "same node shares one budget")

	require.True(t, a.TryAcquire())
	assert.False(t, a.TryAcquire())
	assert.True(t, b.TryAcquire(), "draining node-a must not affect node-b")
}
