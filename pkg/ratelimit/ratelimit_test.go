package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucket_Refill(t *testing.T) {
	now := time.Unix(1700000000, 0)
	tb := NewTokenBucket(2, 4)
	tb.now = func() time.Time { return now }
	tb.lastRefill = now

	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())

	now = now.Add(250 * time.Millisecond)
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())

	now = now.Add(10 * time.Second)
	assert.Equal(t, 2, tb.Remaining())
}

func TestSlidingWindow(t *testing.T) {
	now := time.Unix(1700000000, 0)
	sw := NewSlidingWindow(2, time.Second)
	sw.now = func() time.Time { return now }

	assert.True(t, sw.Allow())
	assert.True(t, sw.Allow())
	assert.False(t, sw.Allow())
	assert.Equal(t, 0, sw.Remaining())

	now = now.Add(1001 * time.Millisecond)
	assert.Equal(t, 2, sw.Remaining())
	assert.True(t, sw.Allow())
}

func TestWait_RespectsContext(t *testing.T) {
	tb := NewTokenBucket(1, 0.001)
	require.True(t, tb.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := tb.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestManager_FallsBackToGeneral(t *testing.T) {
	m := NewManager()
	assert.Same(t, m.Get(EndpointGeneral), m.Get("unknown"))

	custom := NewSlidingWindow(1, time.Minute)
	m.Set(EndpointOrderPost, custom)
	assert.True(t, m.Allow(EndpointOrderPost))
	assert.False(t, m.Allow(EndpointOrderPost))
	require.NoError(t, m.Wait(context.Background(), EndpointBalance))
}
