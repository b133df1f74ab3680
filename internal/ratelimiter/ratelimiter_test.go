package ratelimiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name              string
		requestsPerSecond uint
		burst             uint
		wantBurst         int
	}{
		{name: "standard rate", requestsPerSecond: 100, burst: 200, wantBurst: 200},
		{name: "burst defaults to rate", requestsPerSecond: 10, burst: 0, wantBurst: 10},
		{name: "unlimited (zero rate)", requestsPerSecond: 0, burst: 0, wantBurst: unlimitedRate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := New(tt.requestsPerSecond, tt.burst)
			require.NotNil(t, limiter)
			assert.Equal(t, tt.wantBurst, limiter.burst)
		})
	}
}

func TestAllow_PerKeyBuckets(t *testing.T) {
	limiter := New(1, 2)

	assert.True(t, limiter.Allow("acme/alice"))
	assert.True(t, limiter.Allow("acme/alice"))
	assert.False(t, limiter.Allow("acme/alice"), "third request should exceed burst")

	// A different principal has its own bucket.
	assert.True(t, limiter.Allow("acme/bob"))
	assert.Equal(t, 2, limiter.Len())
}

func TestWait_RespectsContext(t *testing.T) {
	limiter := New(1, 1)
	require.True(t, limiter.Allow("k"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := limiter.Wait(ctx, "k")
	assert.Error(t, err)
}

func TestSweep(t *testing.T) {
	limiter := New(10, 10)
	limiter.Allow("a")
	limiter.Allow("b")

	assert.Equal(t, 0, limiter.Sweep(time.Hour))
	assert.Equal(t, 2, limiter.Sweep(-time.Second))
	assert.Equal(t, 0, limiter.Len())
}
