package sender

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerLifecycle(t *testing.T) {
	var transitions []string
	b := NewBreaker(BreakerConfig{
		WindowSize:           4,
		MinCalls:             4,
		FailureRateThreshold: 0.5,
		OpenDuration:         10 * time.Second,
		HalfOpenCalls:        2,
	}, func(from, to BreakerState) { transitions = append(transitions, from.String()+">"+to.String()) })
	now := time.Unix(0, 0)

	for _, ok := range []bool{true, true, false} {
		require.True(t, b.Allow(now))
		b.Record(now, ok)
	}
	assert.Equal(t, BreakerClosed, b.State(), "below MinCalls")

	require.True(t, b.Allow(now))
	b.Record(now, false)
	assert.Equal(t, BreakerOpen, b.State())
	assert.False(t, b.Allow(now.Add(9*time.Second)))

	now = now.Add(10 * time.Second)
	assert.True(t, b.Allow(now))
	assert.Equal(t, BreakerHalfOpen, b.State())
	assert.True(t, b.Allow(now))
	assert.False(t, b.Allow(now), "half-open slots used up")

	b.Record(now, true)
	assert.Equal(t, BreakerHalfOpen, b.State())
	b.Record(now, true)
	assert.Equal(t, BreakerClosed, b.State())

	assert.Equal(t, []string{"closed>open", "open>half_open", "half_open>closed"}, transitions)
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(BreakerConfig{WindowSize: 2, MinCalls: 1, FailureRateThreshold: 1, OpenDuration: time.Second, HalfOpenCalls: 1}, nil)
	now := time.Unix(100, 0)

	b.Allow(now)
	b.Record(now, false)
	require.Equal(t, BreakerOpen, b.State())

	now = now.Add(time.Second)
	require.True(t, b.Allow(now))
	b.Record(now, false)
	assert.Equal(t, BreakerOpen, b.State())
	assert.False(t, b.Allow(now.Add(500*time.Millisecond)))
}

func TestBreakerWindowSlides(t *testing.T) {
	b := NewBreaker(BreakerConfig{WindowSize: 4, MinCalls: 4, FailureRateThreshold: 0.75, OpenDuration: time.Second, HalfOpenCalls: 1}, nil)
	now := time.Unix(0, 0)

	for _, ok := range []bool{false, false, true, true, true, false} {
		b.Record(now, ok)
	}
	// window holds [true true true false] after sliding out the first two failures
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerReadyAndForget(t *testing.T) {
	b := NewBreaker(BreakerConfig{WindowSize: 2, MinCalls: 1, FailureRateThreshold: 1, OpenDuration: time.Second, HalfOpenCalls: 1}, nil)
	now := time.Unix(100, 0)

	assert.True(t, b.Ready(now))
	b.Allow(now)
	b.Record(now, false)
	assert.False(t, b.Ready(now))

	now = now.Add(time.Second)
	assert.True(t, b.Ready(now))
	require.True(t, b.Allow(now))
	assert.False(t, b.Ready(now))

	b.Forget()
	assert.True(t, b.Ready(now), "forgotten call returns its slot")
	require.True(t, b.Allow(now))
	b.Record(now, true)
	assert.Equal(t, BreakerClosed, b.State())
}
