package sender

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestThrottleExpiryAndSweep(t *testing.T) {
	th := NewThrottle(time.Minute)
	t0 := time.Unix(1_000, 0)
	a, b := uuid.New(), uuid.New()

	th.Mark(a, t0)
	th.Mark(b, t0.Add(30*time.Second))

	assert.True(t, th.Blocked(a, t0.Add(time.Second)))
	assert.True(t, th.Blocked(a, t0.Add(59*time.Second)))
	assert.False(t, th.Blocked(a, t0.Add(61*time.Second)))
	assert.Equal(t, 1, th.Len(), "expired entry removed on lookup")

	assert.Equal(t, 0, th.Sweep(t0.Add(91*time.Second)))

	th.Mark(a, t0)
	th.Clear(a)
	assert.False(t, th.Blocked(a, t0))
}
