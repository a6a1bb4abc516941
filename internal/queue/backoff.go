package queue

import "time"

// BackoffPolicy returns the delay before the next attempt of a command that
// has already been attempted attempt times. Implementations must be
// monotonically non-decreasing in attempt.
type BackoffPolicy interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff doubles Base per attempt and caps the result at Max.
type ExponentialBackoff struct {
	Base time.Duration
	Max  time.Duration
}

func (b ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		if b.Max > 0 && d >= b.Max {
			break
		}
		if d > (1<<62)/2 {
			break
		}
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

type FixedBackoff time.Duration

func (f FixedBackoff) NextDelay(int) time.Duration { return time.Duration(f) }
