package sender

import (
	"sync"
	"time"
)

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	}
	return "closed"
}

type BreakerConfig struct {
	// WindowSize is the number of most recent calls considered.
	WindowSize int
	// MinCalls must be recorded before the failure rate is evaluated.
	MinCalls int
	// FailureRateThreshold in (0,1]; the breaker opens at or above it.
	FailureRateThreshold float64
	OpenDuration         time.Duration
	// HalfOpenCalls trial calls are let through after OpenDuration; all of
	// them must succeed to close the breaker.
	HalfOpenCalls int
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		WindowSize:           20,
		MinCalls:             10,
		FailureRateThreshold: 0.5,
		OpenDuration:         30 * time.Second,
		HalfOpenCalls:        3,
	}
}

func (c BreakerConfig) normalized() BreakerConfig {
	d := DefaultBreakerConfig()
	if c.WindowSize <= 0 {
		c.WindowSize = d.WindowSize
	}
	if c.MinCalls <= 0 {
		c.MinCalls = d.MinCalls
	}
	if c.MinCalls > c.WindowSize {
		c.MinCalls = c.WindowSize
	}
	if c.FailureRateThreshold <= 0 || c.FailureRateThreshold > 1 {
		c.FailureRateThreshold = d.FailureRateThreshold
	}
	if c.OpenDuration <= 0 {
		c.OpenDuration = d.OpenDuration
	}
	if c.HalfOpenCalls <= 0 {
		c.HalfOpenCalls = d.HalfOpenCalls
	}
	return c
}

// Breaker is a count-based circuit breaker. CLOSED records outcomes in a
// ring of WindowSize slots; OPEN rejects calls until OpenDuration passes;
// HALF_OPEN admits HalfOpenCalls probes.
type Breaker struct {
	mu  sync.Mutex
	cfg BreakerConfig

	state    BreakerState
	ring     []bool // true = failure
	pos      int
	filled   int
	failures int
	openedAt time.Time

	probesIssued    int
	probesSucceeded int

	onChange func(from, to BreakerState)
}

func NewBreaker(cfg BreakerConfig, onChange func(from, to BreakerState)) *Breaker {
	cfg = cfg.normalized()
	return &Breaker{cfg: cfg, ring: make([]bool, cfg.WindowSize), onChange: onChange}
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may proceed at now. In HALF_OPEN each true
// result consumes one probe slot and must be followed by Record.
func (b *Breaker) Allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if now.Sub(b.openedAt) < b.cfg.OpenDuration {
			return false
		}
		b.transition(BreakerHalfOpen, now)
		fallthrough
	case BreakerHalfOpen:
		if b.probesIssued >= b.cfg.HalfOpenCalls {
			return false
		}
		b.probesIssued++
		return true
	}
	return true
}

// Ready reports whether Allow would admit a call at now. It takes no slot.
func (b *Breaker) Ready(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		return now.Sub(b.openedAt) >= b.cfg.OpenDuration
	case BreakerHalfOpen:
		return b.probesIssued < b.cfg.HalfOpenCalls
	}
	return true
}

// Forget hands back the slot of an allowed call whose outcome is not
// recorded.
func (b *Breaker) Forget() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerHalfOpen && b.probesIssued > 0 {
		b.probesIssued--
	}
}

// Record feeds the outcome of an allowed call back into the breaker.
func (b *Breaker) Record(now time.Time, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		if b.filled == len(b.ring) {
			if b.ring[b.pos] {
				b.failures--
			}
		} else {
			b.filled++
		}
		b.ring[b.pos] = !success
		if !success {
			b.failures++
		}
		b.pos = (b.pos + 1) % len(b.ring)

		if b.filled >= b.cfg.MinCalls && b.failureRate() >= b.cfg.FailureRateThreshold {
			b.transition(BreakerOpen, now)
		}
	case BreakerHalfOpen:
		if !success {
			b.transition(BreakerOpen, now)
			return
		}
		b.probesSucceeded++
		if b.probesSucceeded >= b.cfg.HalfOpenCalls {
			b.transition(BreakerClosed, now)
		}
	}
}

func (b *Breaker) failureRate() float64 {
	if b.filled == 0 {
		return 0
	}
	return float64(b.failures) / float64(b.filled)
}

func (b *Breaker) transition(to BreakerState, now time.Time) {
	from := b.state
	b.state = to
	b.probesIssued, b.probesSucceeded = 0, 0
	switch to {
	case BreakerOpen:
		b.openedAt = now
	case BreakerClosed:
		clear(b.ring)
		b.pos, b.filled, b.failures = 0, 0, 0
	}
	if b.onChange != nil && from != to {
		b.onChange(from, to)
	}
}
