package sender

import (
	"context"
	"sync"
	"time"

	"fiscal/internal/domain"
)

// Throttle remembers, per device, when the last exchange ended without a
// reply. Entries older than the reconnect interval carry no information and
// are dropped on lookup or by Sweep.
type Throttle struct {
	mu       sync.Mutex
	interval time.Duration
	failedAt map[domain.DeviceID]time.Time
}

func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{interval: interval, failedAt: make(map[domain.DeviceID]time.Time)}
}

// Blocked reports whether now is still inside the device's reconnect interval.
func (t *Throttle) Blocked(id domain.DeviceID, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.failedAt[id]
	if !ok {
		return false
	}
	if now.Sub(at) >= t.interval {
		delete(t.failedAt, id)
		return false
	}
	return true
}

func (t *Throttle) Mark(id domain.DeviceID, now time.Time) {
	t.mu.Lock()
	t.failedAt[id] = now
	t.mu.Unlock()
}

func (t *Throttle) Clear(id domain.DeviceID) {
	t.mu.Lock()
	delete(t.failedAt, id)
	t.mu.Unlock()
}

// Sweep removes expired entries and returns how many remain.
func (t *Throttle) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, at := range t.failedAt {
		if now.Sub(at) >= t.interval {
			delete(t.failedAt, id)
		}
	}
	return len(t.failedAt)
}

func (t *Throttle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.failedAt)
}

// Run sweeps every interval until ctx is done. report, when non-nil,
// receives the remaining entry count after each sweep.
func (t *Throttle) Run(ctx context.Context, every time.Duration, now func() time.Time, report func(int)) {
	if every <= 0 {
		every = t.interval
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := t.Sweep(now())
			if report != nil {
				report(n)
			}
		}
	}
}
