// Package guard holds the compliance state machines evaluated before every
// fiscal operation. Guards run inside the caller's transaction and persist
// the device before refusing, so a refusal still records the transition
// that caused it.
package guard

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"fiscal/internal/domain"
	"fiscal/internal/observability/metrics"
	"fiscal/internal/storage"
)

const (
	DefaultAutonomousMax = 72 * time.Hour
	DefaultShiftMax      = 24 * time.Hour
)

// QueueProbe answers whether a device has unsent commands.
type QueueProbe interface {
	HasQueuedCommands(ctx context.Context, tx storage.Tx, deviceID domain.DeviceID) (bool, error)
}

// AutonomousModeGuard limits how long a device may operate with unconfirmed
// OFD commands.
type AutonomousModeGuard struct {
	queue QueueProbe
	max   time.Duration
	now   func() time.Time
	log   *slog.Logger
}

func NewAutonomousModeGuard(queue QueueProbe, max time.Duration, now func() time.Time, log *slog.Logger) *AutonomousModeGuard {
	if max <= 0 {
		max = DefaultAutonomousMax
	}
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &AutonomousModeGuard{queue: queue, max: max, now: now, log: log}
}

// Enforce is idempotent. It returns a *domain.ConflictError when the device
// must not accept the operation; any device change is saved first.
func (g *AutonomousModeGuard) Enforce(ctx context.Context, tx storage.Tx, dev *domain.Device) error {
	queued, err := g.queue.HasQueuedCommands(ctx, tx, dev.ID)
	if err != nil {
		return err
	}
	now := g.now().UTC()
	changed := false
	var conflict error

	switch {
	case queued && dev.AutonomousSince == nil:
		changed = dev.EnterAutonomous(now)
	case !queued && dev.AutonomousSince != nil && !dev.Blocked():
		changed = dev.LeaveAutonomous()
	}

	switch {
	case dev.Blocked() && dev.BlockReason == domain.BlockOfdSuspended:
		conflict = domain.NewConflict(domain.ConflictDeviceBlocked, dev.ID, "device suspended by OFD")
	case dev.Blocked() && !queued:
		dev.LeaveAutonomous()
		dev.State = domain.DeviceActive
		dev.BlockReason = domain.BlockNone
		changed = true
		g.log.Info("autonomous block lifted", "device_id", dev.ID)
	case dev.AutonomousSince != nil && now.Sub(*dev.AutonomousSince) > g.max:
		if dev.Block(domain.BlockAutonomous) {
			changed = true
			g.log.Warn("device blocked: autonomous mode too long",
				"device_id", dev.ID, "autonomous_since", dev.AutonomousSince, "max", g.max.String())
		}
		conflict = domain.NewConflict(domain.ConflictAutonomousTooLong, dev.ID,
			"autonomous since %s exceeds %s", dev.AutonomousSince.Format(time.RFC3339), g.max)
	case dev.Blocked() && queued:
		conflict = domain.NewConflict(domain.ConflictAutonomousTooLong, dev.ID, "device blocked until the queue drains")
	}

	if changed {
		if err := tx.Devices().Save(ctx, dev); err != nil {
			return err
		}
	}
	if conflict != nil {
		countConflict(conflict)
	}
	return conflict
}

func countConflict(err error) {
	var ce *domain.ConflictError
	if errors.As(err, &ce) {
		metrics.GuardConflictsTotal.WithLabelValues(string(ce.Reason)).Inc()
	}
}
