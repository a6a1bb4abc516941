package guard

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"fiscal/internal/domain"
	"fiscal/internal/storage"
)

// ShiftCloser performs the regular close-shift procedure on behalf of the guard.
type ShiftCloser interface {
	AutoCloseShift(ctx context.Context, tx storage.Tx, dev *domain.Device, shift *domain.Shift) error
}

type ShiftDurationGuard struct {
	max    time.Duration
	closer ShiftCloser
	now    func() time.Time
	log    *slog.Logger
}

func NewShiftDurationGuard(max time.Duration, closer ShiftCloser, now func() time.Time, log *slog.Logger) *ShiftDurationGuard {
	if max <= 0 {
		max = DefaultShiftMax
	}
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &ShiftDurationGuard{max: max, closer: closer, now: now, log: log}
}

// SetCloser wires the closer after construction, for services that
// themselves depend on the guard.
func (g *ShiftDurationGuard) SetCloser(c ShiftCloser) { g.closer = c }

// Enforce closes or refuses an over-long shift. It reports whether the shift
// was closed automatically.
func (g *ShiftDurationGuard) Enforce(ctx context.Context, tx storage.Tx, dev *domain.Device) (bool, error) {
	shift, err := tx.Shifts().Current(ctx, dev.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	elapsed := g.now().Sub(shift.OpenedAt)
	if elapsed <= g.max {
		return false, nil
	}
	if dev.AutoCloseShift && g.closer != nil {
		g.log.Info("closing over-long shift", "device_id", dev.ID, "shift_no", shift.Number, "elapsed", elapsed.String())
		if err := g.closer.AutoCloseShift(ctx, tx, dev, shift); err != nil {
			return false, err
		}
		return true, nil
	}
	conflict := domain.NewConflict(domain.ConflictShiftTooLong, dev.ID,
		"shift %d open for %s, limit %s", shift.Number, elapsed.Round(time.Second), g.max)
	countConflict(conflict)
	return false, conflict
}
