// Package worker runs the background delivery loop for queued OFD commands.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"fiscal/internal/delivery"
	"fiscal/internal/domain"
	"fiscal/internal/queue"
	"fiscal/internal/storage"

	"github.com/google/uuid"
)

// ErrLeaseLost is returned when another owner took over a device mid-run.
var ErrLeaseLost = errors.New("worker: device lease lost")

type Config struct {
	OwnerID      string
	PollInterval time.Duration
	LeaseTTL     time.Duration
	BatchSize    int
	// MaxPerDevice caps commands handled for one device per lease.
	MaxPerDevice int
}

func DefaultOwnerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "kktd"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

type Dispatcher struct {
	cfg       Config
	store     storage.Storage
	queue     *queue.Queue
	deliverer *delivery.Deliverer
	now       func() time.Time
	log       *slog.Logger
}

func New(cfg Config, st storage.Storage, q *queue.Queue, d *delivery.Deliverer, now func() time.Time, log *slog.Logger) *Dispatcher {
	if cfg.OwnerID == "" {
		cfg.OwnerID = DefaultOwnerID()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxPerDevice <= 0 {
		cfg.MaxPerDevice = 100
	}
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{cfg: cfg, store: st, queue: q, deliverer: d, now: now, log: log.With("owner", cfg.OwnerID)}
}

func (w *Dispatcher) OwnerID() string { return w.cfg.OwnerID }

// Run polls until ctx is cancelled.
func (w *Dispatcher) Run(ctx context.Context) error {
	w.log.Info("dispatch worker started", "poll_interval", w.cfg.PollInterval.String(), "lease_ttl", w.cfg.LeaseTTL.String())
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.log.Error("dispatch pass failed", "err", err)
		}
		select {
		case <-ctx.Done():
			w.log.Info("dispatch worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce processes every device that has a due command and returns how
// many commands were settled.
func (w *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	var ids []domain.DeviceID
	err := w.store.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		ids, err = w.queue.DevicesWithPending(ctx, tx, w.cfg.BatchSize)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("list pending devices: %w", err)
	}
	total := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		n, err := w.ProcessDevice(ctx, id)
		total += n
		if err != nil {
			w.log.Warn("device dispatch aborted", "device_id", id, "err", err)
		}
	}
	return total, nil
}

// ProcessDevice drains the device's due commands in order while holding its
// lease. It stops at the first command that gets no reply, since later
// commands must not overtake it, and once OFD suspends the device. A device
// leased by someone else is skipped.
func (w *Dispatcher) ProcessDevice(ctx context.Context, id domain.DeviceID) (int, error) {
	var acquired bool
	err := w.store.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		acquired, err = w.queue.TryAcquire(ctx, tx, id, w.cfg.OwnerID, w.now().Add(w.cfg.LeaseTTL))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("acquire lease: %w", err)
	}
	if !acquired {
		w.log.Debug("device leased elsewhere", "device_id", id)
		return 0, nil
	}
	defer w.release(context.WithoutCancel(ctx), id)

	done := 0
	for done < w.cfg.MaxPerDevice && ctx.Err() == nil {
		handled, proceed, err := w.step(ctx, id)
		if err != nil {
			return done, err
		}
		if handled {
			done++
		}
		if !proceed {
			break
		}
	}
	return done, nil
}

// step settles the head-of-line command in its own transaction. It reports
// whether a command was handled and whether the next one may follow. The
// transaction is detached from ctx so a shutdown cannot roll back a command
// that already went on the wire; the lease TTL bounds it instead.
func (w *Dispatcher) step(ctx context.Context, id domain.DeviceID) (handled, proceed bool, err error) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.LeaseTTL)
	defer cancel()

	err = w.store.WithTx(sctx, func(tx storage.Tx) error {
		handled, proceed = false, false
		renewed, err := w.queue.Renew(sctx, tx, id, w.cfg.OwnerID, w.now().Add(w.cfg.LeaseTTL))
		if err != nil {
			return err
		}
		if !renewed {
			return ErrLeaseLost
		}
		dev, err := tx.Devices().GetForUpdate(sctx, id)
		if err != nil || suspended(dev) {
			return err
		}
		// A throttled or breaker-refused device keeps its head command
		// untouched, attempt count included.
		if _, admitted := w.deliverer.Admit(dev); !admitted {
			return nil
		}
		cmd, err := w.queue.Next(sctx, tx, id)
		if err != nil || cmd == nil {
			return err
		}
		replied, err := w.deliverer.Redeliver(sctx, tx, dev, cmd)
		if err != nil {
			return err
		}
		handled = true
		proceed = replied && !suspended(dev)
		return nil
	})
	return handled, proceed, err
}

// suspended reports an OFD block; queued commands wait for an operator
// unblock rather than being sent into it.
func suspended(dev *domain.Device) bool {
	return dev.Blocked() && dev.BlockReason == domain.BlockOfdSuspended
}

func (w *Dispatcher) release(ctx context.Context, id domain.DeviceID) {
	err := w.store.WithTx(ctx, func(tx storage.Tx) error {
		return w.queue.Release(ctx, tx, id, w.cfg.OwnerID)
	})
	if err != nil {
		w.log.Warn("lease release failed", "device_id", id, "err", err)
	}
}
