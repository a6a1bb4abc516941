// Package queue implements the durable per-device command queue with its
// ONLINE and OFFLINE lanes and the lease that gives one worker exclusive
// rights to a device's commands.
//
// Every method takes the storage.Tx it runs in; the queue holds no state of
// its own beyond configuration.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"fiscal/internal/domain"
	"fiscal/internal/observability/metrics"
	"fiscal/internal/storage"
)

// Entry identifies a command. Re-enqueueing the same identity is a no-op.
type Entry struct {
	DeviceID   domain.DeviceID
	Type       domain.CommandType
	PayloadRef string
}

type Queue struct {
	backoff BackoffPolicy
	now     func() time.Time
	log     *slog.Logger
}

type Option func(*Queue)

func WithClock(now func() time.Time) Option { return func(q *Queue) { q.now = now } }

func WithLogger(l *slog.Logger) Option { return func(q *Queue) { q.log = l } }

func New(backoff BackoffPolicy, opts ...Option) *Queue {
	if backoff == nil {
		backoff = ExponentialBackoff{Base: 5 * time.Second, Max: 10 * time.Minute}
	}
	q := &Queue{backoff: backoff, now: time.Now, log: slog.Default()}
	for _, o := range opts {
		o(q)
	}
	return q
}

func (q *Queue) Now() time.Time { return q.now().UTC() }

func (q *Queue) EnqueueOnline(ctx context.Context, tx storage.Tx, e Entry) (bool, error) {
	return q.enqueue(ctx, tx, domain.LaneOnline, e)
}

func (q *Queue) EnqueueOffline(ctx context.Context, tx storage.Tx, e Entry) (bool, error) {
	return q.enqueue(ctx, tx, domain.LaneOffline, e)
}

func (q *Queue) enqueue(ctx context.Context, tx storage.Tx, lane domain.Lane, e Entry) (bool, error) {
	if !e.Type.Valid() {
		return false, domain.Invalid("type", "unknown command type %q", e.Type)
	}
	now := q.Now()
	cmd := &domain.QueueCommand{
		DeviceID:      e.DeviceID,
		Type:          e.Type,
		PayloadRef:    e.PayloadRef,
		Lane:          lane,
		Status:        domain.QueuePending,
		NextAttemptAt: now,
		CreatedAt:     now,
	}
	accepted, err := tx.Queue().Insert(ctx, cmd)
	if err != nil {
		return false, fmt.Errorf("enqueue %s: %w", lane, err)
	}
	metrics.QueueEnqueuedTotal.WithLabelValues(string(lane), strconv.FormatBool(accepted)).Inc()
	q.log.Debug("command enqueued",
		"device_id", e.DeviceID, "command", e.Type, "lane", lane, "payload_ref", e.PayloadRef, "accepted", accepted)
	return accepted, nil
}

// HasQueuedCommands reports whether any command of the device, in either
// lane, is not yet SENT.
func (q *Queue) HasQueuedCommands(ctx context.Context, tx storage.Tx, deviceID domain.DeviceID) (bool, error) {
	return tx.Queue().HasUnsent(ctx, deviceID)
}

// TryAcquire takes the device lease for owner until leaseUntil. It fails
// while another owner holds an unexpired lease.
func (q *Queue) TryAcquire(ctx context.Context, tx storage.Tx, deviceID domain.DeviceID, owner string, leaseUntil time.Time) (bool, error) {
	return tx.Leases().TryAcquire(ctx, deviceID, owner, leaseUntil, q.Now())
}

func (q *Queue) Renew(ctx context.Context, tx storage.Tx, deviceID domain.DeviceID, owner string, leaseUntil time.Time) (bool, error) {
	return tx.Leases().Renew(ctx, deviceID, owner, leaseUntil, q.Now())
}

func (q *Queue) Release(ctx context.Context, tx storage.Tx, deviceID domain.DeviceID, owner string) error {
	return tx.Leases().Release(ctx, deviceID, owner)
}

// RetryFailed moves every FAILED command of the device back to PENDING with
// cleared attempt bookkeeping. The lease is left alone.
func (q *Queue) RetryFailed(ctx context.Context, tx storage.Tx, deviceID domain.DeviceID) (int64, error) {
	n, err := tx.Queue().ResetFailed(ctx, deviceID, q.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.log.Info("failed commands requeued", "device_id", deviceID, "count", n)
	}
	return n, nil
}

// Next returns the head-of-line command of the device and marks it
// IN_PROGRESS, or nil when the queue is empty or the head is not yet due.
// Later commands never overtake a head that is waiting for its backoff.
func (q *Queue) Next(ctx context.Context, tx storage.Tx, deviceID domain.DeviceID) (*domain.QueueCommand, error) {
	head, err := tx.Queue().Head(ctx, deviceID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if head.NextAttemptAt.After(q.Now()) {
		return nil, nil
	}
	head.Status = domain.QueueInProgress
	head.Attempt++
	if err := tx.Queue().Save(ctx, head); err != nil {
		return nil, err
	}
	return head, nil
}

func (q *Queue) MarkSent(ctx context.Context, tx storage.Tx, cmd *domain.QueueCommand) error {
	cmd.Status = domain.QueueSent
	cmd.LastError = ""
	metrics.QueueDispatchTotal.WithLabelValues("sent").Inc()
	return tx.Queue().Save(ctx, cmd)
}

// MarkFailed parks a command that OFD rejected. It stays unsent, so the
// device keeps counting as having a backlog, until RetryFailed.
func (q *Queue) MarkFailed(ctx context.Context, tx storage.Tx, cmd *domain.QueueCommand, reason string) error {
	cmd.Status = domain.QueueFailed
	cmd.LastError = reason
	metrics.QueueDispatchTotal.WithLabelValues("failed").Inc()
	q.log.Warn("queued command rejected", "device_id", cmd.DeviceID, "seq", cmd.Seq, "command", cmd.Type, "err", reason)
	return tx.Queue().Save(ctx, cmd)
}

// Reschedule returns a command to PENDING after a delivery attempt without
// reply, delayed by the backoff policy.
func (q *Queue) Reschedule(ctx context.Context, tx storage.Tx, cmd *domain.QueueCommand, reason string) error {
	delay := q.backoff.NextDelay(cmd.Attempt)
	cmd.Status = domain.QueuePending
	cmd.LastError = reason
	cmd.NextAttemptAt = q.Now().Add(delay)
	metrics.QueueDispatchTotal.WithLabelValues("retry").Inc()
	q.log.Debug("queued command rescheduled",
		"device_id", cmd.DeviceID, "seq", cmd.Seq, "attempt", cmd.Attempt, "delay", delay.String())
	return tx.Queue().Save(ctx, cmd)
}

func (q *Queue) Stats(ctx context.Context, tx storage.Tx, deviceID domain.DeviceID) (*domain.QueueStats, error) {
	return tx.Queue().Stats(ctx, deviceID)
}

// DevicesWithPending lists devices that have a command due now.
func (q *Queue) DevicesWithPending(ctx context.Context, tx storage.Tx, limit int) ([]domain.DeviceID, error) {
	return tx.Queue().DevicesWithPending(ctx, q.Now(), limit)
}
