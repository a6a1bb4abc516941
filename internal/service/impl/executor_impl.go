package impl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"fiscal/internal/delivery"
	"fiscal/internal/domain"
	"fiscal/internal/events"
	"fiscal/internal/guard"
	"fiscal/internal/observability/metrics"
	"fiscal/internal/ofd"
	"fiscal/internal/service"
	"fiscal/internal/storage"

	"github.com/google/uuid"
)

var _ service.OperationExecutor = (*OperationExecutorImpl)(nil)

// OperationExecutorImpl runs fiscal operations at most once per
// (device, idempotency key). Every step happens in one transaction holding
// the device row lock.
type OperationExecutorImpl struct {
	store      storage.Storage
	authz      service.Authorizer
	autonomous *guard.AutonomousModeGuard
	shifts     *guard.ShiftDurationGuard
	delivery   *delivery.Deliverer
	hooks      []service.DeliveryHook
	publisher  events.Publisher
	txTimeout  time.Duration
	now        func() time.Time
	log        *slog.Logger
}

const defaultTxTimeout = 2 * time.Minute

type ExecutorDeps struct {
	Store      storage.Storage
	Authorizer service.Authorizer
	Autonomous *guard.AutonomousModeGuard
	Shifts     *guard.ShiftDurationGuard
	Delivery   *delivery.Deliverer
	Hooks      []service.DeliveryHook
	Publisher  events.Publisher
	// TxTimeout bounds an operation once it is under way; it must cover a
	// whole OFD exchange. Defaults to two minutes.
	TxTimeout time.Duration
	Now       func() time.Time
	Log       *slog.Logger
}

func NewOperationExecutorImpl(d ExecutorDeps) *OperationExecutorImpl {
	e := &OperationExecutorImpl{
		store:      d.Store,
		authz:      d.Authorizer,
		autonomous: d.Autonomous,
		shifts:     d.Shifts,
		delivery:   d.Delivery,
		hooks:      d.Hooks,
		publisher:  d.Publisher,
		txTimeout:  d.TxTimeout,
		now:        d.Now,
		log:        d.Log,
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.txTimeout <= 0 {
		e.txTimeout = defaultTxTimeout
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.publisher == nil {
		e.publisher = events.LogPublisher{Log: e.log}
	}
	return e
}

func (e *OperationExecutorImpl) ExecuteIdempotent(ctx context.Context, deviceID domain.DeviceID, key string, op service.Operation) (*service.Execution, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, domain.ErrMissingIdempotencyKey
	}
	if op.Prepare == nil || !op.Kind.Valid() {
		return nil, fmt.Errorf("operation %q is not executable", op.Name)
	}

	var (
		exec    *service.Execution
		refusal error
	)
	// The caller going away must not roll back a command OFD may already
	// hold, so the transaction runs detached under its own deadline.
	txCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.txTimeout)
	defer cancel()

	err := e.store.WithTx(txCtx, func(tx storage.Tx) error {
		exec, refusal = nil, nil
		dev, err := lockDevice(txCtx, tx, deviceID)
		if err != nil {
			return err
		}
		if dev.State == domain.DeviceProgramming {
			return domain.ErrDeviceProgramming
		}
		if err := e.authz.Authorize(txCtx, tx, dev.ID, op.RequiredRole); err != nil {
			return err
		}

		rec, err := tx.Idempotency().Get(txCtx, dev.ID, key)
		if err == nil {
			exec, err = e.replay(txCtx, tx, rec, op)
			return err
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		// A refusing guard may still have changed the device; commit that
		// and report the refusal after the transaction.
		if err := e.enforceGuards(txCtx, tx, dev, op); err != nil {
			if domain.IsConflict(err, "") {
				refusal = err
				return nil
			}
			return err
		}
		if dev.OfdToken == "" {
			return domain.ErrMissingToken
		}

		now := e.now().UTC()
		rec = &domain.IdempotencyRecord{
			DeviceID:  dev.ID,
			Key:       key,
			Operation: op.Name,
			Status:    domain.IdempotencyInFlight,
			CreatedAt: now,
			UpdatedAt: now,
		}
		inserted, err := tx.Idempotency().Insert(txCtx, rec)
		if err != nil {
			return err
		}
		if !inserted {
			return domain.NewConflict(domain.ConflictInFlight, dev.ID, "operation with key %q is in flight", key)
		}

		doc, err := op.Prepare(txCtx, tx, dev)
		if err != nil {
			return err
		}
		doc.DeviceID = dev.ID
		doc.Type = op.Kind
		doc.OfdStatus = domain.OfdPending
		if err := tx.Documents().Create(txCtx, doc); err != nil {
			return err
		}

		res, outcome, err := e.delivery.Deliver(txCtx, tx, dev, doc)
		if err != nil {
			return err
		}
		if outcome.Delivered() && doc.Type == domain.CommandTicket {
			for _, h := range e.hooks {
				if err := h.OnDelivered(txCtx, tx, dev, doc); err != nil {
					return err
				}
			}
		}

		rec.Status = domain.IdempotencyCompleted
		rec.ResponseRef = doc.ID.String()
		rec.UpdatedAt = e.now().UTC()
		if err := tx.Idempotency().Save(txCtx, rec); err != nil {
			return err
		}
		exec = &service.Execution{Document: doc, Result: res, Outcome: outcome}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if refusal != nil {
		return nil, refusal
	}
	e.publish(ctx, exec)
	return exec, nil
}

func (e *OperationExecutorImpl) enforceGuards(ctx context.Context, tx storage.Tx, dev *domain.Device, op service.Operation) error {
	if err := e.autonomous.Enforce(ctx, tx, dev); err != nil {
		return err
	}
	// Closing is how an over-long shift is resolved, so it is exempt.
	if op.Kind == domain.CommandCloseShift {
		return nil
	}
	_, err := e.shifts.Enforce(ctx, tx, dev)
	return err
}

func (e *OperationExecutorImpl) replay(ctx context.Context, tx storage.Tx, rec *domain.IdempotencyRecord, op service.Operation) (*service.Execution, error) {
	if rec.Operation != op.Name {
		return nil, domain.NewConflict(domain.ConflictKeyReused, rec.DeviceID,
			"key %q was used for %s", rec.Key, rec.Operation)
	}
	if rec.Status != domain.IdempotencyCompleted {
		return nil, domain.NewConflict(domain.ConflictInFlight, rec.DeviceID, "operation with key %q is in flight", rec.Key)
	}
	docID, err := uuid.Parse(rec.ResponseRef)
	if err != nil {
		return nil, fmt.Errorf("idempotency record %d: bad response ref: %w", rec.ID, err)
	}
	doc, err := tx.Documents().Get(ctx, docID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, domain.ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	metrics.IdempotentReplaysTotal.WithLabelValues(op.Name).Inc()
	e.log.Debug("idempotent replay", "device_id", rec.DeviceID, "key", rec.Key, "doc_id", doc.ID)
	return &service.Execution{Document: doc, Replayed: true, Outcome: ofd.Interpret(doc.ResultCode)}, nil
}

func (e *OperationExecutorImpl) publish(ctx context.Context, exec *service.Execution) {
	if exec.Replayed {
		return
	}
	doc := exec.Document
	now := e.now().UTC()
	if exec.Outcome.Delivered() && doc.Type == domain.CommandTicket {
		e.publisher.Publish(ctx, events.ReceiptDelivered{
			DeviceID:   doc.DeviceID.String(),
			DocumentID: doc.ID.String(),
			ShiftNo:    doc.ShiftNo,
			Total:      doc.Total.StringFixed(2),
			FiscalSign: doc.FiscalSign,
			At:         now,
		})
	}
	if exec.Outcome.Transition == ofd.TransitionBlock {
		e.publisher.Publish(ctx, events.DeviceBlocked{
			DeviceID: doc.DeviceID.String(),
			Reason:   string(domain.BlockOfdSuspended),
			At:       now,
		})
	}
}

func lockDevice(ctx context.Context, tx storage.Tx, id domain.DeviceID) (*domain.Device, error) {
	dev, err := tx.Devices().GetForUpdate(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, domain.ErrDeviceNotFound
	}
	return dev, err
}
