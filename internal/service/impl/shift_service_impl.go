package impl

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"fiscal/internal/delivery"
	"fiscal/internal/domain"
	"fiscal/internal/dto"
	"fiscal/internal/events"
	"fiscal/internal/guard"
	"fiscal/internal/service"
	"fiscal/internal/storage"
)

var (
	_ service.ShiftService = (*ShiftServiceImpl)(nil)
	_ guard.ShiftCloser    = (*ShiftServiceImpl)(nil)
)

const (
	OpCloseShift = "shift.close"
	OpReportX    = "report.x"
)

type ShiftServiceImpl struct {
	store      storage.Storage
	exec       service.OperationExecutor
	authz      service.Authorizer
	autonomous *guard.AutonomousModeGuard
	delivery   *delivery.Deliverer
	publisher  events.Publisher
	now        func() time.Time
	log        *slog.Logger
}

func NewShiftServiceImpl(
	st storage.Storage,
	exec service.OperationExecutor,
	authz service.Authorizer,
	autonomous *guard.AutonomousModeGuard,
	d *delivery.Deliverer,
	publisher events.Publisher,
	log *slog.Logger,
) *ShiftServiceImpl {
	if log == nil {
		log = slog.Default()
	}
	if publisher == nil {
		publisher = events.LogPublisher{Log: log}
	}
	return &ShiftServiceImpl{
		store:      st,
		exec:       exec,
		authz:      authz,
		autonomous: autonomous,
		delivery:   d,
		publisher:  publisher,
		now: func() time.Time {
			return time.Now().UTC()
		},
		log: log,
	}
}

// Open starts a shift explicitly. No OFD command is involved.
func (s *ShiftServiceImpl) Open(ctx context.Context, deviceID domain.DeviceID) (*dto.ShiftResponse, error) {
	var (
		shift   *domain.Shift
		refusal error
	)
	err := s.store.WithTx(ctx, func(tx storage.Tx) error {
		shift, refusal = nil, nil
		dev, err := lockDevice(ctx, tx, deviceID)
		if err != nil {
			return err
		}
		if dev.State == domain.DeviceProgramming {
			return domain.ErrDeviceProgramming
		}
		if err := s.authz.Authorize(ctx, tx, dev.ID, domain.RoleCashier); err != nil {
			return err
		}
		if err := s.autonomous.Enforce(ctx, tx, dev); err != nil {
			if domain.IsConflict(err, "") {
				refusal = err
				return nil
			}
			return err
		}
		if _, err := tx.Shifts().Current(ctx, dev.ID); err == nil {
			return domain.ErrShiftAlreadyOpen
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		shift, err = openShift(ctx, tx, dev, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	if refusal != nil {
		return nil, refusal
	}
	s.log.Info("shift opened", "device_id", deviceID, "shift_no", shift.Number)
	return toShiftResponse(shift), nil
}

// Close produces the Z report of the open shift and sends it to OFD.
func (s *ShiftServiceImpl) Close(ctx context.Context, deviceID domain.DeviceID, key string) (*dto.OperationResponse, error) {
	exec, err := s.exec.ExecuteIdempotent(ctx, deviceID, key, service.Operation{
		Name:         OpCloseShift,
		Kind:         domain.CommandCloseShift,
		RequiredRole: domain.RoleSeniorCashier,
		Prepare: func(ctx context.Context, tx storage.Tx, dev *domain.Device) (*domain.FiscalDocument, error) {
			shift, err := currentShift(ctx, tx, dev)
			if err != nil {
				return nil, err
			}
			doc, err := reportDocument(ctx, tx, shift, false)
			if err != nil {
				return nil, err
			}
			return doc, closeShift(ctx, tx, dev, shift, s.now())
		},
	})
	if err != nil {
		return nil, err
	}
	if !exec.Replayed {
		s.publisher.Publish(ctx, events.ShiftClosed{
			DeviceID:   deviceID.String(),
			ShiftNo:    exec.Document.ShiftNo,
			DocumentID: exec.Document.ID.String(),
			At:         s.now(),
		})
	}
	return toOperationResponse(exec), nil
}

func (s *ShiftServiceImpl) ReportX(ctx context.Context, deviceID domain.DeviceID, key string) (*dto.OperationResponse, error) {
	exec, err := s.exec.ExecuteIdempotent(ctx, deviceID, key, service.Operation{
		Name:         OpReportX,
		Kind:         domain.CommandReportX,
		RequiredRole: domain.RoleCashier,
		Prepare: func(ctx context.Context, tx storage.Tx, dev *domain.Device) (*domain.FiscalDocument, error) {
			shift, err := currentShift(ctx, tx, dev)
			if err != nil {
				return nil, err
			}
			return reportDocument(ctx, tx, shift, false)
		},
	})
	if err != nil {
		return nil, err
	}
	return toOperationResponse(exec), nil
}

// AutoCloseShift closes an over-long shift on behalf of the shift guard.
// The Z report is queued for the worker rather than sent inline.
func (s *ShiftServiceImpl) AutoCloseShift(ctx context.Context, tx storage.Tx, dev *domain.Device, shift *domain.Shift) error {
	doc, err := reportDocument(ctx, tx, shift, true)
	if err != nil {
		return err
	}
	doc.DeviceID = dev.ID
	doc.Type = domain.CommandCloseShift
	doc.OfdStatus = domain.OfdPending
	if err := tx.Documents().Create(ctx, doc); err != nil {
		return err
	}
	if err := closeShift(ctx, tx, dev, shift, s.now()); err != nil {
		return err
	}
	lane, err := s.delivery.EnqueueRouted(ctx, tx, dev, doc)
	if err != nil {
		return err
	}
	s.log.Info("shift closed automatically",
		"device_id", dev.ID, "shift_no", shift.Number, "doc_id", doc.ID, "lane", lane)
	return nil
}
