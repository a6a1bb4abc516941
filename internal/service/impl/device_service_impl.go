package impl

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"fiscal/internal/authz"
	"fiscal/internal/domain"
	"fiscal/internal/dto"
	"fiscal/internal/events"
	"fiscal/internal/queue"
	"fiscal/internal/service"
	"fiscal/internal/storage"

	"github.com/google/uuid"
)

var _ service.DeviceService = (*DeviceServiceImpl)(nil)

type DeviceServiceImpl struct {
	store     storage.Storage
	authz     service.Authorizer
	queue     *queue.Queue
	pins      *authz.PinHasher
	publisher events.Publisher
	now       func() time.Time
	log       *slog.Logger
}

func NewDeviceServiceImpl(
	st storage.Storage,
	az service.Authorizer,
	q *queue.Queue,
	pins *authz.PinHasher,
	publisher events.Publisher,
	log *slog.Logger,
) *DeviceServiceImpl {
	if log == nil {
		log = slog.Default()
	}
	if publisher == nil {
		publisher = events.LogPublisher{Log: log}
	}
	if pins == nil {
		pins = authz.NewPinHasher(authz.DefaultPinParams)
	}
	return &DeviceServiceImpl{
		store:     st,
		authz:     az,
		queue:     q,
		pins:      pins,
		publisher: publisher,
		now: func() time.Time {
			return time.Now().UTC()
		},
		log: log,
	}
}

func (d *DeviceServiceImpl) Register(ctx context.Context, req dto.RegisterDeviceRequest) (*dto.DeviceResponse, error) {
	serial := strings.TrimSpace(req.SerialNumber)
	if serial == "" {
		return nil, domain.Invalid("serialNumber", "is required")
	}
	now := d.now()
	dev := &domain.Device{
		SerialNumber:   serial,
		State:          domain.DeviceIdle,
		Mode:           domain.ModeOnline,
		OfdToken:       strings.TrimSpace(req.OfdToken),
		AutoCloseShift: req.AutoCloseShift,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := d.store.WithTx(ctx, func(tx storage.Tx) error {
		if err := d.authz.Authorize(ctx, tx, uuid.Nil, domain.RoleAdmin); err != nil {
			return err
		}
		if _, err := tx.Devices().GetBySerial(ctx, serial); err == nil {
			return domain.ErrDuplicateSerial
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		err := tx.Devices().Create(ctx, dev)
		if errors.Is(err, storage.ErrDuplicate) {
			return domain.ErrDuplicateSerial
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	d.publisher.Publish(ctx, events.DeviceRegistered{DeviceID: dev.ID.String(), SerialNumber: serial, At: now})
	return toDeviceResponse(dev, false), nil
}

func (d *DeviceServiceImpl) Get(ctx context.Context, deviceID domain.DeviceID) (*dto.DeviceResponse, error) {
	var out *dto.DeviceResponse
	err := d.store.WithTx(ctx, func(tx storage.Tx) error {
		if err := d.authz.Authorize(ctx, tx, deviceID, domain.RoleCashier); err != nil {
			return err
		}
		dev, err := tx.Devices().Get(ctx, deviceID)
		if errors.Is(err, storage.ErrNotFound) {
			return domain.ErrDeviceNotFound
		}
		if err != nil {
			return err
		}
		out, err = d.describe(ctx, tx, dev)
		return err
	})
	return out, err
}

// EnterProgramming is refused while the device has unsent commands, an open
// shift or a block.
func (d *DeviceServiceImpl) EnterProgramming(ctx context.Context, deviceID domain.DeviceID) (*dto.DeviceResponse, error) {
	return d.mutate(ctx, deviceID, func(ctx context.Context, tx storage.Tx, dev *domain.Device) error {
		if dev.State == domain.DeviceProgramming {
			return nil
		}
		if dev.Blocked() {
			return domain.NewConflict(domain.ConflictDeviceBlocked, dev.ID, "device is blocked (%s)", dev.BlockReason)
		}
		queued, err := d.queue.HasQueuedCommands(ctx, tx, dev.ID)
		if err != nil {
			return err
		}
		if queued {
			return domain.NewConflict(domain.ConflictQueueNotEmpty, dev.ID, "unsent OFD commands must be delivered first")
		}
		if _, err := tx.Shifts().Current(ctx, dev.ID); err == nil {
			return domain.Invalid("shift", "close the open shift before programming")
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		dev.State = domain.DeviceProgramming
		return nil
	})
}

func (d *DeviceServiceImpl) UpdateSettings(ctx context.Context, deviceID domain.DeviceID, req dto.DeviceSettingsRequest) (*dto.DeviceResponse, error) {
	return d.mutate(ctx, deviceID, func(ctx context.Context, tx storage.Tx, dev *domain.Device) error {
		if dev.State != domain.DeviceProgramming {
			return domain.ErrDeviceNotProgramming
		}
		if req.OfdToken != nil {
			tok := strings.TrimSpace(*req.OfdToken)
			if tok == "" {
				return domain.ErrMissingToken
			}
			dev.OfdToken = tok
		}
		if req.AutoCloseShift != nil {
			dev.AutoCloseShift = *req.AutoCloseShift
		}
		return nil
	})
}

func (d *DeviceServiceImpl) ExitProgramming(ctx context.Context, deviceID domain.DeviceID) (*dto.DeviceResponse, error) {
	return d.mutate(ctx, deviceID, func(ctx context.Context, tx storage.Tx, dev *domain.Device) error {
		if dev.State != domain.DeviceProgramming {
			return domain.ErrDeviceNotProgramming
		}
		dev.State = domain.DeviceIdle
		return nil
	})
}

func (d *DeviceServiceImpl) Unblock(ctx context.Context, deviceID domain.DeviceID) (*dto.DeviceResponse, error) {
	return d.mutate(ctx, deviceID, func(ctx context.Context, tx storage.Tx, dev *domain.Device) error {
		if !dev.Blocked() {
			return nil
		}
		queued, err := d.queue.HasQueuedCommands(ctx, tx, dev.ID)
		if err != nil {
			return err
		}
		if queued {
			return domain.NewConflict(domain.ConflictQueueNotEmpty, dev.ID, "unsent OFD commands must be delivered first")
		}
		dev.State = domain.DeviceIdle
		if _, err := tx.Shifts().Current(ctx, dev.ID); err == nil {
			dev.State = domain.DeviceActive
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		d.log.Info("device unblocked", "device_id", dev.ID, "reason", dev.BlockReason)
		dev.BlockReason = domain.BlockNone
		dev.LeaveAutonomous()
		return nil
	})
}

// Delete removes the device with everything recorded for it.
func (d *DeviceServiceImpl) Delete(ctx context.Context, deviceID domain.DeviceID) (*dto.DeleteDeviceResponse, error) {
	deleted := map[string]int64{}
	err := d.store.WithTx(ctx, func(tx storage.Tx) error {
		clear(deleted)
		if err := d.authz.Authorize(ctx, tx, deviceID, domain.RoleAdmin); err != nil {
			return err
		}
		if _, err := lockDevice(ctx, tx, deviceID); err != nil {
			return err
		}
		steps := []struct {
			table string
			fn    func(context.Context, domain.DeviceID) (int64, error)
		}{
			{"queue_commands", tx.Queue().DeleteByDevice},
			{"queue_leases", tx.Leases().DeleteByDevice},
			{"idempotency_records", tx.Idempotency().DeleteByDevice},
			{"shift_counters", tx.Counters().DeleteByDevice},
			{"fiscal_documents", tx.Documents().DeleteByDevice},
			{"shifts", tx.Shifts().DeleteByDevice},
			{"cashiers", tx.Cashiers().DeleteByDevice},
			{"devices", tx.Devices().Delete},
		}
		for _, s := range steps {
			n, err := s.fn(ctx, deviceID)
			if err != nil {
				return err
			}
			deleted[s.table] = n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	d.log.Info("device deleted", "device_id", deviceID, "deleted", deleted)
	d.publisher.Publish(ctx, events.DeviceDeleted{DeviceID: deviceID.String(), Deleted: deleted, At: d.now()})
	return &dto.DeleteDeviceResponse{DeviceID: deviceID.String(), Deleted: deleted}, nil
}

func (d *DeviceServiceImpl) AddCashier(ctx context.Context, deviceID domain.DeviceID, req dto.AddCashierRequest) (*dto.CashierResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.Invalid("name", "is required")
	}
	role := domain.Role(strings.ToUpper(strings.TrimSpace(req.Role)))
	if !role.Valid() {
		return nil, domain.Invalid("role", "unknown role %q", req.Role)
	}
	c := &domain.Cashier{DeviceID: deviceID, Name: name, Role: role, Active: true, CreatedAt: d.now()}
	if req.Pin != "" {
		hash, salt, params, err := d.pins.Hash(req.Pin)
		if err != nil {
			return nil, err
		}
		c.PinHash, c.PinSalt, c.PinParams = hash, salt, params
	}
	err := d.store.WithTx(ctx, func(tx storage.Tx) error {
		if err := d.authz.Authorize(ctx, tx, deviceID, domain.RoleAdmin); err != nil {
			return err
		}
		if _, err := lockDevice(ctx, tx, deviceID); err != nil {
			return err
		}
		return tx.Cashiers().Create(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	return toCashierResponse(c), nil
}

// mutate runs fn on the locked device as an administrator and saves it.
func (d *DeviceServiceImpl) mutate(ctx context.Context, deviceID domain.DeviceID, fn func(context.Context, storage.Tx, *domain.Device) error) (*dto.DeviceResponse, error) {
	var out *dto.DeviceResponse
	err := d.store.WithTx(ctx, func(tx storage.Tx) error {
		if err := d.authz.Authorize(ctx, tx, deviceID, domain.RoleAdmin); err != nil {
			return err
		}
		dev, err := lockDevice(ctx, tx, deviceID)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx, dev); err != nil {
			return err
		}
		dev.UpdatedAt = d.now()
		if err := tx.Devices().Save(ctx, dev); err != nil {
			return err
		}
		out, err = d.describe(ctx, tx, dev)
		return err
	})
	return out, err
}

func (d *DeviceServiceImpl) describe(ctx context.Context, tx storage.Tx, dev *domain.Device) (*dto.DeviceResponse, error) {
	_, err := tx.Shifts().Current(ctx, dev.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	return toDeviceResponse(dev, err == nil), nil
}
