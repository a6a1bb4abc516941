// Package storage declares the transactional persistence contract shared by
// the SQL store and the in-memory store.
//
// Every repository obtained from a Tx operates inside that transaction. The
// caller threads the Tx explicitly; nothing is carried in goroutine-local or
// context state.
package storage

import (
	"context"
	"errors"
	"time"

	"fiscal/internal/domain"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

type Storage interface {
	// WithTx runs fn inside one transaction. A non-nil error from fn rolls
	// back every write made through tx.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

type Tx interface {
	Devices() DeviceRepository
	Shifts() ShiftRepository
	Documents() DocumentRepository
	Queue() QueueRepository
	Leases() LeaseRepository
	Idempotency() IdempotencyRepository
	Counters() CounterRepository
	Cashiers() CashierRepository
}

type DeviceRepository interface {
	Create(ctx context.Context, d *domain.Device) error
	Get(ctx context.Context, id domain.DeviceID) (*domain.Device, error)
	// GetForUpdate loads the device and holds a write lock on it until the
	// transaction ends.
	GetForUpdate(ctx context.Context, id domain.DeviceID) (*domain.Device, error)
	GetBySerial(ctx context.Context, serial string) (*domain.Device, error)
	Save(ctx context.Context, d *domain.Device) error
	Delete(ctx context.Context, id domain.DeviceID) (int64, error)
}

type ShiftRepository interface {
	Create(ctx context.Context, s *domain.Shift) error
	// Current returns the open shift of the device or ErrNotFound.
	Current(ctx context.Context, deviceID domain.DeviceID) (*domain.Shift, error)
	Save(ctx context.Context, s *domain.Shift) error
	DeleteByDevice(ctx context.Context, deviceID domain.DeviceID) (int64, error)
}

type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.FiscalDocument) error
	Get(ctx context.Context, id domain.DocumentID) (*domain.FiscalDocument, error)
	Save(ctx context.Context, doc *domain.FiscalDocument) error
	DeleteByDevice(ctx context.Context, deviceID domain.DeviceID) (int64, error)
}

type QueueRepository interface {
	// Insert stores cmd and assigns its Seq. It returns false without error
	// when a command with the same identity already exists.
	Insert(ctx context.Context, cmd *domain.QueueCommand) (bool, error)
	// HasUnsent reports whether any command of the device is not SENT.
	HasUnsent(ctx context.Context, deviceID domain.DeviceID) (bool, error)
	// Head returns the oldest PENDING or IN_PROGRESS command of the device,
	// or ErrNotFound.
	Head(ctx context.Context, deviceID domain.DeviceID) (*domain.QueueCommand, error)
	Save(ctx context.Context, cmd *domain.QueueCommand) error
	// ResetFailed moves FAILED commands back to PENDING with cleared attempts.
	ResetFailed(ctx context.Context, deviceID domain.DeviceID, now time.Time) (int64, error)
	// DevicesWithPending lists devices having a PENDING or IN_PROGRESS command
	// due at or before now.
	DevicesWithPending(ctx context.Context, now time.Time, limit int) ([]domain.DeviceID, error)
	Stats(ctx context.Context, deviceID domain.DeviceID) (*domain.QueueStats, error)
	DeleteByDevice(ctx context.Context, deviceID domain.DeviceID) (int64, error)
}

type LeaseRepository interface {
	// TryAcquire inserts a lease for the device or replaces one that has
	// expired at now (or is already held by owner).
	TryAcquire(ctx context.Context, deviceID domain.DeviceID, owner string, until, now time.Time) (bool, error)
	// Renew extends a lease still held by owner.
	Renew(ctx context.Context, deviceID domain.DeviceID, owner string, until, now time.Time) (bool, error)
	Release(ctx context.Context, deviceID domain.DeviceID, owner string) error
	Get(ctx context.Context, deviceID domain.DeviceID) (*domain.Lease, error)
	DeleteByDevice(ctx context.Context, deviceID domain.DeviceID) (int64, error)
}

type IdempotencyRepository interface {
	Get(ctx context.Context, deviceID domain.DeviceID, key string) (*domain.IdempotencyRecord, error)
	// Insert returns false when a record with the same (device, key) exists.
	Insert(ctx context.Context, rec *domain.IdempotencyRecord) (bool, error)
	Save(ctx context.Context, rec *domain.IdempotencyRecord) error
	DeleteByDevice(ctx context.Context, deviceID domain.DeviceID) (int64, error)
}

type CounterRepository interface {
	Get(ctx context.Context, shiftID domain.ShiftID) (*domain.ShiftCounter, error)
	Save(ctx context.Context, c *domain.ShiftCounter) error
	DeleteByDevice(ctx context.Context, deviceID domain.DeviceID) (int64, error)
}

type CashierRepository interface {
	Create(ctx context.Context, c *domain.Cashier) error
	Get(ctx context.Context, id domain.CashierID) (*domain.Cashier, error)
	DeleteByDevice(ctx context.Context, deviceID domain.DeviceID) (int64, error)
}
