// Package store implements storage.Storage on top of gorm. It serves both
// PostgreSQL (cluster deployments) and SQLite (single node, tests).
package store

import (
	"context"

	"fiscal/internal/domain"
	"fiscal/internal/storage"

	"gorm.io/gorm"
)

type Store struct {
	DB *gorm.DB
}

var (
	_ storage.Storage = (*Store)(nil)
	_ storage.Tx      = (*Store)(nil)
)

func New(db *gorm.DB) *Store { return &Store{DB: db} }

func (s *Store) WithTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{DB: tx})
	})
}

// Models lists every table owned by the store, in creation order.
func Models() []any {
	return []any{
		&domain.Device{},
		&domain.Shift{},
		&domain.ShiftCounter{},
		&domain.FiscalDocument{},
		&domain.QueueCommand{},
		&domain.Lease{},
		&domain.IdempotencyRecord{},
		&domain.Cashier{},
	}
}

func (s *Store) AutoMigrate(ctx context.Context) error {
	return s.DB.WithContext(ctx).AutoMigrate(Models()...)
}

func (s *Store) Devices() storage.DeviceRepository { return &DeviceStore{db: s.DB} }

func (s *Store) Shifts() storage.ShiftRepository { return &ShiftStore{db: s.DB} }

func (s *Store) Documents() storage.DocumentRepository { return &DocumentStore{db: s.DB} }

func (s *Store) Queue() storage.QueueRepository { return &QueueStore{db: s.DB} }

func (s *Store) Leases() storage.LeaseRepository { return &LeaseStore{db: s.DB} }

func (s *Store) Idempotency() storage.IdempotencyRepository { return &IdempotencyStore{db: s.DB} }

func (s *Store) Counters() storage.CounterRepository { return &CounterStore{db: s.DB} }

func (s *Store) Cashiers() storage.CashierRepository { return &CashierStore{db: s.DB} }
