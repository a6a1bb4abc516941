package store

import (
	"context"
	"time"

	"fiscal/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DeviceStore struct{ db *gorm.DB }

func (d *DeviceStore) Create(ctx context.Context, device *domain.Device) error {
	if device.ID == uuid.Nil {
		device.ID = uuid.New()
	}
	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now
	return translate(d.db.WithContext(ctx).Create(device).Error)
}

func (d *DeviceStore) Get(ctx context.Context, id domain.DeviceID) (*domain.Device, error) {
	var device domain.Device
	if err := d.db.WithContext(ctx).First(&device, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &device, nil
}

// GetForUpdate takes a row lock on PostgreSQL. SQLite drops the locking
// clause and relies on its single-writer transaction instead.
func (d *DeviceStore) GetForUpdate(ctx context.Context, id domain.DeviceID) (*domain.Device, error) {
	var device domain.Device
	err := d.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&device, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &device, nil
}

func (d *DeviceStore) GetBySerial(ctx context.Context, serial string) (*domain.Device, error) {
	var device domain.Device
	if err := d.db.WithContext(ctx).First(&device, "serial_number = ?", serial).Error; err != nil {
		return nil, translate(err)
	}
	return &device, nil
}

func (d *DeviceStore) Save(ctx context.Context, device *domain.Device) error {
	device.UpdatedAt = time.Now().UTC()
	return translate(d.db.WithContext(ctx).Save(device).Error)
}

func (d *DeviceStore) Delete(ctx context.Context, id domain.DeviceID) (int64, error) {
	tx := d.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Device{})
	return tx.RowsAffected, translate(tx.Error)
}
