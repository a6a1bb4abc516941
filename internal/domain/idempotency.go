package domain

import "time"

type IdempotencyStatus string

const (
	IdempotencyInFlight  IdempotencyStatus = "IN_FLIGHT"
	IdempotencyCompleted IdempotencyStatus = "COMPLETED"
)

type IdempotencyRecord struct {
	ID          uint64            `gorm:"primaryKey;autoIncrement"`
	DeviceID    DeviceID          `gorm:"type:uuid;not null;uniqueIndex:ux_idempotency_device_key,priority:1"`
	Key         string            `gorm:"type:text;not null;uniqueIndex:ux_idempotency_device_key,priority:2"`
	Operation   string            `gorm:"type:text;not null"`
	Status      IdempotencyStatus `gorm:"type:text;not null"`
	ResponseRef string            `gorm:"type:text"`
	CreatedAt   time.Time         `gorm:"not null"`
	UpdatedAt   time.Time         `gorm:"not null"`
}

func (IdempotencyRecord) TableName() string { return "idempotency_records" }
