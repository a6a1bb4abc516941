package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ShiftStatus string

const (
	ShiftOpen   ShiftStatus = "OPEN"
	ShiftClosed ShiftStatus = "CLOSED"
)

type Shift struct {
	ID       ShiftID     `gorm:"type:uuid;primaryKey" json:"id"`
	DeviceID DeviceID    `gorm:"type:uuid;not null;index" json:"deviceId"`
	Number   int         `gorm:"not null" json:"number"`
	Status   ShiftStatus `gorm:"type:text;not null;index" json:"status"`
	OpenedAt time.Time   `gorm:"not null" json:"openedAt"`
	ClosedAt *time.Time  `json:"closedAt,omitempty"`
}

func (Shift) TableName() string { return "shifts" }

// ShiftCounter accumulates totals for receipts confirmed online.
type ShiftCounter struct {
	ShiftID      ShiftID         `gorm:"type:uuid;primaryKey" json:"shiftId"`
	DeviceID     DeviceID        `gorm:"type:uuid;not null;index" json:"deviceId"`
	SalesCount   int             `gorm:"not null;default:0" json:"salesCount"`
	SalesTotal   decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"salesTotal"`
	ReturnsCount int             `gorm:"not null;default:0" json:"returnsCount"`
	ReturnsTotal decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"returnsTotal"`
	UpdatedAt    time.Time       `gorm:"not null" json:"updatedAt"`
}

func (ShiftCounter) TableName() string { return "shift_counters" }
