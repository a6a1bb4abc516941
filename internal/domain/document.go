package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type OfdStatus string

const (
	OfdPending OfdStatus = "PENDING"
	OfdSent    OfdStatus = "SENT"
	OfdFailed  OfdStatus = "FAILED"
)

type FiscalDocument struct {
	ID             DocumentID      `gorm:"type:uuid;primaryKey" json:"id"`
	DeviceID       DeviceID        `gorm:"type:uuid;not null;index" json:"deviceId"`
	ShiftID        ShiftID         `gorm:"type:uuid;not null;index" json:"shiftId"`
	ShiftNo        int             `gorm:"not null" json:"shiftNo"`
	Type           CommandType     `gorm:"type:text;not null" json:"type"`
	OfdStatus      OfdStatus       `gorm:"type:text;not null" json:"ofdStatus"`
	Total          decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"total"`
	Payload        datatypes.JSON  `json:"payload"`
	ResultCode     *int            `json:"resultCode,omitempty"`
	FiscalSign     string          `gorm:"type:text" json:"fiscalSign,omitempty"`
	AutonomousSign string          `gorm:"type:text" json:"autonomousSign,omitempty"`
	DeliveredAt    *time.Time      `json:"deliveredAt,omitempty"`
	CreatedAt      time.Time       `gorm:"not null" json:"createdAt"`
	UpdatedAt      time.Time       `gorm:"not null" json:"updatedAt"`
}

func (FiscalDocument) TableName() string { return "fiscal_documents" }

// ReceiptKind distinguishes sales from returns inside a TICKET document.
type ReceiptKind string

const (
	ReceiptSell   ReceiptKind = "SELL"
	ReceiptReturn ReceiptKind = "RETURN"
)

type ReceiptItem struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

type ReceiptPayload struct {
	Kind  ReceiptKind     `json:"kind"`
	Items []ReceiptItem   `json:"items"`
	Total decimal.Decimal `json:"total"`
}

// CashDirection distinguishes cash-in from cash-out in a MONEY_PLACEMENT document.
type CashDirection string

const (
	CashIn  CashDirection = "DEPOSIT"
	CashOut CashDirection = "WITHDRAWAL"
)

type CashPayload struct {
	Direction CashDirection   `json:"direction"`
	Amount    decimal.Decimal `json:"amount"`
}

type ReportPayload struct {
	ShiftNo      int             `json:"shiftNo"`
	SalesCount   int             `json:"salesCount"`
	SalesTotal   decimal.Decimal `json:"salesTotal"`
	ReturnsCount int             `json:"returnsCount"`
	ReturnsTotal decimal.Decimal `json:"returnsTotal"`
	AutoClosed   bool            `json:"autoClosed,omitempty"`
}
