package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

type ReceiptItemRequest struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

type ReceiptRequest struct {
	Kind  string               `json:"kind"`
	Items []ReceiptItemRequest `json:"items"`
}

type CashRequest struct {
	Direction string          `json:"direction"`
	Amount    decimal.Decimal `json:"amount"`
}

// OperationResponse describes the fiscal document an operation produced.
// The same body is returned for every retry carrying the same key.
type OperationResponse struct {
	DocumentID     string          `json:"documentId"`
	Type           string          `json:"type"`
	ShiftNo        int             `json:"shiftNo"`
	Total          decimal.Decimal `json:"total"`
	OfdStatus      string          `json:"ofdStatus"`
	ResultCode     *int            `json:"resultCode,omitempty"`
	FiscalSign     string          `json:"fiscalSign,omitempty"`
	AutonomousSign string          `json:"autonomousSign,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	Replayed       bool            `json:"replayed"`
}

type ShiftResponse struct {
	ID       string     `json:"id"`
	DeviceID string     `json:"deviceId"`
	Number   int        `json:"number"`
	Status   string     `json:"status"`
	OpenedAt time.Time  `json:"openedAt"`
	ClosedAt *time.Time `json:"closedAt,omitempty"`
}
