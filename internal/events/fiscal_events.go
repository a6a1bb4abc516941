package events

import "time"

// ReceiptDelivered is emitted once per receipt confirmed online by OFD. It
// feeds the customer delivery channels.
type ReceiptDelivered struct {
	DeviceID   string    `json:"deviceId"`
	DocumentID string    `json:"documentId"`
	ShiftNo    int       `json:"shiftNo"`
	Total      string    `json:"total"`
	FiscalSign string    `json:"fiscalSign"`
	At         time.Time `json:"at"`
}

func (ReceiptDelivered) EventName() string { return "receipt.delivered" }

type ShiftClosed struct {
	DeviceID   string    `json:"deviceId"`
	ShiftNo    int       `json:"shiftNo"`
	DocumentID string    `json:"documentId"`
	AutoClosed bool      `json:"autoClosed"`
	At         time.Time `json:"at"`
}

func (ShiftClosed) EventName() string { return "shift.closed" }
