package dto

import "time"

type RegisterDeviceRequest struct {
	SerialNumber   string `json:"serialNumber"`
	OfdToken       string `json:"ofdToken"`
	AutoCloseShift bool   `json:"autoCloseShift"`
}

type DeviceSettingsRequest struct {
	OfdToken       *string `json:"ofdToken,omitempty"`
	AutoCloseShift *bool   `json:"autoCloseShift,omitempty"`
}

type DeviceResponse struct {
	ID              string     `json:"id"`
	SerialNumber    string     `json:"serialNumber"`
	State           string     `json:"state"`
	Mode            string     `json:"mode"`
	BlockReason     string     `json:"blockReason,omitempty"`
	AutonomousSince *time.Time `json:"autonomousSince,omitempty"`
	ShiftNo         int        `json:"shiftNo"`
	ShiftOpen       bool       `json:"shiftOpen"`
	ReqNum          int        `json:"reqNum"`
	AutoCloseShift  bool       `json:"autoCloseShift"`
	HasToken        bool       `json:"hasToken"`
}

// DeleteDeviceResponse lists how many rows each table lost.
type DeleteDeviceResponse struct {
	DeviceID string           `json:"deviceId"`
	Deleted  map[string]int64 `json:"deleted"`
}

type AddCashierRequest struct {
	Name string `json:"name"`
	Role string `json:"role"`
	Pin  string `json:"pin"`
}

type CashierResponse struct {
	ID       string `json:"id"`
	DeviceID string `json:"deviceId"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	Active   bool   `json:"active"`
}
