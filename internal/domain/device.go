package domain

import "time"

type DeviceState string

const (
	DeviceIdle        DeviceState = "IDLE"
	DeviceActive      DeviceState = "ACTIVE"
	DeviceProgramming DeviceState = "PROGRAMMING"
	DeviceBlocked     DeviceState = "BLOCKED"
)

// DeviceMode is the connectivity classification derived from queue occupancy.
type DeviceMode string

const (
	ModeOnline     DeviceMode = "ONLINE"
	ModeAutonomous DeviceMode = "AUTONOMOUS"
)

// BlockReason records why a device entered BLOCKED. Only connectivity blocks
// are lifted automatically once the queue drains.
type BlockReason string

const (
	BlockNone         BlockReason = ""
	BlockAutonomous   BlockReason = "AUTONOMOUS_TOO_LONG"
	BlockOfdSuspended BlockReason = "OFD_SUSPENDED"
)

type Device struct {
	ID              DeviceID    `gorm:"type:uuid;primaryKey" json:"id"`
	SerialNumber    string      `gorm:"type:text;not null;uniqueIndex:ux_devices_serial" json:"serialNumber"`
	State           DeviceState `gorm:"type:text;not null" json:"state"`
	Mode            DeviceMode  `gorm:"type:text;not null" json:"mode"`
	BlockReason     BlockReason `gorm:"type:text" json:"blockReason,omitempty"`
	AutonomousSince *time.Time  `json:"autonomousSince,omitempty"`
	LastShiftNo     int         `gorm:"not null;default:0" json:"lastShiftNo"`
	OfdToken        string      `gorm:"type:text;not null" json:"-"`
	ReqNum          int         `gorm:"not null;default:0" json:"reqNum"`
	AutoCloseShift  bool        `gorm:"not null;default:false" json:"autoCloseShift"`
	CreatedAt       time.Time   `gorm:"not null" json:"createdAt"`
	UpdatedAt       time.Time   `gorm:"not null" json:"updatedAt"`
}

func (Device) TableName() string { return "devices" }

func (d *Device) Blocked() bool { return d.State == DeviceBlocked }

// Block moves the device to BLOCKED unless it already is.
func (d *Device) Block(reason BlockReason) bool {
	if d.State == DeviceBlocked && d.BlockReason == reason {
		return false
	}
	d.State = DeviceBlocked
	d.BlockReason = reason
	return true
}

// EnterAutonomous stamps the start of autonomous operation. It is a no-op
// when the device is already autonomous.
func (d *Device) EnterAutonomous(at time.Time) bool {
	if d.AutonomousSince != nil {
		return false
	}
	t := at.UTC()
	d.AutonomousSince = &t
	d.Mode = ModeAutonomous
	return true
}

func (d *Device) LeaveAutonomous() bool {
	if d.AutonomousSince == nil && d.Mode == ModeOnline {
		return false
	}
	d.AutonomousSince = nil
	d.Mode = ModeOnline
	return true
}

// Settings are the fields editable while the device is in PROGRAMMING.
type Settings struct {
	OfdToken       *string
	AutoCloseShift *bool
}
