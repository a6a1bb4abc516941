package domain

import "time"

type Lane string

const (
	LaneOnline  Lane = "ONLINE"
	LaneOffline Lane = "OFFLINE"
)

type QueueStatus string

const (
	QueuePending    QueueStatus = "PENDING"
	QueueInProgress QueueStatus = "IN_PROGRESS"
	QueueSent       QueueStatus = "SENT"
	QueueFailed     QueueStatus = "FAILED"
)

// QueueCommand is one outbound OFD command. Seq is assigned by storage on
// insert and defines submission order; identity is (DeviceID, Type, PayloadRef).
type QueueCommand struct {
	Seq           uint64      `gorm:"primaryKey;autoIncrement" json:"seq"`
	DeviceID      DeviceID    `gorm:"type:uuid;not null;uniqueIndex:ux_queue_identity,priority:1;index:idx_queue_device_status,priority:1" json:"deviceId"`
	Type          CommandType `gorm:"type:text;not null;uniqueIndex:ux_queue_identity,priority:2" json:"type"`
	PayloadRef    string      `gorm:"type:text;not null;uniqueIndex:ux_queue_identity,priority:3" json:"payloadRef"`
	Lane          Lane        `gorm:"type:text;not null" json:"lane"`
	Status        QueueStatus `gorm:"type:text;not null;index:idx_queue_device_status,priority:2" json:"status"`
	Attempt       int         `gorm:"not null;default:0" json:"attempt"`
	NextAttemptAt time.Time   `gorm:"not null" json:"nextAttemptAt"`
	LastError     string      `gorm:"type:text" json:"lastError,omitempty"`
	CreatedAt     time.Time   `gorm:"not null" json:"createdAt"`
	UpdatedAt     time.Time   `gorm:"not null" json:"updatedAt"`
}

func (QueueCommand) TableName() string { return "queue_commands" }

func (q *QueueCommand) Unsent() bool { return q.Status != QueueSent }

// Lease grants one worker exclusive rights to a device's queue until LeaseUntil.
type Lease struct {
	DeviceID   DeviceID  `gorm:"type:uuid;primaryKey" json:"deviceId"`
	OwnerID    string    `gorm:"type:text;not null" json:"ownerId"`
	LeaseUntil time.Time `gorm:"not null" json:"leaseUntil"`
}

func (Lease) TableName() string { return "queue_leases" }

func (l *Lease) Expired(now time.Time) bool { return !now.Before(l.LeaseUntil) }

// QueueStats summarises a device's queue per lane and status.
type QueueStats struct {
	DeviceID DeviceID                     `json:"deviceId"`
	Counts   map[Lane]map[QueueStatus]int `json:"counts"`
	Head     *QueueCommand                `json:"head,omitempty"`
}
