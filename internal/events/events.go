package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Event interface {
	EventName() string
}

// Publisher receives events after the transaction that produced them has
// committed.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

type PublisherFunc func(ctx context.Context, e Event)

func (f PublisherFunc) Publish(ctx context.Context, e Event) { f(ctx, e) }

// LogPublisher writes every event as a structured log line.
type LogPublisher struct {
	Log *slog.Logger
}

func (p LogPublisher) Publish(ctx context.Context, e Event) {
	log := p.Log
	if log == nil {
		log = slog.Default()
	}
	log.InfoContext(ctx, "event", "name", e.EventName(), "payload", e)
}

// Multi fans an event out to several publishers.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) {
	for _, p := range m {
		p.Publish(ctx, e)
	}
}

// Counted increments counter once per event, labelled by event name.
func Counted(counter *prometheus.CounterVec) Publisher {
	return PublisherFunc(func(_ context.Context, e Event) {
		counter.WithLabelValues(e.EventName()).Inc()
	})
}

type DeviceRegistered struct {
	DeviceID     string    `json:"deviceId"`
	SerialNumber string    `json:"serialNumber"`
	At           time.Time `json:"at"`
}

func (DeviceRegistered) EventName() string { return "device.registered" }

type DeviceDeleted struct {
	DeviceID string           `json:"deviceId"`
	Deleted  map[string]int64 `json:"deleted"`
	At       time.Time        `json:"at"`
}

func (DeviceDeleted) EventName() string { return "device.deleted" }

type DeviceBlocked struct {
	DeviceID string    `json:"deviceId"`
	Reason   string    `json:"reason"`
	At       time.Time `json:"at"`
}

func (DeviceBlocked) EventName() string { return "device.blocked" }
