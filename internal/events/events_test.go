package events_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"fiscal/internal/events"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMultiFansOutInOrder(t *testing.T) {
	var seen []string
	record := func(tag string) events.Publisher {
		return events.PublisherFunc(func(_ context.Context, e events.Event) {
			seen = append(seen, tag+":"+e.EventName())
		})
	}

	var buf bytes.Buffer
	pub := events.Multi{
		record("a"),
		events.LogPublisher{Log: slog.New(slog.NewJSONHandler(&buf, nil))},
		record("b"),
	}
	pub.Publish(context.Background(), events.DeviceBlocked{DeviceID: "d-1", Reason: "OFD_SUSPENDED"})

	assert.Equal(t, []string{"a:device.blocked", "b:device.blocked"}, seen)
	assert.Contains(t, buf.String(), `"name":"device.blocked"`)
}

func TestCountedLabelsByEventName(t *testing.T) {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "events_test_total"}, []string{"event"})
	pub := events.Counted(counter)

	pub.Publish(context.Background(), events.DeviceRegistered{DeviceID: "d-1"})
	pub.Publish(context.Background(), events.DeviceRegistered{DeviceID: "d-2"})
	pub.Publish(context.Background(), events.DeviceDeleted{DeviceID: "d-1"})

	assert.Equal(t, 2.0, testutil.ToFloat64(counter.WithLabelValues("device.registered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(counter.WithLabelValues("device.deleted")))
}
