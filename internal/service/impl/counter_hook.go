package impl

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fiscal/internal/domain"
	"fiscal/internal/service"
	"fiscal/internal/storage"
)

var _ service.DeliveryHook = (*CounterHook)(nil)

// CounterHook adds a confirmed receipt to its shift counters. Returns are
// accumulated as negative amounts.
type CounterHook struct {
	now func() time.Time
}

func NewCounterHook(now func() time.Time) *CounterHook {
	if now == nil {
		now = time.Now
	}
	return &CounterHook{now: now}
}

func (h *CounterHook) OnDelivered(ctx context.Context, tx storage.Tx, dev *domain.Device, doc *domain.FiscalDocument) error {
	var p domain.ReceiptPayload
	if err := json.Unmarshal(doc.Payload, &p); err != nil {
		return fmt.Errorf("decode receipt %s: %w", doc.ID, err)
	}
	shift := &domain.Shift{ID: doc.ShiftID, DeviceID: dev.ID}
	c, err := loadCounter(ctx, tx, shift)
	if err != nil {
		return err
	}
	switch p.Kind {
	case domain.ReceiptReturn:
		c.ReturnsCount++
		c.ReturnsTotal = c.ReturnsTotal.Sub(doc.Total)
	default:
		c.SalesCount++
		c.SalesTotal = c.SalesTotal.Add(doc.Total)
	}
	c.UpdatedAt = h.now().UTC()
	return tx.Counters().Save(ctx, c)
}
