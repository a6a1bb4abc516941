package impl

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"fiscal/internal/domain"
	"fiscal/internal/storage"

	"github.com/shopspring/decimal"
)

// openShift starts the next shift of dev and moves an idle device to ACTIVE.
func openShift(ctx context.Context, tx storage.Tx, dev *domain.Device, now time.Time) (*domain.Shift, error) {
	dev.LastShiftNo++
	shift := &domain.Shift{
		DeviceID: dev.ID,
		Number:   dev.LastShiftNo,
		Status:   domain.ShiftOpen,
		OpenedAt: now,
	}
	if err := tx.Shifts().Create(ctx, shift); err != nil {
		return nil, err
	}
	if err := tx.Counters().Save(ctx, zeroCounter(shift)); err != nil {
		return nil, err
	}
	if dev.State == domain.DeviceIdle {
		dev.State = domain.DeviceActive
	}
	if err := tx.Devices().Save(ctx, dev); err != nil {
		return nil, err
	}
	return shift, nil
}

// currentOrOpenShift returns the open shift, opening one when there is none.
func currentOrOpenShift(ctx context.Context, tx storage.Tx, dev *domain.Device, now time.Time) (*domain.Shift, error) {
	shift, err := tx.Shifts().Current(ctx, dev.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return openShift(ctx, tx, dev, now)
	}
	return shift, err
}

func currentShift(ctx context.Context, tx storage.Tx, dev *domain.Device) (*domain.Shift, error) {
	shift, err := tx.Shifts().Current(ctx, dev.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, domain.ErrShiftNotOpen
	}
	return shift, err
}

func zeroCounter(shift *domain.Shift) *domain.ShiftCounter {
	return &domain.ShiftCounter{
		ShiftID:      shift.ID,
		DeviceID:     shift.DeviceID,
		SalesTotal:   decimal.Zero,
		ReturnsTotal: decimal.Zero,
	}
}

func loadCounter(ctx context.Context, tx storage.Tx, shift *domain.Shift) (*domain.ShiftCounter, error) {
	c, err := tx.Counters().Get(ctx, shift.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return zeroCounter(shift), nil
	}
	return c, err
}

// reportDocument builds an X or Z report from the shift counters.
func reportDocument(ctx context.Context, tx storage.Tx, shift *domain.Shift, autoClosed bool) (*domain.FiscalDocument, error) {
	c, err := loadCounter(ctx, tx, shift)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(domain.ReportPayload{
		ShiftNo:      shift.Number,
		SalesCount:   c.SalesCount,
		SalesTotal:   c.SalesTotal,
		ReturnsCount: c.ReturnsCount,
		ReturnsTotal: c.ReturnsTotal,
		AutoClosed:   autoClosed,
	})
	if err != nil {
		return nil, err
	}
	return &domain.FiscalDocument{
		ShiftID: shift.ID,
		ShiftNo: shift.Number,
		Total:   c.SalesTotal.Add(c.ReturnsTotal),
		Payload: payload,
	}, nil
}

// closeShift marks the shift closed and returns an active device to IDLE.
func closeShift(ctx context.Context, tx storage.Tx, dev *domain.Device, shift *domain.Shift, now time.Time) error {
	shift.Status = domain.ShiftClosed
	shift.ClosedAt = &now
	if err := tx.Shifts().Save(ctx, shift); err != nil {
		return err
	}
	if dev.State == domain.DeviceActive {
		dev.State = domain.DeviceIdle
	}
	return tx.Devices().Save(ctx, dev)
}
