package impl

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"fiscal/internal/domain"
	"fiscal/internal/dto"
	"fiscal/internal/service"
	"fiscal/internal/storage"
)

var _ service.CashService = (*CashServiceImpl)(nil)

const OpCash = "cash.move"

type CashServiceImpl struct {
	exec service.OperationExecutor
	now  func() time.Time
}

func NewCashServiceImpl(exec service.OperationExecutor) *CashServiceImpl {
	return &CashServiceImpl{
		exec: exec,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Move records a cash deposit or withdrawal.
func (c *CashServiceImpl) Move(ctx context.Context, deviceID domain.DeviceID, key string, req dto.CashRequest) (*dto.OperationResponse, error) {
	dir := domain.CashDirection(strings.ToUpper(strings.TrimSpace(req.Direction)))
	if dir != domain.CashIn && dir != domain.CashOut {
		return nil, domain.Invalid("direction", "must be %s or %s", domain.CashIn, domain.CashOut)
	}
	if !req.Amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	amount := req.Amount.Round(2)
	raw, err := json.Marshal(domain.CashPayload{Direction: dir, Amount: amount})
	if err != nil {
		return nil, err
	}
	exec, err := c.exec.ExecuteIdempotent(ctx, deviceID, key, service.Operation{
		Name:         OpCash,
		Kind:         domain.CommandMoneyPlacement,
		RequiredRole: domain.RoleCashier,
		Prepare: func(ctx context.Context, tx storage.Tx, dev *domain.Device) (*domain.FiscalDocument, error) {
			shift, err := currentOrOpenShift(ctx, tx, dev, c.now())
			if err != nil {
				return nil, err
			}
			return &domain.FiscalDocument{
				ShiftID: shift.ID,
				ShiftNo: shift.Number,
				Total:   amount,
				Payload: raw,
			}, nil
		},
	})
	if err != nil {
		return nil, err
	}
	return toOperationResponse(exec), nil
}
