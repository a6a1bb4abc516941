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

	"github.com/shopspring/decimal"
)

var _ service.ReceiptService = (*ReceiptServiceImpl)(nil)

const OpReceipt = "receipt.create"

type ReceiptServiceImpl struct {
	exec service.OperationExecutor
	now  func() time.Time
}

func NewReceiptServiceImpl(exec service.OperationExecutor) *ReceiptServiceImpl {
	return &ReceiptServiceImpl{
		exec: exec,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (r *ReceiptServiceImpl) Create(ctx context.Context, deviceID domain.DeviceID, key string, req dto.ReceiptRequest) (*dto.OperationResponse, error) {
	payload, err := receiptPayload(req)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	exec, err := r.exec.ExecuteIdempotent(ctx, deviceID, key, service.Operation{
		Name:         OpReceipt,
		Kind:         domain.CommandTicket,
		RequiredRole: domain.RoleCashier,
		Prepare: func(ctx context.Context, tx storage.Tx, dev *domain.Device) (*domain.FiscalDocument, error) {
			shift, err := currentOrOpenShift(ctx, tx, dev, r.now())
			if err != nil {
				return nil, err
			}
			return &domain.FiscalDocument{
				ShiftID: shift.ID,
				ShiftNo: shift.Number,
				Total:   payload.Total,
				Payload: raw,
			}, nil
		},
	})
	if err != nil {
		return nil, err
	}
	return toOperationResponse(exec), nil
}

func receiptPayload(req dto.ReceiptRequest) (*domain.ReceiptPayload, error) {
	kind := domain.ReceiptKind(strings.ToUpper(strings.TrimSpace(req.Kind)))
	switch kind {
	case "":
		kind = domain.ReceiptSell
	case domain.ReceiptSell, domain.ReceiptReturn:
	default:
		return nil, domain.Invalid("kind", "unknown receipt kind %q", req.Kind)
	}
	if len(req.Items) == 0 {
		return nil, domain.ErrEmptyReceipt
	}
	p := &domain.ReceiptPayload{Kind: kind, Total: decimal.Zero}
	for i, it := range req.Items {
		name := strings.TrimSpace(it.Name)
		if name == "" {
			return nil, domain.Invalid("items", "item %d has no name", i)
		}
		if it.Price.IsNegative() {
			return nil, domain.Invalid("items", "item %d has a negative price", i)
		}
		if !it.Quantity.IsPositive() {
			return nil, domain.Invalid("items", "item %d quantity must be positive", i)
		}
		p.Items = append(p.Items, domain.ReceiptItem{Name: name, Price: it.Price, Quantity: it.Quantity})
		p.Total = p.Total.Add(it.Price.Mul(it.Quantity))
	}
	p.Total = p.Total.Round(2)
	return p, nil
}
