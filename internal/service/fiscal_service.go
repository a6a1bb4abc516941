package service

import (
	"context"

	"fiscal/internal/domain"
	"fiscal/internal/dto"
)

type ReceiptService interface {
	Create(ctx context.Context, deviceID domain.DeviceID, key string, req dto.ReceiptRequest) (*dto.OperationResponse, error)
}

type CashService interface {
	Move(ctx context.Context, deviceID domain.DeviceID, key string, req dto.CashRequest) (*dto.OperationResponse, error)
}

type ShiftService interface {
	Open(ctx context.Context, deviceID domain.DeviceID) (*dto.ShiftResponse, error)
	Close(ctx context.Context, deviceID domain.DeviceID, key string) (*dto.OperationResponse, error)
	ReportX(ctx context.Context, deviceID domain.DeviceID, key string) (*dto.OperationResponse, error)
}
