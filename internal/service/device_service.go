package service

import (
	"context"

	"fiscal/internal/domain"
	"fiscal/internal/dto"
)

type DeviceService interface {
	Register(ctx context.Context, req dto.RegisterDeviceRequest) (*dto.DeviceResponse, error)
	Get(ctx context.Context, deviceID domain.DeviceID) (*dto.DeviceResponse, error)
	EnterProgramming(ctx context.Context, deviceID domain.DeviceID) (*dto.DeviceResponse, error)
	UpdateSettings(ctx context.Context, deviceID domain.DeviceID, req dto.DeviceSettingsRequest) (*dto.DeviceResponse, error)
	ExitProgramming(ctx context.Context, deviceID domain.DeviceID) (*dto.DeviceResponse, error)
	// Unblock lifts an OFD suspension once the operator has resolved it.
	Unblock(ctx context.Context, deviceID domain.DeviceID) (*dto.DeviceResponse, error)
	Delete(ctx context.Context, deviceID domain.DeviceID) (*dto.DeleteDeviceResponse, error)
	AddCashier(ctx context.Context, deviceID domain.DeviceID, req dto.AddCashierRequest) (*dto.CashierResponse, error)
}

type QueueService interface {
	Status(ctx context.Context, deviceID domain.DeviceID) (*dto.QueueStatusResponse, error)
	RetryFailed(ctx context.Context, deviceID domain.DeviceID) (*dto.RetryFailedResponse, error)
	Sync(ctx context.Context, deviceID domain.DeviceID) (*dto.SyncResponse, error)
}
