package service

import (
	"context"

	"fiscal/internal/domain"
	"fiscal/internal/ofd"
	"fiscal/internal/sender"
	"fiscal/internal/storage"
)

// PrepareFunc checks the operation's own precondition and builds the
// document to persist. It runs inside the executor's transaction after the
// compliance guards.
type PrepareFunc func(ctx context.Context, tx storage.Tx, dev *domain.Device) (*domain.FiscalDocument, error)

type Operation struct {
	// Name identifies the operation in idempotency records; replaying a key
	// under another name is refused.
	Name         string
	Kind         domain.CommandType
	RequiredRole domain.Role
	Prepare      PrepareFunc
}

type Execution struct {
	Document *domain.FiscalDocument
	Replayed bool
	Result   sender.Result
	Outcome  ofd.Outcome
}

type OperationExecutor interface {
	ExecuteIdempotent(ctx context.Context, deviceID domain.DeviceID, key string, op Operation) (*Execution, error)
}

// Authorizer decides whether the caller in ctx may act on a device.
type Authorizer interface {
	Authorize(ctx context.Context, tx storage.Tx, deviceID domain.DeviceID, required domain.Role) error
}

// DeliveryHook runs inside the transaction of an operation whose TICKET was
// confirmed online.
type DeliveryHook interface {
	OnDelivered(ctx context.Context, tx storage.Tx, dev *domain.Device, doc *domain.FiscalDocument) error
}
