package authz

import (
	"context"
	"errors"
	"fmt"

	"fiscal/internal/domain"
	"fiscal/internal/storage"

	"github.com/google/uuid"
)

// Authorizer checks the context principal against a device and a required
// role. Cashier principals are re-read inside the transaction so that a
// deactivated cashier loses access immediately.
type Authorizer struct {
	pins *PinHasher
}

func NewAuthorizer(pins *PinHasher) *Authorizer {
	if pins == nil {
		pins = NewPinHasher(DefaultPinParams)
	}
	return &Authorizer{pins: pins}
}

// Authorize returns nil when the principal may run an operation needing
// required on device. uuid.Nil as device denotes a fleet-level operation,
// which device-bound tokens may not perform.
func (a *Authorizer) Authorize(ctx context.Context, tx storage.Tx, device domain.DeviceID, required domain.Role) error {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return domain.ErrUnauthenticated
	}
	if device == uuid.Nil {
		if p.DeviceID != nil {
			return fmt.Errorf("%w: token is bound to device %s", domain.ErrForbidden, *p.DeviceID)
		}
	} else if !p.Scoped(device) {
		return fmt.Errorf("%w: token is bound to another device", domain.ErrForbidden)
	}

	role := p.Role
	if p.CashierID != nil {
		c, err := tx.Cashiers().Get(ctx, *p.CashierID)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: cashier %s", domain.ErrForbidden, *p.CashierID)
		}
		if err != nil {
			return err
		}
		if !c.Active {
			return fmt.Errorf("%w: cashier %s is inactive", domain.ErrForbidden, c.ID)
		}
		if device != uuid.Nil && c.DeviceID != device {
			return fmt.Errorf("%w: cashier %s is not registered on this device", domain.ErrForbidden, c.ID)
		}
		if len(c.PinHash) > 0 {
			pin := PINFromContext(ctx)
			if pin == "" || !a.pins.Verify(pin, c) {
				return domain.ErrInvalidPin
			}
		}
		role = c.Role
	}
	if !role.Satisfies(required) {
		return fmt.Errorf("%w: role %s, need %s", domain.ErrForbidden, role, required)
	}
	return nil
}
