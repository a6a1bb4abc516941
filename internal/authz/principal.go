// Package authz authenticates callers with EdDSA bearer tokens and decides
// whether a principal may run an operation on a device.
package authz

import (
	"context"

	"fiscal/internal/domain"

	"github.com/google/uuid"
)

// Principal is the authenticated caller. A nil DeviceID means the token is
// not bound to one device; a nil CashierID means an operator token with no
// cashier record behind it.
type Principal struct {
	Subject   string
	Role      domain.Role
	DeviceID  *domain.DeviceID
	CashierID *domain.CashierID
}

// Scoped reports whether the principal may address device id at all.
func (p Principal) Scoped(id domain.DeviceID) bool {
	return p.DeviceID == nil || *p.DeviceID == id
}

type ctxKey int

const (
	principalKey ctxKey = iota
	pinKey
)

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// WithPIN carries the cashier PIN presented with the request.
func WithPIN(ctx context.Context, pin string) context.Context {
	return context.WithValue(ctx, pinKey, pin)
}

func PINFromContext(ctx context.Context) string {
	s, _ := ctx.Value(pinKey).(string)
	return s
}

func parseOptionalUUID(v any) (*uuid.UUID, error) {
	s, _ := v.(string)
	if s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
