package domain

import "time"

type Role string

const (
	RoleCashier       Role = "CASHIER"
	RoleSeniorCashier Role = "SENIOR_CASHIER"
	RoleAdmin         Role = "ADMIN"
)

func (r Role) rank() int {
	switch r {
	case RoleCashier:
		return 1
	case RoleSeniorCashier:
		return 2
	case RoleAdmin:
		return 3
	}
	return 0
}

// Satisfies reports whether r grants at least the privileges of required.
func (r Role) Satisfies(required Role) bool {
	return r.rank() > 0 && r.rank() >= required.rank()
}

func (r Role) Valid() bool { return r.rank() > 0 }

type Cashier struct {
	ID        CashierID `gorm:"type:uuid;primaryKey" json:"id"`
	DeviceID  DeviceID  `gorm:"type:uuid;not null;index" json:"deviceId"`
	Name      string    `gorm:"type:text;not null" json:"name"`
	Role      Role      `gorm:"type:text;not null" json:"role"`
	PinHash   []byte    `json:"-"`
	PinSalt   []byte    `json:"-"`
	PinParams []byte    `json:"-"`
	Active    bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
}

func (Cashier) TableName() string { return "cashiers" }

func (c *Cashier) GetHash() []byte       { return c.PinHash }
func (c *Cashier) GetSalt() []byte       { return c.PinSalt }
func (c *Cashier) GetParamsJSON() []byte { return c.PinParams }
