package authz

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"fmt"

	"fiscal/internal/domain"

	"golang.org/x/crypto/argon2"
)

type Argon2Params struct {
	// Stored alongside the hash so verification uses the original cost.
	Time    uint32 `json:"t"`
	Memory  uint32 `json:"m"` // KiB
	Threads uint8  `json:"p"`
	KeyLen  uint32 `json:"k"`
	SaltLen uint32 `json:"s"`
}

// DefaultPinParams is lighter than a password policy: PINs are checked on
// every fiscal operation.
var DefaultPinParams = Argon2Params{Time: 1, Memory: 19 * 1024, Threads: 1, KeyLen: 32, SaltLen: 16}

type PinHasher struct {
	cur Argon2Params
}

func NewPinHasher(p Argon2Params) *PinHasher {
	if p.KeyLen == 0 {
		p = DefaultPinParams
	}
	return &PinHasher{cur: p}
}

func (h *PinHasher) Hash(pin string) (hash, salt, paramsJSON []byte, err error) {
	if len(pin) < 4 {
		return nil, nil, nil, domain.Invalid("pin", "must be at least 4 characters")
	}
	salt = make([]byte, h.cur.SaltLen)
	if _, err = rand.Read(salt); err != nil {
		return nil, nil, nil, err
	}
	hash = argon2.IDKey([]byte(pin), salt, h.cur.Time, h.cur.Memory, h.cur.Threads, h.cur.KeyLen)
	paramsJSON, err = json.Marshal(h.cur)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encode pin params: %w", err)
	}
	return hash, salt, paramsJSON, nil
}

func (h *PinHasher) Verify(pin string, cred interface {
	GetHash() []byte
	GetSalt() []byte
	GetParamsJSON() []byte
}) bool {
	var stored Argon2Params
	if err := json.Unmarshal(cred.GetParamsJSON(), &stored); err != nil {
		return false
	}
	calculated := argon2.IDKey([]byte(pin), cred.GetSalt(), stored.Time, stored.Memory, stored.Threads, stored.KeyLen)
	return subtle.ConstantTimeCompare(calculated, cred.GetHash()) == 1
}
