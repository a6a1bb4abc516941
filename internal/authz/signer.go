package authz

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"fiscal/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Signer holds the Ed25519 keypair that issues and verifies access tokens.
type Signer struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
	KeyID   string
	Issuer  string
	now     func() time.Time
}

// NewSigner loads the base64 seed-plus-public key from JWT_PRIVATE_KEY.
// An empty key yields a throwaway keypair; tokens it issued stop verifying
// after a restart.
func NewSigner(keyB64, kid, issuer string) (*Signer, error) {
	priv, err := decodeKey(keyB64)
	if err != nil {
		return nil, fmt.Errorf("signing key: %w", err)
	}
	return &Signer{
		private: priv,
		public:  priv.Public().(ed25519.PublicKey),
		KeyID:   kid,
		Issuer:  issuer,
		now:     time.Now,
	}, nil
}

func decodeKey(keyB64 string) (ed25519.PrivateKey, error) {
	if keyB64 == "" {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		return priv, err
	}
	raw, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, err
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("want %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}
	return ed25519.PrivateKey(raw), nil
}

// Issue signs a token for p valid for ttl.
func (s *Signer) Issue(p Principal, ttl time.Duration) (string, error) {
	if !p.Role.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", domain.ErrValidation, p.Role)
	}
	if p.Subject == "" {
		return "", fmt.Errorf("%w: empty subject", domain.ErrValidation)
	}
	now := s.now()
	m := jwt.MapClaims{
		"iss":  s.Issuer,
		"sub":  p.Subject,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
		"role": string(p.Role),
	}
	if p.DeviceID != nil {
		m["device"] = p.DeviceID.String()
	}
	if p.CashierID != nil {
		m["cashier"] = p.CashierID.String()
	}
	t := jwt.NewWithClaims(jwt.SigningMethodEdDSA, m)
	t.Header["kid"] = s.KeyID
	return t.SignedString(s.private)
}

// Parse verifies the signature, expiry and issuer of raw and returns the
// principal it names.
func (s *Signer) Parse(raw string) (Principal, error) {
	token, err := jwt.Parse(raw, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %T", token.Method)
		}
		return s.public, nil
	}, jwt.WithIssuer(s.Issuer), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Principal{}, fmt.Errorf("%w: claims", ErrInvalidToken)
	}
	p := Principal{}
	p.Subject, _ = claims["sub"].(string)
	if p.Subject == "" {
		return Principal{}, fmt.Errorf("%w: no subject", ErrInvalidToken)
	}
	role, _ := claims["role"].(string)
	p.Role = domain.Role(role)
	if !p.Role.Valid() {
		return Principal{}, fmt.Errorf("%w: role %q", ErrInvalidToken, role)
	}
	if p.DeviceID, err = parseOptionalUUID(claims["device"]); err != nil {
		return Principal{}, fmt.Errorf("%w: device claim: %v", ErrInvalidToken, err)
	}
	if p.CashierID, err = parseOptionalUUID(claims["cashier"]); err != nil {
		return Principal{}, fmt.Errorf("%w: cashier claim: %v", ErrInvalidToken, err)
	}
	return p, nil
}

// PublicJWK renders the public part as a JWK.
func (s *Signer) PublicJWK() map[string]any {
	return map[string]any{
		"kty": "OKP",
		"crv": "Ed25519",
		"alg": "EdDSA",
		"use": "sig",
		"kid": s.KeyID,
		"x":   base64.RawURLEncoding.EncodeToString(s.public),
	}
}
