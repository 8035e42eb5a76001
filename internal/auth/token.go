package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DownloadTokenTTL is how long a download token issued on a successful
// access stays valid. Deliberately short: the token only bridges the gap
// between listing a slot and fetching its files, so the password never has
// to travel in a download URL.
const DownloadTokenTTL = 5 * time.Minute

var errTokenSlotMismatch = errors.New("token issued for another slot")

// TokenIssuer mints and verifies short-lived download tokens scoped to one
// slot id.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates a TokenIssuer signing with the given secret.
func NewTokenIssuer(secret []byte) *TokenIssuer {
	return &TokenIssuer{secret: secret, ttl: DownloadTokenTTL, now: time.Now}
}

// Issue returns a signed token granting download access to slotID until the
// token TTL elapses.
func (i *TokenIssuer) Issue(slotID string) (string, error) {
	now := i.now()
	claims := jwt.RegisteredClaims{
		Subject:   slotID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(i.secret)
}

// Verify checks the token signature, expiry and slot scope. Any failure
// reports false; callers fall back to password verification.
func (i *TokenIssuer) Verify(token, slotID string) bool {
	return i.verify(token, slotID) == nil
}

func (i *TokenIssuer) verify(token, slotID string) error {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return i.now() }))
	if err != nil {
		return err
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject != slotID {
		return errTokenSlotMismatch
	}
	return nil
}
