// Package slotid generates slot identifiers: short decimal strings that,
// together with the password, form the access credential.
package slotid

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"dropslot/internal/domain"
)

const (
	minDigits = 6
	maxDigits = 8

	// maxAttempts bounds collision retries against live slots. With at
	// least 10^6 possible ids a handful of retries is already generous.
	maxAttempts = 10
)

// ErrExhausted is returned when every generated id collided with a live
// slot. Seeing this in practice means the id space is saturated.
var ErrExhausted = errors.New("slotid: could not generate a unique id")

// Generate produces a decimal digit string whose length is chosen uniformly
// from [6,8] and whose digits are uniform random. Leading zeros are allowed.
func Generate() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(maxDigits-minDigits+1))
	if err != nil {
		return "", fmt.Errorf("slotid: length: %w", err)
	}
	length := minDigits + int(n.Int64())

	buf := make([]byte, length)
	for i := range buf {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("slotid: digit: %w", err)
		}
		buf[i] = byte('0' + d.Int64())
	}
	return string(buf), nil
}

// GenerateUnique generates ids until one does not collide with a live slot
// in the store. Uniqueness is only required against currently-live slots;
// ids of previously deleted slots may be reissued.
func GenerateUnique(ctx context.Context, store domain.Storage) (string, error) {
	for i := 0; i < maxAttempts; i++ {
		id, err := Generate()
		if err != nil {
			return "", err
		}
		_, err = store.GetSlot(ctx, id)
		if errors.Is(err, domain.ErrSlotNotFound) {
			return id, nil
		}
		if err != nil {
			return "", err
		}
		// live slot with this id, try again
	}
	return "", ErrExhausted
}
