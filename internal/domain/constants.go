package domain

import "time"

const (
	// SlotTTL is the fixed lifetime of a slot. ExpiresAt is always
	// CreatedAt + SlotTTL at creation and immutable afterwards.
	SlotTTL = 24 * time.Hour

	// MaxFailedAttempts is the maximum number of incorrect password attempts
	// before a slot is automatically deleted.
	MaxFailedAttempts = 3

	// MinPasswordLength is the minimum accepted password length, enforced at
	// the request boundary rather than by the credential verifier.
	MinPasswordLength = 4

	// MaxTextBytes is the maximum allowed size for a slot's text note.
	MaxTextBytes = 64 * 1024

	// MaxUploadBytes is the maximum allowed total size of one upload request.
	MaxUploadBytes = 100 << 20

	// MaxRequestBodySize is the maximum allowed request body size.
	// Set slightly larger than MaxUploadBytes to account for multipart overhead.
	MaxRequestBodySize = MaxUploadBytes + (1 << 20)
)
