package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSlotNotFound is returned for an unknown, already deleted or
	// locked-out slot id.
	ErrSlotNotFound = errors.New("slot not found")

	// ErrFileNotFound is returned for an unknown file id, or a file id that
	// belongs to a different slot than the one requested.
	ErrFileNotFound = errors.New("file not found")

	// ErrSlotExists is returned by CreateSlot on an id collision with a
	// live slot; the identifier generator retries with a fresh id.
	ErrSlotExists = errors.New("slot id already exists")

	// ErrBlobNotFound is returned when opening a blob that is not in the
	// blob store.
	ErrBlobNotFound = errors.New("blob not found")

	// ErrSlotExpired is returned when a slot is past its TTL. Detection
	// deletes the slot, so any subsequent access yields ErrSlotNotFound.
	ErrSlotExpired = errors.New("slot expired")

	// ErrSlotLocked is returned when a failed verification crosses the
	// lockout threshold. The slot is deleted as a side effect.
	ErrSlotLocked = errors.New("slot locked and deleted")
)

// ValidationError rejects malformed input before storage is touched.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// InvalidPasswordError is returned on a wrong password that does not yet
// trigger lockout. Remaining carries the number of attempts left as data,
// so callers never have to parse it out of an error message.
type InvalidPasswordError struct {
	Remaining int
}

func (e *InvalidPasswordError) Error() string {
	return fmt.Sprintf("invalid password, %d attempts remaining", e.Remaining)
}

// StorageError wraps a fault of the underlying storage medium. It is logged
// and surfaced as an opaque internal failure, never retried within a request.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return "storage: " + e.Op + ": " + e.Err.Error() }
func (e *StorageError) Unwrap() error { return e.Err }

// Storagef wraps err as a StorageError for the given operation.
func Storagef(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}
