package domain

import (
	"context"
	"io"
	"time"
)

// Storage is the metadata store contract consumed by the engine. All slot
// mutation in the process goes through this interface; no component touches
// rows directly.
//
// Implementations must make IncrementFailedAttempts an atomic
// increment-and-fetch so the lockout threshold stays exact under concurrent
// wrong-password attempts, and must make DeleteSlot idempotent: deleting an
// already-deleted slot succeeds trivially.
type Storage interface {
	// CreateSlot persists a new slot. ErrSlotExists is returned when the id
	// is already taken by a live slot.
	CreateSlot(ctx context.Context, slot *Slot) error

	// GetSlot fetches a slot by id. Returns ErrSlotNotFound if absent.
	GetSlot(ctx context.Context, id string) (*Slot, error)

	// IncrementFailedAttempts atomically bumps the counter for the slot and
	// returns the new value. Returns ErrSlotNotFound if the slot is gone.
	IncrementFailedAttempts(ctx context.Context, id string) (int, error)

	// AddFileRecord registers a file record. The caller must have written
	// the blob before registering its metadata.
	AddFileRecord(ctx context.Context, rec *FileRecord) error

	// ListFiles returns the file records of a slot, oldest first.
	ListFiles(ctx context.Context, slotID string) ([]*FileRecord, error)

	// GetFile fetches one file record by slot and file id. Returns
	// ErrFileNotFound when the id is unknown or owned by another slot.
	GetFile(ctx context.Context, slotID, fileID string) (*FileRecord, error)

	// UpsertText replaces the slot's text record.
	UpsertText(ctx context.Context, rec *TextRecord) error

	// GetText fetches the slot's text record, or nil if there is none.
	GetText(ctx context.Context, slotID string) (*TextRecord, error)

	// DeleteSlot removes the slot together with its file records and text
	// record in one storage transaction. Idempotent.
	DeleteSlot(ctx context.Context, id string) error

	// ListExpired returns the ids of all slots with ExpiresAt <= now.
	ListExpired(ctx context.Context, now time.Time) ([]string, error)
}

// BlobStore persists uploaded bytes under storage-generated names,
// independent of any user-supplied filename.
type BlobStore interface {
	// Write stores the blob under name. The name must be unique.
	Write(name string, r io.Reader) (int64, error)

	// Open returns a reader for the blob, or ErrBlobNotFound.
	Open(name string) (io.ReadCloser, error)

	// Delete removes the blob. A missing blob is not an error; it means a
	// prior partial failure or a re-entrant delete already took care of it.
	Delete(name string) error

	// List returns the names of all blobs currently stored.
	List() ([]string, error)
}
