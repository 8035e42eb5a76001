package storage

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"dropslot/internal/domain"
)

var (
	bucketSlots = []byte("slots")
	bucketFiles = []byte("files")
	bucketTexts = []byte("texts")
)

// BoltStore keeps slot metadata in an embedded bbolt database. bbolt runs a
// single writer, so the failed-attempt increment and the cascading delete
// are serialized per database without extra locking.
type BoltStore struct {
	db *bbolt.DB
}

var _ domain.Storage = (*BoltStore)(nil)

// OpenBoltStore opens or creates the bbolt database at dbPath. The parent
// directory is created if it does not exist.
func OpenBoltStore(dbPath string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("boltstore: create directory: %w", err)
	}
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltstore: open db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketSlots, bucketFiles, bucketTexts} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("boltstore: create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error { return s.db.Close() }

// fileKey namespaces file records per slot so listing is a prefix scan.
func fileKey(slotID, fileID string) []byte {
	return []byte(slotID + "/" + fileID)
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (s *BoltStore) CreateSlot(_ context.Context, slot *domain.Slot) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSlots)
		if b.Get([]byte(slot.ID)) != nil {
			return domain.ErrSlotExists
		}
		data, err := encodeGob(slot)
		if err != nil {
			return err
		}
		return b.Put([]byte(slot.ID), data)
	})
	if errors.Is(err, domain.ErrSlotExists) {
		return err
	}
	if err != nil {
		return domain.Storagef("create slot", err)
	}
	return nil
}

func (s *BoltStore) GetSlot(_ context.Context, id string) (*domain.Slot, error) {
	var slot domain.Slot
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketSlots).Get([]byte(id))
		if data == nil {
			return domain.ErrSlotNotFound
		}
		return decodeGob(data, &slot)
	})
	if errors.Is(err, domain.ErrSlotNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, domain.Storagef("get slot", err)
	}
	return &slot, nil
}

func (s *BoltStore) IncrementFailedAttempts(_ context.Context, id string) (int, error) {
	var count int
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSlots)
		data := b.Get([]byte(id))
		if data == nil {
			return domain.ErrSlotNotFound
		}
		var slot domain.Slot
		if err := decodeGob(data, &slot); err != nil {
			return err
		}
		slot.FailedAttempts++
		count = slot.FailedAttempts
		enc, err := encodeGob(&slot)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), enc)
	})
	if errors.Is(err, domain.ErrSlotNotFound) {
		return 0, err
	}
	if err != nil {
		return 0, domain.Storagef("increment attempts", err)
	}
	return count, nil
}

func (s *BoltStore) AddFileRecord(_ context.Context, rec *domain.FileRecord) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketSlots).Get([]byte(rec.SlotID)) == nil {
			return domain.ErrSlotNotFound
		}
		data, err := encodeGob(rec)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketFiles).Put(fileKey(rec.SlotID, rec.ID), data)
	})
	if errors.Is(err, domain.ErrSlotNotFound) {
		return err
	}
	if err != nil {
		return domain.Storagef("add file", err)
	}
	return nil
}

func (s *BoltStore) ListFiles(_ context.Context, slotID string) ([]*domain.FileRecord, error) {
	var recs []*domain.FileRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketFiles).Cursor()
		prefix := []byte(slotID + "/")
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var rec domain.FileRecord
			if err := decodeGob(v, &rec); err != nil {
				return err
			}
			recs = append(recs, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, domain.Storagef("list files", err)
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].UploadedAt.Equal(recs[j].UploadedAt) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].UploadedAt.Before(recs[j].UploadedAt)
	})
	return recs, nil
}

func (s *BoltStore) GetFile(_ context.Context, slotID, fileID string) (*domain.FileRecord, error) {
	var rec domain.FileRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketFiles).Get(fileKey(slotID, fileID))
		if data == nil {
			return domain.ErrFileNotFound
		}
		return decodeGob(data, &rec)
	})
	if errors.Is(err, domain.ErrFileNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, domain.Storagef("get file", err)
	}
	return &rec, nil
}

func (s *BoltStore) UpsertText(_ context.Context, rec *domain.TextRecord) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketSlots).Get([]byte(rec.SlotID)) == nil {
			return domain.ErrSlotNotFound
		}
		return tx.Bucket(bucketTexts).Put([]byte(rec.SlotID), []byte(rec.Content))
	})
	if errors.Is(err, domain.ErrSlotNotFound) {
		return err
	}
	if err != nil {
		return domain.Storagef("upsert text", err)
	}
	return nil
}

func (s *BoltStore) GetText(_ context.Context, slotID string) (*domain.TextRecord, error) {
	var rec *domain.TextRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketTexts).Get([]byte(slotID))
		if data == nil {
			return nil
		}
		rec = &domain.TextRecord{SlotID: slotID, Content: string(data)}
		return nil
	})
	if err != nil {
		return nil, domain.Storagef("get text", err)
	}
	return rec, nil
}

// DeleteSlot removes the slot's file records and text record, then the slot
// itself, all in a single write transaction. Idempotent.
func (s *BoltStore) DeleteSlot(_ context.Context, id string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketFiles).Cursor()
		prefix := []byte(id + "/")
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			if err := c.Delete(); err != nil {
				return err
			}
		}
		if err := tx.Bucket(bucketTexts).Delete([]byte(id)); err != nil {
			return err
		}
		return tx.Bucket(bucketSlots).Delete([]byte(id))
	})
	if err != nil {
		return domain.Storagef("delete slot", err)
	}
	return nil
}

func (s *BoltStore) ListExpired(_ context.Context, now time.Time) ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSlots).ForEach(func(k, v []byte) error {
			var slot domain.Slot
			if err := decodeGob(v, &slot); err != nil {
				return err
			}
			if !slot.ExpiresAt.After(now) {
				ids = append(ids, slot.ID)
			}
			return nil
		})
	})
	if err != nil {
		return nil, domain.Storagef("list expired", err)
	}
	return ids, nil
}
