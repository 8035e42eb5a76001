// Package storage provides the metadata store backends. Both implement the
// domain.Storage contract so the cascading-deletion logic stays portable
// across engines.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"dropslot/internal/domain"
)

const expiryIndexKey = "slots:expiry"

// RedisStore keeps slot metadata in Redis hashes.
//
// Slot keys carry no Redis TTL on purpose: expiry is enforced by the engine
// (lazy check plus sweep) so an expired-but-unswept slot is still observable
// as Expired exactly once before it turns into NotFound.
type RedisStore struct {
	rdb *redis.Client
}

var _ domain.Storage = (*RedisStore)(nil)

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func slotKey(id string) string  { return "slot:" + id }
func filesKey(id string) string { return "slot:" + id + ":files" }
func textKey(id string) string  { return "slot:" + id + ":text" }

// fileDoc is the stored shape of a FileRecord. FileRecord itself hides the
// storage name and owner from JSON responses, so persistence needs its own
// encoding.
type fileDoc struct {
	ID           string    `json:"id"`
	SlotID       string    `json:"slot_id"`
	Filename     string    `json:"filename"`
	OriginalName string    `json:"original_name"`
	Size         int64     `json:"size"`
	MimeType     string    `json:"mime_type,omitempty"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

func toDoc(rec *domain.FileRecord) fileDoc {
	return fileDoc{
		ID:           rec.ID,
		SlotID:       rec.SlotID,
		Filename:     rec.Filename,
		OriginalName: rec.OriginalName,
		Size:         rec.Size,
		MimeType:     rec.MimeType,
		UploadedAt:   rec.UploadedAt,
	}
}

func (d fileDoc) record() *domain.FileRecord {
	return &domain.FileRecord{
		ID:           d.ID,
		SlotID:       d.SlotID,
		Filename:     d.Filename,
		OriginalName: d.OriginalName,
		Size:         d.Size,
		MimeType:     d.MimeType,
		UploadedAt:   d.UploadedAt,
	}
}

func (s *RedisStore) CreateSlot(ctx context.Context, slot *domain.Slot) error {
	key := slotKey(slot.ID)

	// HSetNX claims the id; losing the race means a live slot already owns it.
	ok, err := s.rdb.HSetNX(ctx, key, "password_hash", slot.PasswordHash).Result()
	if err != nil {
		return domain.Storagef("create slot", err)
	}
	if !ok {
		return domain.ErrSlotExists
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"created_at", strconv.FormatInt(slot.CreatedAt.UnixNano(), 10),
			"expires_at", strconv.FormatInt(slot.ExpiresAt.UnixNano(), 10),
			"failed_attempts", strconv.Itoa(slot.FailedAttempts),
		)
		pipe.ZAdd(ctx, expiryIndexKey, redis.Z{
			Score:  float64(slot.ExpiresAt.Unix()),
			Member: slot.ID,
		})
		return nil
	})
	if err != nil {
		return domain.Storagef("create slot", err)
	}
	return nil
}

func (s *RedisStore) GetSlot(ctx context.Context, id string) (*domain.Slot, error) {
	fields, err := s.rdb.HGetAll(ctx, slotKey(id)).Result()
	if err != nil {
		return nil, domain.Storagef("get slot", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrSlotNotFound
	}
	return parseSlot(id, fields)
}

func parseSlot(id string, fields map[string]string) (*domain.Slot, error) {
	createdAt, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, domain.Storagef("get slot", errors.New("corrupt created_at"))
	}
	expiresAt, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, domain.Storagef("get slot", errors.New("corrupt expires_at"))
	}
	attempts, _ := strconv.Atoi(fields["failed_attempts"])

	return &domain.Slot{
		ID:             id,
		PasswordHash:   fields["password_hash"],
		CreatedAt:      time.Unix(0, createdAt).UTC(),
		ExpiresAt:      time.Unix(0, expiresAt).UTC(),
		FailedAttempts: attempts,
	}, nil
}

// IncrementFailedAttempts bumps the counter inside a WATCH transaction so a
// deleted slot is never resurrected by the increment, and the returned count
// is exact under concurrent wrong-password attempts.
func (s *RedisStore) IncrementFailedAttempts(ctx context.Context, id string) (int, error) {
	key := slotKey(id)
	var count int64

	txf := func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists == 0 {
			return domain.ErrSlotNotFound
		}
		var cnt *redis.IntCmd
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			cnt = pipe.HIncrBy(ctx, key, "failed_attempts", 1)
			return nil
		})
		if err != nil {
			return err
		}
		count = cnt.Val()
		return nil
	}

	// optimistic locking: enough retries to ride out a burst of concurrent
	// attempts on the same slot
	const maxRetries = 25
	for i := 0; i < maxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue // concurrent write on the slot, retry
		}
		if errors.Is(err, domain.ErrSlotNotFound) {
			return 0, err
		}
		if err != nil {
			return 0, domain.Storagef("increment attempts", err)
		}
		return int(count), nil
	}
	return 0, domain.Storagef("increment attempts", redis.TxFailedErr)
}

func (s *RedisStore) AddFileRecord(ctx context.Context, rec *domain.FileRecord) error {
	exists, err := s.rdb.Exists(ctx, slotKey(rec.SlotID)).Result()
	if err != nil {
		return domain.Storagef("add file", err)
	}
	if exists == 0 {
		return domain.ErrSlotNotFound
	}
	data, err := json.Marshal(toDoc(rec))
	if err != nil {
		return domain.Storagef("add file", err)
	}
	if err := s.rdb.HSet(ctx, filesKey(rec.SlotID), rec.ID, data).Err(); err != nil {
		return domain.Storagef("add file", err)
	}
	return nil
}

func (s *RedisStore) ListFiles(ctx context.Context, slotID string) ([]*domain.FileRecord, error) {
	vals, err := s.rdb.HGetAll(ctx, filesKey(slotID)).Result()
	if err != nil {
		return nil, domain.Storagef("list files", err)
	}
	recs := make([]*domain.FileRecord, 0, len(vals))
	for _, raw := range vals {
		var doc fileDoc
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, domain.Storagef("list files", err)
		}
		recs = append(recs, doc.record())
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].UploadedAt.Equal(recs[j].UploadedAt) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].UploadedAt.Before(recs[j].UploadedAt)
	})
	return recs, nil
}

func (s *RedisStore) GetFile(ctx context.Context, slotID, fileID string) (*domain.FileRecord, error) {
	raw, err := s.rdb.HGet(ctx, filesKey(slotID), fileID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrFileNotFound
	}
	if err != nil {
		return nil, domain.Storagef("get file", err)
	}
	var doc fileDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, domain.Storagef("get file", err)
	}
	return doc.record(), nil
}

func (s *RedisStore) UpsertText(ctx context.Context, rec *domain.TextRecord) error {
	exists, err := s.rdb.Exists(ctx, slotKey(rec.SlotID)).Result()
	if err != nil {
		return domain.Storagef("upsert text", err)
	}
	if exists == 0 {
		return domain.ErrSlotNotFound
	}
	if err := s.rdb.Set(ctx, textKey(rec.SlotID), rec.Content, 0).Err(); err != nil {
		return domain.Storagef("upsert text", err)
	}
	return nil
}

func (s *RedisStore) GetText(ctx context.Context, slotID string) (*domain.TextRecord, error) {
	content, err := s.rdb.Get(ctx, textKey(slotID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Storagef("get text", err)
	}
	return &domain.TextRecord{SlotID: slotID, Content: content}, nil
}

// DeleteSlot removes the slot hash, its file records and text record in one
// transaction. Deleting an already-deleted slot is a no-op.
func (s *RedisStore) DeleteSlot(ctx context.Context, id string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, slotKey(id), filesKey(id), textKey(id))
		pipe.ZRem(ctx, expiryIndexKey, id)
		return nil
	})
	if err != nil {
		return domain.Storagef("delete slot", err)
	}
	return nil
}

func (s *RedisStore) ListExpired(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, expiryIndexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, domain.Storagef("list expired", err)
	}
	return ids, nil
}
