package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"dropslot/internal/domain"
)

// The contract suite runs against both backends; cascading deletion and the
// lockout counter must behave identically whichever store is configured.

func newRedisStore(t *testing.T) domain.Storage {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisStore(rdb)
}

func newBoltStore(t *testing.T) domain.Storage {
	t.Helper()
	s, err := OpenBoltStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenBoltStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func forEachBackend(t *testing.T, fn func(t *testing.T, store domain.Storage)) {
	t.Run("redis", func(t *testing.T) { fn(t, newRedisStore(t)) })
	t.Run("bolt", func(t *testing.T) { fn(t, newBoltStore(t)) })
}

func testSlot(id string) *domain.Slot {
	now := time.Now().UTC().Truncate(time.Second)
	return &domain.Slot{
		ID:           id,
		PasswordHash: "v1:fakehash",
		CreatedAt:    now,
		ExpiresAt:    now.Add(domain.SlotTTL),
	}
}

func TestStorage_CreateAndGetSlot(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store domain.Storage) {
		ctx := context.Background()
		want := testSlot("123456")

		if err := store.CreateSlot(ctx, want); err != nil {
			t.Fatalf("CreateSlot() error = %v", err)
		}

		got, err := store.GetSlot(ctx, "123456")
		if err != nil {
			t.Fatalf("GetSlot() error = %v", err)
		}
		if got.ID != want.ID || got.PasswordHash != want.PasswordHash {
			t.Errorf("GetSlot() = %+v, want %+v", got, want)
		}
		if !got.CreatedAt.Equal(want.CreatedAt) || !got.ExpiresAt.Equal(want.ExpiresAt) {
			t.Errorf("timestamps did not round-trip: got %v/%v want %v/%v",
				got.CreatedAt, got.ExpiresAt, want.CreatedAt, want.ExpiresAt)
		}
		if got.FailedAttempts != 0 {
			t.Errorf("new slot should have 0 failed attempts, got %d", got.FailedAttempts)
		}
	})
}

func TestStorage_CreateSlot_DuplicateID(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store domain.Storage) {
		ctx := context.Background()
		if err := store.CreateSlot(ctx, testSlot("123456")); err != nil {
			t.Fatalf("CreateSlot() error = %v", err)
		}
		err := store.CreateSlot(ctx, testSlot("123456"))
		if !errors.Is(err, domain.ErrSlotExists) {
			t.Errorf("expected ErrSlotExists, got %v", err)
		}
	})
}

func TestStorage_GetSlot_NotFound(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store domain.Storage) {
		_, err := store.GetSlot(context.Background(), "999999")
		if !errors.Is(err, domain.ErrSlotNotFound) {
			t.Errorf("expected ErrSlotNotFound, got %v", err)
		}
	})
}

func TestStorage_IncrementFailedAttempts(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store domain.Storage) {
		ctx := context.Background()
		if err := store.CreateSlot(ctx, testSlot("123456")); err != nil {
			t.Fatalf("CreateSlot() error = %v", err)
		}

		for want := 1; want <= 3; want++ {
			got, err := store.IncrementFailedAttempts(ctx, "123456")
			if err != nil {
				t.Fatalf("IncrementFailedAttempts() error = %v", err)
			}
			if got != want {
				t.Errorf("IncrementFailedAttempts() = %d, want %d", got, want)
			}
		}

		slot, err := store.GetSlot(ctx, "123456")
		if err != nil {
			t.Fatalf("GetSlot() error = %v", err)
		}
		if slot.FailedAttempts != 3 {
			t.Errorf("expected 3 persisted attempts, got %d", slot.FailedAttempts)
		}
	})
}

func TestStorage_IncrementFailedAttempts_MissingSlot(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store domain.Storage) {
		ctx := context.Background()
		_, err := store.IncrementFailedAttempts(ctx, "999999")
		if !errors.Is(err, domain.ErrSlotNotFound) {
			t.Errorf("expected ErrSlotNotFound, got %v", err)
		}
		// increment must not resurrect a slot
		if _, err := store.GetSlot(ctx, "999999"); !errors.Is(err, domain.ErrSlotNotFound) {
			t.Errorf("expected slot to stay absent, got %v", err)
		}
	})
}

func TestStorage_IncrementFailedAttempts_Concurrent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store domain.Storage) {
		ctx := context.Background()
		if err := store.CreateSlot(ctx, testSlot("123456")); err != nil {
			t.Fatalf("CreateSlot() error = %v", err)
		}

		const workers = 8
		counts := make(chan int, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				n, err := store.IncrementFailedAttempts(ctx, "123456")
				if err != nil {
					t.Errorf("IncrementFailedAttempts() error = %v", err)
					return
				}
				counts <- n
			}()
		}
		wg.Wait()
		close(counts)

		seen := map[int]bool{}
		for n := range counts {
			if seen[n] {
				t.Errorf("count %d returned twice, increment is not atomic", n)
			}
			seen[n] = true
		}
		slot, err := store.GetSlot(ctx, "123456")
		if err != nil {
			t.Fatalf("GetSlot() error = %v", err)
		}
		if slot.FailedAttempts != workers {
			t.Errorf("expected %d attempts, got %d", workers, slot.FailedAttempts)
		}
	})
}

func TestStorage_FileRecords(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store domain.Storage) {
		ctx := context.Background()
		if err := store.CreateSlot(ctx, testSlot("123456")); err != nil {
			t.Fatalf("CreateSlot() error = %v", err)
		}

		base := time.Now().UTC().Truncate(time.Second)
		recs := []*domain.FileRecord{
			{ID: "f1", SlotID: "123456", Filename: "blob-1", OriginalName: "a.txt", Size: 3, UploadedAt: base},
			{ID: "f2", SlotID: "123456", Filename: "blob-2", OriginalName: "b.txt", Size: 5, MimeType: "text/plain", UploadedAt: base.Add(time.Second)},
		}
		for _, rec := range recs {
			if err := store.AddFileRecord(ctx, rec); err != nil {
				t.Fatalf("AddFileRecord() error = %v", err)
			}
		}

		files, err := store.ListFiles(ctx, "123456")
		if err != nil {
			t.Fatalf("ListFiles() error = %v", err)
		}
		if len(files) != 2 {
			t.Fatalf("ListFiles() returned %d records, want 2", len(files))
		}
		if files[0].ID != "f1" || files[1].ID != "f2" {
			t.Errorf("expected oldest-first order, got %s then %s", files[0].ID, files[1].ID)
		}

		got, err := store.GetFile(ctx, "123456", "f2")
		if err != nil {
			t.Fatalf("GetFile() error = %v", err)
		}
		if got.Filename != "blob-2" || got.OriginalName != "b.txt" || got.MimeType != "text/plain" {
			t.Errorf("GetFile() = %+v", got)
		}

		// file id under a different slot must not resolve
		if _, err := store.GetFile(ctx, "654321", "f2"); !errors.Is(err, domain.ErrFileNotFound) {
			t.Errorf("expected ErrFileNotFound for foreign slot, got %v", err)
		}
	})
}

func TestStorage_AddFileRecord_MissingSlot(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store domain.Storage) {
		rec := &domain.FileRecord{ID: "f1", SlotID: "999999", Filename: "blob-1"}
		err := store.AddFileRecord(context.Background(), rec)
		if !errors.Is(err, domain.ErrSlotNotFound) {
			t.Errorf("expected ErrSlotNotFound, got %v", err)
		}
	})
}

func TestStorage_TextUpsert(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store domain.Storage) {
		ctx := context.Background()
		if err := store.CreateSlot(ctx, testSlot("123456")); err != nil {
			t.Fatalf("CreateSlot() error = %v", err)
		}

		if rec, err := store.GetText(ctx, "123456"); err != nil || rec != nil {
			t.Fatalf("GetText() on fresh slot = %v, %v; want nil, nil", rec, err)
		}

		if err := store.UpsertText(ctx, &domain.TextRecord{SlotID: "123456", Content: "first"}); err != nil {
			t.Fatalf("UpsertText() error = %v", err)
		}
		if err := store.UpsertText(ctx, &domain.TextRecord{SlotID: "123456", Content: "second"}); err != nil {
			t.Fatalf("UpsertText() error = %v", err)
		}

		rec, err := store.GetText(ctx, "123456")
		if err != nil {
			t.Fatalf("GetText() error = %v", err)
		}
		if rec == nil || rec.Content != "second" {
			t.Errorf("expected upsert to replace content, got %+v", rec)
		}
	})
}

func TestStorage_DeleteSlot_Cascades(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store domain.Storage) {
		ctx := context.Background()
		if err := store.CreateSlot(ctx, testSlot("123456")); err != nil {
			t.Fatalf("CreateSlot() error = %v", err)
		}
		rec := &domain.FileRecord{ID: "f1", SlotID: "123456", Filename: "blob-1", UploadedAt: time.Now()}
		if err := store.AddFileRecord(ctx, rec); err != nil {
			t.Fatalf("AddFileRecord() error = %v", err)
		}
		if err := store.UpsertText(ctx, &domain.TextRecord{SlotID: "123456", Content: "note"}); err != nil {
			t.Fatalf("UpsertText() error = %v", err)
		}

		if err := store.DeleteSlot(ctx, "123456"); err != nil {
			t.Fatalf("DeleteSlot() error = %v", err)
		}

		if _, err := store.GetSlot(ctx, "123456"); !errors.Is(err, domain.ErrSlotNotFound) {
			t.Errorf("slot should be gone, got %v", err)
		}
		files, err := store.ListFiles(ctx, "123456")
		if err != nil {
			t.Fatalf("ListFiles() error = %v", err)
		}
		if len(files) != 0 {
			t.Errorf("expected 0 file records after cascade, got %d", len(files))
		}
		if rec, err := store.GetText(ctx, "123456"); err != nil || rec != nil {
			t.Errorf("expected no text record after cascade, got %v, %v", rec, err)
		}

		// second delete observes "already gone" and succeeds
		if err := store.DeleteSlot(ctx, "123456"); err != nil {
			t.Errorf("DeleteSlot() on deleted slot error = %v", err)
		}
	})
}

func TestStorage_ListExpired(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store domain.Storage) {
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Second)

		expired := testSlot("111111")
		expired.CreatedAt = now.Add(-2 * domain.SlotTTL)
		expired.ExpiresAt = now.Add(-domain.SlotTTL)
		live := testSlot("222222")

		for _, s := range []*domain.Slot{expired, live} {
			if err := store.CreateSlot(ctx, s); err != nil {
				t.Fatalf("CreateSlot() error = %v", err)
			}
		}

		ids, err := store.ListExpired(ctx, now)
		if err != nil {
			t.Fatalf("ListExpired() error = %v", err)
		}
		if len(ids) != 1 || ids[0] != "111111" {
			t.Errorf("ListExpired() = %v, want [111111]", ids)
		}

		// deleting the expired slot empties the next listing
		if err := store.DeleteSlot(ctx, "111111"); err != nil {
			t.Fatalf("DeleteSlot() error = %v", err)
		}
		ids, err = store.ListExpired(ctx, now)
		if err != nil {
			t.Fatalf("ListExpired() error = %v", err)
		}
		if len(ids) != 0 {
			t.Errorf("expected no expired slots after delete, got %v", ids)
		}
	})
}
