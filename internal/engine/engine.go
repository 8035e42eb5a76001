// Package engine implements the ephemeral credentialed storage engine: slot
// creation, password access control with lockout, TTL enforcement and
// cascading deletion across the metadata and blob stores.
package engine

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dropslot/internal/auth"
	"dropslot/internal/blob"
	"dropslot/internal/domain"
	"dropslot/internal/slotid"
)

// createRetries bounds retries when a freshly generated slot id loses a
// creation race against a concurrent request.
const createRetries = 3

// Engine ties the metadata store, the blob store and the credential
// machinery together. All request handlers and the sweeper go through it;
// nothing else touches storage.
type Engine struct {
	store  domain.Storage
	blobs  domain.BlobStore
	tokens *auth.TokenIssuer
	log    zerolog.Logger
	now    func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine on top of the given stores. tokens may be nil, in
// which case no download tokens are issued and downloads always require the
// password.
func New(store domain.Storage, blobs domain.BlobStore, tokens *auth.TokenIssuer, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		blobs:  blobs,
		tokens: tokens,
		log:    zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Create makes a new slot protected by password and returns its id and
// expiry. The password is hashed before anything touches storage; the TTL is
// fixed at creation and immutable afterwards.
func (e *Engine) Create(ctx context.Context, password string) (*domain.CreateRes, error) {
	if len(password) < domain.MinPasswordLength {
		return nil, domain.Validationf("password must be at least %d characters", domain.MinPasswordLength)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, domain.Storagef("hash password", err)
	}

	for i := 0; i < createRetries; i++ {
		id, err := slotid.GenerateUnique(ctx, e.store)
		if err != nil {
			return nil, err
		}

		now := e.now().UTC()
		slot := &domain.Slot{
			ID:           id,
			PasswordHash: hash,
			CreatedAt:    now,
			ExpiresAt:    now.Add(domain.SlotTTL),
		}
		err = e.store.CreateSlot(ctx, slot)
		if errors.Is(err, domain.ErrSlotExists) {
			continue // lost the id to a concurrent create
		}
		if err != nil {
			return nil, err
		}

		e.log.Info().Str("slot", id).Time("expires_at", slot.ExpiresAt).Msg("slot created")
		return &domain.CreateRes{SlotID: id, ExpiresAt: slot.ExpiresAt}, nil
	}
	return nil, slotid.ErrExhausted
}

// fetchLive loads the slot and applies the lazy expiration check. A slot
// past its TTL is deleted on the spot and reported as expired; the caller's
// operation never proceeds, even with valid credentials.
func (e *Engine) fetchLive(ctx context.Context, id string) (*domain.Slot, error) {
	slot, err := e.store.GetSlot(ctx, id)
	if err != nil {
		return nil, err
	}
	if slot.Expired(e.now()) {
		if err := e.cascadeDelete(ctx, id); err != nil {
			e.log.Error().Err(err).Str("slot", id).Msg("lazy expiry delete failed")
		}
		return nil, domain.ErrSlotExpired
	}
	return slot, nil
}

// authorize runs the shared access-control sequence: load slot, lazy expiry
// check, verify password, count the failure otherwise. The attempt counter
// is cumulative for the slot's whole lifetime; success never resets it.
func (e *Engine) authorize(ctx context.Context, id, password string) (*domain.Slot, error) {
	slot, err := e.fetchLive(ctx, id)
	if err != nil {
		return nil, err
	}

	if auth.VerifyPassword(slot.PasswordHash, password) {
		return slot, nil
	}

	n, err := e.store.IncrementFailedAttempts(ctx, id)
	if errors.Is(err, domain.ErrSlotNotFound) {
		// deleted underneath us by a concurrent lockout or sweep
		return nil, domain.ErrSlotNotFound
	}
	if err != nil {
		return nil, err
	}

	if n >= domain.MaxFailedAttempts {
		if err := e.cascadeDelete(ctx, id); err != nil {
			e.log.Error().Err(err).Str("slot", id).Msg("lockout delete failed")
			return nil, err
		}
		e.log.Info().Str("slot", id).Msg("slot locked out and deleted")
		return nil, domain.ErrSlotLocked
	}
	return nil, &domain.InvalidPasswordError{Remaining: domain.MaxFailedAttempts - n}
}

// UploadFile is one incoming file of an upload request.
type UploadFile struct {
	OriginalName string
	MimeType     string
	Content      io.Reader
}

// Upload appends files to the slot and upserts its text note if the text is
// non-empty after trimming. Each blob is written before its metadata is
// registered, so a crash in between leaves at worst an orphaned blob, never
// a file record without bytes.
func (e *Engine) Upload(ctx context.Context, id, password string, files []UploadFile, text string) (*domain.UploadRes, error) {
	text = strings.TrimSpace(text)
	if len(text) > domain.MaxTextBytes {
		return nil, domain.Validationf("text exceeds %d bytes", domain.MaxTextBytes)
	}

	if _, err := e.authorize(ctx, id, password); err != nil {
		return nil, err
	}

	res := &domain.UploadRes{SlotID: id}
	for _, f := range files {
		name := blob.NewName()
		size, err := e.blobs.Write(name, f.Content)
		if err != nil {
			return nil, domain.Storagef("write blob", err)
		}

		rec := &domain.FileRecord{
			ID:           uuid.NewString(),
			SlotID:       id,
			Filename:     name,
			OriginalName: f.OriginalName,
			Size:         size,
			MimeType:     f.MimeType,
			UploadedAt:   e.now().UTC(),
		}
		if err := e.store.AddFileRecord(ctx, rec); err != nil {
			// registration failed, the blob would be orphaned
			if derr := e.blobs.Delete(name); derr != nil {
				e.log.Warn().Err(derr).Str("blob", name).Msg("orphan blob cleanup failed")
			}
			return nil, err
		}
		res.Files = append(res.Files, rec)
	}

	if text != "" {
		if err := e.store.UpsertText(ctx, &domain.TextRecord{SlotID: id, Content: text}); err != nil {
			return nil, err
		}
		res.Text = true
	}

	e.log.Info().Str("slot", id).Int("files", len(res.Files)).Bool("text", res.Text).Msg("upload complete")
	return res, nil
}

// Access returns the sanitized slot view, its files and text note, plus a
// short-lived download token. The password hash and the attempt counter are
// never part of the response.
func (e *Engine) Access(ctx context.Context, id, password string) (*domain.AccessRes, error) {
	slot, err := e.authorize(ctx, id, password)
	if err != nil {
		return nil, err
	}

	files, err := e.store.ListFiles(ctx, id)
	if err != nil {
		return nil, err
	}
	text, err := e.store.GetText(ctx, id)
	if err != nil {
		return nil, err
	}

	res := &domain.AccessRes{
		Slot: domain.SlotView{
			ID:        slot.ID,
			CreatedAt: slot.CreatedAt,
			ExpiresAt: slot.ExpiresAt,
		},
		Files:       files,
		TextContent: text,
	}
	if res.Files == nil {
		res.Files = []*domain.FileRecord{}
	}
	if e.tokens != nil {
		tok, err := e.tokens.Issue(id)
		if err != nil {
			return nil, domain.Storagef("issue download token", err)
		}
		res.DownloadToken = tok
	}
	return res, nil
}

// DownloadCredential authenticates a download: either a short-lived token
// issued by Access, or the slot password. The token keeps the password out
// of download URLs.
type DownloadCredential struct {
	Token    string
	Password string
}

// Download returns one file's record and a reader over its bytes. A file id
// owned by a different slot is reported as not found.
func (e *Engine) Download(ctx context.Context, slotID, fileID string, cred DownloadCredential) (*domain.FileRecord, io.ReadCloser, error) {
	if cred.Token != "" && e.tokens != nil && e.tokens.Verify(cred.Token, slotID) {
		// token already proves a recent successful password check, but the
		// lazy expiry check still applies
		if _, err := e.fetchLive(ctx, slotID); err != nil {
			return nil, nil, err
		}
	} else if _, err := e.authorize(ctx, slotID, cred.Password); err != nil {
		return nil, nil, err
	}

	rec, err := e.store.GetFile(ctx, slotID, fileID)
	if err != nil {
		return nil, nil, err
	}

	rd, err := e.blobs.Open(rec.Filename)
	if errors.Is(err, domain.ErrBlobNotFound) {
		// record without bytes: residue of a partial failure
		e.log.Warn().Str("slot", slotID).Str("file", fileID).Msg("file record has no blob")
		return nil, nil, domain.ErrFileNotFound
	}
	if err != nil {
		return nil, nil, domain.Storagef("open blob", err)
	}
	return rec, rd, nil
}

// Delete removes the slot and everything it owns after a successful
// password check. Deleting a slot that is already gone is a success, not an
// error: the desired end state holds either way.
func (e *Engine) Delete(ctx context.Context, id, password string) error {
	if _, err := e.authorize(ctx, id, password); err != nil {
		if errors.Is(err, domain.ErrSlotNotFound) {
			return nil
		}
		return err
	}
	if err := e.cascadeDelete(ctx, id); err != nil {
		return err
	}
	e.log.Info().Str("slot", id).Msg("slot deleted")
	return nil
}

// cascadeDelete removes a slot's blobs and metadata: enumerate file records,
// best-effort delete each blob (absence tolerated), then drop the slot row
// with its children in one storage transaction. Safe to call twice for the
// same id; the second call observes "already gone" and succeeds.
func (e *Engine) cascadeDelete(ctx context.Context, id string) error {
	files, err := e.store.ListFiles(ctx, id)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := e.blobs.Delete(f.Filename); err != nil {
			// the next sweep or access attempt cleans up any residue
			e.log.Warn().Err(err).Str("blob", f.Filename).Msg("blob delete failed")
		}
	}
	return e.store.DeleteSlot(ctx, id)
}

// DeleteExpired is the sweep entry point: it removes every slot whose expiry
// has passed and returns the number of slots deleted. A slot that vanishes
// between listing and deletion was deleted concurrently and is not an error.
func (e *Engine) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	ids, err := e.store.ListExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return deleted, ctx.Err()
		}
		if err := e.cascadeDelete(ctx, id); err != nil {
			e.log.Error().Err(err).Str("slot", id).Msg("sweep delete failed")
			continue
		}
		deleted++
	}
	return deleted, nil
}
