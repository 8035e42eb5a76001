package domain

import "time"

// Slot is the root shareable unit: an id, a password hash, a fixed TTL and a
// lockout counter. PasswordHash is never serialized to external callers.
type Slot struct {
	ID             string
	PasswordHash   string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	FailedAttempts int
}

// Expired reports whether the slot is past its TTL at the given instant.
func (s *Slot) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// FileRecord describes one uploaded file belonging to a slot. Filename is the
// storage-generated blob name; it is never exposed to end users and never
// derived from OriginalName.
type FileRecord struct {
	ID           string    `json:"id"`
	SlotID       string    `json:"-"`
	Filename     string    `json:"-"`
	OriginalName string    `json:"original_name"`
	Size         int64     `json:"size"`
	MimeType     string    `json:"mime_type,omitempty"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

// TextRecord is the at-most-one text note of a slot. A new submission
// replaces the previous one.
type TextRecord struct {
	SlotID  string `json:"-"`
	Content string `json:"content"`
}

type CreateReq struct {
	Password string `json:"password"`
}

type CreateRes struct {
	SlotID    string    `json:"slot_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SlotView is the sanitized slot representation returned on access.
// It deliberately carries neither the password hash nor the attempt counter.
type SlotView struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type AccessRes struct {
	Slot          SlotView      `json:"slot"`
	Files         []*FileRecord `json:"files"`
	TextContent   *TextRecord   `json:"text_content"`
	DownloadToken string        `json:"download_token,omitempty"`
}

type UploadRes struct {
	SlotID string        `json:"slot_id"`
	Files  []*FileRecord `json:"files"`
	Text   bool          `json:"text"`
}
