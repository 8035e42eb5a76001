package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"dropslot/internal/domain"
	"dropslot/internal/engine"
	"dropslot/internal/utility"
)

// passwordHeader carries the slot password. A header rather than a query
// parameter, so the credential stays out of URLs and access logs.
const passwordHeader = "X-Slot-Password"

// multipartMemory is how much of a multipart upload is held in memory
// before spooling to a temp file.
const multipartMemory = 32 << 20

// Handler exposes the engine over HTTP. It contains no logic of its own
// beyond request parsing and error-to-status mapping.
type Handler struct {
	engine *engine.Engine
}

func NewHandler(e *engine.Engine) *Handler {
	return &Handler{engine: e}
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utility.HttpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := h.engine.Create(r.Context(), req.Password)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	utility.WriteJSON(w, http.StatusCreated, res)
}

func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	password := r.Header.Get(passwordHeader)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		utility.HttpError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	defer r.MultipartForm.RemoveAll()

	var files []engine.UploadFile
	var opened []io.Closer
	defer func() {
		for _, c := range opened {
			c.Close()
		}
	}()
	for _, fh := range r.MultipartForm.File["files"] {
		f, err := fh.Open()
		if err != nil {
			utility.HttpError(w, http.StatusBadRequest, "unreadable file part")
			return
		}
		opened = append(opened, f)
		files = append(files, engine.UploadFile{
			OriginalName: fh.Filename,
			MimeType:     fh.Header.Get("Content-Type"),
			Content:      f,
		})
	}
	text := r.FormValue("text")

	if len(files) == 0 && text == "" {
		utility.HttpError(w, http.StatusBadRequest, "nothing to upload")
		return
	}

	res, err := h.engine.Upload(r.Context(), id, password, files, text)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	utility.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleAccess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	password := r.Header.Get(passwordHeader)

	res, err := h.engine.Access(r.Context(), id, password)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	utility.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	fileID := chi.URLParam(r, "fileID")
	cred := engine.DownloadCredential{
		Token:    r.URL.Query().Get("token"),
		Password: r.Header.Get(passwordHeader),
	}

	rec, rd, err := h.engine.Download(r.Context(), id, fileID, cred)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	defer rd.Close()

	contentType := rec.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(rec.Size, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment",
		map[string]string{"filename": rec.OriginalName}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rd); err != nil {
		log.Warn().Err(err).Str("file", fileID).Msg("download interrupted")
	}
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	password := r.Header.Get(passwordHeader)

	if err := h.engine.Delete(r.Context(), id, password); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeEngineError maps the engine's error taxonomy to HTTP statuses. The
// remaining-attempts count travels as a structured field, never as prose for
// the client to parse back out.
func writeEngineError(w http.ResponseWriter, err error) {
	var vErr *domain.ValidationError
	var pwErr *domain.InvalidPasswordError

	switch {
	case errors.As(err, &vErr):
		utility.HttpError(w, http.StatusBadRequest, vErr.Msg)
	case errors.As(err, &pwErr):
		utility.WriteJSON(w, http.StatusUnauthorized, map[string]any{
			"error":              "invalid password",
			"remaining_attempts": pwErr.Remaining,
		})
	case errors.Is(err, domain.ErrSlotLocked):
		utility.WriteJSON(w, http.StatusGone, map[string]any{
			"error":              "too many failed attempts, slot deleted",
			"deleted":            true,
			"remaining_attempts": 0,
		})
	case errors.Is(err, domain.ErrSlotExpired):
		utility.WriteJSON(w, http.StatusGone, map[string]any{
			"error":   "slot expired",
			"deleted": true,
		})
	case errors.Is(err, domain.ErrSlotNotFound):
		utility.HttpError(w, http.StatusNotFound, "slot not found")
	case errors.Is(err, domain.ErrFileNotFound):
		utility.HttpError(w, http.StatusNotFound, "file not found")
	case errors.Is(err, context.Canceled):
		// client went away, nothing useful to write
	default:
		log.Error().Err(err).Msg("internal error")
		utility.HttpError(w, http.StatusInternalServerError, "internal error")
	}
}
