package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/onlyusedtesla/checkout/internal/drafts"
	"github.com/onlyusedtesla/checkout/internal/platform/httpx"
)

var draftIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,128}$`)

// DraftHandlers stores opaque draft blobs so a seller can resume on another device.
// Blobs are never interpreted beyond checking they are JSON.
type DraftHandlers struct {
	backend   drafts.Backend
	keyPrefix string
}

// DraftHandlersOption customises draft handler behaviour.
type DraftHandlersOption func(*DraftHandlers)

// WithDraftKeyPrefix namespaces remote drafts under prefix, e.g. "out_checkout_draft_remote_<id>".
func WithDraftKeyPrefix(prefix string) DraftHandlersOption {
	return func(h *DraftHandlers) {
		if prefix = strings.TrimSpace(prefix); prefix != "" {
			h.keyPrefix = prefix + "_remote_"
		}
	}
}

func NewDraftHandlers(backend drafts.Backend, opts ...DraftHandlersOption) *DraftHandlers {
	h := &DraftHandlers{backend: backend, keyPrefix: "remote_"}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers draft endpoints under the provided router.
func (h *DraftHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{draftID}", h.getDraft)
	r.Put("/{draftID}", h.putDraft)
	r.Delete("/{draftID}", h.deleteDraft)
}

func (h *DraftHandlers) draftKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.backend == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("drafts_unavailable", "draft storage unavailable", http.StatusServiceUnavailable))
		return "", false
	}
	id := strings.TrimSpace(chi.URLParam(r, "draftID"))
	if !draftIDPattern.MatchString(id) {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "draft id must be 8-128 letters, digits, '-' or '_'", http.StatusBadRequest))
		return "", false
	}
	return h.keyPrefix + id, true
}

func (h *DraftHandlers) getDraft(w http.ResponseWriter, r *http.Request) {
	key, ok := h.draftKey(w, r)
	if !ok {
		return
	}
	blob, err := h.backend.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, drafts.ErrNotFound) {
			httpx.WriteError(r.Context(), w, httpx.NewError("draft_not_found", "draft not found", http.StatusNotFound))
			return
		}
		httpx.WriteError(r.Context(), w, httpx.NewError("drafts_unavailable", "draft storage unavailable", http.StatusServiceUnavailable))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(blob)
}

func (h *DraftHandlers) putDraft(w http.ResponseWriter, r *http.Request) {
	key, ok := h.draftKey(w, r)
	if !ok {
		return
	}
	blob, err := httpx.ReadLimitedBody(r, drafts.MaxBlobBytes)
	if err != nil {
		writeBodyError(r.Context(), w, err)
		return
	}
	if !json.Valid(blob) {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "draft must be a JSON document", http.StatusBadRequest))
		return
	}
	if err := h.backend.Put(r.Context(), key, blob); err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("drafts_unavailable", "draft storage unavailable", http.StatusServiceUnavailable))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DraftHandlers) deleteDraft(w http.ResponseWriter, r *http.Request) {
	key, ok := h.draftKey(w, r)
	if !ok {
		return
	}
	if err := h.backend.Delete(r.Context(), key); err != nil && !errors.Is(err, drafts.ErrNotFound) {
		httpx.WriteError(r.Context(), w, httpx.NewError("drafts_unavailable", "draft storage unavailable", http.StatusServiceUnavailable))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
