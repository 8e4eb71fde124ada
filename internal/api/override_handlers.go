package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/onnwee/bentofeed/internal/override"
	"github.com/onnwee/bentofeed/internal/post"
)

// maxBodyBytes bounds override request bodies.
const maxBodyBytes = 1 << 20

// OverrideService applies editor overrides. *override.Service implements it.
type OverrideService interface {
	Reorder(ctx context.Context, orderedIDs []string) error
	SetSize(ctx context.Context, postID string, size *post.SizeClass) error
	Move(ctx context.Context, postID string, newIndex int) ([]string, error)
}

// ReorderRequest is the body of PUT /admin/bento/order. An empty list
// releases every pin.
type ReorderRequest struct {
	PostIDs []string `json:"post_ids" validate:"required,dive,required"`
}

// MoveRequest is the body of POST /admin/bento/move.
type MoveRequest struct {
	PostID   string `json:"post_id" validate:"required"`
	NewIndex *int   `json:"new_index" validate:"required,gte=0"`
}

// MoveResponse is the pinned order after a move.
type MoveResponse struct {
	PostIDs []string `json:"post_ids"`
}

// OverrideHandlers serves the editor override commands.
type OverrideHandlers struct {
	svc      OverrideService
	validate *validator.Validate
	logger   *slog.Logger
}

// NewOverrideHandlers creates override handlers. A nil logger uses slog.Default().
func NewOverrideHandlers(svc OverrideService, logger *slog.Logger) *OverrideHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &OverrideHandlers{
		svc:      svc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// Reorder handles PUT /admin/bento/order.
func (h *OverrideHandlers) Reorder(w http.ResponseWriter, r *http.Request) {
	var req ReorderRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.Reorder(r.Context(), req.PostIDs); err != nil {
		h.writeOverrideError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Move handles POST /admin/bento/move.
func (h *OverrideHandlers) Move(w http.ResponseWriter, r *http.Request) {
	var req MoveRequest
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.svc.Move(r.Context(), req.PostID, *req.NewIndex)
	if err != nil {
		h.writeOverrideError(w, r, err)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, MoveResponse{PostIDs: order})
}

// SetSize handles PUT /admin/bento/posts/{id}/size. The body must contain
// "size": a size class name, or null to clear the pin.
func (h *OverrideHandlers) SetSize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var body map[string]json.RawMessage
	if !h.decodeRaw(w, r, &body) {
		return
	}
	raw, ok := body["size"]
	if !ok {
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "size is required (use null to clear)")
		return
	}

	var size *post.SizeClass
	if !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		var name string
		if err := json.Unmarshal(raw, &name); err != nil {
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "size must be a string or null")
			return
		}
		parsed, err := post.ParseSizeClass(name)
		if err != nil {
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, fmt.Sprintf("unknown size %q", name))
			return
		}
		size = &parsed
	}

	if err := h.svc.SetSize(ctx, id, size); err != nil {
		h.writeOverrideError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decode reads a JSON body into v, rejecting unknown fields, and validates it.
func (h *OverrideHandlers) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, validationMessage(err))
		return false
	}
	return true
}

func (h *OverrideHandlers) decodeRaw(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return false
	}
	return true
}

// validationMessage names the first failing field.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("field %s failed %q", fe.Namespace(), fe.Tag())
	}
	return "invalid request"
}

func (h *OverrideHandlers) writeOverrideError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, post.ErrPostNotFound):
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, override.ErrInvalidOrder),
		errors.Is(err, override.ErrEmptyPostID),
		errors.Is(err, override.ErrIndexOutOfRange),
		errors.Is(err, post.ErrInvalidSize),
		errors.Is(err, post.ErrDuplicatePost):
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
	default:
		h.logger.ErrorContext(ctx, "override write failed", "error", err)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to apply override")
	}
}
