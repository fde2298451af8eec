// internal/platform/httpx/httpx.go

// Package httpx holds the JSON request/response helpers shared by the HTTP handlers.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apperrors "lendingledger/internal/errors"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Code     apperrors.Code    `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ListResponse mirrors the {counter, data} envelope list endpoints answer with.
type ListResponse[T any] struct {
	Counter int `json:"counter"`
	Data    []T `json:"data"`
}

// NewList wraps items in a ListResponse; a nil slice renders as [].
func NewList[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Counter: len(items), Data: items}
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError renders err as an ErrorResponse. Errors outside the taxonomy become 500 UNKNOWN
// and their text is not leaked.
func WriteError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		logger.ErrorContext(r.Context(), "unhandled error", "method", r.Method, "path", r.URL.Path, "error", err)
		WriteJSON(w, http.StatusInternalServerError, ErrorResponse{
			Code:    apperrors.CodeUnknown,
			Message: "internal server error",
		})
		return
	}

	resp := ErrorResponse{Code: appErr.Code, Message: appErr.Message, Metadata: appErr.Metadata}
	if appErr.Kind() == apperrors.KindInternal {
		logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "code", appErr.Code, "error", err)
		resp.Metadata = nil
	}
	if appErr.Code.Retryable() {
		w.Header().Set("Retry-After", "1")
	}
	WriteJSON(w, appErr.Code.HTTPStatus(), resp)
}

// DecodeJSON decodes a bounded request body into dst, rejecting unknown fields.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.Invalid("body", "is empty")
		}
		return apperrors.Invalid("body", err.Error())
	}
	return nil
}

// URLParamUUID parses the named chi route parameter as a UUID.
func URLParamUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperrors.Invalid(name, fmt.Sprintf("invalid id %q", raw))
	}
	return id, nil
}

// ParseUUID parses a body field as a UUID.
func ParseUUID(field, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperrors.Invalid(field, fmt.Sprintf("invalid id %q", raw))
	}
	return id, nil
}
