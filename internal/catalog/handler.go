// internal/catalog/handler.go
package catalog

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "lendingledger/internal/errors"
	"lendingledger/internal/platform/httpx"
)

type Handler struct {
	service Service
	logger  *slog.Logger
}

func NewHandler(service Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Routes mounts the catalog endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/books", h.handleAddBook)
	r.Get("/books", h.handleListBooks)
	r.Get("/books/{bookID}", h.handleGetBook)
	r.Patch("/books/{bookID}", h.handleSetTotalCopies)
	r.Delete("/books/{bookID}", h.handleRemoveBook)
	r.Get("/books/{bookID}/history", h.handleHistory)
}

func (h *Handler) handleAddBook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title       string `json:"title"`
		Author      string `json:"author"`
		TotalCopies *int   `json:"total_copies"`
	}

	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	if req.TotalCopies == nil {
		httpx.WriteError(w, r, h.logger, apperrors.Invalid("total_copies", "is required"))
		return
	}

	book, err := h.service.AddBook(r.Context(), req.Title, req.Author, *req.TotalCopies)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, book)
}

func (h *Handler) handleListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.service.ListBooks(r.Context())
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, httpx.NewList(books))
}

func (h *Handler) handleGetBook(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "bookID")
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	book, err := h.service.GetBook(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, book)
}

func (h *Handler) handleSetTotalCopies(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "bookID")
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	var req struct {
		TotalCopies *int `json:"total_copies"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	if req.TotalCopies == nil {
		httpx.WriteError(w, r, h.logger, apperrors.Invalid("total_copies", "is required"))
		return
	}

	book, err := h.service.SetTotalCopies(r.Context(), id, *req.TotalCopies)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, book)
}

func (h *Handler) handleRemoveBook(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "bookID")
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	if err := h.service.RemoveBook(r.Context(), id); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "bookID")
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	entries, err := h.service.History(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, httpx.NewList(entries))
}
