// internal/lending/handler.go
package lending

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"lendingledger/internal/clock"
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

// Routes mounts the mutation endpoints. They are the ones worth rate limiting.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/books/{bookID}/borrow", h.handleBorrow)
	r.Delete("/books/{bookID}/borrower/{recordID}", h.handleReturnByRecord)
	r.Delete("/books/{bookID}/end_booking/{userID}", h.handleReturnByUser)
}

// ReadRoutes mounts the read-only lending endpoints.
func (h *Handler) ReadRoutes(r chi.Router) {
	r.Get("/users/{userID}/borrowed-books", h.handleListBorrowedBooks)
}

// BorrowRequest is the body of POST /books/{bookID}/borrow. Dates are YYYY-MM-DD or RFC3339.
type BorrowRequest struct {
	UserID     string `json:"user_id"`
	BorrowDate string `json:"borrow_date"`
	DueDate    string `json:"due_date"`
}

func (h *Handler) handleBorrow(w http.ResponseWriter, r *http.Request) {
	bookID, err := httpx.URLParamUUID(r, "bookID")
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	var req BorrowRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	userID, err := httpx.ParseUUID("user_id", req.UserID)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	borrowDate, err := clock.ParseDate(req.BorrowDate)
	if err != nil {
		httpx.WriteError(w, r, h.logger, apperrors.Invalid("borrow_date", "must be YYYY-MM-DD"))
		return
	}
	dueDate, err := clock.ParseDate(req.DueDate)
	if err != nil {
		httpx.WriteError(w, r, h.logger, apperrors.Invalid("due_date", "must be YYYY-MM-DD"))
		return
	}

	result, err := h.service.Borrow(r.Context(), bookID, userID, borrowDate, dueDate)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleReturnByRecord(w http.ResponseWriter, r *http.Request) {
	bookID, err := httpx.URLParamUUID(r, "bookID")
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	recordID, err := httpx.URLParamUUID(r, "recordID")
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	book, err := h.service.ReturnByRecord(r.Context(), bookID, recordID)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, book)
}

func (h *Handler) handleReturnByUser(w http.ResponseWriter, r *http.Request) {
	bookID, err := httpx.URLParamUUID(r, "bookID")
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	userID, err := httpx.URLParamUUID(r, "userID")
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	book, err := h.service.ReturnByUser(r.Context(), bookID, userID)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, book)
}

func (h *Handler) handleListBorrowedBooks(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.URLParamUUID(r, "userID")
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	books, err := h.service.ListBorrowedBooks(r.Context(), userID)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, httpx.NewList(books))
}
