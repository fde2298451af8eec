// internal/membership/handler.go
package membership

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

// Routes mounts the user directory endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/users", h.handleRegisterUser)
	r.Get("/users", h.handleListUsers)
	r.Get("/users/{userID}", h.handleGetUser)
}

type registerUserRequest struct {
	Name                 string `json:"name"`
	Email                string `json:"email"`
	MembershipStartDate  string `json:"membership_start_date"`
	MembershipExpiryDate string `json:"membership_expiry_date"`
}

func (h *Handler) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	var req registerUserRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	start, err := clock.ParseDate(req.MembershipStartDate)
	if err != nil {
		httpx.WriteError(w, r, h.logger, apperrors.Invalid("membership_start_date", "must be YYYY-MM-DD"))
		return
	}
	expiry, err := clock.ParseDate(req.MembershipExpiryDate)
	if err != nil {
		httpx.WriteError(w, r, h.logger, apperrors.Invalid("membership_expiry_date", "must be YYYY-MM-DD"))
		return
	}

	user, err := h.service.RegisterUser(r.Context(), req.Name, req.Email, start, expiry)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, user)
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "userID")
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, user)
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, httpx.NewList(users))
}
