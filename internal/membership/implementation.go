// internal/membership/implementation.go
package membership

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	apperrors "lendingledger/internal/errors"
)

// service implements the Service interface.
type service struct {
	directory Directory
	logger    *slog.Logger
}

// NewService creates a new user directory service.
func NewService(directory Directory, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &service{
		directory: directory,
		logger:    logger,
	}
}

// RegisterUser creates a new user.
func (s *service) RegisterUser(ctx context.Context, name, email string, start, expiry time.Time) (*User, error) {
	user, err := NewUser(name, email, start, expiry)
	if err != nil {
		return nil, err
	}

	if err := s.directory.CreateUser(ctx, user); err != nil {
		s.logger.ErrorContext(ctx, "failed to store user", "user_id", user.ID, "error", err)
		return nil, asStorageFailure(err)
	}

	s.logger.InfoContext(ctx, "user registered",
		"user_id", user.ID,
		"membership_start_date", user.MembershipStartDate.Format(time.DateOnly),
		"membership_expiry_date", user.MembershipExpiryDate.Format(time.DateOnly),
	)
	return &user, nil
}

// GetUser retrieves a user by their ID.
func (s *service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	user, err := s.directory.GetUser(ctx, id)
	if err != nil {
		return nil, asStorageFailure(err)
	}
	return &user, nil
}

// ListUsers returns every registered user.
func (s *service) ListUsers(ctx context.Context) ([]*User, error) {
	users, err := s.directory.ListUsers(ctx)
	if err != nil {
		return nil, asStorageFailure(err)
	}

	out := make([]*User, 0, len(users))
	for i := range users {
		out = append(out, &users[i])
	}
	return out, nil
}

// asStorageFailure keeps domain errors and wraps everything else as STORAGE_FAILURE.
func asStorageFailure(err error) error {
	if _, ok := apperrors.As(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperrors.StorageFailure(err)
}
