// internal/membership/service.go
package membership

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Service defines the interface for the user directory.
type Service interface {
	RegisterUser(ctx context.Context, name, email string, start, expiry time.Time) (*User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
}

// Directory persists users. GetUser returns errors.ErrUserNotFound for unknown ids.
type Directory interface {
	CreateUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, id uuid.UUID) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
}
