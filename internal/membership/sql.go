// internal/membership/sql.go
package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	apperrors "lendingledger/internal/errors"
	"lendingledger/internal/platform/storage"
)

const usersTable = "users"

// SQLDirectory stores users in the shared SQL database.
type SQLDirectory struct {
	db *storage.DB
}

// NewSQLDirectory wraps an opened and migrated database.
func NewSQLDirectory(db *storage.DB) *SQLDirectory {
	return &SQLDirectory{db: db}
}

type userRow struct {
	ID               string `db:"id"`
	Name             string `db:"name"`
	Email            string `db:"email"`
	MembershipStart  int64  `db:"membership_start"`
	MembershipExpiry int64  `db:"membership_expiry"`
	CreatedAt        int64  `db:"created_at"`
}

func (r userRow) toUser() (User, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return User{}, fmt.Errorf("parse user id %q: %w", r.ID, err)
	}
	return User{
		ID:                   id,
		Name:                 r.Name,
		Email:                r.Email,
		MembershipStartDate:  storage.FromMillis(r.MembershipStart),
		MembershipExpiryDate: storage.FromMillis(r.MembershipExpiry),
		CreatedAt:            storage.FromMillis(r.CreatedAt),
	}, nil
}

var userColumns = []interface{}{"id", "name", "email", "membership_start", "membership_expiry", "created_at"}

func (d *SQLDirectory) CreateUser(ctx context.Context, user User) error {
	query, args, err := d.db.Builder().
		Insert(usersTable).
		Rows(goqu.Record{
			"id":                user.ID.String(),
			"name":              user.Name,
			"email":             user.Email,
			"membership_start":  storage.ToMillis(user.MembershipStartDate),
			"membership_expiry": storage.ToMillis(user.MembershipExpiryDate),
			"created_at":        storage.ToMillis(user.CreatedAt),
		}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build insert user: %w", err)
	}

	if _, err := d.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (d *SQLDirectory) GetUser(ctx context.Context, id uuid.UUID) (User, error) {
	query, args, err := d.db.Builder().
		From(usersTable).
		Select(userColumns...).
		Where(goqu.C("id").Eq(id.String())).
		Prepared(true).
		ToSQL()
	if err != nil {
		return User{}, fmt.Errorf("build select user: %w", err)
	}

	var row userRow
	if err := d.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, apperrors.ErrUserNotFound
		}
		return User{}, fmt.Errorf("select user: %w", err)
	}
	return row.toUser()
}

func (d *SQLDirectory) ListUsers(ctx context.Context) ([]User, error) {
	query, args, err := d.db.Builder().
		From(usersTable).
		Select(userColumns...).
		Order(goqu.C("created_at").Asc(), goqu.C("id").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list users: %w", err)
	}

	var rows []userRow
	if err := d.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	users := make([]User, 0, len(rows))
	for _, row := range rows {
		user, err := row.toUser()
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, nil
}
