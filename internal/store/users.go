// Package store provides PostgreSQL-backed access to the admin panel's
// persistent data, limited to the two queries the notification hub needs:
// the active-user lookup consulted at handshake time and the read-status
// update behind mark_read. Everything else about users, subscriptions, and
// payments lives in the panel's CRUD layer.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/waboard/realtime/internal/auth"
)

// Users performs user lookups against PostgreSQL.
type Users struct {
	db *sql.DB
}

// NewUsers creates a user store backed by the given database handle.
func NewUsers(db *sql.DB) *Users {
	return &Users{db: db}
}

// FindActiveUser returns the role of an active user, or an error from the
// auth taxonomy: ErrUserNotFound when no row matches, ErrUserInactive when
// the account has been deactivated, and a wrapped ErrStoreUnavailable when
// the database cannot be reached.
func (u *Users) FindActiveUser(ctx context.Context, userID string) (string, error) {
	const query = `SELECT role, active FROM users WHERE id = $1`

	var (
		role   string
		active bool
	)
	err := u.db.QueryRowContext(ctx, query, userID).Scan(&role, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return "", auth.ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: user query: %v", auth.ErrStoreUnavailable, err)
	}
	if !active {
		return "", auth.ErrUserInactive
	}
	return role, nil
}
