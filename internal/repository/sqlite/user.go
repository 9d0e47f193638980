package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/jamflow/internal/apperror"
	"github.com/sakif/jamflow/internal/model"
	"github.com/sakif/jamflow/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, auth_id, username, email, created_at, updated_at`

// Upsert inserts or updates a user based on their Supabase identity.
//
// We look the row up by auth_id first so an existing user KEEPS their internal ID
// (chats reference it). A username already held by a different identity is
// reported as apperror.ErrConflict.
func (db *DB) Upsert(ctx context.Context, user *model.User) error {
	var existingID string
	var createdAt time.Time
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, created_at FROM users WHERE auth_id = ?`, user.AuthID,
	).Scan(&existingID, &createdAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("sqlite: looking up user by auth_id %s: %w", user.AuthID, err)
	}

	now := time.Now().UTC()
	if existingID != "" {
		user.ID = existingID
		user.CreatedAt = createdAt
		user.UpdatedAt = now
		_, err = db.conn.ExecContext(ctx,
			`UPDATE users SET username = ?, email = ?, updated_at = ? WHERE id = ?`,
			user.Username, user.Email, user.UpdatedAt, user.ID,
		)
		if err != nil {
			if isUniqueViolation(err, "users.username") {
				return apperror.Conflict("username", user.Username)
			}
			return fmt.Errorf("sqlite: updating user %s: %w", user.ID, err)
		}
		return nil
	}

	return db.insertUser(ctx, user, now)
}

// CreateUser inserts a new user without looking for an existing identity first.
func (db *DB) CreateUser(ctx context.Context, user *model.User) error {
	return db.insertUser(ctx, user, time.Now().UTC())
}

func (db *DB) insertUser(ctx context.Context, user *model.User, now time.Time) error {
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID, user.AuthID, user.Username, user.Email, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "users.username") {
			return apperror.Conflict("username", user.Username)
		}
		if isUniqueViolation(err, "users.auth_id") {
			return apperror.Conflict("auth_id", user.AuthID)
		}
		return fmt.Errorf("sqlite: inserting user (authID=%s): %w", user.AuthID, err)
	}
	return nil
}

// GetUserByID retrieves a user by their internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return db.getUser(ctx, "id", id)
}

// GetUserByAuthID retrieves a user by their Supabase subject.
func (db *DB) GetUserByAuthID(ctx context.Context, authID string) (*model.User, error) {
	return db.getUser(ctx, "auth_id", authID)
}

func (db *DB) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return db.getUser(ctx, "username", username)
}

// getUser runs the single-row lookup shared by the GetUserBy* methods.
// column is always a constant from this file, never user input.
func (db *DB) getUser(ctx context.Context, column, value string) (*model.User, error) {
	var u model.User
	err := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+column+` = ?`,
		value,
	).Scan(&u.ID, &u.AuthID, &u.Username, &u.Email, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", value)
		}
		return nil, fmt.Errorf("sqlite: getting user by %s: %w", column, err)
	}
	return &u, nil
}

// isUniqueViolation matches SQLite's "UNIQUE constraint failed: table.column" message.
func isUniqueViolation(err error, column string) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed: "+column)
}
