package store

import (
	"context"
	"fmt"

	"github.com/pulsemetrics/pulse/internal/model"
)

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// CreateUser inserts a new user. ID and CreatedAt are assigned here.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	u.ID = newID()
	u.CreatedAt = now()

	const q = `INSERT INTO users (id, email, password_hash, full_name, is_active, created_at)
		VALUES (:id, :email, :password_hash, :full_name, :is_active, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, q, u); err != nil {
		return s.classify("insert user", err)
	}
	return nil
}

// GetUser returns a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	if err := s.db.GetContext(ctx, &u, s.rebind("SELECT * FROM users WHERE id = ?"), id); err != nil {
		return nil, s.classify("get user", err)
	}
	return &u, nil
}

// GetUserByEmail returns a user by email address.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	if err := s.db.GetContext(ctx, &u, s.rebind("SELECT * FROM users WHERE email = ?"), email); err != nil {
		return nil, s.classify("get user by email", err)
	}
	return &u, nil
}

// ListUsers returns all users ordered by email.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := s.db.SelectContext(ctx, &users, "SELECT * FROM users ORDER BY email"); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// SetUserActive enables or disables sign-in for a user.
func (s *Store) SetUserActive(ctx context.Context, id string, active bool) error {
	result, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE users SET is_active = ? WHERE id = ?"), active, id)
	if err != nil {
		return fmt.Errorf("set user active: %w", err)
	}
	return rowsAffected("set user active", result)
}

// UpdatePasswordHash replaces a user's stored password hash.
func (s *Store) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	result, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE users SET password_hash = ? WHERE id = ?"), hash, id)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	return rowsAffected("update password hash", result)
}

// DeleteUser removes a user. Owned projects, their keys and metrics go with it.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM users WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return rowsAffected("delete user", result)
}
