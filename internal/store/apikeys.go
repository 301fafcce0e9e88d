package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pulsemetrics/pulse/internal/model"
)

// ---------------------------------------------------------------------------
// API Keys
// ---------------------------------------------------------------------------

const insertAPIKeyQuery = `INSERT INTO api_keys
	(id, key_hash, key_prefix, name, project_id, is_active, expires_at, last_used_at, total_requests, created_at)
	VALUES
	(:id, :key_hash, :key_prefix, :name, :project_id, :is_active, :expires_at, :last_used_at, :total_requests, :created_at)`

func (s *Store) insertAPIKey(ctx context.Context, tx *sqlx.Tx, key *model.APIKey) error {
	key.ID = newID()
	key.CreatedAt = now()
	if key.ExpiresAt != nil {
		exp := utc(*key.ExpiresAt)
		key.ExpiresAt = &exp
	}
	if _, err := tx.NamedExecContext(ctx, insertAPIKeyQuery, key); err != nil {
		return s.classify("insert api key", err)
	}
	return nil
}

func (s *Store) countActiveKeys(ctx context.Context, tx *sqlx.Tx, projectID string) (int, error) {
	var n int
	q := s.rebind("SELECT COUNT(*) FROM api_keys WHERE project_id = ? AND is_active = ?")
	if err := tx.GetContext(ctx, &n, q, projectID, true); err != nil {
		return 0, fmt.Errorf("count active api keys: %w", err)
	}
	return n, nil
}

// lockProject write-locks a project row for the rest of tx. Every check of
// the active key count runs after it, so concurrent key writes to the same
// project serialize.
func (s *Store) lockProject(ctx context.Context, tx *sqlx.Tx, projectID string) error {
	var id string
	if err := tx.GetContext(ctx, &id, s.rebind(s.dialect.LockRow("projects")), projectID); err != nil {
		return s.classify("lock project", err)
	}
	return nil
}

// checkKeyLimit returns ErrKeyLimit when the project already has maxActive
// active keys. The project must be locked.
func (s *Store) checkKeyLimit(ctx context.Context, tx *sqlx.Tx, projectID string, maxActive int) error {
	if maxActive <= 0 {
		return nil
	}
	n, err := s.countActiveKeys(ctx, tx, projectID)
	if err != nil {
		return err
	}
	if n >= maxActive {
		return ErrKeyLimit
	}
	return nil
}

// CreateAPIKey inserts a key for key.ProjectID unless the project already has
// maxActive active keys, in which case ErrKeyLimit is returned.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey, maxActive int) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.lockProject(ctx, tx, key.ProjectID); err != nil {
			return err
		}
		if err := s.checkKeyLimit(ctx, tx, key.ProjectID, maxActive); err != nil {
			return err
		}
		return s.insertAPIKey(ctx, tx, key)
	})
}

// UpdateAPIKey writes the name and active flag of key. Reactivating a key
// counts against maxActive like creating one. The stored row is loaded back
// into key.
func (s *Store) UpdateAPIKey(ctx context.Context, key *model.APIKey, maxActive int) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.lockProject(ctx, tx, key.ProjectID); err != nil {
			return err
		}

		var current model.APIKey
		q := s.rebind("SELECT * FROM api_keys WHERE id = ? AND project_id = ?")
		if err := tx.GetContext(ctx, &current, q, key.ID, key.ProjectID); err != nil {
			return s.classify("get api key", err)
		}
		if key.IsActive && !current.IsActive {
			if err := s.checkKeyLimit(ctx, tx, key.ProjectID, maxActive); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx,
			s.rebind("UPDATE api_keys SET name = ?, is_active = ? WHERE id = ?"),
			key.Name, key.IsActive, key.ID); err != nil {
			return s.classify("update api key", err)
		}
		current.Name = key.Name
		current.IsActive = key.IsActive
		*key = current
		return nil
	})
}

// GetAPIKey returns a key by ID within a project.
func (s *Store) GetAPIKey(ctx context.Context, projectID, id string) (*model.APIKey, error) {
	var key model.APIKey
	q := s.rebind("SELECT * FROM api_keys WHERE id = ? AND project_id = ?")
	if err := s.db.GetContext(ctx, &key, q, id, projectID); err != nil {
		return nil, s.classify("get api key", err)
	}
	return &key, nil
}

// ListAPIKeys returns a project's keys, newest first.
func (s *Store) ListAPIKeys(ctx context.Context, projectID string) ([]model.APIKey, error) {
	var keys []model.APIKey
	q := s.rebind("SELECT * FROM api_keys WHERE project_id = ? ORDER BY created_at DESC, id DESC")
	if err := s.db.SelectContext(ctx, &keys, q, projectID); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// FindKeysByPrefix returns the active keys with the given lookup prefix
// whose project is also active. Expiry is left to the caller.
func (s *Store) FindKeysByPrefix(ctx context.Context, prefix string) ([]model.APIKey, error) {
	const q = `SELECT k.id, k.key_hash, k.key_prefix, k.name, k.project_id, k.is_active,
		k.expires_at, k.last_used_at, k.total_requests, k.created_at
		FROM api_keys k
		JOIN projects p ON p.id = k.project_id
		WHERE k.key_prefix = ? AND k.is_active = ? AND p.is_active = ?`

	var keys []model.APIKey
	if err := s.db.SelectContext(ctx, &keys, s.rebind(q), prefix, true, true); err != nil {
		return nil, fmt.Errorf("find api keys by prefix: %w", err)
	}
	return keys, nil
}

// RecordAPIKeyUsage bumps the request counter and last-used time of a key.
func (s *Store) RecordAPIKeyUsage(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE api_keys SET total_requests = total_requests + 1, last_used_at = ? WHERE id = ?"),
		utc(at), id)
	if err != nil {
		return fmt.Errorf("record api key usage: %w", err)
	}
	return rowsAffected("record api key usage", result)
}

// RotateAPIKey deactivates the key oldID, renames it to retiredName and
// inserts next in the same project, in one transaction. ErrNotFound is
// returned when oldID is not an active key of the project.
func (s *Store) RotateAPIKey(ctx context.Context, projectID, oldID, retiredName string, next *model.APIKey) error {
	next.ProjectID = projectID
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx,
			s.rebind("UPDATE api_keys SET is_active = ?, name = ? WHERE id = ? AND project_id = ? AND is_active = ?"),
			false, retiredName, oldID, projectID, true)
		if err != nil {
			return fmt.Errorf("retire api key: %w", err)
		}
		if err := rowsAffected("retire api key", result); err != nil {
			return err
		}
		return s.insertAPIKey(ctx, tx, next)
	})
}

// RevokeAPIKey marks an API key as inactive.
func (s *Store) RevokeAPIKey(ctx context.Context, projectID, id string) error {
	result, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE api_keys SET is_active = ? WHERE id = ? AND project_id = ?"), false, id, projectID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	return rowsAffected("revoke api key", result)
}

// DeleteAPIKey removes a key. Deleting the only active key of a project
// returns ErrLastActiveKey.
func (s *Store) DeleteAPIKey(ctx context.Context, projectID, id string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.lockProject(ctx, tx, projectID); err != nil {
			return err
		}

		var key model.APIKey
		q := s.rebind("SELECT * FROM api_keys WHERE id = ? AND project_id = ?")
		if err := tx.GetContext(ctx, &key, q, id, projectID); err != nil {
			return s.classify("get api key", err)
		}

		if key.IsActive {
			n, err := s.countActiveKeys(ctx, tx, projectID)
			if err != nil {
				return err
			}
			if n <= 1 {
				return ErrLastActiveKey
			}
		}

		result, err := tx.ExecContext(ctx, s.rebind("DELETE FROM api_keys WHERE id = ?"), id)
		if err != nil {
			return fmt.Errorf("delete api key: %w", err)
		}
		return rowsAffected("delete api key", result)
	})
}
