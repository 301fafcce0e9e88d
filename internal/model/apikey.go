package model

import "time"

// APIKey is a bearer credential scoped to one project. The plaintext key is
// never stored; only a keyed hash and a short lookup prefix are persisted.
type APIKey struct {
	ID            string     `json:"id" db:"id"`
	KeyHash       string     `json:"-" db:"key_hash"`
	KeyPrefix     string     `json:"key_prefix" db:"key_prefix"`
	Name          string     `json:"name" db:"name"`
	ProjectID     string     `json:"project_id" db:"project_id"`
	IsActive      bool       `json:"is_active" db:"is_active"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	TotalRequests int64      `json:"total_requests" db:"total_requests"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// KeyIsExpired reports whether k has an expiry that lies before now.
func KeyIsExpired(k APIKey, now time.Time) bool {
	return k.ExpiresAt != nil && k.ExpiresAt.Before(now)
}

// KeyIsValid reports whether k may authenticate requests at now.
func KeyIsValid(k APIKey, now time.Time) bool {
	return k.IsActive && !KeyIsExpired(k, now)
}

// IssuedAPIKey is returned once, at creation or rotation, and is the only
// place the plaintext key ever appears.
type IssuedAPIKey struct {
	APIKey
	Key string `json:"key"`
}
