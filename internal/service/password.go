package service

import (
	"fmt"

	"github.com/alexedwards/argon2id"

	"github.com/pulsemetrics/pulse/internal/config"
)

// PasswordHasher hashes user passwords with argon2id.
type PasswordHasher struct {
	params *argon2id.Params
	dummy  string
}

// NewPasswordHasher builds a hasher from cfg. It precomputes a dummy hash
// that is verified when a login names an unknown user, so both paths cost
// the same.
func NewPasswordHasher(cfg config.Argon2Config) (*PasswordHasher, error) {
	h := &PasswordHasher{params: &argon2id.Params{
		Memory:      cfg.Memory,
		Iterations:  cfg.Iterations,
		Parallelism: cfg.Parallelism,
		SaltLength:  cfg.SaltLength,
		KeyLength:   cfg.KeyLength,
	}}
	dummy, err := h.Hash("pulse-dummy-password")
	if err != nil {
		return nil, err
	}
	h.dummy = dummy
	return h, nil
}

// Hash returns the encoded argon2id hash of password.
func (h *PasswordHasher) Hash(password string) (string, error) {
	hash, err := argon2id.CreateHash(password, h.params)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

// Verify checks password against an encoded hash. needsRehash is true on a
// match whose hash was made with parameters other than the current ones.
func (h *PasswordHasher) Verify(password, hash string) (match, needsRehash bool, err error) {
	match, err = argon2id.ComparePasswordAndHash(password, hash)
	if err != nil {
		return false, false, fmt.Errorf("verify password: %w", err)
	}
	if !match {
		return false, false, nil
	}
	params, _, _, err := argon2id.DecodeHash(hash)
	if err != nil {
		return true, false, nil
	}
	return true, *params != *h.params, nil
}

// VerifyDummy spends the same work as Verify against a hash that never
// matches a real account.
func (h *PasswordHasher) VerifyDummy(password string) {
	_, _ = argon2id.ComparePasswordAndHash(password, h.dummy)
}
