package service

import (
	"context"
	"strings"
	"time"

	"github.com/pulsemetrics/pulse/internal/apperr"
	"github.com/pulsemetrics/pulse/internal/config"
	"github.com/pulsemetrics/pulse/internal/model"
	"github.com/pulsemetrics/pulse/internal/store"
)

const (
	rotatedSuffix     = " (rotated)"
	maxKeyNameLength  = 255
	msgAPIKeyNotFound = "API key not found"
)

// APIKeyUpdate holds the optional fields of a key update.
type APIKeyUpdate struct {
	Name     *string `json:"name,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

// APIKeyService manages the API keys of a project. Callers resolve and
// authorize the project first; every method takes its internal ID.
type APIKeyService struct {
	store     *store.Store
	creds     *Credentials
	maxActive int
	expiry    time.Duration
	now       func() time.Time
}

func NewAPIKeyService(st *store.Store, creds *Credentials, cfg config.APIKeyConfig) *APIKeyService {
	return &APIKeyService{
		store:     st,
		creds:     creds,
		maxActive: cfg.MaxPerProject,
		expiry:    time.Duration(cfg.DefaultExpiryDays) * 24 * time.Hour,
		now:       time.Now,
	}
}

// mint generates a key that is not yet stored. A nil expiresAt takes the
// default expiry; an explicit past expiry is kept as given.
func (s *APIKeyService) mint(name string, expiresAt *time.Time) (*model.IssuedAPIKey, error) {
	plaintext, prefix, hash, err := s.creds.GenerateAPIKey()
	if err != nil {
		return nil, apperr.Internal("Internal server error", err)
	}
	if expiresAt == nil && s.expiry > 0 {
		exp := s.now().UTC().Add(s.expiry)
		expiresAt = &exp
	}
	return &model.IssuedAPIKey{
		APIKey: model.APIKey{
			KeyHash:   hash,
			KeyPrefix: prefix,
			Name:      name,
			IsActive:  true,
			ExpiresAt: expiresAt,
		},
		Key: plaintext,
	}, nil
}

func validateKeyName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxKeyNameLength {
		return "", apperr.Validationf("name must be between 1 and %d characters", maxKeyNameLength)
	}
	return name, nil
}

// Create issues a new key for a project. The plaintext is only returned here.
func (s *APIKeyService) Create(ctx context.Context, projectID, name string, expiresAt *time.Time) (*model.IssuedAPIKey, error) {
	name, err := validateKeyName(name)
	if err != nil {
		return nil, err
	}

	issued, err := s.mint(name, expiresAt)
	if err != nil {
		return nil, err
	}
	issued.ProjectID = projectID
	if err := s.store.CreateAPIKey(ctx, &issued.APIKey, s.maxActive); err != nil {
		return nil, storeError(err, msgAPIKeyNotFound)
	}
	return issued, nil
}

// Get returns one key of a project.
func (s *APIKeyService) Get(ctx context.Context, projectID, keyID string) (*model.APIKey, error) {
	key, err := s.store.GetAPIKey(ctx, projectID, keyID)
	if err != nil {
		return nil, storeError(err, msgAPIKeyNotFound)
	}
	return key, nil
}

// Update renames a key or flips its active flag. Reactivation is refused
// when the project is already at its active key limit.
func (s *APIKeyService) Update(ctx context.Context, projectID, keyID string, u APIKeyUpdate) (*model.APIKey, error) {
	key, err := s.Get(ctx, projectID, keyID)
	if err != nil {
		return nil, err
	}
	if u.Name != nil {
		name, err := validateKeyName(*u.Name)
		if err != nil {
			return nil, err
		}
		key.Name = name
	}
	if u.IsActive != nil {
		key.IsActive = *u.IsActive
	}
	if err := s.store.UpdateAPIKey(ctx, key, s.maxActive); err != nil {
		return nil, storeError(err, msgAPIKeyNotFound)
	}
	return key, nil
}

func (s *APIKeyService) List(ctx context.Context, projectID string) ([]model.APIKey, error) {
	keys, err := s.store.ListAPIKeys(ctx, projectID)
	if err != nil {
		return nil, storeError(err, msgAPIKeyNotFound)
	}
	if keys == nil {
		keys = []model.APIKey{}
	}
	return keys, nil
}

// Rotate replaces an active key with a new one carrying the same name and
// expiry. The old key is deactivated and renamed, never deleted.
func (s *APIKeyService) Rotate(ctx context.Context, projectID, keyID string) (*model.IssuedAPIKey, error) {
	old, err := s.store.GetAPIKey(ctx, projectID, keyID)
	if err != nil {
		return nil, storeError(err, msgAPIKeyNotFound)
	}
	if !model.KeyIsValid(*old, s.now()) {
		return nil, apperr.Validation("Cannot rotate an inactive or expired API key")
	}

	next, err := s.mint(old.Name, old.ExpiresAt)
	if err != nil {
		return nil, err
	}

	retired := old.Name
	if !strings.Contains(retired, strings.TrimSpace(rotatedSuffix)) {
		retired += rotatedSuffix
	}
	if err := s.store.RotateAPIKey(ctx, projectID, old.ID, retired, &next.APIKey); err != nil {
		return nil, storeError(err, msgAPIKeyNotFound)
	}
	return next, nil
}

// Revoke deactivates a key.
func (s *APIKeyService) Revoke(ctx context.Context, projectID, keyID string) error {
	return storeError(s.store.RevokeAPIKey(ctx, projectID, keyID), msgAPIKeyNotFound)
}

// Delete removes a key. The last active key of a project cannot be deleted.
func (s *APIKeyService) Delete(ctx context.Context, projectID, keyID string) error {
	return storeError(s.store.DeleteAPIKey(ctx, projectID, keyID), msgAPIKeyNotFound)
}
