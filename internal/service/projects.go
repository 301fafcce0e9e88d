package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/pulsemetrics/pulse/internal/apperr"
	"github.com/pulsemetrics/pulse/internal/model"
	"github.com/pulsemetrics/pulse/internal/store"
)

const (
	maxProjectNameLength   = 100
	maxDescriptionLength   = 1000
	projectKeySuffixLength = 8
	defaultKeyName         = "Default key"
	msgProjectNotFound     = "Project not found"
)

var projectNamePattern = regexp.MustCompile(`^[a-zA-Z0-9\s_-]+$`)

// ProjectUpdate holds the optional fields of a project update.
type ProjectUpdate struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
}

// ProjectService manages projects on behalf of their owners. Lookups by key
// return NotFound for projects owned by someone else.
type ProjectService struct {
	store *store.Store
	keys  *APIKeyService
	now   func() time.Time
}

func NewProjectService(st *store.Store, keys *APIKeyService) *ProjectService {
	return &ProjectService{store: st, keys: keys, now: time.Now}
}

// Create makes a project owned by ownerID together with its first API key.
func (s *ProjectService) Create(ctx context.Context, ownerID, name, description string) (*model.CreatedProject, error) {
	name = strings.TrimSpace(name)
	if err := validateProjectName(name); err != nil {
		return nil, err
	}
	if len(description) > maxDescriptionLength {
		return nil, apperr.Validationf("description must be at most %d characters", maxDescriptionLength)
	}

	projectKey, err := newProjectKey(name)
	if err != nil {
		return nil, apperr.Internal("Internal server error", err)
	}
	issued, err := s.keys.mint(defaultKeyName, nil)
	if err != nil {
		return nil, err
	}

	p := &model.Project{
		Name:        name,
		ProjectKey:  projectKey,
		Description: description,
		OwnerID:     ownerID,
		IsActive:    true,
	}
	if err := s.store.CreateProject(ctx, p, &issued.APIKey); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, apperr.Conflict("A project with this name already exists")
		}
		return nil, storeError(err, msgProjectNotFound)
	}
	return &model.CreatedProject{Project: *p, APIKey: *issued}, nil
}

// Get returns the project with projectKey if ownerID owns it.
func (s *ProjectService) Get(ctx context.Context, ownerID, projectKey string) (*model.Project, error) {
	p, err := s.store.GetProjectByKey(ctx, projectKey)
	if err != nil {
		return nil, storeError(err, msgProjectNotFound)
	}
	if p.OwnerID != ownerID {
		return nil, apperr.NotFound(msgProjectNotFound)
	}
	return p, nil
}

// Detail returns a project with its usage stats.
func (s *ProjectService) Detail(ctx context.Context, ownerID, projectKey string) (*model.ProjectDetail, error) {
	p, err := s.Get(ctx, ownerID, projectKey)
	if err != nil {
		return nil, err
	}
	stats, err := s.store.ProjectStats(ctx, p.ID, s.now().Add(-24*time.Hour))
	if err != nil {
		return nil, storeError(err, msgProjectNotFound)
	}
	return &model.ProjectDetail{Project: *p, Stats: *stats}, nil
}

func (s *ProjectService) List(ctx context.Context, ownerID string) ([]model.Project, error) {
	projects, err := s.store.ListProjectsByOwner(ctx, ownerID)
	if err != nil {
		return nil, storeError(err, msgProjectNotFound)
	}
	if projects == nil {
		projects = []model.Project{}
	}
	return projects, nil
}

// Update applies the set fields of u. The project key never changes.
func (s *ProjectService) Update(ctx context.Context, ownerID, projectKey string, u ProjectUpdate) (*model.Project, error) {
	p, err := s.Get(ctx, ownerID, projectKey)
	if err != nil {
		return nil, err
	}
	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		if err := validateProjectName(name); err != nil {
			return nil, err
		}
		p.Name = name
	}
	if u.Description != nil {
		if len(*u.Description) > maxDescriptionLength {
			return nil, apperr.Validationf("description must be at most %d characters", maxDescriptionLength)
		}
		p.Description = *u.Description
	}
	if u.IsActive != nil {
		p.IsActive = *u.IsActive
	}

	if err := s.store.UpdateProject(ctx, p); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, apperr.Conflict("A project with this name already exists")
		}
		return nil, storeError(err, msgProjectNotFound)
	}
	return p, nil
}

// Delete removes a project with its keys and metrics.
func (s *ProjectService) Delete(ctx context.Context, ownerID, projectKey string) error {
	p, err := s.Get(ctx, ownerID, projectKey)
	if err != nil {
		return err
	}
	return storeError(s.store.DeleteProject(ctx, p.ID), msgProjectNotFound)
}

func validateProjectName(name string) error {
	if name == "" || len(name) > maxProjectNameLength {
		return apperr.Validationf("name must be between 1 and %d characters", maxProjectNameLength)
	}
	if !projectNamePattern.MatchString(name) {
		return apperr.Validation("name may contain only letters, digits, spaces, '_' and '-'")
	}
	return nil
}

// newProjectKey derives a URL-safe key from name with a random suffix.
func newProjectKey(name string) (string, error) {
	suffix, err := randomHex(projectKeySuffixLength)
	if err != nil {
		return "", err
	}
	slug := strings.Join(strings.Fields(strings.ToLower(name)), "-")
	return slug + "-" + suffix, nil
}
