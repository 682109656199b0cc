// Package settings mediates between user-chosen loading settings and the
// worker's computed plans. Persisted fields win; missing fields fall back
// to whatever the planner derives at load time.
package settings

import (
	"context"
	"fmt"

	"github.com/sengac/mindstrike-sub006/internal/domain"
	"github.com/sengac/mindstrike-sub006/internal/store"
)

// Planner answers optimal-settings queries; satisfied by the worker proxy.
type Planner interface {
	OptimalSettings(ctx context.Context, modelID string, requested *domain.ModelLoadingSettings) (*domain.LoadSettings, error)
}

// Service persists per-model loading settings and resolves them against
// the planner's computed values.
type Service struct {
	db      *store.DB
	planner Planner
}

// New creates a settings service over the given store and planner.
func New(db *store.DB, planner Planner) *Service {
	return &Service{db: db, planner: planner}
}

// Set stores the user's settings for a model. The settings take effect on
// the next load; a loaded model keeps its current plan until reloaded.
func (s *Service) Set(modelID string, settings domain.ModelLoadingSettings) error {
	if err := validate(settings); err != nil {
		return err
	}
	return s.db.SetSettings(modelID, settings)
}

// Get returns the stored settings for a model. Models with nothing stored
// yield the zero value, meaning "planner decides everything".
func (s *Service) Get(modelID string) (domain.ModelLoadingSettings, error) {
	return s.db.GetSettings(modelID)
}

// Settings implements domain.SettingsSource.
func (s *Service) Settings(modelID string) (domain.ModelLoadingSettings, error) {
	return s.Get(modelID)
}

// Resolve computes the effective load plan for a model: the worker plans
// from host capabilities, then any persisted user fields override.
func (s *Service) Resolve(ctx context.Context, modelID string) (*domain.LoadSettings, error) {
	stored, err := s.db.GetSettings(modelID)
	if err != nil {
		return nil, fmt.Errorf("load settings %s: %w", modelID, err)
	}
	return s.planner.OptimalSettings(ctx, modelID, &stored)
}

// validate rejects values the backend cannot accept. GPULayers == -1 is
// the documented "computed" marker and passes.
func validate(s domain.ModelLoadingSettings) error {
	if s.GPULayers != nil && *s.GPULayers < -1 {
		return fmt.Errorf("%w: gpuLayers %d", domain.ErrInvalidOptions, *s.GPULayers)
	}
	if s.ContextSize != nil && *s.ContextSize < 1 {
		return fmt.Errorf("%w: contextSize %d", domain.ErrInvalidOptions, *s.ContextSize)
	}
	if s.BatchSize != nil && *s.BatchSize < 1 {
		return fmt.Errorf("%w: batchSize %d", domain.ErrInvalidOptions, *s.BatchSize)
	}
	if s.Threads != nil && *s.Threads < 1 {
		return fmt.Errorf("%w: threads %d", domain.ErrInvalidOptions, *s.Threads)
	}
	if s.Temperature != nil && (*s.Temperature < 0 || *s.Temperature > 2) {
		return fmt.Errorf("%w: temperature %v", domain.ErrInvalidOptions, *s.Temperature)
	}
	return nil
}
