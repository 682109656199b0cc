// Package loader realizes the single-loaded-model policy: at most one
// model's native resources are live at any instant, loads are serialized by
// a per-model loading lock, and teardown never leaks native handles.
package loader

import (
	"fmt"
	"log"
	"time"

	"github.com/sengac/mindstrike-sub006/internal/backend"
	"github.com/sengac/mindstrike-sub006/internal/domain"
	"github.com/sengac/mindstrike-sub006/internal/planner"
	"github.com/sengac/mindstrike-sub006/internal/registry"
	"github.com/sengac/mindstrike-sub006/internal/session"
)

// Loader is the only mutator of the registry's active map.
type Loader struct {
	backend  backend.Backend
	registry *registry.Registry
	sessions *session.Manager
	planner  *planner.Planner
	source   domain.ModelSource
	settings domain.SettingsSource // may be nil
}

// New wires a loader. settings may be nil when persisted settings are
// always supplied per call.
func New(b backend.Backend, reg *registry.Registry, sessions *session.Manager, plan *planner.Planner, source domain.ModelSource, settings domain.SettingsSource) *Loader {
	return &Loader{
		backend:  b,
		registry: reg,
		sessions: sessions,
		planner:  plan,
		source:   source,
		settings: settings,
	}
}

// Load resolves idOrName and loads the model, honoring the loading lock:
// a concurrent load for the same model waits on the outstanding completion
// and never starts a second native load. user settings, when non-nil,
// override the persisted ones.
func (l *Loader) Load(idOrName, threadID string, user *domain.ModelLoadingSettings) (*registry.RuntimeInfo, error) {
	desc, err := l.source.Resolve(idOrName)
	if err != nil {
		return nil, err
	}

	active, lock, owned := l.registry.BeginLoad(desc.ID)

	// Already active: just refresh the thread association.
	if active != nil {
		l.associate(desc.ID, threadID)
		return active, nil
	}

	// A load is in flight: wait on its completion.
	if !owned {
		info, err := lock.Wait()
		if err != nil {
			return nil, err
		}
		l.associate(desc.ID, threadID)
		return info, nil
	}

	info, err := l.doLoad(desc, user)
	if err != nil {
		l.registry.ReleaseLoadingLock(desc.ID, lock, nil, err)
		return nil, err
	}

	l.registry.Register(desc.ID, info)
	l.associate(desc.ID, threadID)
	l.registry.ReleaseLoadingLock(desc.ID, lock, info, nil)
	return info, nil
}

// doLoad performs the native load. The caller holds the loading lock.
// Explicit settings win over persisted ones.
func (l *Loader) doLoad(desc *domain.ModelDescriptor, user *domain.ModelLoadingSettings) (*registry.RuntimeInfo, error) {
	// Single-loaded-model invariant: unload everything else first,
	// serially. The load of this model is sequenced strictly after.
	for _, other := range l.registry.ActiveIDs() {
		if other != desc.ID {
			l.Unload(other)
		}
	}

	var settings domain.ModelLoadingSettings
	if user != nil {
		settings = *user
	} else if l.settings != nil {
		persisted, err := l.settings.Settings(desc.ID)
		if err != nil {
			log.Printf("[loader] read settings for %s: %v (using computed defaults)", desc.ID, err)
		} else {
			settings = persisted
		}
	}

	effective, err := l.planner.Effective(*desc, settings)
	if err != nil {
		return nil, fmt.Errorf("plan settings for %s: %w", desc.ID, err)
	}

	gpuLayers := effective.GPULayers
	if desc.LayerCount > 0 && gpuLayers > desc.LayerCount {
		gpuLayers = desc.LayerCount
	}

	start := time.Now()
	model, err := l.backend.LoadModel(desc.Path, backend.LoadOptions{
		GPULayers: gpuLayers,
		Threads:   effective.Threads,
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", desc.ID, err)
	}

	ctx, err := model.NewContext(backend.ContextOptions{
		ContextSize: effective.ContextSize,
		BatchSize:   effective.BatchSize,
	})
	if err != nil {
		closeQuiet(desc.ID, "model", model.Close)
		return nil, fmt.Errorf("create context for %s: %w", desc.ID, err)
	}

	sess, err := l.sessions.Create(desc.ID, ctx)
	if err != nil {
		closeQuiet(desc.ID, "context", ctx.Close)
		closeQuiet(desc.ID, "model", model.Close)
		return nil, err
	}

	now := time.Now()
	return &registry.RuntimeInfo{
		ModelID:     desc.ID,
		Model:       model,
		Context:     ctx,
		Session:     sess,
		ModelPath:   desc.Path,
		ContextSize: effective.ContextSize,
		GPULayers:   gpuLayers,
		BatchSize:   effective.BatchSize,
		Temperature: effective.Temperature,
		LoadedAt:    now,
		LastUsedAt:  now,
		LoadingTime: time.Since(start),
		ThreadIDs:   make(map[string]struct{}),
	}, nil
}

// Unload disposes the session, then context, then model. Unloading a model
// that is not loaded is a no-op with a warning; repeated unloads are safe.
func (l *Loader) Unload(modelID string) {
	if l.registry.Peek(modelID) == nil {
		log.Printf("[loader] unload %s: not loaded", modelID)
		return
	}
	l.sessions.Dispose(modelID)
	l.registry.Unregister(modelID)
}

func (l *Loader) associate(modelID, threadID string) {
	if threadID != "" {
		l.registry.AssociateThread(modelID, threadID)
	}
}

func closeQuiet(modelID, what string, fn func() error) {
	if err := fn(); err != nil {
		log.Printf("[loader] dispose %s for %s: %v", what, modelID, err)
	}
}
