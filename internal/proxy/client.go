package proxy

import (
	"context"
	"time"

	"github.com/sengac/mindstrike-sub006/internal/domain"
	"github.com/sengac/mindstrike-sub006/internal/metrics"
	"github.com/sengac/mindstrike-sub006/internal/wire"
)

// Typed wrappers over Send/Stream. These are the surface the HTTP layer
// and CLI talk to; nothing outside this package builds envelopes by hand.

// GetLocalModels lists the models the worker can see on disk.
func (p *Proxy) GetLocalModels(ctx context.Context) ([]domain.ModelDescriptor, error) {
	data, err := p.Send(ctx, wire.TypeGetLocalModels, nil)
	if err != nil {
		return nil, err
	}
	var models []domain.ModelDescriptor
	if err := wire.Decode(data, &models); err != nil {
		return nil, err
	}
	return models, nil
}

// LoadModel loads (or re-associates) a model and returns its runtime
// snapshot.
func (p *Proxy) LoadModel(ctx context.Context, idOrName, threadID string, settings *domain.ModelLoadingSettings) (*domain.ModelRuntimeSnapshot, error) {
	start := time.Now()
	data, err := p.Send(ctx, wire.TypeLoadModel, wire.LoadModelPayload{
		ModelIDOrName: idOrName,
		ThreadID:      threadID,
		Settings:      settings,
	})
	if err != nil {
		metrics.ModelLoads.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.ModelLoads.WithLabelValues("ok").Inc()
	metrics.ModelLoadDuration.Observe(time.Since(start).Seconds())
	// Single-loaded-model policy: a successful load displaces any other.
	metrics.ModelsLoaded.Set(1)

	var snap domain.ModelRuntimeSnapshot
	if err := wire.Decode(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// UnloadModel releases a model's native resources. Unloading a model that
// is not loaded is a no-op.
func (p *Proxy) UnloadModel(ctx context.Context, modelID string) error {
	_, err := p.Send(ctx, wire.TypeUnloadModel, wire.UnloadModelPayload{ModelID: modelID})
	if err == nil {
		metrics.ModelsLoaded.Set(0)
	}
	return err
}

// DeleteModel unloads a model and removes its file from disk.
func (p *Proxy) DeleteModel(ctx context.Context, modelID string) error {
	_, err := p.Send(ctx, wire.TypeDeleteModel, wire.DeleteModelPayload{ModelID: modelID})
	if err == nil {
		metrics.ModelsLoaded.Set(0)
	}
	return err
}

// OptimalSettings computes load settings for a model. A non-nil requested
// settings block is merged over the computed plan.
func (p *Proxy) OptimalSettings(ctx context.Context, modelID string, requested *domain.ModelLoadingSettings) (*domain.LoadSettings, error) {
	data, err := p.Send(ctx, wire.TypeOptimalSettings, wire.OptimalSettingsPayload{
		ModelID:   modelID,
		Requested: requested,
	})
	if err != nil {
		return nil, err
	}
	var settings domain.LoadSettings
	if err := wire.Decode(data, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

// RuntimeInfo returns the runtime snapshot of a loaded model, or nil when
// the model is not loaded.
func (p *Proxy) RuntimeInfo(ctx context.Context, modelID string) (*domain.ModelRuntimeSnapshot, error) {
	data, err := p.Send(ctx, wire.TypeRuntimeInfo, wire.RuntimeInfoPayload{ModelID: modelID})
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var snap domain.ModelRuntimeSnapshot
	if err := wire.Decode(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// ClearContextSizeCache drops the worker's cached context-size plans.
func (p *Proxy) ClearContextSizeCache(ctx context.Context) error {
	_, err := p.Send(ctx, wire.TypeClearCtxCache, nil)
	return err
}

// Generate runs a full, non-streaming generation.
func (p *Proxy) Generate(ctx context.Context, idOrName string, messages []domain.ChatMessage, opts domain.GenerateOptions) (*domain.GenerateResult, error) {
	start := time.Now()
	data, err := p.Send(ctx, wire.TypeGenerate, wire.GeneratePayload{
		ModelIDOrName: idOrName,
		Messages:      messages,
		Options:       opts,
	})
	if err != nil {
		return nil, err
	}
	var result domain.GenerateResult
	if err := wire.Decode(data, &result); err != nil {
		return nil, err
	}
	metrics.GenerationLatency.WithLabelValues(idOrName, "complete").Observe(time.Since(start).Seconds())
	metrics.GenerationTokens.WithLabelValues(idOrName).Add(float64(result.TokensGenerated))
	return &result, nil
}

// GenerateStream runs a streaming generation. Chunks arrive in order on
// the returned channel; the final Token carries Done or Err and the
// channel is then closed. Cancel ctx to abort.
func (p *Proxy) GenerateStream(ctx context.Context, idOrName string, messages []domain.ChatMessage, opts domain.GenerateOptions) (<-chan domain.Token, error) {
	return p.Stream(ctx, wire.TypeGenerateStream, wire.GeneratePayload{
		ModelIDOrName: idOrName,
		Messages:      messages,
		Options:       opts,
	})
}
