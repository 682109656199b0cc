package worker

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sort"

	"github.com/sengac/mindstrike-sub006/internal/domain"
	"github.com/sengac/mindstrike-sub006/internal/registry"
	"github.com/sengac/mindstrike-sub006/internal/wire"
)

func (w *Worker) handleGetLocalModels(f *wire.Frame) {
	models, err := w.source.LocalModels()
	if err != nil {
		w.respondErr(f.ID, err)
		return
	}
	w.respondOK(f.ID, models)
}

func (w *Worker) handleLoadModel(f *wire.Frame) {
	var p wire.LoadModelPayload
	if err := wire.Decode(f.Data, &p); err != nil {
		w.respondErr(f.ID, err)
		return
	}
	info, err := w.loader.Load(p.ModelIDOrName, p.ThreadID, p.Settings)
	if err != nil {
		w.respondErr(f.ID, err)
		return
	}
	w.respondOK(f.ID, w.snapshot(info))
}

func (w *Worker) handleUnloadModel(f *wire.Frame) {
	var p wire.UnloadModelPayload
	if err := wire.Decode(f.Data, &p); err != nil {
		w.respondErr(f.ID, err)
		return
	}
	w.loader.Unload(p.ModelID)
	w.respondOK(f.ID, nil)
}

func (w *Worker) handleDeleteModel(f *wire.Frame) {
	var p wire.DeleteModelPayload
	if err := wire.Decode(f.Data, &p); err != nil {
		w.respondErr(f.ID, err)
		return
	}
	desc, err := w.source.Resolve(p.ModelID)
	if err != nil {
		w.respondErr(f.ID, err)
		return
	}
	w.loader.Unload(desc.ID)
	if err := os.Remove(desc.Path); err != nil && !os.IsNotExist(err) {
		w.respondErr(f.ID, fmt.Errorf("delete %s: %w", desc.ID, err))
		return
	}
	w.respondOK(f.ID, nil)
}

func (w *Worker) handleOptimalSettings(f *wire.Frame) {
	var p wire.OptimalSettingsPayload
	if err := wire.Decode(f.Data, &p); err != nil {
		w.respondErr(f.ID, err)
		return
	}
	desc, err := w.source.Resolve(p.ModelID)
	if err != nil {
		w.respondErr(f.ID, err)
		return
	}

	var settings domain.LoadSettings
	if p.Requested != nil {
		settings, err = w.planner.Effective(*desc, *p.Requested)
	} else {
		settings, err = w.planner.OptimalSettings(*desc)
	}
	if err != nil {
		w.respondErr(f.ID, err)
		return
	}
	w.respondOK(f.ID, settings)
}

func (w *Worker) handleRuntimeInfo(f *wire.Frame) {
	var p wire.RuntimeInfoPayload
	if err := wire.Decode(f.Data, &p); err != nil {
		w.respondErr(f.ID, err)
		return
	}
	info := w.registry.Peek(p.ModelID)
	if info == nil {
		w.respondOK(f.ID, nil)
		return
	}
	w.respondOK(f.ID, w.snapshot(info))
}

func (w *Worker) handleGenerate(ctx context.Context, f *wire.Frame) {
	info, p, err := w.resolveGeneration(f)
	if err != nil {
		w.respondErr(f.ID, err)
		return
	}

	genCtx, release := w.aborts.track(ctx, f.ID)
	defer release()

	w.genMu.Lock()
	result, err := w.generator.Generate(genCtx, info, p.Messages, p.Options)
	w.genMu.Unlock()

	if err != nil {
		w.respondErr(f.ID, err)
		return
	}
	w.respondOK(f.ID, result)
}

func (w *Worker) handleGenerateStream(ctx context.Context, f *wire.Frame) {
	info, p, err := w.resolveGeneration(f)
	if err != nil {
		w.respondErr(f.ID, err)
		return
	}

	genCtx, release := w.aborts.track(ctx, f.ID)
	defer release()

	w.genMu.Lock()
	defer w.genMu.Unlock()

	ch, err := w.generator.GenerateStream(genCtx, info, p.Messages, p.Options)
	if err != nil {
		w.respondErr(f.ID, err)
		return
	}

	// Drain to close even after a terminal token, so the producer never
	// blocks on an abandoned channel.
	terminated := false
	for tok := range ch {
		switch {
		case terminated:
		case tok.Err != nil:
			w.respondErr(f.ID, tok.Err)
			terminated = true
		case tok.Done:
			w.respondOK(f.ID, wire.StreamComplete)
			terminated = true
		default:
			data, err := wire.Encode(tok.Text)
			if err != nil {
				continue
			}
			w.write(wire.Envelope{ID: f.ID, Type: wire.TypeStreamChunk, Data: data})
		}
	}
	if !terminated {
		w.respondErr(f.ID, fmt.Errorf("%w: stream ended without terminal", domain.ErrBackend))
	}
}

func (w *Worker) handleAbort(f *wire.Frame) {
	var p wire.AbortPayload
	if err := wire.Decode(f.Data, &p); err != nil {
		w.respondErr(f.ID, err)
		return
	}
	w.aborts.abort(p.RequestID)
	w.respondOK(f.ID, nil)
}

// resolveGeneration decodes a generation payload and checks the model is
// loaded. Generation never triggers an implicit load.
func (w *Worker) resolveGeneration(f *wire.Frame) (*registry.RuntimeInfo, *wire.GeneratePayload, error) {
	var p wire.GeneratePayload
	if err := wire.Decode(f.Data, &p); err != nil {
		return nil, nil, err
	}
	desc, err := w.source.Resolve(p.ModelIDOrName)
	if err != nil {
		return nil, nil, err
	}
	info := w.registry.Get(desc.ID)
	if info == nil {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrModelNotLoaded, desc.ID)
	}
	return info, &p, nil
}

// snapshot renders controller-visible runtime info. Native handles never
// cross the wire.
func (w *Worker) snapshot(info *registry.RuntimeInfo) domain.ModelRuntimeSnapshot {
	threads := make([]string, 0, len(info.ThreadIDs))
	for id := range info.ThreadIDs {
		threads = append(threads, id)
	}
	sort.Strings(threads)

	return domain.ModelRuntimeSnapshot{
		ModelID:       info.ModelID,
		ModelPath:     info.ModelPath,
		ContextSize:   info.ContextSize,
		GPULayers:     info.GPULayers,
		BatchSize:     info.BatchSize,
		GPUType:       gpuTypeFor(info.GPULayers, runtime.GOOS),
		LoadedAt:      info.LoadedAt,
		LastUsedAt:    info.LastUsedAt,
		LoadingTimeMS: info.LoadingTime.Milliseconds(),
		ThreadIDs:     threads,
	}
}

// gpuTypeFor implements the platform-observable gpuType rule: layers on the
// GPU mean metal on darwin and cuda on linux/windows; anything else is cpu.
func gpuTypeFor(gpuLayers int, goos string) string {
	if gpuLayers <= 0 {
		return "cpu"
	}
	switch goos {
	case "darwin":
		return "metal"
	case "linux", "windows":
		return "cuda"
	default:
		return "cpu"
	}
}
