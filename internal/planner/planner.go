// Package planner computes safe (contextSize, gpuLayers, batchSize, threads)
// tuples from host capabilities and model metadata, memoizing the
// context-size decision.
package planner

import (
	"log"

	"github.com/sengac/mindstrike-sub006/internal/domain"
)

// SysInfo supplies host capability readings at call time.
type SysInfo interface {
	// Snapshot reads RAM, CPU, and GPU presence.
	Snapshot() (domain.SystemSnapshot, error)

	// VRAM reads the GPU memory state. Must return an error when the
	// state genuinely cannot be read — the planner does not guess.
	VRAM() (*domain.VRAMState, error)
}

// Planner owns the memoizing context-size cache. One instance per worker.
type Planner struct {
	sys      SysInfo
	ctxCache *contextSizeCache
}

// New creates a planner over the given system probe.
func New(sys SysInfo) *Planner {
	return &Planner{sys: sys, ctxCache: newContextSizeCache()}
}

const defaultTemperature = 0.7

// OptimalSettings computes the full tuple for a model with no user input.
func (p *Planner) OptimalSettings(model domain.ModelDescriptor) (domain.LoadSettings, error) {
	sys, err := p.sys.Snapshot()
	if err != nil {
		return domain.LoadSettings{}, err
	}

	requested := model.TrainedContextLength
	if requested <= 0 {
		requested = 4096
	}
	if model.MaxContextLength > 0 && requested > model.MaxContextLength {
		requested = model.MaxContextLength
	}

	out := domain.LoadSettings{
		ContextSize: requested,
		Threads:     defaultThreads(sys.CPUThreads),
		Temperature: defaultTemperature,
	}

	if !sys.HasGPU {
		out.GPULayers = 0
		out.BatchSize = cpuBatchSize(sys, model, out.ContextSize)
		return out, nil
	}

	// GPU host: size the context against free VRAM first.
	ctxSize, err := p.SafeContextSize(model, requested)
	if err != nil {
		return domain.LoadSettings{}, err
	}
	out.ContextSize = ctxSize

	var gpu *gpuDesc
	if vram, err := p.sys.VRAM(); err == nil && vram != nil {
		gpu = &gpuDesc{Library: libraryFor(sys.GPUType), Total: vram.Total, Free: vram.Free}
	}

	numGPU, numBatch, err := calcGPULayers(cpuDesc{Threads: sys.CPUThreads, FreeRAM: sys.FreeRAM}, gpu, model)
	if err != nil {
		log.Printf("[planner] layer calculator failed for %s: %v (CPU fallback)", model.ID, err)
		out.GPULayers = 0
		out.BatchSize = fallbackBatchSize(model.SizeBytes, out.ContextSize)
		return out, nil
	}

	if numGPU == 0 {
		out.GPULayers = 0
		out.BatchSize = cpuBatchSize(sys, model, out.ContextSize)
		return out, nil
	}

	out.GPULayers = numGPU
	out.BatchSize = numBatch
	return out, nil
}

// Effective merges user settings over computed defaults. A present user
// value wins, except gpuLayers == -1 which means "use the computed value".
func (p *Planner) Effective(model domain.ModelDescriptor, user domain.ModelLoadingSettings) (domain.LoadSettings, error) {
	out, err := p.OptimalSettings(model)
	if err != nil {
		return domain.LoadSettings{}, err
	}

	if user.GPULayers != nil && *user.GPULayers != -1 {
		out.GPULayers = *user.GPULayers
	}
	if user.ContextSize != nil {
		out.ContextSize = *user.ContextSize
	}
	if user.BatchSize != nil {
		out.BatchSize = *user.BatchSize
	}
	if user.Threads != nil {
		out.Threads = *user.Threads
	}
	if user.Temperature != nil {
		out.Temperature = *user.Temperature
	}
	return out, nil
}

// defaultThreads leaves two cores for the host process and the OS.
func defaultThreads(cpuThreads int) int {
	n := cpuThreads - 2
	if n < 1 {
		n = 1
	}
	return n
}
