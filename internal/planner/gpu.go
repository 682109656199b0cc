package planner

import (
	"fmt"

	"github.com/sengac/mindstrike-sub006/internal/domain"
)

// GPU descriptor fed to the layer calculator.
type gpuDesc struct {
	Library string // "cuda" | "rocm" | "metal" | "cpu"
	Total   uint64
	Free    uint64
}

type cpuDesc struct {
	Threads int
	FreeRAM uint64
}

const (
	gpuMinimumMemory = 1 << 30 // 1 GiB floor before any layer goes to GPU
	systemReserve    = 1 << 30 // RAM kept back from batch sizing
	gpuDefaultBatch  = 512
	cpuMaxBatch      = 512
)

// calcGPULayers decides how many layers to offload and the batch size.
// gpu == nil means no usable GPU. An error here is recoverable — callers
// fall back to the bucketed table.
func calcGPULayers(cpu cpuDesc, gpu *gpuDesc, model domain.ModelDescriptor) (numGPU, numBatch int, err error) {
	if gpu == nil || gpu.Library == "cpu" {
		return 0, 0, nil
	}
	if gpu.Free < gpuMinimumMemory {
		return 0, 0, nil
	}

	layers := model.LayerCount
	if layers <= 0 {
		layers = estLayers
	}
	if model.SizeBytes <= 0 {
		return 0, 0, fmt.Errorf("model size unknown for %s", model.Filename)
	}

	perLayer := uint64(model.SizeBytes) / uint64(layers)
	if perLayer == 0 {
		return 0, 0, fmt.Errorf("degenerate per-layer size for %s", model.Filename)
	}

	// The safety-scaled budget can fall below the reserve even when raw
	// free VRAM clears it; subtracting first would wrap the unsigned math.
	budget := uint64(float64(gpu.Free) * vramSafetyFactor)
	if budget <= gpuMinimumMemory {
		return 0, 0, nil
	}
	usable := budget - gpuMinimumMemory
	fit := int(usable / perLayer)
	if fit <= 0 {
		return 0, 0, nil
	}
	if fit > layers {
		fit = layers
	}
	return fit, gpuDefaultBatch, nil
}

// cpuBatchSize computes the CPU-only batch size:
// max(1, min(512, availableForBatchGB·1024 / paramsEstimateMB)) where the
// available budget subtracts model size, context memory, and a 1 GiB system
// reserve from free RAM, plus 30% of free VRAM when unified memory is
// available.
func cpuBatchSize(sys domain.SystemSnapshot, model domain.ModelDescriptor, contextSize int) int {
	available := int64(sys.FreeRAM)
	available -= model.SizeBytes
	available -= int64(contextMemoryBytes(contextSize, model.LayerCount))
	available -= systemReserve
	if sys.GPUType == domain.GPUApple && sys.VRAM != nil {
		available += int64(float64(sys.VRAM.Free) * 0.3)
	}
	if available < 0 {
		available = 0
	}

	paramsEstimateMB := model.SizeBytes / (1024 * 1024)
	if paramsEstimateMB <= 0 {
		paramsEstimateMB = 1
	}
	availableGB := float64(available) / (1 << 30)
	batch := int(availableGB * 1024 / float64(paramsEstimateMB))
	if batch > cpuMaxBatch {
		batch = cpuMaxBatch
	}
	if batch < 1 {
		batch = 1
	}
	return batch
}

// fallbackBatchSize is the model-size-bucketed batch used when the layer
// calculator errors out. The larger value applies when ctx ≤ 8192.
func fallbackBatchSize(modelSizeBytes int64, contextSize int) int {
	small := contextSize <= 8192
	gb := float64(modelSizeBytes) / (1 << 30)
	switch {
	case gb > 15:
		return pick(small, 2048, 1024)
	case gb >= 8:
		return pick(small, 4096, 2048)
	case gb >= 4:
		return pick(small, 8192, 4096)
	default:
		return pick(small, 16384, 8192)
	}
}

func pick(cond bool, a, b int) int {
	if cond {
		return a
	}
	return b
}

// libraryFor maps the GPU kind to the native compute library name.
func libraryFor(kind domain.GPUKind) string {
	switch kind {
	case domain.GPUNvidia:
		return "cuda"
	case domain.GPUAMD:
		return "rocm"
	case domain.GPUApple:
		return "metal"
	default:
		return "cpu"
	}
}
