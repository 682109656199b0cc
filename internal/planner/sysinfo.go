package planner

import (
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/sengac/mindstrike-sub006/internal/domain"
)

// HostInfo reads live host capabilities. Platform-specific RAM probes live
// in sysinfo_{linux,darwin,windows}.go.
type HostInfo struct{}

// NewHostInfo creates a host probe.
func NewHostInfo() *HostInfo { return &HostInfo{} }

// Snapshot reads RAM, CPU thread count, and GPU presence. A failed VRAM
// probe leaves the snapshot's VRAM nil rather than failing the snapshot.
func (h *HostInfo) Snapshot() (domain.SystemSnapshot, error) {
	total, free := readTotalRAM(), readFreeRAM()
	if total == 0 {
		return domain.SystemSnapshot{}, fmt.Errorf("read system memory: no data")
	}

	kind := detectGPUKind()
	snap := domain.SystemSnapshot{
		TotalRAM:   total,
		FreeRAM:    free,
		CPUThreads: runtime.NumCPU(),
		GPUType:    kind,
		HasGPU:     kind != domain.GPUUnknown,
	}
	if vram, err := h.VRAM(); err == nil {
		snap.VRAM = vram
	}
	return snap, nil
}

// VRAM reads the GPU memory state. Errors propagate — the planner treats an
// unreadable VRAM state as ResourceUnavailable, never as "assume zero".
func (h *HostInfo) VRAM() (*domain.VRAMState, error) {
	switch detectGPUKind() {
	case domain.GPUApple:
		// Unified memory: Metal can address roughly 75% of system RAM.
		total, free := readTotalRAM(), readFreeRAM()
		if total == 0 {
			return nil, fmt.Errorf("read unified memory: no data")
		}
		return &domain.VRAMState{
			Total: uint64(float64(total) * 0.75),
			Free:  uint64(float64(free) * 0.75),
		}, nil
	case domain.GPUNvidia:
		return nvidiaVRAM()
	case domain.GPUAMD:
		return amdVRAM()
	default:
		return nil, fmt.Errorf("no GPU detected")
	}
}

// detectGPUKind probes for vendor tooling in preference order.
func detectGPUKind() domain.GPUKind {
	if runtime.GOOS == "darwin" {
		return domain.GPUApple
	}
	if _, err := exec.LookPath("nvidia-smi"); err == nil {
		return domain.GPUNvidia
	}
	if _, err := exec.LookPath("rocm-smi"); err == nil {
		return domain.GPUAMD
	}
	return domain.GPUUnknown
}

// nvidiaVRAM queries nvidia-smi for total/free memory in MiB.
func nvidiaVRAM() (*domain.VRAMState, error) {
	out, err := exec.Command("nvidia-smi",
		"--query-gpu=memory.total,memory.free",
		"--format=csv,noheader,nounits").Output()
	if err != nil {
		return nil, fmt.Errorf("nvidia-smi: %w", err)
	}
	line := strings.SplitN(strings.TrimSpace(string(out)), "\n", 2)[0]
	parts := strings.Split(line, ",")
	if len(parts) != 2 {
		return nil, fmt.Errorf("nvidia-smi: unexpected output %q", line)
	}
	totalMiB, err1 := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
	freeMiB, err2 := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 64)
	if err1 != nil || err2 != nil {
		return nil, fmt.Errorf("nvidia-smi: unexpected output %q", line)
	}
	return &domain.VRAMState{Total: totalMiB << 20, Free: freeMiB << 20}, nil
}

// amdVRAM queries rocm-smi for VRAM totals in bytes.
func amdVRAM() (*domain.VRAMState, error) {
	out, err := exec.Command("rocm-smi", "--showmeminfo", "vram", "--csv").Output()
	if err != nil {
		return nil, fmt.Errorf("rocm-smi: %w", err)
	}
	// CSV: device,VRAM Total Memory (B),VRAM Total Used Memory (B)
	for _, line := range strings.Split(string(out), "\n") {
		if !strings.HasPrefix(line, "card") {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) < 3 {
			continue
		}
		total, err1 := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 64)
		used, err2 := strconv.ParseUint(strings.TrimSpace(parts[2]), 10, 64)
		if err1 != nil || err2 != nil || used > total {
			continue
		}
		return &domain.VRAMState{Total: total, Free: total - used}, nil
	}
	return nil, fmt.Errorf("rocm-smi: no vram row in output")
}
