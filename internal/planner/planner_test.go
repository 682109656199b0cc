package planner

import (
	"errors"
	"testing"
	"time"

	"github.com/sengac/mindstrike-sub006/internal/domain"
)

// fakeSys is a scripted SysInfo for tests.
type fakeSys struct {
	snap      domain.SystemSnapshot
	snapErr   error
	vram      *domain.VRAMState
	vramErr   error
	vramCalls int
}

func (f *fakeSys) Snapshot() (domain.SystemSnapshot, error) { return f.snap, f.snapErr }

func (f *fakeSys) VRAM() (*domain.VRAMState, error) {
	f.vramCalls++
	return f.vram, f.vramErr
}

const gib = 1 << 30

func testModel() domain.ModelDescriptor {
	return domain.ModelDescriptor{
		ID:                   "test-model",
		Filename:             "test-model.gguf",
		SizeBytes:            4 * gib,
		LayerCount:           32,
		TrainedContextLength: 8192,
	}
}

func TestSafeContextSize_FitsAsRequested(t *testing.T) {
	sys := &fakeSys{vram: &domain.VRAMState{Total: 24 * gib, Free: 20 * gib}}
	p := New(sys)

	got, err := p.SafeContextSize(testModel(), 8192)
	if err != nil {
		t.Fatalf("SafeContextSize() error: %v", err)
	}
	if got != 8192 {
		t.Errorf("SafeContextSize() = %d, want 8192", got)
	}
}

func TestSafeContextSize_ShrinksToFit(t *testing.T) {
	// 512 MiB free VRAM cannot hold an 8192 context for a 32-layer model.
	sys := &fakeSys{vram: &domain.VRAMState{Total: gib, Free: 512 * 1024 * 1024}}
	p := New(sys)

	got, err := p.SafeContextSize(testModel(), 8192)
	if err != nil {
		t.Fatalf("SafeContextSize() error: %v", err)
	}
	if got >= 8192 {
		t.Fatalf("SafeContextSize() = %d, expected reduction below 8192", got)
	}
	if got < minContextSize {
		t.Fatalf("SafeContextSize() = %d, below floor %d", got, minContextSize)
	}
	free := float64(512 * 1024 * 1024)
	budget := uint64(free * vramSafetyFactor)
	if contextMemoryBytes(got, 32) > budget {
		t.Errorf("chosen ctx %d does not fit the 80%% budget", got)
	}
	// Largest fitting value: one step up must overflow.
	if got < 8192 && contextMemoryBytes(got+1, 32) <= budget {
		t.Errorf("ctx %d is not maximal, %d also fits", got, got+1)
	}
}

func TestSafeContextSize_FloorAt512(t *testing.T) {
	// Almost no VRAM: even 512 does not fit, but 512 is the hard floor.
	sys := &fakeSys{vram: &domain.VRAMState{Total: gib, Free: 1024}}
	p := New(sys)

	got, err := p.SafeContextSize(testModel(), 8192)
	if err != nil {
		t.Fatalf("SafeContextSize() error: %v", err)
	}
	if got != minContextSize {
		t.Errorf("SafeContextSize() = %d, want floor %d", got, minContextSize)
	}
}

func TestSafeContextSize_RequestBelowFloor(t *testing.T) {
	sys := &fakeSys{vram: &domain.VRAMState{Total: 24 * gib, Free: 20 * gib}}
	p := New(sys)

	got, err := p.SafeContextSize(testModel(), 64)
	if err != nil {
		t.Fatalf("SafeContextSize() error: %v", err)
	}
	if got != minContextSize {
		t.Errorf("SafeContextSize(64) = %d, want %d", got, minContextSize)
	}
}

func TestSafeContextSize_VRAMUnreadable(t *testing.T) {
	sys := &fakeSys{vramErr: errors.New("nvml not loaded")}
	p := New(sys)

	_, err := p.SafeContextSize(testModel(), 8192)
	if !errors.Is(err, domain.ErrResourceUnavailable) {
		t.Errorf("SafeContextSize() error = %v, want ErrResourceUnavailable", err)
	}
}

func TestSafeContextSize_CacheHit(t *testing.T) {
	sys := &fakeSys{vram: &domain.VRAMState{Total: 24 * gib, Free: 20 * gib}}
	p := New(sys)

	first, err := p.SafeContextSize(testModel(), 8192)
	if err != nil {
		t.Fatalf("SafeContextSize() error: %v", err)
	}
	second, err := p.SafeContextSize(testModel(), 8192)
	if err != nil {
		t.Fatalf("SafeContextSize() error: %v", err)
	}
	if first != second {
		t.Errorf("cached decision changed: %d then %d", first, second)
	}
	if sys.vramCalls != 1 {
		t.Errorf("VRAM probed %d times, want 1 (second call cached)", sys.vramCalls)
	}
}

func TestSafeContextSize_CacheExpires(t *testing.T) {
	sys := &fakeSys{vram: &domain.VRAMState{Total: 24 * gib, Free: 20 * gib}}
	p := New(sys)

	base := time.Now()
	p.ctxCache.now = func() time.Time { return base }

	if _, err := p.SafeContextSize(testModel(), 8192); err != nil {
		t.Fatalf("SafeContextSize() error: %v", err)
	}
	p.ctxCache.now = func() time.Time { return base.Add(ctxCacheTTL + time.Second) }
	if _, err := p.SafeContextSize(testModel(), 8192); err != nil {
		t.Fatalf("SafeContextSize() error: %v", err)
	}
	if sys.vramCalls != 2 {
		t.Errorf("VRAM probed %d times, want 2 after TTL expiry", sys.vramCalls)
	}
}

func TestClearContextSizeCache(t *testing.T) {
	sys := &fakeSys{vram: &domain.VRAMState{Total: 24 * gib, Free: 20 * gib}}
	p := New(sys)

	if _, err := p.SafeContextSize(testModel(), 8192); err != nil {
		t.Fatalf("SafeContextSize() error: %v", err)
	}
	p.ClearContextSizeCache()
	if _, err := p.SafeContextSize(testModel(), 8192); err != nil {
		t.Fatalf("SafeContextSize() error: %v", err)
	}
	if sys.vramCalls != 2 {
		t.Errorf("VRAM probed %d times, want 2 after cache clear", sys.vramCalls)
	}
}

func TestOptimalSettings_CPUOnly(t *testing.T) {
	sys := &fakeSys{snap: domain.SystemSnapshot{
		TotalRAM:   32 * gib,
		FreeRAM:    16 * gib,
		CPUThreads: 8,
		HasGPU:     false,
	}}
	p := New(sys)

	got, err := p.OptimalSettings(testModel())
	if err != nil {
		t.Fatalf("OptimalSettings() error: %v", err)
	}
	if got.GPULayers != 0 {
		t.Errorf("GPULayers = %d, want 0 on CPU host", got.GPULayers)
	}
	if got.ContextSize != 8192 {
		t.Errorf("ContextSize = %d, want trained length 8192", got.ContextSize)
	}
	if got.Threads != 6 {
		t.Errorf("Threads = %d, want 6 (cpuThreads-2)", got.Threads)
	}
	if got.Temperature != defaultTemperature {
		t.Errorf("Temperature = %g, want %g", got.Temperature, defaultTemperature)
	}
	if got.BatchSize < 1 || got.BatchSize > cpuMaxBatch {
		t.Errorf("BatchSize = %d, want within [1, %d]", got.BatchSize, cpuMaxBatch)
	}
	if sys.vramCalls != 0 {
		t.Error("CPU path should not probe VRAM")
	}
}

func TestOptimalSettings_GPUOffload(t *testing.T) {
	sys := &fakeSys{
		snap: domain.SystemSnapshot{
			TotalRAM:   32 * gib,
			FreeRAM:    16 * gib,
			CPUThreads: 12,
			HasGPU:     true,
			GPUType:    domain.GPUNvidia,
		},
		vram: &domain.VRAMState{Total: 24 * gib, Free: 20 * gib},
	}
	p := New(sys)

	got, err := p.OptimalSettings(testModel())
	if err != nil {
		t.Fatalf("OptimalSettings() error: %v", err)
	}
	// 20 GiB free comfortably holds all 32 layers of a 4 GiB model.
	if got.GPULayers != 32 {
		t.Errorf("GPULayers = %d, want full offload 32", got.GPULayers)
	}
	if got.BatchSize != gpuDefaultBatch {
		t.Errorf("BatchSize = %d, want %d", got.BatchSize, gpuDefaultBatch)
	}
	if got.ContextSize != 8192 {
		t.Errorf("ContextSize = %d, want 8192", got.ContextSize)
	}
}

func TestOptimalSettings_GPUTooSmall(t *testing.T) {
	// Below the 1 GiB VRAM floor: everything stays on the CPU.
	sys := &fakeSys{
		snap: domain.SystemSnapshot{
			TotalRAM:   32 * gib,
			FreeRAM:    16 * gib,
			CPUThreads: 8,
			HasGPU:     true,
			GPUType:    domain.GPUNvidia,
		},
		vram: &domain.VRAMState{Total: gib, Free: 512 * 1024 * 1024},
	}
	p := New(sys)

	got, err := p.OptimalSettings(testModel())
	if err != nil {
		t.Fatalf("OptimalSettings() error: %v", err)
	}
	if got.GPULayers != 0 {
		t.Errorf("GPULayers = %d, want 0 below the VRAM floor", got.GPULayers)
	}
}

func TestOptimalSettings_LayerCalcError(t *testing.T) {
	// Unknown model size makes the layer calculator fail; the planner must
	// fall back to the bucketed batch table, not error out.
	model := testModel()
	model.SizeBytes = 0
	sys := &fakeSys{
		snap: domain.SystemSnapshot{
			TotalRAM:   32 * gib,
			FreeRAM:    16 * gib,
			CPUThreads: 8,
			HasGPU:     true,
			GPUType:    domain.GPUNvidia,
		},
		vram: &domain.VRAMState{Total: 24 * gib, Free: 20 * gib},
	}
	p := New(sys)

	got, err := p.OptimalSettings(model)
	if err != nil {
		t.Fatalf("OptimalSettings() error: %v", err)
	}
	if got.GPULayers != 0 {
		t.Errorf("GPULayers = %d, want 0 after calculator failure", got.GPULayers)
	}
	if got.BatchSize != fallbackBatchSize(0, got.ContextSize) {
		t.Errorf("BatchSize = %d, want bucketed fallback", got.BatchSize)
	}
}

func TestOptimalSettings_DefaultContextWhenUntrained(t *testing.T) {
	model := testModel()
	model.TrainedContextLength = 0
	sys := &fakeSys{snap: domain.SystemSnapshot{FreeRAM: 16 * gib, CPUThreads: 8}}
	p := New(sys)

	got, err := p.OptimalSettings(model)
	if err != nil {
		t.Fatalf("OptimalSettings() error: %v", err)
	}
	if got.ContextSize != 4096 {
		t.Errorf("ContextSize = %d, want default 4096", got.ContextSize)
	}
}

func TestOptimalSettings_MaxContextCap(t *testing.T) {
	model := testModel()
	model.TrainedContextLength = 32768
	model.MaxContextLength = 2048
	sys := &fakeSys{snap: domain.SystemSnapshot{FreeRAM: 16 * gib, CPUThreads: 8}}
	p := New(sys)

	got, err := p.OptimalSettings(model)
	if err != nil {
		t.Fatalf("OptimalSettings() error: %v", err)
	}
	if got.ContextSize != 2048 {
		t.Errorf("ContextSize = %d, want capped 2048", got.ContextSize)
	}
}

func TestOptimalSettings_SnapshotError(t *testing.T) {
	sys := &fakeSys{snapErr: errors.New("probe failed")}
	p := New(sys)

	if _, err := p.OptimalSettings(testModel()); err == nil {
		t.Error("OptimalSettings() should propagate snapshot errors")
	}
}

func TestEffective_UserOverrides(t *testing.T) {
	sys := &fakeSys{snap: domain.SystemSnapshot{FreeRAM: 16 * gib, CPUThreads: 8}}
	p := New(sys)

	ctx, batch, threads, temp := 2048, 64, 3, 0.2
	got, err := p.Effective(testModel(), domain.ModelLoadingSettings{
		ContextSize: &ctx,
		BatchSize:   &batch,
		Threads:     &threads,
		Temperature: &temp,
	})
	if err != nil {
		t.Fatalf("Effective() error: %v", err)
	}
	if got.ContextSize != 2048 || got.BatchSize != 64 || got.Threads != 3 || got.Temperature != 0.2 {
		t.Errorf("Effective() = %+v, user values should win", got)
	}
}

func TestEffective_GPULayersMinusOneMeansAuto(t *testing.T) {
	sys := &fakeSys{snap: domain.SystemSnapshot{FreeRAM: 16 * gib, CPUThreads: 8}}
	p := New(sys)

	auto := -1
	got, err := p.Effective(testModel(), domain.ModelLoadingSettings{GPULayers: &auto})
	if err != nil {
		t.Fatalf("Effective() error: %v", err)
	}
	if got.GPULayers != 0 {
		t.Errorf("GPULayers = %d, want computed value 0 when user passes -1", got.GPULayers)
	}

	explicit := 10
	got, err = p.Effective(testModel(), domain.ModelLoadingSettings{GPULayers: &explicit})
	if err != nil {
		t.Fatalf("Effective() error: %v", err)
	}
	if got.GPULayers != 10 {
		t.Errorf("GPULayers = %d, want explicit 10", got.GPULayers)
	}
}

func TestFallbackBatchSize_Buckets(t *testing.T) {
	tests := []struct {
		name string
		size int64
		ctx  int
		want int
	}{
		{"huge small-ctx", 16 * gib, 4096, 2048},
		{"huge large-ctx", 16 * gib, 16384, 1024},
		{"large small-ctx", 10 * gib, 4096, 4096},
		{"large large-ctx", 10 * gib, 16384, 2048},
		{"medium small-ctx", 5 * gib, 8192, 8192},
		{"medium large-ctx", 5 * gib, 8193, 4096},
		{"small small-ctx", 2 * gib, 2048, 16384},
		{"small large-ctx", 2 * gib, 32768, 8192},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fallbackBatchSize(tt.size, tt.ctx); got != tt.want {
				t.Errorf("fallbackBatchSize(%d, %d) = %d, want %d", tt.size, tt.ctx, got, tt.want)
			}
		})
	}
}

func TestCalcGPULayers_NoGPU(t *testing.T) {
	n, b, err := calcGPULayers(cpuDesc{Threads: 8, FreeRAM: 16 * gib}, nil, testModel())
	if err != nil || n != 0 || b != 0 {
		t.Errorf("calcGPULayers(nil gpu) = (%d, %d, %v), want (0, 0, nil)", n, b, err)
	}
}

func TestCalcGPULayers_BudgetBelowReserve(t *testing.T) {
	// Free VRAM clears the 1 GiB floor, but 80% of it does not: the scaled
	// budget leaves nothing for layers. Everything must stay on the CPU
	// rather than wrapping the budget arithmetic to a huge value.
	model := testModel()
	model.SizeBytes = 8 * gib

	for _, free := range []uint64{gpuMinimumMemory, gib + 100*1024*1024, gib + 200*1024*1024} {
		gpu := &gpuDesc{Library: "cuda", Total: 2 * gib, Free: free}
		n, b, err := calcGPULayers(cpuDesc{Threads: 8, FreeRAM: 16 * gib}, gpu, model)
		if err != nil {
			t.Fatalf("calcGPULayers(free=%d) error: %v", free, err)
		}
		if n != 0 || b != 0 {
			t.Errorf("calcGPULayers(free=%d) = (%d, %d), want (0, 0)", free, n, b)
		}
	}
}

func TestCalcGPULayers_PartialOffload(t *testing.T) {
	// 4 GiB free: usable = 4·0.8 − 1 GiB ≈ 2.2 GiB, per-layer = 4 GiB / 32
	// = 128 MiB, so 17 layers fit.
	gpu := &gpuDesc{Library: "cuda", Total: 8 * gib, Free: 4 * gib}
	n, b, err := calcGPULayers(cpuDesc{Threads: 8, FreeRAM: 16 * gib}, gpu, testModel())
	if err != nil {
		t.Fatalf("calcGPULayers() error: %v", err)
	}
	if n <= 0 || n >= 32 {
		t.Errorf("layers = %d, want partial offload in (0, 32)", n)
	}
	if b != gpuDefaultBatch {
		t.Errorf("batch = %d, want %d", b, gpuDefaultBatch)
	}
}

func TestDefaultThreads(t *testing.T) {
	tests := []struct{ cpus, want int }{
		{16, 14},
		{4, 2},
		{2, 1},
		{1, 1},
		{0, 1},
	}
	for _, tt := range tests {
		if got := defaultThreads(tt.cpus); got != tt.want {
			t.Errorf("defaultThreads(%d) = %d, want %d", tt.cpus, got, tt.want)
		}
	}
}

func TestLibraryFor(t *testing.T) {
	tests := []struct {
		kind domain.GPUKind
		want string
	}{
		{domain.GPUNvidia, "cuda"},
		{domain.GPUAMD, "rocm"},
		{domain.GPUApple, "metal"},
		{domain.GPUUnknown, "cpu"},
	}
	for _, tt := range tests {
		if got := libraryFor(tt.kind); got != tt.want {
			t.Errorf("libraryFor(%s) = %q, want %q", tt.kind, got, tt.want)
		}
	}
}
