package planner

import (
	"fmt"
	"sync"
	"time"

	"github.com/sengac/mindstrike-sub006/internal/domain"
)

// Estimated-model constants, used when the model does not expose its own
// shape. Deliberately over-estimates so the chosen context always fits.
const (
	estHiddenSize = 4096
	estLayers     = 48
	estHeads      = 32
	estKVHeads    = 8
)

const (
	minContextSize   = 512
	estBatchSize     = 512
	vramSafetyFactor = 0.8
	ctxCacheTTL      = 5 * time.Minute
)

// contextMemoryBytes estimates the VRAM a context of size ctx occupies:
// KV cache + input buffer + compute buffer.
func contextMemoryBytes(ctx int, layerCount int) uint64 {
	layers := estLayers
	if layerCount > 0 {
		layers = layerCount
	}

	// KV cache: 2 · (hidden / (heads/kvHeads)) · layers · ctx · (16/8) bytes
	kvDim := estHiddenSize / (estHeads / estKVHeads)
	kv := uint64(2) * uint64(kvDim) * uint64(layers) * uint64(ctx) * 2

	// Input buffer scales with ctx · batch
	input := uint64(ctx) * estBatchSize

	// Compute buffer: ((ctx/1024)·2 + 0.75) · heads · 1 MiB
	compute := uint64((float64(ctx)/1024.0*2.0 + 0.75) * estHeads * 1024 * 1024)

	return kv + input + compute
}

// ctxCacheKey memoizes context-size decisions per (filename, size, request).
type ctxCacheKey struct {
	Filename  string
	SizeBytes int64
	Requested int
}

type ctxCacheEntry struct {
	chosen   int
	insertAt time.Time
}

type contextSizeCache struct {
	mu      sync.Mutex
	entries map[ctxCacheKey]ctxCacheEntry
	now     func() time.Time
}

func newContextSizeCache() *contextSizeCache {
	return &contextSizeCache{
		entries: make(map[ctxCacheKey]ctxCacheEntry),
		now:     time.Now,
	}
}

// get returns a cached decision if it is younger than the TTL. Reads never
// mutate the entry.
func (c *contextSizeCache) get(key ctxCacheKey) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || c.now().Sub(e.insertAt) > ctxCacheTTL {
		return 0, false
	}
	return e.chosen, true
}

func (c *contextSizeCache) put(key ctxCacheKey, chosen int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = ctxCacheEntry{chosen: chosen, insertAt: c.now()}
}

func (c *contextSizeCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[ctxCacheKey]ctxCacheEntry)
}

// SafeContextSize picks the largest context that fits in 80% of free VRAM,
// never below 512. Decisions are memoized for 5 minutes per
// (filename, sizeBytes, requested). Fails hard when VRAM cannot be read —
// silently guessing here risks an OOM deep inside the native engine.
func (p *Planner) SafeContextSize(model domain.ModelDescriptor, requested int) (int, error) {
	if requested < minContextSize {
		requested = minContextSize
	}
	key := ctxCacheKey{Filename: model.Filename, SizeBytes: model.SizeBytes, Requested: requested}
	if chosen, ok := p.ctxCache.get(key); ok {
		return chosen, nil
	}

	vram, err := p.sys.VRAM()
	if err != nil || vram == nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrResourceUnavailable, err)
	}
	availableVram := uint64(float64(vram.Free) * vramSafetyFactor)

	chosen := requested
	if contextMemoryBytes(requested, model.LayerCount) > availableVram {
		// Binary search the largest ctx in [512, requested] that fits.
		lo, hi := minContextSize, requested
		chosen = minContextSize
		for lo <= hi {
			mid := (lo + hi) / 2
			if contextMemoryBytes(mid, model.LayerCount) <= availableVram {
				chosen = mid
				lo = mid + 1
			} else {
				hi = mid - 1
			}
		}
	}

	p.ctxCache.put(key, chosen)
	return chosen, nil
}

// ClearContextSizeCache drops every memoized context-size decision.
func (p *Planner) ClearContextSizeCache() {
	p.ctxCache.clear()
}
