// Package registry is the authoritative map of currently loaded models:
// runtime handles, thread associations, loading locks, and usage stats.
package registry

import (
	"log"
	"sync"
	"time"

	"github.com/sengac/mindstrike-sub006/internal/backend"
	"github.com/sengac/mindstrike-sub006/internal/domain"
)

// RuntimeInfo is the live handle set for a loaded model. It owns the native
// handles; the registry owns the RuntimeInfo; the worker loop is the only
// caller of dispose.
type RuntimeInfo struct {
	ModelID     string
	Model       backend.Model
	Context     backend.Context
	Session     backend.Session
	ModelPath   string
	ContextSize int
	GPULayers   int
	BatchSize   int
	Temperature float64
	LoadedAt    time.Time
	LastUsedAt  time.Time
	LoadingTime time.Duration
	ThreadIDs   map[string]struct{}
}

// LoadingLock is the completion concurrent loads of the same model wait on.
type LoadingLock struct {
	done chan struct{}
	info *RuntimeInfo
	err  error
}

func newLoadingLock() *LoadingLock {
	return &LoadingLock{done: make(chan struct{})}
}

// Wait blocks until the load completes, returning its outcome.
func (l *LoadingLock) Wait() (*RuntimeInfo, error) {
	<-l.done
	return l.info, l.err
}

func (l *LoadingLock) resolve(info *RuntimeInfo, err error) {
	l.info = info
	l.err = err
	close(l.done)
}

// Registry holds the active and loading maps. Invariant: the two maps are
// disjoint at all times.
type Registry struct {
	mu      sync.Mutex
	active  map[string]*RuntimeInfo
	loading map[string]*LoadingLock
	usage   map[string]*domain.UsageStats
	now     func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		active:  make(map[string]*RuntimeInfo),
		loading: make(map[string]*LoadingLock),
		usage:   make(map[string]*domain.UsageStats),
		now:     time.Now,
	}
}

// Register inserts runtime info into the active map and initializes usage
// stats if absent. The model's loading-lock map entry, if any, is removed in
// the same critical section so the maps stay disjoint.
func (r *Registry) Register(modelID string, info *RuntimeInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.loading, modelID)
	r.active[modelID] = info
	if _, ok := r.usage[modelID]; !ok {
		r.usage[modelID] = &domain.UsageStats{}
	}
}

// Get returns the runtime info for modelID, touching lastUsedAt and the
// usage stats' lastAccessed as a side effect.
func (r *Registry) Get(modelID string) *RuntimeInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.active[modelID]
	if !ok {
		return nil
	}
	now := r.now()
	info.LastUsedAt = now
	if stats, ok := r.usage[modelID]; ok {
		stats.LastAccessed = now
	}
	return info
}

// Peek returns runtime info without touching timestamps.
func (r *Registry) Peek(modelID string) *RuntimeInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[modelID]
}

// GetByThreadID scans active models for one associated with threadID.
func (r *Registry) GetByThreadID(threadID string) *RuntimeInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, info := range r.active {
		if _, ok := info.ThreadIDs[threadID]; ok {
			return info
		}
	}
	return nil
}

// AssociateThread binds threadID to modelID. A thread belongs to at most
// one model, so any prior binding is dropped first.
func (r *Registry) AssociateThread(modelID, threadID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, info := range r.active {
		delete(info.ThreadIDs, threadID)
	}
	if info, ok := r.active[modelID]; ok {
		if info.ThreadIDs == nil {
			info.ThreadIDs = make(map[string]struct{})
		}
		info.ThreadIDs[threadID] = struct{}{}
	}
}

// DisassociateThread removes threadID from whichever model holds it.
func (r *Registry) DisassociateThread(threadID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, info := range r.active {
		delete(info.ThreadIDs, threadID)
	}
}

// SetLoadingLock installs a fresh loading lock for modelID and returns it.
func (r *Registry) SetLoadingLock(modelID string) *LoadingLock {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock := newLoadingLock()
	r.loading[modelID] = lock
	return lock
}

// BeginLoad atomically classifies a load request. Exactly one of the three
// outcomes holds:
//   - model already active: (info, nil, false)
//   - load in flight:       (nil, existing lock, false)
//   - fresh load:           (nil, new lock, true) — the caller owns the lock
func (r *Registry) BeginLoad(modelID string) (*RuntimeInfo, *LoadingLock, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if info, ok := r.active[modelID]; ok {
		now := r.now()
		info.LastUsedAt = now
		if stats, ok := r.usage[modelID]; ok {
			stats.LastAccessed = now
		}
		return info, nil, false
	}
	if lock, ok := r.loading[modelID]; ok {
		return nil, lock, false
	}
	lock := newLoadingLock()
	r.loading[modelID] = lock
	return nil, lock, true
}

// GetLoadingLock returns the outstanding lock for modelID, if any.
func (r *Registry) GetLoadingLock(modelID string) *LoadingLock {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loading[modelID]
}

// IsLoading reports whether a load is in flight for modelID.
func (r *Registry) IsLoading(modelID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.loading[modelID]
	return ok
}

// ReleaseLoadingLock resolves the caller-held lock with the load outcome and
// removes the loading entry if still present. On the success path Register
// has already removed the entry; resolution still has to happen here so
// concurrent waiters wake up.
func (r *Registry) ReleaseLoadingLock(modelID string, lock *LoadingLock, info *RuntimeInfo, err error) {
	r.mu.Lock()
	if r.loading[modelID] == lock {
		delete(r.loading, modelID)
	}
	r.mu.Unlock()

	lock.resolve(info, err)
}

// Unregister disposes the model's context then model handles and removes it
// from the active map. Dispose errors are logged and swallowed — the map
// entry is always removed so the registry never points at dead handles.
func (r *Registry) Unregister(modelID string) {
	r.mu.Lock()
	info, ok := r.active[modelID]
	delete(r.active, modelID)
	r.mu.Unlock()

	if !ok {
		return
	}
	if info.Context != nil {
		if err := info.Context.Close(); err != nil {
			log.Printf("[registry] dispose context for %s: %v", modelID, err)
		}
	}
	if info.Model != nil {
		if err := info.Model.Close(); err != nil {
			log.Printf("[registry] dispose model for %s: %v", modelID, err)
		}
	}
}

// ActiveIDs returns the ids of all loaded models.
func (r *Registry) ActiveIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	return ids
}

// LRU returns the least-recently-used model id, or "" when nothing is
// loaded. Eviction ordering compares lastUsedAt.
func (r *Registry) LRU() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var oldest string
	var oldestAt time.Time
	for id, info := range r.active {
		if oldest == "" || info.LastUsedAt.Before(oldestAt) {
			oldest = id
			oldestAt = info.LastUsedAt
		}
	}
	return oldest
}

// Unassociated returns model ids with no thread association, preferred
// eviction candidates.
func (r *Registry) Unassociated() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for id, info := range r.active {
		if len(info.ThreadIDs) == 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

// RecordPromptUsage atomically bumps the prompt count and token total.
func (r *Registry) RecordPromptUsage(modelID string, tokens int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats, ok := r.usage[modelID]
	if !ok {
		stats = &domain.UsageStats{}
		r.usage[modelID] = stats
	}
	stats.TotalPrompts++
	stats.TotalTokens += int64(tokens)
	stats.LastAccessed = r.now()
}

// Usage returns a copy of the usage stats for modelID.
func (r *Registry) Usage(modelID string) domain.UsageStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	if stats, ok := r.usage[modelID]; ok {
		return *stats
	}
	return domain.UsageStats{}
}
