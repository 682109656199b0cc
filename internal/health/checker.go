// Package health provides periodic health checks for the controller:
// database connectivity, models directory sanity, and worker liveness.
package health

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sengac/mindstrike-sub006/internal/store"
)

// WorkerProbe reports whether an initialized worker is attached.
// Satisfied by the worker proxy.
type WorkerProbe interface {
	WaitForInitialization(ctx context.Context) error
}

// Check defines a single health check.
type Check struct {
	Name    string
	CheckFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Checker runs periodic health checks.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
}

// NewChecker creates a checker with the standard checks.
func NewChecker(db *store.DB, modelsDir string, worker WorkerProbe) *Checker {
	return &Checker{
		interval: 60 * time.Second,
		checks: []Check{
			{
				Name: "sqlite",
				CheckFn: func(ctx context.Context) error {
					return db.Ping()
				},
			},
			{
				Name: "models_dir",
				CheckFn: func(ctx context.Context) error {
					return checkModelsDir(modelsDir)
				},
			},
			{
				Name: "worker",
				CheckFn: func(ctx context.Context) error {
					probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
					defer cancel()
					return worker.WaitForInitialization(probeCtx)
				},
			},
		},
	}
}

// Run starts the health check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	c.runAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runAll(ctx)
		}
	}
}

func (c *Checker) runAll(ctx context.Context) {
	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{
			Name:      check.Name,
			CheckedAt: time.Now(),
		}
		if err := check.CheckFn(ctx); err != nil {
			s.Error = err.Error()
		} else {
			s.Healthy = true
		}
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if every check passed on the last run.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

func checkModelsDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // no models yet
		}
		return fmt.Errorf("check models dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("models path %s is not a directory", dir)
	}
	return nil
}
