package settings

import (
	"context"
	"errors"
	"testing"

	"github.com/sengac/mindstrike-sub006/internal/domain"
	"github.com/sengac/mindstrike-sub006/internal/store"
)

type fakePlanner struct {
	lastRequested *domain.ModelLoadingSettings
	out           domain.LoadSettings
	err           error
}

func (f *fakePlanner) OptimalSettings(ctx context.Context, modelID string, requested *domain.ModelLoadingSettings) (*domain.LoadSettings, error) {
	f.lastRequested = requested
	if f.err != nil {
		return nil, f.err
	}
	return &f.out, nil
}

func newService(t *testing.T, p Planner) *Service {
	t.Helper()
	db, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, p)
}

func TestSet_RoundTrip(t *testing.T) {
	s := newService(t, &fakePlanner{})

	ctx, temp := 2048, 0.5
	if err := s.Set("m1", domain.ModelLoadingSettings{ContextSize: &ctx, Temperature: &temp}); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	got, err := s.Get("m1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.ContextSize == nil || *got.ContextSize != 2048 {
		t.Errorf("ContextSize = %v, want 2048", got.ContextSize)
	}
	if got.Temperature == nil || *got.Temperature != 0.5 {
		t.Errorf("Temperature = %v, want 0.5", got.Temperature)
	}
}

func TestSet_Validation(t *testing.T) {
	s := newService(t, &fakePlanner{})

	intp := func(n int) *int { return &n }
	floatp := func(f float64) *float64 { return &f }

	tests := []struct {
		name string
		in   domain.ModelLoadingSettings
		ok   bool
	}{
		{"gpu layers auto", domain.ModelLoadingSettings{GPULayers: intp(-1)}, true},
		{"gpu layers negative", domain.ModelLoadingSettings{GPULayers: intp(-2)}, false},
		{"context size zero", domain.ModelLoadingSettings{ContextSize: intp(0)}, false},
		{"batch size zero", domain.ModelLoadingSettings{BatchSize: intp(0)}, false},
		{"threads zero", domain.ModelLoadingSettings{Threads: intp(0)}, false},
		{"temperature high", domain.ModelLoadingSettings{Temperature: floatp(2.5)}, false},
		{"temperature negative", domain.ModelLoadingSettings{Temperature: floatp(-0.1)}, false},
		{"temperature zero", domain.ModelLoadingSettings{Temperature: floatp(0)}, true},
		{"all nil", domain.ModelLoadingSettings{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Set("m1", tt.in)
			if tt.ok && err != nil {
				t.Errorf("Set() error: %v", err)
			}
			if !tt.ok && !errors.Is(err, domain.ErrInvalidOptions) {
				t.Errorf("Set() error = %v, want ErrInvalidOptions", err)
			}
		})
	}
}

func TestGet_MissingIsZero(t *testing.T) {
	s := newService(t, &fakePlanner{})

	got, err := s.Get("never-stored")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.GPULayers != nil || got.ContextSize != nil {
		t.Errorf("Get() = %+v, want zero value", got)
	}
}

func TestResolve_PassesStoredSettings(t *testing.T) {
	p := &fakePlanner{out: domain.LoadSettings{ContextSize: 4096, BatchSize: 512, Threads: 6, Temperature: 0.7}}
	s := newService(t, p)

	ctx := 2048
	if err := s.Set("m1", domain.ModelLoadingSettings{ContextSize: &ctx}); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	plan, err := s.Resolve(context.Background(), "m1")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if plan.ContextSize != 4096 {
		t.Errorf("plan = %+v, want the planner's answer", plan)
	}
	if p.lastRequested == nil || p.lastRequested.ContextSize == nil || *p.lastRequested.ContextSize != 2048 {
		t.Errorf("planner received %+v, want stored contextSize 2048", p.lastRequested)
	}
}

func TestResolve_PlannerError(t *testing.T) {
	p := &fakePlanner{err: domain.ErrResourceUnavailable}
	s := newService(t, p)

	if _, err := s.Resolve(context.Background(), "m1"); !errors.Is(err, domain.ErrResourceUnavailable) {
		t.Errorf("Resolve() error = %v, want ErrResourceUnavailable", err)
	}
}
