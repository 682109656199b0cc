package session

import (
	"testing"

	"github.com/sengac/mindstrike-sub006/internal/backend"
	"github.com/sengac/mindstrike-sub006/internal/domain"
)

func newContext(t *testing.T) backend.Context {
	t.Helper()
	b := backend.NewMockBackend()
	model, err := b.LoadModel("/models/test.gguf", backend.LoadOptions{})
	if err != nil {
		t.Fatalf("LoadModel() error: %v", err)
	}
	ctx, err := model.NewContext(backend.ContextOptions{ContextSize: 2048})
	if err != nil {
		t.Fatalf("NewContext() error: %v", err)
	}
	return ctx
}

func TestPrimaryID(t *testing.T) {
	if got := PrimaryID("llama3"); got != "llama3-main" {
		t.Errorf("PrimaryID() = %q, want %q", got, "llama3-main")
	}
}

func TestManager_CreateAndGet(t *testing.T) {
	m := NewManager()

	sess, err := m.Create("m1", newContext(t))
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if got := m.Get("m1"); got != sess {
		t.Errorf("Get() = %v, want the created session", got)
	}
}

func TestManager_GetMissing(t *testing.T) {
	m := NewManager()
	if m.Get("nope") != nil {
		t.Error("Get() should return nil for an unknown model")
	}
}

func TestManager_Dispose(t *testing.T) {
	m := NewManager()
	if _, err := m.Create("m1", newContext(t)); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	m.Dispose("m1")
	if m.Get("m1") != nil {
		t.Error("session should be gone after Dispose()")
	}
	m.Dispose("m1") // repeated dispose is safe
}

func TestUpdateSessionHistory_PreservesHistory(t *testing.T) {
	m := NewManager()
	sess, err := m.Create("m1", newContext(t))
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	history := []domain.ChatMessage{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi there"},
	}
	sess.SetHistory(history)

	// Reserved for per-thread replay; until a history source exists it must
	// leave the session untouched.
	m.UpdateSessionHistory("m1", "thread-1")
	m.UpdateSessionHistory("missing", "thread-2")

	got := m.Get("m1").History()
	if len(got) != len(history) {
		t.Fatalf("history has %d entries, want %d", len(got), len(history))
	}
	for i := range history {
		if got[i] != history[i] {
			t.Errorf("history[%d] = %+v, want %+v", i, got[i], history[i])
		}
	}
}

func TestManager_CreateReplacesPrevious(t *testing.T) {
	m := NewManager()
	first, err := m.Create("m1", newContext(t))
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	second, err := m.Create("m1", newContext(t))
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if first == second {
		t.Fatal("second Create() should produce a fresh session")
	}
	if m.Get("m1") != second {
		t.Error("Get() should return the latest session")
	}
}
