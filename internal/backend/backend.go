// Package backend defines the contract the serving core imposes on the
// native inference engine, plus two implementations: a llama-server
// subprocess backend and a deterministic mock for tests.
package backend

import (
	"context"
	"encoding/json"

	"github.com/sengac/mindstrike-sub006/internal/domain"
)

// Backend loads quantized weight files into native handles.
type Backend interface {
	// LoadModel loads the weights at path. The returned Model owns the
	// native resources until Close.
	LoadModel(path string, opts LoadOptions) (Model, error)
	Close()
}

// LoadOptions configures a native load.
type LoadOptions struct {
	GPULayers int // -1 = auto (all layers), 0 = CPU only, N = specific
	Threads   int // 0 = auto
}

// Model is a loaded weight set. Dispose order is session, then context,
// then model.
type Model interface {
	NewContext(opts ContextOptions) (Context, error)
	Close() error
}

// ContextOptions size the inference context.
type ContextOptions struct {
	ContextSize int
	BatchSize   int
}

// Context is an inference context bound to a Model.
type Context interface {
	NewSession(name string) (Session, error)
	Close() error
}

// PromptParams are the sampling parameters for one prompt.
type PromptParams struct {
	Temperature float64
	MaxTokens   int
	TopK        int
	TopP        float64
	Seed        int
	Tools       []ToolDef
}

// ToolDef declares one tool the model may call mid-generation. Handler is
// invoked by the backend when the model emits a tool call; it must resolve
// or fail within the reverse-bridge deadline.
type ToolDef struct {
	Tool    domain.MCPTool
	Handler func(ctx context.Context, params json.RawMessage) (json.RawMessage, error)
}

// Session is a chat session on a Context. Prompt blocks for the duration of
// the generation; onToken, when non-nil, receives raw token ids in sampling
// order. Callers detokenize cumulatively — a single id is not guaranteed to
// be a whole rune.
type Session interface {
	Prompt(ctx context.Context, text string, params PromptParams, onToken func(ids []int32)) (string, error)
	Detokenize(ids []int32) (string, error)
	History() []domain.ChatMessage
	SetHistory(history []domain.ChatMessage)
	Close() error
}
