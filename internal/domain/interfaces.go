package domain

import (
	"context"
	"encoding/json"
)

// ─── Capability Interfaces ──────────────────────────────────────────────────
// Cyclic references between registry, loader, session manager, and settings
// service are broken by passing these small capabilities through
// constructors, never by holding bidirectional object references.

// ModelSource resolves model identifiers against the local catalog.
type ModelSource interface {
	// LocalModels lists every model available on disk.
	LocalModels() ([]ModelDescriptor, error)

	// Resolve finds a model by id, display name, or *.gguf filename.
	// Returns ErrModelNotFound when nothing matches.
	Resolve(idOrName string) (*ModelDescriptor, error)
}

// SettingsSource supplies persisted per-model loading settings.
type SettingsSource interface {
	Settings(modelID string) (ModelLoadingSettings, error)
}

// MCPTool describes one tool offered to the model during generation.
type MCPTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ToolBridge is the reverse bridge: the worker initiates these calls and the
// controller answers them with the same correlation id.
type ToolBridge interface {
	// ListTools returns the currently available tool set. 5 s timeout.
	ListTools(ctx context.Context) ([]MCPTool, error)

	// ExecuteTool invokes a tool by name with JSON params. 30 s timeout.
	ExecuteTool(ctx context.Context, name string, params json.RawMessage) (json.RawMessage, error)
}
