package wire

import (
	"encoding/json"
	"fmt"

	"github.com/sengac/mindstrike-sub006/internal/domain"
)

// ─── Request Payloads ───────────────────────────────────────────────────────
// Dynamic payload typing stops at the wire boundary: frames are decoded into
// these discriminated variants at the receive site and all downstream code
// sees typed values only.

// LoadModelPayload asks the worker to load a model.
type LoadModelPayload struct {
	ModelIDOrName string                       `json:"modelIdOrName"`
	ThreadID      string                       `json:"threadId,omitempty"`
	Settings      *domain.ModelLoadingSettings `json:"settings,omitempty"`
}

// UnloadModelPayload asks the worker to unload a model.
type UnloadModelPayload struct {
	ModelID string `json:"modelId"`
}

// DeleteModelPayload asks the worker to unload (if loaded) and forget a model.
type DeleteModelPayload struct {
	ModelID string `json:"modelId"`
}

// GeneratePayload carries a generation request, streaming or not.
type GeneratePayload struct {
	ModelIDOrName string                 `json:"modelIdOrName"`
	Messages      []domain.ChatMessage   `json:"messages"`
	Options       domain.GenerateOptions `json:"options"`
}

// AbortPayload cancels an in-flight generation by its correlation id.
type AbortPayload struct {
	RequestID string `json:"requestId"`
}

// OptimalSettingsPayload asks the planner for computed defaults.
type OptimalSettingsPayload struct {
	ModelID   string                       `json:"modelId"`
	Requested *domain.ModelLoadingSettings `json:"requested,omitempty"`
}

// RuntimeInfoPayload requests a runtime snapshot for one model.
type RuntimeInfoPayload struct {
	ModelID string `json:"modelId"`
}

// ExecuteToolPayload is the worker-initiated tool invocation.
type ExecuteToolPayload struct {
	Tool   string          `json:"tool"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ToolsResponsePayload answers a mcpToolsRequest.
type ToolsResponsePayload struct {
	Tools []domain.MCPTool `json:"tools"`
}

// ToolExecutionResponsePayload answers an executeMCPTool.
type ToolExecutionResponsePayload struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// Decode unmarshals a frame payload into dst, mapping malformed payloads to
// domain.ErrInvalidPayload so the worker can reply with a typed error
// instead of dying.
func Decode(data json.RawMessage, dst any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty payload", domain.ErrInvalidPayload)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	return nil
}

// Encode marshals a payload for an envelope's data field.
func Encode(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return raw, nil
}
