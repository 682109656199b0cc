package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sengac/mindstrike-sub006/internal/domain"
	"github.com/sengac/mindstrike-sub006/internal/wire"
)

// toolBridge is the worker's end of the reverse bridge: it initiates
// mcpToolsRequest / executeMCPTool envelopes upstream and matches the
// controller's responses by correlation id. Ids are generated locally; the
// response frames carry an originating type instead of a success flag, so
// they never collide with the controller's own correlation space.
type toolBridge struct {
	codec   *wire.Codec
	ids     wire.IDGenerator
	mu      sync.Mutex
	pending map[string]chan *wire.Frame
}

func newToolBridge(codec *wire.Codec) *toolBridge {
	return &toolBridge{codec: codec, pending: make(map[string]chan *wire.Frame)}
}

// handleResponse routes a reverse-bridge response frame to its waiter.
// Unmatched responses are dropped (the waiter timed out).
func (b *toolBridge) handleResponse(f *wire.Frame) {
	b.mu.Lock()
	ch := b.pending[f.ID]
	delete(b.pending, f.ID)
	b.mu.Unlock()

	if ch != nil {
		ch <- f
	}
}

// call sends one reverse envelope and waits for its response or ctx expiry.
func (b *toolBridge) call(ctx context.Context, msgType string, payload any) (*wire.Frame, error) {
	data, err := wire.Encode(payload)
	if err != nil {
		return nil, err
	}

	id := b.ids.Next()
	ch := make(chan *wire.Frame, 1)
	b.mu.Lock()
	b.pending[id] = ch
	b.mu.Unlock()

	if err := b.codec.WriteFrame(wire.Envelope{ID: id, Type: msgType, Data: data}); err != nil {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
		return nil, fmt.Errorf("send %s: %w", msgType, err)
	}

	select {
	case f := <-ch:
		return f, nil
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", domain.ErrTimeout, msgType)
	}
}

// ListTools implements domain.ToolBridge.
func (b *toolBridge) ListTools(ctx context.Context) ([]domain.MCPTool, error) {
	f, err := b.call(ctx, wire.TypeMCPToolsRequest, nil)
	if err != nil {
		return nil, err
	}
	var payload wire.ToolsResponsePayload
	if err := wire.Decode(f.Data, &payload); err != nil {
		return nil, err
	}
	return payload.Tools, nil
}

// ExecuteTool implements domain.ToolBridge.
func (b *toolBridge) ExecuteTool(ctx context.Context, name string, params json.RawMessage) (json.RawMessage, error) {
	f, err := b.call(ctx, wire.TypeExecuteMCPTool, wire.ExecuteToolPayload{Tool: name, Params: params})
	if err != nil {
		return nil, err
	}
	var payload wire.ToolExecutionResponsePayload
	if err := wire.Decode(f.Data, &payload); err != nil {
		return nil, err
	}
	if payload.Error != "" {
		return nil, fmt.Errorf("tool %s: %s", name, payload.Error)
	}
	return payload.Result, nil
}
