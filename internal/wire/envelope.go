// Package wire defines the typed message frames exchanged between the
// controller and the inference worker, and the NDJSON codec that carries
// them over the worker's stdio pipes.
package wire

import (
	"encoding/json"
	"strconv"
	"sync/atomic"
)

// Message types. The semantic classes are: control, generation, stream
// chunk, progress, reverse tool calls, and terminal responses.
const (
	// Control
	TypeInit            = "init"
	TypeGetLocalModels  = "getLocalModels"
	TypeLoadModel       = "loadModel"
	TypeUnloadModel     = "unloadModel"
	TypeDeleteModel     = "deleteModel"
	TypeOptimalSettings = "calculateOptimalSettings"
	TypeRuntimeInfo     = "getModelRuntimeInfo"
	TypeClearCtxCache   = "clearContextSizeCache"

	// Generation
	TypeGenerate        = "generateResponse"
	TypeGenerateStream  = "generateStreamResponse"
	TypeAbortGeneration = "abortGeneration"

	// Stream chunk
	TypeStreamChunk = "streamChunk"

	// Progress
	TypeDownloadProgress = "downloadProgress"

	// Reverse bridge (worker-initiated)
	TypeMCPToolsRequest      = "mcpToolsRequest"
	TypeMCPToolsResponse     = "mcpToolsResponse"
	TypeExecuteMCPTool       = "executeMCPTool"
	TypeMCPToolExecutionResp = "mcpToolExecutionResponse"

	// Terminal response
	TypeResponse = "response"
)

// StreamComplete is the terminal stream marker carried in a successful
// response's data field.
const StreamComplete = "STREAM_COMPLETE"

// Envelope is a request frame: {id, type, data?}.
type Envelope struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Response is a terminal frame: {id, success, data|error}.
// Reverse-bridge frames are distinguishable because they carry an
// originating Type instead of a Success flag.
type Response struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Frame is the union decoded at each receive site. Exactly one
// interpretation applies per frame:
//   - Type == TypeStreamChunk: a stream chunk for ID
//   - Type == TypeResponse (or Success set with empty Type): terminal
//   - a reverse-bridge Type: worker-initiated request
//   - any other Type: a request envelope
type Frame struct {
	ID      string          `json:"id"`
	Type    string          `json:"type,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Success *bool           `json:"success,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// IsTerminal reports whether the frame is a terminal response.
func (f *Frame) IsTerminal() bool {
	return f.Success != nil
}

// IsStreamChunk reports whether the frame carries stream data.
func (f *Frame) IsStreamChunk() bool {
	return f.Type == TypeStreamChunk
}

// IsReverseCall reports whether the frame is a worker-initiated request
// that the controller must answer.
func (f *Frame) IsReverseCall() bool {
	return f.Type == TypeMCPToolsRequest || f.Type == TypeExecuteMCPTool
}

// IDGenerator hands out correlation ids: monotonically increasing decimal
// strings, unique for the lifetime of one worker incarnation.
type IDGenerator struct {
	next atomic.Uint64
}

// Next returns the next correlation id.
func (g *IDGenerator) Next() string {
	return strconv.FormatUint(g.next.Add(1), 10)
}
