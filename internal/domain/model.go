// Package domain holds the core types and sentinel errors shared by the
// controller and the inference worker. Domain types are pure — no
// infrastructure dependency.
package domain

import "time"

// ModelDescriptor identifies a model file on disk. Immutable once read
// from the catalog.
type ModelDescriptor struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	Filename             string `json:"filename"`
	Path                 string `json:"path"`
	SizeBytes            int64  `json:"sizeBytes"`
	LayerCount           int    `json:"layerCount,omitempty"`
	TrainedContextLength int    `json:"trainedContextLength,omitempty"`
	MaxContextLength     int    `json:"maxContextLength,omitempty"`
	ParameterCount       string `json:"parameterCount,omitempty"`
	Quantization         string `json:"quantization,omitempty"`
}

// ModelLoadingSettings are the user-tunable load parameters. Every field is
// optional; missing values are derived by the resource planner.
// GPULayers == -1 means "use the computed value".
type ModelLoadingSettings struct {
	GPULayers   *int     `json:"gpuLayers,omitempty"`
	ContextSize *int     `json:"contextSize,omitempty"`
	BatchSize   *int     `json:"batchSize,omitempty"`
	Threads     *int     `json:"threads,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// LoadSettings is the fully resolved tuple the loader hands to the backend.
type LoadSettings struct {
	GPULayers   int     `json:"gpuLayers"`
	ContextSize int     `json:"contextSize"`
	BatchSize   int     `json:"batchSize"`
	Threads     int     `json:"threads"`
	Temperature float64 `json:"temperature"`
}

// ModelRuntimeSnapshot is the controller-visible view of a loaded model.
// It never carries native handles.
type ModelRuntimeSnapshot struct {
	ModelID       string    `json:"modelId"`
	ModelPath     string    `json:"modelPath"`
	ContextSize   int       `json:"contextSize"`
	GPULayers     int       `json:"gpuLayers"`
	BatchSize     int       `json:"batchSize"`
	GPUType       string    `json:"gpuType"` // "metal" | "cuda" | "cpu"
	LoadedAt      time.Time `json:"loadedAt"`
	LastUsedAt    time.Time `json:"lastUsedAt"`
	LoadingTimeMS int64     `json:"loadingTime"`
	ThreadIDs     []string  `json:"threadIds,omitempty"`
}

// UsageStats accumulates per-model prompt accounting. Outlives the runtime
// info until the process exits.
type UsageStats struct {
	TotalPrompts int64     `json:"totalPrompts"`
	TotalTokens  int64     `json:"totalTokens"`
	LastAccessed time.Time `json:"lastAccessed"`
}

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	Role    string `json:"role"` // "system" | "user" | "assistant"
	Content string `json:"content"`
}

// GenerateOptions control a single generation request.
type GenerateOptions struct {
	Temperature        *float64 `json:"temperature,omitempty"`
	MaxTokens          int      `json:"maxTokens,omitempty"`
	TopK               int      `json:"topK,omitempty"`
	TopP               float64  `json:"topP,omitempty"`
	Seed               int      `json:"seed,omitempty"`
	ThreadID           string   `json:"threadId,omitempty"`
	DisableFunctions   bool     `json:"disableFunctions,omitempty"`
	DisableChatHistory bool     `json:"disableChatHistory,omitempty"`
}

// GenerateResult is the terminal value of a generation.
// TokensGenerated is the content length in characters — a documented
// approximation, not a true token count.
type GenerateResult struct {
	Content         string `json:"content"`
	TokensGenerated int    `json:"tokensGenerated"`
	StopReason      string `json:"stopReason,omitempty"` // "" | "abort"
}

// Token is one unit of a streamed response as seen by consumers.
type Token struct {
	Text string
	Done bool
	Err  error
}

// GPUKind classifies the host GPU.
type GPUKind string

const (
	GPUNvidia  GPUKind = "NVIDIA"
	GPUAMD     GPUKind = "AMD"
	GPUApple   GPUKind = "Apple"
	GPUUnknown GPUKind = "Unknown"
)

// VRAMState is a point-in-time VRAM reading.
type VRAMState struct {
	Total uint64 `json:"total"`
	Free  uint64 `json:"free"`
}

// SystemSnapshot is the host capability reading the planner works from.
type SystemSnapshot struct {
	TotalRAM   uint64     `json:"totalRam"`
	FreeRAM    uint64     `json:"freeRam"`
	CPUThreads int        `json:"cpuThreads"`
	HasGPU     bool       `json:"hasGpu"`
	GPUType    GPUKind    `json:"gpuType"`
	VRAM       *VRAMState `json:"vram,omitempty"`
}

// DownloadProgress reports the state of an in-flight model pull.
type DownloadProgress struct {
	Filename   string  `json:"filename"`
	Percent    float64 `json:"percent"`
	BytesDone  int64   `json:"bytesDone"`
	BytesTotal int64   `json:"bytesTotal"`
	Status     string  `json:"status"` // "downloading" | "done" | "cancelled" | "failed"
}
