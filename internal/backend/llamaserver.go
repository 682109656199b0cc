// llama-server subprocess backend. The native engine is llama-server (from
// llama.cpp) run as a child process per loaded model; this file adapts its
// HTTP API to the Backend contract.
//
//	Backend.LoadModel(path)            → records the weight file
//	Model.NewContext(ctxSize, batch)   → starts llama-server, waits /health
//	Context.NewSession(name)           → session over /completion
//	Session.Prompt(..., onToken)       → SSE stream with return_tokens
//	Session.Detokenize(ids)            → POST /detokenize
package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/sengac/mindstrike-sub006/internal/domain"
)

// LlamaServerBackend spawns llama-server processes.
type LlamaServerBackend struct {
	exePath string
}

// NewLlamaServerBackend locates the llama-server binary in home/bin or PATH.
func NewLlamaServerBackend(home string) (*LlamaServerBackend, error) {
	path, err := findLlamaServer(home)
	if err != nil {
		return nil, err
	}
	return &LlamaServerBackend{exePath: path}, nil
}

func findLlamaServer(home string) (string, error) {
	exe := "llama-server"
	if runtime.GOOS == "windows" {
		exe = "llama-server.exe"
	}
	binPath := filepath.Join(home, "bin", exe)
	if _, err := os.Stat(binPath); err == nil {
		return binPath, nil
	}
	if path, err := exec.LookPath(exe); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("llama-server not found: install llama.cpp and place %s in %s or on PATH",
		exe, filepath.Join(home, "bin"))
}

func (b *LlamaServerBackend) LoadModel(path string, opts LoadOptions) (Model, error) {
	if path == "" {
		return nil, fmt.Errorf("empty model path")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("model file not found: %w", err)
	}
	return &llamaModel{backend: b, path: path, opts: opts}, nil
}

func (b *LlamaServerBackend) Close() {}

// llamaModel defers process start until a context exists, because
// llama-server takes the context size on its command line.
type llamaModel struct {
	backend *LlamaServerBackend
	path    string
	opts    LoadOptions
	closed  bool
}

func (m *llamaModel) NewContext(opts ContextOptions) (Context, error) {
	if m.closed {
		return nil, fmt.Errorf("model is closed")
	}

	port, err := findFreePort()
	if err != nil {
		return nil, fmt.Errorf("find free port: %w", err)
	}

	args := []string{
		"--model", m.path,
		"--host", "127.0.0.1",
		"--port", fmt.Sprintf("%d", port),
		"--ctx-size", fmt.Sprintf("%d", opts.ContextSize),
		"--batch-size", fmt.Sprintf("%d", opts.BatchSize),
		"--no-mmap",
	}
	if m.opts.GPULayers >= 0 {
		args = append(args, "--n-gpu-layers", fmt.Sprintf("%d", m.opts.GPULayers))
	} else {
		args = append(args, "--n-gpu-layers", "99")
	}
	if m.opts.Threads > 0 {
		args = append(args, "--threads", fmt.Sprintf("%d", m.opts.Threads))
	}

	stderrBuf := &ringBuffer{max: 8192}
	cmd := exec.Command(m.backend.exePath, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = stderrBuf

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start llama-server: %w", err)
	}

	addr := fmt.Sprintf("http://127.0.0.1:%d", port)
	earlyExit := make(chan error, 1)
	go func() { earlyExit <- cmd.Wait() }()

	if err := waitForReady(addr, 5*time.Minute, earlyExit); err != nil {
		cmd.Process.Kill() //nolint:errcheck
		stderr := strings.TrimSpace(stderrBuf.String())
		if stderr != "" {
			lines := strings.Split(stderr, "\n")
			if len(lines) > 10 {
				lines = lines[len(lines)-10:]
			}
			return nil, fmt.Errorf("llama-server failed to start (%s): %w\n%s",
				filepath.Base(m.path), err, strings.Join(lines, "\n"))
		}
		return nil, fmt.Errorf("llama-server failed to start (%s): %w", filepath.Base(m.path), err)
	}

	return &llamaContext{
		cmd:  cmd,
		addr: addr,
		client: &http.Client{
			Timeout: 10 * time.Minute,
		},
	}, nil
}

func (m *llamaModel) Close() error {
	m.closed = true
	return nil
}

// llamaContext owns one running llama-server process.
type llamaContext struct {
	cmd    *exec.Cmd
	addr   string
	client *http.Client
	closed bool
}

func (c *llamaContext) NewSession(name string) (Session, error) {
	if c.closed {
		return nil, fmt.Errorf("context is closed")
	}
	return &llamaSession{ctx: c, name: name}, nil
}

// Close kills the llama-server process, trying a graceful /shutdown first.
func (c *llamaContext) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if req, err := http.NewRequestWithContext(shutdownCtx, http.MethodPost, c.addr+"/shutdown", nil); err == nil {
		c.client.Do(req) //nolint:errcheck
	}

	if c.cmd != nil && c.cmd.Process != nil {
		c.cmd.Process.Kill() //nolint:errcheck
		done := make(chan struct{})
		go func() {
			c.cmd.Wait() //nolint:errcheck
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
	}
	return nil
}

// llamaSession streams completions from the owning llama-server process.
// History lives in this struct; the server keeps its own KV cache via
// cache_prompt.
type llamaSession struct {
	mu      sync.Mutex
	ctx     *llamaContext
	name    string
	history []domain.ChatMessage
	closed  bool
}

func (s *llamaSession) Prompt(ctx context.Context, text string, params PromptParams, onToken func(ids []int32)) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", fmt.Errorf("session is closed")
	}
	s.mu.Unlock()

	body := map[string]any{
		"prompt":        text,
		"stream":        true,
		"return_tokens": true,
		"cache_prompt":  true,
		"temperature":   params.Temperature,
	}
	if params.MaxTokens > 0 {
		body["n_predict"] = params.MaxTokens
	} else {
		body["n_predict"] = 1024
	}
	if params.TopK > 0 {
		body["top_k"] = params.TopK
	}
	if params.TopP > 0 {
		body["top_p"] = params.TopP
	}
	if params.Seed != 0 {
		body["seed"] = params.Seed
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.ctx.addr+"/completion", bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.ctx.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", domain.AbortError("generation cancelled")
		}
		return "", fmt.Errorf("llama-server request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("llama-server error %d: %s", resp.StatusCode, string(msg))
	}

	var content strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "" || data == "[DONE]" {
			continue
		}

		var chunk struct {
			Content string  `json:"content"`
			Tokens  []int32 `json:"tokens"`
			Stop    bool    `json:"stop"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		content.WriteString(chunk.Content)
		if onToken != nil && len(chunk.Tokens) > 0 {
			onToken(chunk.Tokens)
		}
		if chunk.Stop {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return "", domain.AbortError("generation cancelled")
		}
		return "", fmt.Errorf("llama-server stream: %w", err)
	}
	if ctx.Err() != nil {
		return "", domain.AbortError("generation cancelled")
	}

	out := content.String()
	out, err = s.resolveToolCalls(ctx, out, params)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.history = append(s.history,
		domain.ChatMessage{Role: "user", Content: text},
		domain.ChatMessage{Role: "assistant", Content: out},
	)
	s.mu.Unlock()
	return out, nil
}

// resolveToolCalls executes <tool_call>{"name":..,"arguments":..}</tool_call>
// segments emitted by tool-aware chat templates, substituting each with its
// handler result.
func (s *llamaSession) resolveToolCalls(ctx context.Context, text string, params PromptParams) (string, error) {
	if len(params.Tools) == 0 || !strings.Contains(text, "<tool_call>") {
		return text, nil
	}

	handlers := make(map[string]ToolDef, len(params.Tools))
	for _, td := range params.Tools {
		handlers[td.Tool.Name] = td
	}

	out := text
	for {
		start := strings.Index(out, "<tool_call>")
		if start < 0 {
			break
		}
		end := strings.Index(out[start:], "</tool_call>")
		if end < 0 {
			break
		}
		end += start
		var call struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		segment := out[start+len("<tool_call>") : end]
		replacement := ""
		if err := json.Unmarshal([]byte(segment), &call); err == nil {
			if td, ok := handlers[call.Name]; ok && td.Handler != nil {
				result, err := td.Handler(ctx, call.Arguments)
				if err != nil {
					return "", fmt.Errorf("tool %s: %w", call.Name, err)
				}
				replacement = string(result)
			}
		}
		out = out[:start] + replacement + out[end+len("</tool_call>"):]
	}
	return out, nil
}

func (s *llamaSession) Detokenize(ids []int32) (string, error) {
	raw, err := json.Marshal(map[string]any{"tokens": ids})
	if err != nil {
		return "", err
	}
	resp, err := s.ctx.client.Post(s.ctx.addr+"/detokenize", "application/json", bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("detokenize: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("detokenize: %w", err)
	}
	return result.Content, nil
}

func (s *llamaSession) History() []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ChatMessage, len(s.history))
	copy(out, s.history)
	return out
}

func (s *llamaSession) SetHistory(history []domain.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = make([]domain.ChatMessage, len(history))
	copy(s.history, history)
}

func (s *llamaSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func findFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port, nil
}

// waitForReady polls /health until the server answers, failing fast when the
// process exits before becoming healthy.
func waitForReady(addr string, timeout time.Duration, earlyExit <-chan error) error {
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: 2 * time.Second}

	for time.Now().Before(deadline) {
		select {
		case err := <-earlyExit:
			return fmt.Errorf("llama-server exited unexpectedly (exit: %v)", err)
		default:
		}

		resp, err := client.Get(addr + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("server at %s did not become ready within %v", addr, timeout)
}

// ringBuffer keeps only the last max bytes written. Captures llama-server
// stderr without unbounded memory.
type ringBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (b *ringBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, err := b.buf.Write(p)
	if b.buf.Len() > b.max {
		data := b.buf.Bytes()
		b.buf.Reset()
		b.buf.Write(data[len(data)-b.max:])
	}
	return n, err
}

func (b *ringBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
