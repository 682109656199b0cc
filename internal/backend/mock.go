package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/sengac/mindstrike-sub006/internal/domain"
)

// ─── Mock Backend (for testing without llama-server) ────────────────────────

// MockBackend implements Backend with deterministic token streams. It is
// used by tests and as the daemon fallback when no llama-server binary is
// found.
type MockBackend struct {
	// Reply overrides the generated text. Default echoes the prompt.
	Reply func(prompt string) string

	// LoadErr, when set, fails every LoadModel call.
	LoadErr error

	// StepHook runs before each emitted token. Tests use it to inject
	// aborts at precise points in a stream.
	StepHook func(i int)
}

func NewMockBackend() *MockBackend { return &MockBackend{} }

func (b *MockBackend) LoadModel(path string, opts LoadOptions) (Model, error) {
	if b.LoadErr != nil {
		return nil, b.LoadErr
	}
	if path == "" {
		return nil, fmt.Errorf("empty model path")
	}
	return &mockModel{backend: b, path: path}, nil
}

func (b *MockBackend) Close() {}

type mockModel struct {
	backend *MockBackend
	path    string
	closed  bool
}

func (m *mockModel) NewContext(opts ContextOptions) (Context, error) {
	if m.closed {
		return nil, fmt.Errorf("model is closed")
	}
	return &mockContext{model: m}, nil
}

func (m *mockModel) Close() error {
	m.closed = true
	return nil
}

type mockContext struct {
	model  *mockModel
	closed bool
}

func (c *mockContext) NewSession(name string) (Session, error) {
	if c.closed {
		return nil, fmt.Errorf("context is closed")
	}
	return &mockSession{ctx: c, name: name}, nil
}

func (c *mockContext) Close() error {
	c.closed = true
	return nil
}

// mockSession tokenizes replies into 3-byte pieces so that multi-byte runes
// straddle token boundaries, exercising cumulative detokenization.
type mockSession struct {
	mu      sync.Mutex
	ctx     *mockContext
	name    string
	vocab   []string
	history []domain.ChatMessage
	closed  bool
}

const mockPieceBytes = 3

func (s *mockSession) Prompt(ctx context.Context, text string, params PromptParams, onToken func(ids []int32)) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", fmt.Errorf("session is closed")
	}
	s.mu.Unlock()

	reply := "echo: " + text
	if b := s.ctx.model.backend; b.Reply != nil {
		reply = b.Reply(text)
	}

	// Tool-call simulation: "use tool:NAME {json}" triggers the declared
	// handler and appends its result.
	if name, args, ok := parseToolDirective(text); ok {
		for _, td := range params.Tools {
			if td.Tool.Name != name || td.Handler == nil {
				continue
			}
			result, err := td.Handler(ctx, args)
			if err != nil {
				return "", fmt.Errorf("tool %s: %w", name, err)
			}
			reply += " [tool:" + string(result) + "]"
		}
	}

	ids := s.tokenize(reply)
	if params.MaxTokens > 0 && len(ids) > params.MaxTokens {
		ids = ids[:params.MaxTokens]
	}

	var emitted []int32
	for i, id := range ids {
		if hook := s.ctx.model.backend.StepHook; hook != nil {
			hook(i)
		}
		select {
		case <-ctx.Done():
			return "", domain.AbortError("generation cancelled")
		default:
		}
		emitted = append(emitted, id)
		if onToken != nil {
			onToken([]int32{id})
		}
	}

	out, err := s.Detokenize(emitted)
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

// tokenize splits text into fixed-width byte pieces and interns them.
func (s *mockSession) tokenize(text string) []int32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []int32
	raw := []byte(text)
	for off := 0; off < len(raw); off += mockPieceBytes {
		end := off + mockPieceBytes
		if end > len(raw) {
			end = len(raw)
		}
		s.vocab = append(s.vocab, string(raw[off:end]))
		ids = append(ids, int32(len(s.vocab)-1))
	}
	return ids
}

func (s *mockSession) Detokenize(ids []int32) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sb strings.Builder
	for _, id := range ids {
		if int(id) < 0 || int(id) >= len(s.vocab) {
			return "", fmt.Errorf("unknown token id %d", id)
		}
		sb.WriteString(s.vocab[id])
	}
	return sb.String(), nil
}

func (s *mockSession) History() []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ChatMessage, len(s.history))
	copy(out, s.history)
	return out
}

func (s *mockSession) SetHistory(history []domain.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = make([]domain.ChatMessage, len(history))
	copy(s.history, history)
}

func (s *mockSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// parseToolDirective recognizes "use tool:NAME {json args}".
func parseToolDirective(text string) (name string, args json.RawMessage, ok bool) {
	const marker = "use tool:"
	idx := strings.Index(text, marker)
	if idx < 0 {
		return "", nil, false
	}
	rest := text[idx+len(marker):]
	fields := strings.SplitN(rest, " ", 2)
	name = strings.TrimSpace(fields[0])
	if name == "" {
		return "", nil, false
	}
	args = json.RawMessage(`{}`)
	if len(fields) == 2 && strings.TrimSpace(fields[1]) != "" {
		args = json.RawMessage(fields[1])
	}
	return name, args, true
}
