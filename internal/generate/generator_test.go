package generate

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/sengac/mindstrike-sub006/internal/backend"
	"github.com/sengac/mindstrike-sub006/internal/domain"
	"github.com/sengac/mindstrike-sub006/internal/registry"
)

// newRuntime loads a mock model and hands back live runtime info.
func newRuntime(t *testing.T, b *backend.MockBackend) (*registry.Registry, *registry.RuntimeInfo) {
	t.Helper()

	model, err := b.LoadModel("/models/test.gguf", backend.LoadOptions{})
	if err != nil {
		t.Fatalf("LoadModel() error: %v", err)
	}
	ctx, err := model.NewContext(backend.ContextOptions{ContextSize: 4096, BatchSize: 512})
	if err != nil {
		t.Fatalf("NewContext() error: %v", err)
	}
	sess, err := ctx.NewSession("test-main")
	if err != nil {
		t.Fatalf("NewSession() error: %v", err)
	}

	reg := registry.New()
	info := &registry.RuntimeInfo{
		ModelID:     "test",
		Model:       model,
		Context:     ctx,
		Session:     sess,
		Temperature: 0.7,
	}
	reg.Register("test", info)
	return reg, info
}

func userMsg(text string) []domain.ChatMessage {
	return []domain.ChatMessage{{Role: "user", Content: text}}
}

func TestPromptFromMessages_LastUserWins(t *testing.T) {
	msgs := []domain.ChatMessage{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "reply"},
		{Role: "user", Content: "second"},
	}
	got, err := promptFromMessages(msgs)
	if err != nil {
		t.Fatalf("promptFromMessages() error: %v", err)
	}
	if got != "second" {
		t.Errorf("prompt = %q, want %q", got, "second")
	}
}

func TestPromptFromMessages_NoUser(t *testing.T) {
	msgs := []domain.ChatMessage{{Role: "system", Content: "only system"}}
	if _, err := promptFromMessages(msgs); !errors.Is(err, domain.ErrNoUserMessage) {
		t.Errorf("error = %v, want ErrNoUserMessage", err)
	}
}

func TestGenerate_Basic(t *testing.T) {
	b := backend.NewMockBackend()
	reg, info := newRuntime(t, b)
	g := New(reg, nil)

	res, err := g.Generate(context.Background(), info, userMsg("hello"), domain.GenerateOptions{})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if res.Content != "echo: hello" {
		t.Errorf("Content = %q, want %q", res.Content, "echo: hello")
	}
	if res.TokensGenerated != len(res.Content) {
		t.Errorf("TokensGenerated = %d, want %d", res.TokensGenerated, len(res.Content))
	}
	if reg.Usage("test").TotalPrompts != 1 {
		t.Error("usage should record one prompt")
	}
}

func TestGenerate_NoUserMessage(t *testing.T) {
	b := backend.NewMockBackend()
	reg, info := newRuntime(t, b)
	g := New(reg, nil)

	_, err := g.Generate(context.Background(), info, nil, domain.GenerateOptions{})
	if !errors.Is(err, domain.ErrNoUserMessage) {
		t.Errorf("error = %v, want ErrNoUserMessage", err)
	}
}

func TestGenerate_NilSession(t *testing.T) {
	g := New(registry.New(), nil)
	info := &registry.RuntimeInfo{ModelID: "test"}

	_, err := g.Generate(context.Background(), info, userMsg("hi"), domain.GenerateOptions{})
	if !errors.Is(err, domain.ErrModelNotLoaded) {
		t.Errorf("error = %v, want ErrModelNotLoaded", err)
	}
}

func TestGenerate_AbortIsNotAnError(t *testing.T) {
	b := backend.NewMockBackend()
	reg, info := newRuntime(t, b)
	g := New(reg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	b.StepHook = func(i int) {
		if i == 1 {
			cancel()
		}
	}

	res, err := g.Generate(ctx, info, userMsg("hello"), domain.GenerateOptions{})
	if err != nil {
		t.Fatalf("Generate() after abort error: %v", err)
	}
	if res.StopReason != "abort" {
		t.Errorf("StopReason = %q, want abort", res.StopReason)
	}
	if res.Content != "" {
		t.Errorf("Content = %q, want empty after abort", res.Content)
	}
}

func TestGenerateStream_ChunksConcatToFullContent(t *testing.T) {
	const reply = "héllo wörld, ünïcode straddles piece boundaries"
	b := backend.NewMockBackend()
	b.Reply = func(string) string { return reply }
	reg, info := newRuntime(t, b)
	g := New(reg, nil)

	ch, err := g.GenerateStream(context.Background(), info, userMsg("hi"), domain.GenerateOptions{})
	if err != nil {
		t.Fatalf("GenerateStream() error: %v", err)
	}

	var sb strings.Builder
	var sawDone bool
	for tok := range ch {
		if tok.Err != nil {
			t.Fatalf("stream error: %v", tok.Err)
		}
		if tok.Done {
			sawDone = true
			continue
		}
		// Every chunk must be whole runes even though the mock emits
		// 3-byte pieces.
		for _, r := range tok.Text {
			if r == '�' {
				t.Fatalf("chunk %q contains a broken rune", tok.Text)
			}
		}
		sb.WriteString(tok.Text)
	}
	if !sawDone {
		t.Error("stream should end with a Done token")
	}
	if sb.String() != reply {
		t.Errorf("concatenated stream = %q, want %q", sb.String(), reply)
	}
}

func TestGenerateStream_MatchesGenerate(t *testing.T) {
	b := backend.NewMockBackend()
	reg, info := newRuntime(t, b)
	g := New(reg, nil)

	res, err := g.Generate(context.Background(), info, userMsg("same input"), domain.GenerateOptions{})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	ch, err := g.GenerateStream(context.Background(), info, userMsg("same input"), domain.GenerateOptions{})
	if err != nil {
		t.Fatalf("GenerateStream() error: %v", err)
	}
	var sb strings.Builder
	for tok := range ch {
		sb.WriteString(tok.Text)
	}
	if sb.String() != res.Content {
		t.Errorf("stream = %q, generate = %q, want equal", sb.String(), res.Content)
	}
}

func TestGenerateStream_AbortMidStream(t *testing.T) {
	b := backend.NewMockBackend()
	reg, info := newRuntime(t, b)
	g := New(reg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	b.StepHook = func(i int) {
		if i == 2 {
			cancel()
		}
	}

	ch, err := g.GenerateStream(ctx, info, userMsg("a long enough prompt"), domain.GenerateOptions{})
	if err != nil {
		t.Fatalf("GenerateStream() error: %v", err)
	}

	var terminal domain.Token
	for tok := range ch {
		if tok.Done {
			terminal = tok
		}
	}
	if terminal.Err == nil {
		t.Fatal("aborted stream should end with an error terminal")
	}
	if !domain.IsAbort(terminal.Err) {
		t.Errorf("terminal error = %v, want abort", terminal.Err)
	}
	if !strings.HasPrefix(terminal.Err.Error(), "AbortError: ") {
		t.Errorf("abort error %q must carry the stable prefix", terminal.Err.Error())
	}
}

func TestGenerate_DisableChatHistoryRestores(t *testing.T) {
	b := backend.NewMockBackend()
	reg, info := newRuntime(t, b)
	g := New(reg, nil)

	// Seed one real exchange.
	if _, err := g.Generate(context.Background(), info, userMsg("first"), domain.GenerateOptions{}); err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	before := info.Session.History()

	if _, err := g.Generate(context.Background(), info, userMsg("throwaway"), domain.GenerateOptions{DisableChatHistory: true}); err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	after := info.Session.History()

	if len(after) != len(before) {
		t.Fatalf("history length = %d, want %d (restored)", len(after), len(before))
	}
	for i := range after {
		if after[i] != before[i] {
			t.Errorf("history[%d] = %+v, want %+v", i, after[i], before[i])
		}
	}
}

// fakeBridge answers the reverse tool bridge in-process.
type fakeBridge struct {
	tools    []domain.MCPTool
	listErr  error
	executed []string
}

func (f *fakeBridge) ListTools(ctx context.Context) ([]domain.MCPTool, error) {
	return f.tools, f.listErr
}

func (f *fakeBridge) ExecuteTool(ctx context.Context, name string, params json.RawMessage) (json.RawMessage, error) {
	f.executed = append(f.executed, name)
	return json.RawMessage(`"pong"`), nil
}

func TestGenerate_ToolBridge(t *testing.T) {
	bridge := &fakeBridge{tools: []domain.MCPTool{{Name: "ping"}}}
	b := backend.NewMockBackend()
	reg, info := newRuntime(t, b)
	g := New(reg, bridge)

	res, err := g.Generate(context.Background(), info, userMsg(`use tool:ping {}`), domain.GenerateOptions{})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if len(bridge.executed) != 1 || bridge.executed[0] != "ping" {
		t.Errorf("executed = %v, want [ping]", bridge.executed)
	}
	if !strings.Contains(res.Content, `"pong"`) {
		t.Errorf("Content = %q, want tool result appended", res.Content)
	}
}

func TestGenerate_DisableFunctionsSkipsBridge(t *testing.T) {
	bridge := &fakeBridge{tools: []domain.MCPTool{{Name: "ping"}}}
	b := backend.NewMockBackend()
	reg, info := newRuntime(t, b)
	g := New(reg, bridge)

	if _, err := g.Generate(context.Background(), info, userMsg(`use tool:ping {}`), domain.GenerateOptions{DisableFunctions: true}); err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if len(bridge.executed) != 0 {
		t.Errorf("executed = %v, want none with functions disabled", bridge.executed)
	}
}

func TestGenerate_BridgeListFailureIsNonFatal(t *testing.T) {
	bridge := &fakeBridge{listErr: errors.New("bridge down")}
	b := backend.NewMockBackend()
	reg, info := newRuntime(t, b)
	g := New(reg, bridge)

	res, err := g.Generate(context.Background(), info, userMsg("hello"), domain.GenerateOptions{})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if res.Content == "" {
		t.Error("generation should proceed without tools")
	}
}

func TestPromptParams_TemperatureOverride(t *testing.T) {
	info := &registry.RuntimeInfo{Temperature: 0.7}

	temp := 0.1
	p := promptParams(info, domain.GenerateOptions{Temperature: &temp}, nil)
	if p.Temperature != 0.1 {
		t.Errorf("Temperature = %g, want override 0.1", p.Temperature)
	}
	p = promptParams(info, domain.GenerateOptions{}, nil)
	if p.Temperature != 0.7 {
		t.Errorf("Temperature = %g, want load-time default 0.7", p.Temperature)
	}
}
