// Package generate produces final strings or ordered chunk streams from a
// message list against a loaded model's primary session.
package generate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
	"unicode/utf8"

	"encoding/json"

	"github.com/sengac/mindstrike-sub006/internal/backend"
	"github.com/sengac/mindstrike-sub006/internal/domain"
	"github.com/sengac/mindstrike-sub006/internal/registry"
)

const (
	toolListTimeout    = 5 * time.Second
	toolExecuteTimeout = 30 * time.Second
)

// Generator runs prompts. The tool bridge may be nil when no tool provider
// is wired.
type Generator struct {
	registry *registry.Registry
	tools    domain.ToolBridge
}

// New creates a generator.
func New(reg *registry.Registry, tools domain.ToolBridge) *Generator {
	return &Generator{registry: reg, tools: tools}
}

// completeRuneEnd returns the largest end >= from such that s[from:end] is
// whole runes. Token ids do not align with rune boundaries, so the byte tail
// of a cumulative detokenization may be an incomplete rune.
func completeRuneEnd(s string, from int) int {
	end := len(s)
	for end > from {
		i := end - 1
		for i > from && !utf8.RuneStart(s[i]) {
			i--
		}
		if utf8.FullRuneInString(s[i:end]) {
			return end
		}
		end = i
	}
	return from
}

// promptFromMessages reduces a conversation to the prompt: the last
// user-role entry wins.
func promptFromMessages(messages []domain.ChatMessage) (string, error) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content, nil
		}
	}
	return "", domain.ErrNoUserMessage
}

// promptParams folds request options over the model's load-time defaults.
func promptParams(info *registry.RuntimeInfo, opts domain.GenerateOptions, tools []backend.ToolDef) backend.PromptParams {
	temp := info.Temperature
	if opts.Temperature != nil {
		temp = *opts.Temperature
	}
	return backend.PromptParams{
		Temperature: temp,
		MaxTokens:   opts.MaxTokens,
		TopK:        opts.TopK,
		TopP:        opts.TopP,
		Seed:        opts.Seed,
		Tools:       tools,
	}
}

// fetchTools lists the current tool set over the reverse bridge and binds
// each tool to an execute handler. The set is cached for the duration of
// one generation call only.
func (g *Generator) fetchTools(ctx context.Context, opts domain.GenerateOptions) []backend.ToolDef {
	if opts.DisableFunctions || g.tools == nil {
		return nil
	}

	listCtx, cancel := context.WithTimeout(ctx, toolListTimeout)
	defer cancel()
	tools, err := g.tools.ListTools(listCtx)
	if err != nil {
		log.Printf("[generate] list tools: %v (continuing without tools)", err)
		return nil
	}

	defs := make([]backend.ToolDef, 0, len(tools))
	for _, t := range tools {
		tool := t
		defs = append(defs, backend.ToolDef{
			Tool: tool,
			Handler: func(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
				execCtx, cancel := context.WithTimeout(ctx, toolExecuteTimeout)
				defer cancel()
				return g.tools.ExecuteTool(execCtx, tool.Name, params)
			},
		})
	}
	return defs
}

// Generate runs the non-streaming path and returns the final string.
// A backend abort is not an error: the result carries stopReason "abort"
// with empty content.
func (g *Generator) Generate(ctx context.Context, info *registry.RuntimeInfo, messages []domain.ChatMessage, opts domain.GenerateOptions) (domain.GenerateResult, error) {
	prompt, err := promptFromMessages(messages)
	if err != nil {
		return domain.GenerateResult{}, err
	}
	sess := info.Session
	if sess == nil {
		return domain.GenerateResult{}, domain.ErrModelNotLoaded
	}

	tools := g.fetchTools(ctx, opts)

	var snapshot []domain.ChatMessage
	if opts.DisableChatHistory {
		snapshot = sess.History()
	}

	content, err := sess.Prompt(ctx, prompt, promptParams(info, opts, tools), nil)

	if opts.DisableChatHistory {
		sess.SetHistory(snapshot)
	}

	if err != nil {
		if domain.IsAbort(err) {
			return domain.GenerateResult{StopReason: "abort"}, nil
		}
		return domain.GenerateResult{}, fmt.Errorf("%w: %v", domain.ErrBackend, err)
	}

	// TokensGenerated is content length in characters, not tokens.
	result := domain.GenerateResult{Content: content, TokensGenerated: len(content)}
	g.registry.RecordPromptUsage(info.ModelID, result.TokensGenerated)
	return result, nil
}

// GenerateStream runs the streaming path. Token ids from the backend are
// detokenized cumulatively on every callback and only the new suffix is
// emitted — this keeps multi-byte runes intact across token boundaries.
// The returned channel is closed after a terminal Token (Done or Err).
func (g *Generator) GenerateStream(ctx context.Context, info *registry.RuntimeInfo, messages []domain.ChatMessage, opts domain.GenerateOptions) (<-chan domain.Token, error) {
	prompt, err := promptFromMessages(messages)
	if err != nil {
		return nil, err
	}
	sess := info.Session
	if sess == nil {
		return nil, domain.ErrModelNotLoaded
	}

	tools := g.fetchTools(ctx, opts)

	var snapshot []domain.ChatMessage
	if opts.DisableChatHistory {
		snapshot = sess.History()
	}

	out := make(chan domain.Token)
	go func() {
		defer close(out)

		var all []int32
		var prev string
		var detokErr error

		// Single-slot handoff: the send blocks until the consumer pulls
		// or the request is cancelled.
		emit := func(text string) {
			select {
			case out <- domain.Token{Text: text}:
			case <-ctx.Done():
			}
		}

		onToken := func(ids []int32) {
			if detokErr != nil {
				return
			}
			all = append(all, ids...)
			full, err := sess.Detokenize(all)
			if err != nil {
				detokErr = err
				return
			}
			// Hold back a trailing partial rune until later tokens
			// complete it.
			end := completeRuneEnd(full, len(prev))
			if end > len(prev) {
				emit(full[len(prev):end])
				prev = full[:end]
			}
		}

		content, err := sess.Prompt(ctx, prompt, promptParams(info, opts, tools), onToken)

		if opts.DisableChatHistory {
			sess.SetHistory(snapshot)
		}

		switch {
		case err != nil && domain.IsAbort(err):
			out <- domain.Token{Err: err, Done: true}
		case err != nil && domain.IsMemoryFull(err):
			out <- domain.Token{Err: errors.New(domain.MemoryFullHint), Done: true}
		case err != nil:
			out <- domain.Token{Err: err, Done: true}
		case detokErr != nil:
			out <- domain.Token{Err: fmt.Errorf("detokenize: %w", detokErr), Done: true}
		default:
			g.registry.RecordPromptUsage(info.ModelID, len(content))
			out <- domain.Token{Done: true}
		}
	}()
	return out, nil
}
