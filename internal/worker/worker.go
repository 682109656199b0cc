// Package worker implements the inference-side event loop: it decodes
// envelopes from the controller, routes them to the loader, registry, and
// generator, and streams results back. Native handles never leave this
// process.
package worker

import (
	"context"
	"fmt"
	"io"
	"log"
	"runtime/debug"
	"sync"

	"github.com/sengac/mindstrike-sub006/internal/backend"
	"github.com/sengac/mindstrike-sub006/internal/domain"
	"github.com/sengac/mindstrike-sub006/internal/generate"
	"github.com/sengac/mindstrike-sub006/internal/loader"
	"github.com/sengac/mindstrike-sub006/internal/planner"
	"github.com/sengac/mindstrike-sub006/internal/registry"
	"github.com/sengac/mindstrike-sub006/internal/session"
	"github.com/sengac/mindstrike-sub006/internal/wire"
)

// Worker hosts the native backend behind the message channel.
type Worker struct {
	codec     *wire.Codec
	source    domain.ModelSource
	registry  *registry.Registry
	sessions  *session.Manager
	planner   *planner.Planner
	loader    *loader.Loader
	generator *generate.Generator
	aborts    *abortRegistry
	bridge    *toolBridge

	// genMu serializes native prompts: concurrent generations against the
	// same native context are unsafe.
	genMu sync.Mutex
}

// New wires a worker over the given codec and backend.
func New(codec *wire.Codec, b backend.Backend, source domain.ModelSource, sys planner.SysInfo) *Worker {
	reg := registry.New()
	sessions := session.NewManager()
	plan := planner.New(sys)
	bridge := newToolBridge(codec)

	return &Worker{
		codec:     codec,
		source:    source,
		registry:  reg,
		sessions:  sessions,
		planner:   plan,
		loader:    loader.New(b, reg, sessions, plan, source, nil),
		generator: generate.New(reg, bridge),
		aborts:    newAbortRegistry(),
		bridge:    bridge,
	}
}

// Run reads frames until the channel closes or ctx is cancelled. Request
// frames are dispatched on their own goroutines so abortGeneration can
// overtake a blocked generation.
func (w *Worker) Run(ctx context.Context) error {
	for {
		f, err := w.codec.ReadFrame()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		switch {
		case f.Type == wire.TypeMCPToolsResponse || f.Type == wire.TypeMCPToolExecutionResp:
			w.bridge.handleResponse(f)
		default:
			go w.dispatch(ctx, f)
		}
	}
}

// dispatch handles one request envelope. A panic anywhere below is reported
// back as an error envelope — the worker keeps serving other correlation
// ids.
func (w *Worker) dispatch(ctx context.Context, f *wire.Frame) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[worker] panic handling %s (id=%s): %v\n%s", f.Type, f.ID, r, debug.Stack())
			w.respondErr(f.ID, fmt.Errorf("internal error: %v", r))
		}
	}()

	switch f.Type {
	case wire.TypeInit:
		w.respondOK(f.ID, map[string]string{"status": "ready"})
	case wire.TypeGetLocalModels:
		w.handleGetLocalModels(f)
	case wire.TypeLoadModel:
		w.handleLoadModel(f)
	case wire.TypeUnloadModel:
		w.handleUnloadModel(f)
	case wire.TypeDeleteModel:
		w.handleDeleteModel(f)
	case wire.TypeOptimalSettings:
		w.handleOptimalSettings(f)
	case wire.TypeRuntimeInfo:
		w.handleRuntimeInfo(f)
	case wire.TypeClearCtxCache:
		w.planner.ClearContextSizeCache()
		w.respondOK(f.ID, nil)
	case wire.TypeGenerate:
		w.handleGenerate(ctx, f)
	case wire.TypeGenerateStream:
		w.handleGenerateStream(ctx, f)
	case wire.TypeAbortGeneration:
		w.handleAbort(f)
	default:
		w.respondErr(f.ID, fmt.Errorf("%w: unknown message type %q", domain.ErrInvalidPayload, f.Type))
	}
}

func (w *Worker) respondOK(id string, v any) {
	data, err := wire.Encode(v)
	if err != nil {
		w.respondErr(id, err)
		return
	}
	w.write(wire.Response{ID: id, Type: wire.TypeResponse, Success: true, Data: data})
}

func (w *Worker) respondErr(id string, err error) {
	w.write(wire.Response{ID: id, Type: wire.TypeResponse, Success: false, Error: err.Error()})
}

func (w *Worker) write(v any) {
	if err := w.codec.WriteFrame(v); err != nil {
		log.Printf("[worker] write frame: %v", err)
	}
}
