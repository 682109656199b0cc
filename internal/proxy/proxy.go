// Package proxy is the controller's bridge to the inference worker. It
// correlates requests with responses, yields stream chunks in order,
// propagates aborts and timeouts, and supervises the worker process with a
// bounded restart budget.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/sengac/mindstrike-sub006/internal/domain"
	"github.com/sengac/mindstrike-sub006/internal/metrics"
	"github.com/sengac/mindstrike-sub006/internal/wire"
)

const (
	controlTimeout    = 60 * time.Second
	generationTimeout = 5 * time.Minute
	downloadTimeout   = 10 * time.Minute

	restartDelay = 2 * time.Second
	maxRestarts  = 3

	// Chunk queue cap per stream. A consumer that stops pulling for this
	// long gets an error terminal instead of stalling the read loop.
	streamBufCap = 1024
)

// ToolProvider answers the worker's reverse-bridge calls. nil means an
// empty tool set.
type ToolProvider interface {
	Tools(ctx context.Context) ([]domain.MCPTool, error)
	Execute(ctx context.Context, name string, params json.RawMessage) (json.RawMessage, error)
}

// Proxy is a process-wide resource with explicit Terminate; tests create
// and tear down their own instances.
type Proxy struct {
	transport Transport
	tools     ToolProvider

	mu          sync.Mutex
	conn        Conn
	ids         wire.IDGenerator
	pending     map[string]chan result
	streams     map[string]*stream
	initialized chan struct{}
	restarts    int
	dead        bool
	closed      bool
	subscribers []func(error)
}

type result struct {
	frame *wire.Frame
	err   error
}

type stream struct {
	ch       chan domain.Token
	finished chan struct{}
}

// New creates a proxy over the given transport. Call Start before use.
func New(t Transport, tools ToolProvider) *Proxy {
	return &Proxy{
		transport: t,
		tools:     tools,
		pending:   make(map[string]chan result),
		streams:   make(map[string]*stream),
	}
}

// Start launches the first worker incarnation and sends init.
func (p *Proxy) Start() error {
	return p.start()
}

// Subscribe registers a callback invoked on worker errors (crash, restart
// exhaustion). Callbacks run off the proxy's locks.
func (p *Proxy) Subscribe(fn func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers = append(p.subscribers, fn)
}

// WaitForInitialization returns once the current worker incarnation has
// acknowledged init. Requests issued earlier queue behind the same gate and
// proceed in order.
func (p *Proxy) WaitForInitialization(ctx context.Context) error {
	p.mu.Lock()
	if p.dead {
		p.mu.Unlock()
		return domain.ErrWorkerUnavailable
	}
	ch := p.initialized
	p.mu.Unlock()

	if ch == nil {
		return fmt.Errorf("%w: not started", domain.ErrWorkerUnavailable)
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send issues one request and blocks for its terminal response. Fails on
// the per-class deadline, on caller cancel, or on worker death. Timeouts
// and cancels of generation kinds also dispatch an abortGeneration so the
// worker can release native resources.
func (p *Proxy) Send(ctx context.Context, msgType string, payload any) (json.RawMessage, error) {
	if err := p.WaitForInitialization(ctx); err != nil {
		return nil, err
	}
	return p.send(ctx, msgType, payload)
}

func (p *Proxy) send(ctx context.Context, msgType string, payload any) (json.RawMessage, error) {
	data, err := wire.Encode(payload)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.dead || p.closed {
		p.mu.Unlock()
		return nil, domain.ErrWorkerUnavailable
	}
	conn := p.conn
	if conn == nil {
		p.mu.Unlock()
		return nil, domain.ErrWorkerUnavailable
	}
	id := p.ids.Next()
	ch := make(chan result, 1)
	p.pending[id] = ch
	p.mu.Unlock()

	if err := conn.Codec().WriteFrame(wire.Envelope{ID: id, Type: msgType, Data: data}); err != nil {
		p.dropPending(id)
		return nil, fmt.Errorf("%w: %v", domain.ErrWorkerUnavailable, err)
	}

	metrics.RequestsInFlight.Inc()
	defer metrics.RequestsInFlight.Dec()

	timer := time.NewTimer(timeoutFor(msgType))
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		if res.frame.Success != nil && !*res.frame.Success {
			return nil, remoteError(res.frame.Error)
		}
		return res.frame.Data, nil
	case <-timer.C:
		p.dropPending(id)
		if isGenerationKind(msgType) {
			p.abortAsync(id)
		}
		return nil, fmt.Errorf("%w: %s after %v", domain.ErrTimeout, msgType, timeoutFor(msgType))
	case <-ctx.Done():
		p.dropPending(id)
		if isGenerationKind(msgType) {
			p.abortAsync(id)
		}
		return nil, ctx.Err()
	}
}

// Stream issues a streaming request and returns its ordered chunk channel.
// The channel delivers a terminal Token (Done or Err) and is then closed.
// Cancelling ctx aborts the generation: the worker receives an
// abortGeneration for the original correlation id and the channel
// terminates with an AbortError.
func (p *Proxy) Stream(ctx context.Context, msgType string, payload any) (<-chan domain.Token, error) {
	if err := p.WaitForInitialization(ctx); err != nil {
		return nil, err
	}

	data, err := wire.Encode(payload)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.dead || p.closed || p.conn == nil {
		p.mu.Unlock()
		return nil, domain.ErrWorkerUnavailable
	}
	conn := p.conn
	id := p.ids.Next()
	st := &stream{ch: make(chan domain.Token, streamBufCap), finished: make(chan struct{})}
	p.streams[id] = st
	p.mu.Unlock()

	if err := conn.Codec().WriteFrame(wire.Envelope{ID: id, Type: msgType, Data: data}); err != nil {
		p.finishStream(id, domain.Token{Err: fmt.Errorf("%w: %v", domain.ErrWorkerUnavailable, err)})
		return nil, domain.ErrWorkerUnavailable
	}

	go func() {
		timer := time.NewTimer(timeoutFor(msgType))
		defer timer.Stop()
		select {
		case <-st.finished:
		case <-ctx.Done():
			p.abortAsync(id)
			metrics.StreamAborts.Inc()
			p.finishStream(id, domain.Token{Err: domain.AbortError("stream cancelled by caller")})
		case <-timer.C:
			p.abortAsync(id)
			p.finishStream(id, domain.Token{Err: fmt.Errorf("%w: stream after %v", domain.ErrTimeout, timeoutFor(msgType))})
		}
	}()

	return st.ch, nil
}

// Terminate aborts every in-flight request and asks the worker to exit.
// The proxy is unusable afterwards.
func (p *Proxy) Terminate() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.dead = true
	conn := p.conn
	p.conn = nil
	pend, strs := p.takeInflightLocked()
	p.mu.Unlock()

	failErr := domain.AbortError("proxy terminated")
	for _, ch := range pend {
		ch <- result{err: failErr}
	}
	for _, st := range strs {
		st.deliver(domain.Token{Err: failErr})
	}

	if conn != nil {
		// Closing the write side EOFs the worker's read loop; kill as a
		// backstop.
		conn.Codec().Close() //nolint:errcheck
		time.AfterFunc(2*time.Second, conn.Kill)
	}
}

// ─── Incarnation lifecycle ──────────────────────────────────────────────────

func (p *Proxy) start() error {
	conn, err := p.transport.Start()
	if err != nil {
		return fmt.Errorf("start worker: %w", err)
	}

	initialized := make(chan struct{})
	p.mu.Lock()
	p.conn = conn
	p.initialized = initialized
	p.mu.Unlock()

	go p.readLoop(conn)
	go func() {
		conn.Wait() //nolint:errcheck
		p.workerDied(conn, errors.New("worker process exited"))
	}()
	go p.sendInit(conn, initialized)
	return nil
}

// sendInit performs the init handshake for one incarnation, bypassing the
// initialization gate.
func (p *Proxy) sendInit(conn Conn, initialized chan struct{}) {
	if _, err := p.send(context.Background(), wire.TypeInit, nil); err != nil {
		log.Printf("[proxy] init failed: %v", err)
		return
	}
	metrics.WorkerUp.Set(1)
	close(initialized)
}

func (p *Proxy) readLoop(conn Conn) {
	for {
		f, err := conn.Codec().ReadFrame()
		if err != nil {
			p.workerDied(conn, fmt.Errorf("transport error: %w", err))
			return
		}
		p.route(conn, f)
	}
}

func (p *Proxy) route(conn Conn, f *wire.Frame) {
	switch {
	case f.IsReverseCall():
		go p.handleReverse(conn, f)
	case f.IsStreamChunk():
		p.routeChunk(f)
	case f.IsTerminal():
		p.routeTerminal(f)
	default:
		log.Printf("[proxy] dropping unroutable frame id=%s type=%s", f.ID, f.Type)
	}
}

func (p *Proxy) routeChunk(f *wire.Frame) {
	p.mu.Lock()
	st := p.streams[f.ID]
	p.mu.Unlock()
	if st == nil {
		return // aborted or unknown — chunks after abort are expected
	}

	var text string
	if err := json.Unmarshal(f.Data, &text); err != nil {
		p.finishStream(f.ID, domain.Token{Err: fmt.Errorf("%w: bad chunk: %v", domain.ErrInvalidPayload, err)})
		return
	}

	// Keep one slot free so the terminal token can never block behind a
	// full queue.
	if len(st.ch) >= streamBufCap-1 {
		p.finishStream(f.ID, domain.Token{Err: errors.New("stream consumer too slow: chunk queue overflow")})
		return
	}
	select {
	case st.ch <- domain.Token{Text: text}:
	default:
		p.finishStream(f.ID, domain.Token{Err: errors.New("stream consumer too slow: chunk queue overflow")})
	}
}

func (p *Proxy) routeTerminal(f *wire.Frame) {
	// Streams first: a terminal for a stream id carries STREAM_COMPLETE
	// or an error.
	p.mu.Lock()
	_, isStream := p.streams[f.ID]
	p.mu.Unlock()

	if isStream {
		if f.Success != nil && *f.Success {
			p.finishStream(f.ID, domain.Token{Done: true})
		} else {
			p.finishStream(f.ID, domain.Token{Err: remoteError(f.Error)})
		}
		return
	}

	p.mu.Lock()
	ch := p.pending[f.ID]
	delete(p.pending, f.ID)
	p.mu.Unlock()
	if ch != nil {
		ch <- result{frame: f}
	}
}

// workerDied handles one incarnation's death exactly once: every
// outstanding request fails with a crash error, subscribers are notified,
// and a restart is scheduled while the budget lasts.
func (p *Proxy) workerDied(conn Conn, cause error) {
	p.mu.Lock()
	if p.closed || p.conn != conn {
		p.mu.Unlock()
		return
	}
	p.conn = nil
	pend, strs := p.takeInflightLocked()
	subscribers := append([]func(error){}, p.subscribers...)

	p.restarts++
	canRestart := p.restarts <= maxRestarts
	if !canRestart {
		p.dead = true
	}
	p.mu.Unlock()

	log.Printf("[proxy] worker died: %v (restart %d/%d)", cause, p.restarts, maxRestarts)
	metrics.WorkerUp.Set(0)
	metrics.WorkerRestarts.Inc()
	metrics.ModelsLoaded.Set(0) // loaded state dies with the incarnation

	crashErr := fmt.Errorf("%w: %v", domain.ErrWorkerCrashed, cause)
	for _, ch := range pend {
		ch <- result{err: crashErr}
	}
	for _, st := range strs {
		st.deliver(domain.Token{Err: crashErr})
	}
	for _, fn := range subscribers {
		fn(crashErr)
	}

	if canRestart {
		time.AfterFunc(restartDelay, func() {
			if err := p.start(); err != nil {
				p.noteRestartFailure(err)
			}
		})
	}
}

// noteRestartFailure burns restart budget when the transport itself fails.
func (p *Proxy) noteRestartFailure(err error) {
	p.mu.Lock()
	p.restarts++
	canRestart := p.restarts <= maxRestarts && !p.closed
	if !canRestart {
		p.dead = true
	}
	subscribers := append([]func(error){}, p.subscribers...)
	p.mu.Unlock()

	log.Printf("[proxy] worker restart failed: %v", err)
	for _, fn := range subscribers {
		fn(err)
	}
	if canRestart {
		time.AfterFunc(restartDelay, func() {
			if err := p.start(); err != nil {
				p.noteRestartFailure(err)
			}
		})
	}
}

// takeInflightLocked empties both request tables. Caller holds p.mu.
func (p *Proxy) takeInflightLocked() (map[string]chan result, map[string]*stream) {
	pend, strs := p.pending, p.streams
	p.pending = make(map[string]chan result)
	p.streams = make(map[string]*stream)
	return pend, strs
}

// finishStream delivers the terminal token and closes the stream. Only the
// goroutine that removes the stream from the table delivers, so the
// terminal is exactly-once.
func (p *Proxy) finishStream(id string, terminal domain.Token) {
	p.mu.Lock()
	st := p.streams[id]
	delete(p.streams, id)
	p.mu.Unlock()
	if st != nil {
		st.deliver(terminal)
	}
}

func (st *stream) deliver(terminal domain.Token) {
	if terminal.Err == nil {
		terminal.Done = true
	}
	st.ch <- terminal
	close(st.ch)
	close(st.finished)
}

func (p *Proxy) dropPending(id string) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

// abortAsync dispatches an abortGeneration for the given original
// correlation id without blocking the caller.
func (p *Proxy) abortAsync(requestID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
		defer cancel()
		if _, err := p.send(ctx, wire.TypeAbortGeneration, wire.AbortPayload{RequestID: requestID}); err != nil {
			log.Printf("[proxy] abort %s: %v", requestID, err)
		}
	}()
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func timeoutFor(msgType string) time.Duration {
	switch msgType {
	case wire.TypeGenerate, wire.TypeGenerateStream:
		return generationTimeout
	case wire.TypeDownloadProgress:
		return downloadTimeout
	default:
		return controlTimeout
	}
}

func isGenerationKind(msgType string) bool {
	return msgType == wire.TypeGenerate || msgType == wire.TypeGenerateStream
}

// remoteError reconstructs a worker-side error, mapping known sentinel
// strings back onto their domain errors so errors.Is keeps working across
// the process boundary.
func remoteError(msg string) error {
	raw := errors.New(msg)
	switch {
	case domain.IsAbort(raw):
		return raw // keep the AbortError prefix intact
	case containsSentinel(msg, domain.ErrModelNotFound):
		return fmt.Errorf("%w: %s", domain.ErrModelNotFound, msg)
	case containsSentinel(msg, domain.ErrModelNotLoaded):
		return fmt.Errorf("%w: %s", domain.ErrModelNotLoaded, msg)
	case containsSentinel(msg, domain.ErrNoUserMessage):
		return fmt.Errorf("%w: %s", domain.ErrNoUserMessage, msg)
	case containsSentinel(msg, domain.ErrResourceUnavailable):
		return fmt.Errorf("%w: %s", domain.ErrResourceUnavailable, msg)
	default:
		return raw
	}
}

func containsSentinel(msg string, sentinel error) bool {
	return msg != "" && sentinel != nil && strings.Contains(msg, sentinel.Error())
}
