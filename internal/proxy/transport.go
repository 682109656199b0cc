package proxy

import (
	"fmt"
	"io"
	"os/exec"

	"github.com/sengac/mindstrike-sub006/internal/wire"
)

// Conn is one live worker incarnation.
type Conn interface {
	// Codec frames messages over the connection.
	Codec() *wire.Codec

	// Wait blocks until the worker exits, returning its exit error.
	Wait() error

	// Kill forcefully terminates the worker.
	Kill()
}

// Transport starts worker incarnations. The subprocess transport re-execs
// the current binary with the hidden worker subcommand; tests substitute an
// in-memory pipe transport.
type Transport interface {
	Start() (Conn, error)
}

// ─── Subprocess Transport ───────────────────────────────────────────────────

// SubprocessTransport spawns the worker as a child process and frames
// messages over its stdio pipes. Pipe EOF doubles as the death signal.
type SubprocessTransport struct {
	// Path to the executable; usually os.Executable().
	Exe string

	// Args passed to the child, e.g. ["worker", "--models-dir", dir].
	Args []string

	// Stderr receives the worker's stderr verbatim (its log output).
	// nil discards it.
	Stderr io.Writer
}

func (t *SubprocessTransport) Start() (Conn, error) {
	cmd := exec.Command(t.Exe, t.Args...)
	if t.Stderr != nil {
		cmd.Stderr = t.Stderr
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}

	return &processConn{
		cmd:   cmd,
		codec: wire.NewCodec(stdout, stdin, stdin),
	}, nil
}

type processConn struct {
	cmd   *exec.Cmd
	codec *wire.Codec
}

func (c *processConn) Codec() *wire.Codec { return c.codec }

func (c *processConn) Wait() error { return c.cmd.Wait() }

func (c *processConn) Kill() {
	if c.cmd.Process != nil {
		c.cmd.Process.Kill() //nolint:errcheck
	}
}

// ─── Pipe Transport (tests) ─────────────────────────────────────────────────

// PipeTransport runs a worker loop in-process over io.Pipe pairs. Serve is
// called on its own goroutine with the worker-side codec; when it returns,
// the connection reads EOF, which the proxy treats as a worker death.
type PipeTransport struct {
	Serve func(codec *wire.Codec)
}

func (t *PipeTransport) Start() (Conn, error) {
	c2w := newPipe() // controller → worker
	w2c := newPipe() // worker → controller

	workerCodec := wire.NewCodec(c2w.r, w2c.w, nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer w2c.w.Close()
		t.Serve(workerCodec)
	}()

	return &pipeConn{
		codec: wire.NewCodec(w2c.r, c2w.w, c2w.w),
		done:  done,
		kill: func() {
			c2w.w.Close()
			c2w.r.Close()
			w2c.w.Close()
			w2c.r.Close()
		},
	}, nil
}

type pipePair struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func newPipe() pipePair {
	r, w := io.Pipe()
	return pipePair{r: r, w: w}
}

type pipeConn struct {
	codec *wire.Codec
	done  chan struct{}
	kill  func()
}

func (c *pipeConn) Codec() *wire.Codec { return c.codec }

func (c *pipeConn) Wait() error {
	<-c.done
	return nil
}

func (c *pipeConn) Kill() { c.kill() }
