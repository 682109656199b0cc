package wire

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// maxFrameBytes bounds a single NDJSON line. Generation results can carry
// whole responses, so the limit is generous.
const maxFrameBytes = 16 * 1024 * 1024

// Codec frames messages as newline-delimited JSON over an ordered duplex
// byte stream. Writes are serialized; reads are expected from one goroutine.
type Codec struct {
	wmu sync.Mutex
	w   *bufio.Writer
	r   *bufio.Scanner
	c   io.Closer
}

// NewCodec wraps the given stream halves. closer may be nil.
func NewCodec(r io.Reader, w io.Writer, closer io.Closer) *Codec {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxFrameBytes)
	return &Codec{
		w: bufio.NewWriter(w),
		r: sc,
		c: closer,
	}
}

// WriteFrame marshals v and writes it as one line. Safe for concurrent use.
func (c *Codec) WriteFrame(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.w.Write(raw); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if err := c.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return c.w.Flush()
}

// ReadFrame blocks for the next frame. Returns io.EOF when the peer closed
// the stream. Blank lines are skipped.
func (c *Codec) ReadFrame() (*Frame, error) {
	for c.r.Scan() {
		line := bytes.TrimSpace(c.r.Bytes())
		if len(line) == 0 {
			continue
		}
		var f Frame
		if err := json.Unmarshal(line, &f); err != nil {
			return nil, fmt.Errorf("decode frame: %w", err)
		}
		return &f, nil
	}
	if err := c.r.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// Close closes the underlying stream if a closer was supplied.
func (c *Codec) Close() error {
	if c.c == nil {
		return nil
	}
	return c.c.Close()
}
