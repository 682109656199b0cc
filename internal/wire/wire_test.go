package wire

import (
	"encoding/json"
	"io"
	"strconv"
	"sync"
	"testing"
)

func TestCodec_RoundTrip(t *testing.T) {
	pr, pw := io.Pipe()
	writer := NewCodec(nil, pw, nil)
	reader := NewCodec(pr, nil, nil)

	go func() {
		data, _ := json.Marshal(map[string]string{"hello": "world"})
		writer.WriteFrame(Envelope{ID: "1", Type: TypeInit, Data: data})
	}()

	f, err := reader.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error: %v", err)
	}
	if f.ID != "1" || f.Type != TypeInit {
		t.Errorf("frame = %+v, want id=1 type=init", f)
	}
	var payload map[string]string
	if err := json.Unmarshal(f.Data, &payload); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if payload["hello"] != "world" {
		t.Errorf("payload = %v", payload)
	}
}

func TestCodec_EOFOnClose(t *testing.T) {
	pr, pw := io.Pipe()
	reader := NewCodec(pr, nil, nil)

	go pw.Close()

	if _, err := reader.ReadFrame(); err != io.EOF {
		t.Errorf("ReadFrame() after close = %v, want io.EOF", err)
	}
}

func TestCodec_SkipsBlankLines(t *testing.T) {
	pr, pw := io.Pipe()
	reader := NewCodec(pr, nil, nil)

	go func() {
		pw.Write([]byte("\n\n{\"id\":\"7\",\"type\":\"response\",\"success\":true}\n"))
		pw.Close()
	}()

	f, err := reader.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error: %v", err)
	}
	if f.ID != "7" || !f.IsTerminal() {
		t.Errorf("frame = %+v, want terminal id=7", f)
	}
}

func TestCodec_ConcurrentWrites(t *testing.T) {
	pr, pw := io.Pipe()
	writer := NewCodec(nil, pw, nil)
	reader := NewCodec(pr, nil, nil)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			writer.WriteFrame(Envelope{ID: strconv.Itoa(i), Type: TypeGetLocalModels})
		}(i)
	}
	go func() {
		wg.Wait()
		pw.Close()
	}()

	seen := make(map[string]bool)
	for {
		f, err := reader.ReadFrame()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadFrame() error: %v", err)
		}
		if seen[f.ID] {
			t.Errorf("duplicate frame id %s", f.ID)
		}
		seen[f.ID] = true
	}
	if len(seen) != n {
		t.Errorf("received %d frames, want %d", len(seen), n)
	}
}

func TestFrame_Classification(t *testing.T) {
	ok := true
	tests := []struct {
		name    string
		frame   Frame
		term    bool
		chunk   bool
		reverse bool
	}{
		{"terminal success", Frame{ID: "1", Type: TypeResponse, Success: &ok}, true, false, false},
		{"stream chunk", Frame{ID: "1", Type: TypeStreamChunk}, false, true, false},
		{"tools request", Frame{ID: "1", Type: TypeMCPToolsRequest}, false, false, true},
		{"tool execution", Frame{ID: "1", Type: TypeExecuteMCPTool}, false, false, true},
		{"request envelope", Frame{ID: "1", Type: TypeLoadModel}, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.frame.IsTerminal(); got != tt.term {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.term)
			}
			if got := tt.frame.IsStreamChunk(); got != tt.chunk {
				t.Errorf("IsStreamChunk() = %v, want %v", got, tt.chunk)
			}
			if got := tt.frame.IsReverseCall(); got != tt.reverse {
				t.Errorf("IsReverseCall() = %v, want %v", got, tt.reverse)
			}
		})
	}
}

func TestIDGenerator_MonotonicDecimal(t *testing.T) {
	var g IDGenerator
	prev := 0
	for i := 0; i < 100; i++ {
		id := g.Next()
		n, err := strconv.Atoi(id)
		if err != nil {
			t.Fatalf("id %q is not decimal: %v", id, err)
		}
		if n <= prev {
			t.Fatalf("id %d not greater than previous %d", n, prev)
		}
		prev = n
	}
}

func TestIDGenerator_ConcurrentUnique(t *testing.T) {
	var g IDGenerator
	const n = 200

	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- g.Next()
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestDecode_InvalidPayload(t *testing.T) {
	var out LoadModelPayload
	if err := Decode(json.RawMessage(`{"modelIdOrName": 42}`), &out); err == nil {
		t.Error("Decode() should fail on wrong field type")
	}
}
