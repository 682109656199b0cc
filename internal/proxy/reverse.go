package proxy

import (
	"context"
	"log"
	"time"

	"github.com/sengac/mindstrike-sub006/internal/wire"
)

const (
	toolListReplyTimeout    = 5 * time.Second
	toolExecuteReplyTimeout = 30 * time.Second
)

// handleReverse answers the worker's reverse-bridge calls. The response
// envelope echoes the worker's correlation id and carries the response
// type, never a success flag, so the worker routes it to its own pending
// table.
func (p *Proxy) handleReverse(conn Conn, f *wire.Frame) {
	switch f.Type {
	case wire.TypeMCPToolsRequest:
		p.replyTools(conn, f)
	case wire.TypeExecuteMCPTool:
		p.replyExecute(conn, f)
	}
}

func (p *Proxy) replyTools(conn Conn, f *wire.Frame) {
	payload := wire.ToolsResponsePayload{}
	if p.tools != nil {
		ctx, cancel := context.WithTimeout(context.Background(), toolListReplyTimeout)
		defer cancel()
		tools, err := p.tools.Tools(ctx)
		if err != nil {
			log.Printf("[proxy] tool listing failed: %v", err)
		} else {
			payload.Tools = tools
		}
	}
	p.replyReverse(conn, f.ID, wire.TypeMCPToolsResponse, payload)
}

func (p *Proxy) replyExecute(conn Conn, f *wire.Frame) {
	var req wire.ExecuteToolPayload
	payload := wire.ToolExecutionResponsePayload{}
	switch {
	case wire.Decode(f.Data, &req) != nil:
		payload.Error = "malformed tool execution request"
	case p.tools == nil:
		payload.Error = "no tool provider attached"
	default:
		ctx, cancel := context.WithTimeout(context.Background(), toolExecuteReplyTimeout)
		defer cancel()
		result, err := p.tools.Execute(ctx, req.Tool, req.Params)
		if err != nil {
			payload.Error = err.Error()
		} else {
			payload.Result = result
		}
	}
	p.replyReverse(conn, f.ID, wire.TypeMCPToolExecutionResp, payload)
}

func (p *Proxy) replyReverse(conn Conn, id, msgType string, payload any) {
	data, err := wire.Encode(payload)
	if err != nil {
		log.Printf("[proxy] encode %s: %v", msgType, err)
		return
	}
	if err := conn.Codec().WriteFrame(wire.Envelope{ID: id, Type: msgType, Data: data}); err != nil {
		log.Printf("[proxy] reply %s: %v", msgType, err)
	}
}
