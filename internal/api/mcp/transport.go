package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
)

// maxFrameBytes caps a single request line. route_query calls carry the
// question text plus an optional tool allow-list, so 4 MB is generous.
const maxFrameBytes = 4 << 20

// fallbackInternalError is written when even the error frame cannot be encoded.
var fallbackInternalError = []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"internal error"}}`)

// StdioTransport connects the statline MCP server to an agent host that
// speaks newline-framed JSON-RPC 2.0. One request per input line, one
// response per output line, nothing for notifications.
//
// stdout carries only response frames. Logs go to the transport logger,
// which cmd/statline-mcp points at stderr.
type StdioTransport struct {
	server *Server
	in     io.Reader
	out    io.Writer
	logger *slog.Logger
}

// NewStdioTransport returns a transport reading requests from in and writing
// responses to out. A nil logger falls back to the server's.
func NewStdioTransport(srv *Server, in io.Reader, out io.Writer, logger *slog.Logger) *StdioTransport {
	if logger == nil {
		logger = srv.logger
	}
	return &StdioTransport{
		server: srv,
		in:     in,
		out:    out,
		logger: logger.With("component", "mcp_stdio"),
	}
}

// Serve answers requests in arrival order until the agent closes the input
// stream (nil) or ctx ends (ctx.Err()). A route_query in flight when ctx ends
// still gets its response written before Serve returns.
func (t *StdioTransport) Serve(ctx context.Context) error {
	lines := bufio.NewScanner(t.in)
	lines.Buffer(make([]byte, 0, 64*1024), maxFrameBytes)

	var frames int
	for {
		if err := ctx.Err(); err != nil {
			t.logger.Info("mcp session interrupted", "frames", frames, "reason", err)
			return err
		}
		if !lines.Scan() {
			break
		}
		frame := lines.Bytes()
		if len(frame) == 0 {
			continue
		}
		frames++
		if err := t.answer(ctx, frame); err != nil {
			return err
		}
	}

	if err := lines.Err(); err != nil {
		t.logger.Error("reading mcp frames failed", "frames", frames, "error", err)
		return fmt.Errorf("mcp stdio: read frame: %w", err)
	}
	t.logger.Info("agent closed mcp session", "frames", frames)
	return nil
}

// answer dispatches one frame and writes its reply, if any.
func (t *StdioTransport) answer(ctx context.Context, frame []byte) error {
	reply, err := t.server.HandleRequest(ctx, frame)
	if err != nil {
		t.logger.Error("mcp request failed outside the protocol", "error", err)
		reply = internalFailure(frame, err)
	}
	if reply == nil {
		return nil
	}
	if _, err := t.out.Write(append(reply, '\n')); err != nil {
		t.logger.Error("writing mcp reply failed", "error", err)
		return fmt.Errorf("mcp stdio: write reply: %w", err)
	}
	return nil
}

// internalFailure wraps err in a -32603 frame, echoing the request id when
// one can be decoded from frame.
func internalFailure(frame []byte, err error) []byte {
	var req struct {
		ID interface{} `json:"id"`
	}
	_ = json.Unmarshal(frame, &req)

	data, mErr := json.Marshal(JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Error:   &JSONRPCError{Code: ErrCodeInternalError, Message: err.Error()},
	})
	if mErr != nil {
		return fallbackInternalError
	}
	return data
}
