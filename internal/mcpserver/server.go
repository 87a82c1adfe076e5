// Package mcpserver exposes the daemon's worker over MCP stdio, so agent
// hosts can call worker methods as tools.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/lydakis/sidecar/internal/ipc"
)

// Caller sends one control request to the daemon. Canceling ctx abandons
// the request.
type Caller interface {
	Call(ctx context.Context, req *ipc.Request) (*ipc.Response, error)
}

// New builds an MCP server whose tools forward to the daemon through c.
func New(c Caller, version string) *server.MCPServer {
	s := server.NewMCPServer("sidecar", version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	h := &handlers{caller: c}

	s.AddTool(mcp.NewTool("worker_call",
		mcp.WithDescription("Call a worker method and wait for its result."),
		mcp.WithString("method", mcp.Required(), mcp.Description("Worker method name")),
		mcp.WithObject("params", mcp.Description("Method parameters, passed to the worker unchanged")),
		mcp.WithString("cache_ttl", mcp.Description("Serve from cache for this long, e.g. 30s; 0s bypasses the cache")),
	), h.call)

	s.AddTool(mcp.NewTool("worker_fire",
		mcp.WithDescription("Start a long-running worker operation. Returns the worker's acknowledgement; progress arrives as worker events."),
		mcp.WithString("method", mcp.Required(), mcp.Description("Worker method name")),
		mcp.WithObject("params", mcp.Description("Method parameters, passed to the worker unchanged")),
	), h.fire)

	s.AddTool(mcp.NewTool("worker_status",
		mcp.WithDescription("Report worker process state and its last status event."),
	), h.status)

	return s
}

// Serve runs the MCP server over in/out until ctx ends or in closes.
func Serve(ctx context.Context, c Caller, version string, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(New(c, version)).Listen(ctx, in, out)
}

type handlers struct {
	caller Caller
}

func (h *handlers) call(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	method, err := req.RequireString("method")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	params, err := toolParams(req.GetArguments())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	ipcReq := &ipc.Request{Type: ipc.TypeCall, Method: method, Params: params}
	if raw := req.GetString("cache_ttl", ""); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid cache_ttl: %v", err)), nil
		}
		ipcReq.Cache = &ttl
	}
	return h.forward(ctx, ipcReq), nil
}

func (h *handlers) fire(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	method, err := req.RequireString("method")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	params, err := toolParams(req.GetArguments())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return h.forward(ctx, &ipc.Request{Type: ipc.TypeFire, Method: method, Params: params}), nil
}

func (h *handlers) status(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.forward(ctx, &ipc.Request{Type: ipc.TypeStatus}), nil
}

func (h *handlers) forward(ctx context.Context, req *ipc.Request) *mcp.CallToolResult {
	resp, err := h.caller.Call(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("daemon unavailable: %v", err))
	}
	if resp.ExitCode != ipc.ExitOK {
		msg := strings.TrimSpace(resp.Stderr)
		if msg == "" {
			msg = fmt.Sprintf("worker call failed (exit %d)", resp.ExitCode)
		}
		return mcp.NewToolResultError(msg)
	}
	return mcp.NewToolResultText(strings.TrimSpace(string(resp.Content)))
}

// toolParams extracts the params argument. A string is accepted when it
// holds JSON, for clients that cannot send nested objects.
func toolParams(args map[string]any) (json.RawMessage, error) {
	v, ok := args["params"]
	if !ok || v == nil {
		return nil, nil
	}
	if s, ok := v.(string); ok {
		if !json.Valid([]byte(s)) {
			return nil, fmt.Errorf("params is not valid JSON")
		}
		return json.RawMessage(s), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding params: %w", err)
	}
	return data, nil
}
