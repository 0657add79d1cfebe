// Package mcpbridge exposes the RPC daemon and the task session to MCP
// clients over stdio.
package mcpbridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/opencli/opencli/internal/rpc"
	"github.com/opencli/opencli/internal/stream"
	"github.com/opencli/opencli/internal/tracker"
)

const (
	ToolCall       = "opencli_call"
	ToolSubmitTask = "opencli_submit_task"

	maxWait = 10 * time.Minute
)

// Caller issues one unary RPC.
type Caller interface {
	Call(method string, params []string, timeout time.Duration) (*rpc.Response, error)
}

// Bridge routes MCP tool calls.
type Bridge struct {
	caller    Caller
	tracker   *tracker.Tracker
	submitter tracker.Submitter
	logger    *slog.Logger
}

// New returns a bridge. The task tool is only offered when both t and
// submitter are non-nil.
func New(caller Caller, t *tracker.Tracker, submitter tracker.Submitter, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bridge{caller: caller, tracker: t, submitter: submitter, logger: logger}
}

// Server builds the MCP server with the bridge's tools registered.
func (b *Bridge) Server(version string) *server.MCPServer {
	s := server.NewMCPServer("opencli", version)
	s.AddTool(mcp.Tool{
		Name:        ToolCall,
		Description: "Invoke a method on the local opencli daemon and return its result",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"method":     map[string]any{"type": "string", "description": "Dot-namespaced method, e.g. system.health"},
				"params":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"timeout_ms": map[string]any{"type": "integer", "minimum": 1},
			},
			Required: []string{"method"},
		},
	}, b.handleCall)

	if b.tracker != nil && b.submitter != nil {
		s.AddTool(mcp.Tool{
			Name:        ToolSubmitTask,
			Description: "Submit a task to the task server; optionally wait for its outcome",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"task_type":    map[string]any{"type": "string"},
					"task_data":    map[string]any{"type": "object"},
					"priority":     map[string]any{"type": "integer"},
					"wait_seconds": map[string]any{"type": "integer", "minimum": 0},
				},
				Required: []string{"task_type"},
			},
		}, b.handleSubmit)
	}
	return s
}

// ServeStdio serves MCP on stdin/stdout until the client disconnects.
func (b *Bridge) ServeStdio(version string) error {
	return server.ServeStdio(b.Server(version))
}

func (b *Bridge) handleCall(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	method, err := req.RequireString("method")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	params := req.GetStringSlice("params", nil)
	timeout := time.Duration(req.GetInt("timeout_ms", 0)) * time.Millisecond

	resp, err := b.caller.Call(method, params, timeout)
	if err != nil {
		b.logger.Debug("mcp call failed", "method", method, "error", err)
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(resp.Result), nil
}

func (b *Bridge) handleSubmit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskType, err := req.RequireString("task_type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	args := req.GetArguments()
	data, _ := args["task_data"].(map[string]any)

	var opts []stream.SubmitOption
	if _, ok := args["priority"]; ok {
		opts = append(opts, stream.WithPriority(req.GetInt("priority", 0)))
	}

	sub, err := b.tracker.Submit(b.submitter, taskType, data, opts...)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("submit %s: %v", taskType, err)), nil
	}

	wait := time.Duration(req.GetInt("wait_seconds", 0)) * time.Second
	if wait <= 0 {
		return mcp.NewToolResultStructuredOnly(map[string]any{
			"client_task_id": sub.ClientTaskID,
			"status":         string(stream.StatusSubmitted),
		}), nil
	}
	if wait > maxWait {
		wait = maxWait
	}

	out, ok := b.tracker.Wait(ctx, sub.ClientTaskID, wait)
	if !ok {
		return mcp.NewToolResultStructuredOnly(map[string]any{
			"client_task_id": sub.ClientTaskID,
			"status":         string(stream.StatusTimedOut),
		}), nil
	}
	result := map[string]any{
		"client_task_id": out.ClientTaskID,
		"task_id":        out.TaskID,
		"status":         string(out.Status),
	}
	if out.Result != nil {
		result["result"] = out.Result
	}
	if out.Error != "" {
		result["error"] = out.Error
	}
	if out.Status != stream.StatusCompleted {
		res := mcp.NewToolResultStructuredOnly(result)
		res.IsError = true
		return res, nil
	}
	return mcp.NewToolResultStructuredOnly(result), nil
}
