package mcpbridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/opencli/opencli/internal/rpc"
	"github.com/opencli/opencli/internal/stream"
	"github.com/opencli/opencli/internal/tracker"
)

type fakeCaller struct {
	method  string
	params  []string
	timeout time.Duration
	resp    *rpc.Response
	err     error
}

func (f *fakeCaller) Call(method string, params []string, timeout time.Duration) (*rpc.Response, error) {
	f.method, f.params, f.timeout = method, params, timeout
	return f.resp, f.err
}

type fakeSubmitter struct {
	sub    stream.Submission
	onSend func(stream.Submission)
}

func (f *fakeSubmitter) Submit(taskType string, data map[string]any, opts ...stream.SubmitOption) (stream.Submission, error) {
	sub := f.sub
	sub.TaskType = taskType
	sub.TaskData = data
	for _, opt := range opts {
		opt(&sub)
	}
	if f.onSend != nil {
		f.onSend(sub)
	}
	return sub, nil
}

func toolRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{Params: mcp.CallToolParams{Name: name, Arguments: args}}
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("result has no content")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content[0] = %T, want mcp.TextContent", res.Content[0])
	}
	return text.Text
}

func TestCallToolForwardsToDaemon(t *testing.T) {
	caller := &fakeCaller{resp: &rpc.Response{Success: true, Result: "pong"}}
	b := New(caller, nil, nil, nil)

	res, err := b.handleCall(context.Background(), toolRequest(ToolCall, map[string]any{
		"method":     "system.ping",
		"params":     []any{"a", "b"},
		"timeout_ms": 1500,
	}))
	if err != nil {
		t.Fatalf("handleCall() error = %v", err)
	}
	if res.IsError {
		t.Fatalf("handleCall() IsError = true, content %q", resultText(t, res))
	}
	if got := resultText(t, res); got != "pong" {
		t.Fatalf("result text = %q, want pong", got)
	}
	if caller.method != "system.ping" || len(caller.params) != 2 || caller.params[1] != "b" {
		t.Fatalf("caller got %q %v, want system.ping [a b]", caller.method, caller.params)
	}
	if caller.timeout != 1500*time.Millisecond {
		t.Fatalf("caller timeout = %v, want 1.5s", caller.timeout)
	}
}

func TestCallToolReportsErrors(t *testing.T) {
	caller := &fakeCaller{err: &rpc.CallError{Method: "x", Message: "Unknown error"}}
	b := New(caller, nil, nil, nil)

	res, err := b.handleCall(context.Background(), toolRequest(ToolCall, map[string]any{"method": "x"}))
	if err != nil {
		t.Fatalf("handleCall() error = %v", err)
	}
	if !res.IsError || resultText(t, res) != "Unknown error" {
		t.Fatalf("handleCall() = %+v, want tool error 'Unknown error'", res)
	}

	res, _ = b.handleCall(context.Background(), toolRequest(ToolCall, map[string]any{}))
	if !res.IsError {
		t.Fatal("handleCall() without method should be a tool error")
	}

	caller.err = errors.Join(rpc.ErrDaemonNotRunning)
	res, _ = b.handleCall(context.Background(), toolRequest(ToolCall, map[string]any{"method": "x"}))
	if !res.IsError {
		t.Fatal("handleCall() with transport error should be a tool error")
	}
}

func TestSubmitToolWithoutWait(t *testing.T) {
	tr := tracker.New(tracker.Options{})
	b := New(nil, tr, &fakeSubmitter{sub: stream.Submission{ClientTaskID: "c1"}}, nil)

	res, err := b.handleSubmit(context.Background(), toolRequest(ToolSubmitTask, map[string]any{
		"task_type": "shell",
		"task_data": map[string]any{"cmd": "ls"},
		"priority":  2,
	}))
	if err != nil {
		t.Fatalf("handleSubmit() error = %v", err)
	}
	got, ok := res.StructuredContent.(map[string]any)
	if !ok || got["client_task_id"] != "c1" || got["status"] != "submitted" {
		t.Fatalf("StructuredContent = %#v, want submitted c1", res.StructuredContent)
	}
	if pending := tr.Pending(); len(pending) != 1 || *pending[0].Priority != 2 {
		t.Fatalf("tracker pending = %#v, want one task with priority 2", pending)
	}
}

func TestSubmitToolWaitsForOutcome(t *testing.T) {
	tr := tracker.New(tracker.Options{})
	sub := &fakeSubmitter{sub: stream.Submission{ClientTaskID: "c1"}}
	sub.onSend = func(s stream.Submission) {
		go tr.Observe(&stream.Envelope{ClientTaskID: s.ClientTaskID, TaskID: "srv-1", Status: stream.StatusFailed, Error: "denied by policy"})
	}
	b := New(nil, tr, sub, nil)

	res, err := b.handleSubmit(context.Background(), toolRequest(ToolSubmitTask, map[string]any{
		"task_type":    "shell",
		"wait_seconds": 5,
	}))
	if err != nil {
		t.Fatalf("handleSubmit() error = %v", err)
	}
	if !res.IsError {
		t.Fatal("failed task should be reported as a tool error")
	}
	got := res.StructuredContent.(map[string]any)
	if got["status"] != "failed" || got["error"] != "denied by policy" || got["task_id"] != "srv-1" {
		t.Fatalf("StructuredContent = %#v, want failed srv-1", got)
	}
}

func TestServerRegistersTaskToolOnlyWithSession(t *testing.T) {
	without := New(&fakeCaller{}, nil, nil, nil).Server("test")
	if tools := without.ListTools(); len(tools) != 1 {
		t.Fatalf("tools without session = %d, want 1", len(tools))
	}
	with := New(&fakeCaller{}, tracker.New(tracker.Options{}), &fakeSubmitter{}, nil).Server("test")
	if tools := with.ListTools(); len(tools) != 2 {
		t.Fatalf("tools with session = %d, want 2", len(tools))
	}
}
