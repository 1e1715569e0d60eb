package mcp

import (
	"context"
	"sync/atomic"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// fakeChannel scripts a capability channel for tests.
type fakeChannel struct {
	name      string
	caps      CapabilitySet
	tools     []*mcpsdk.Tool
	prompts   []*mcpsdk.Prompt
	resources []*mcpsdk.Resource

	listToolsErr     error
	listPromptsErr   error
	listResourcesErr error

	callTool func(ctx context.Context, name string, args map[string]interface{}, progress chan<- struct{}) (*mcpsdk.CallToolResult, error)

	listToolsCalls int32
	callToolCalls  int32
}

func (f *fakeChannel) Name() string               { return f.name }
func (f *fakeChannel) Capabilities() CapabilitySet { return f.caps }

func (f *fakeChannel) ListTools(ctx context.Context) ([]*mcpsdk.Tool, error) {
	atomic.AddInt32(&f.listToolsCalls, 1)
	return f.tools, f.listToolsErr
}

func (f *fakeChannel) ListPrompts(ctx context.Context) ([]*mcpsdk.Prompt, error) {
	return f.prompts, f.listPromptsErr
}

func (f *fakeChannel) ListResources(ctx context.Context) ([]*mcpsdk.Resource, error) {
	return f.resources, f.listResourcesErr
}

func (f *fakeChannel) CallTool(ctx context.Context, name string, args map[string]interface{}, progress chan<- struct{}) (*mcpsdk.CallToolResult, error) {
	atomic.AddInt32(&f.callToolCalls, 1)
	if f.callTool != nil {
		return f.callTool(ctx, name, args, progress)
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "ok"}},
	}, nil
}

func (f *fakeChannel) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcpsdk.GetPromptResult, error) {
	return &mcpsdk.GetPromptResult{
		Description: "fake prompt",
		Messages: []*mcpsdk.PromptMessage{
			{Role: "user", Content: &mcpsdk.TextContent{Text: "hello " + name}},
		},
	}, nil
}

func (f *fakeChannel) ReadResource(ctx context.Context, uri string) (*mcpsdk.ReadResourceResult, error) {
	return &mcpsdk.ReadResourceResult{
		Contents: []*mcpsdk.ResourceContents{{URI: uri, Text: "resource body"}},
	}, nil
}

func (f *fakeChannel) Close() error { return nil }
