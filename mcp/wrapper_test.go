package mcp

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testDecl(name string) *mcpsdk.Tool {
	return &mcpsdk.Tool{Name: name, Description: "test tool"}
}

func TestInvokeValidationFailure(t *testing.T) {
	ch := &fakeChannel{name: "fs"}
	tool := &WrappedTool{
		key:        "fs_read_file",
		serverName: "fs",
		baseName:   "read_file",
		validate: buildValidator(map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{"type": "string"},
			},
			"required": []interface{}{"path"},
		}),
		invoke: channelInvoke("read_file", ch, time.Second),
		logger: zap.NewNop(),
	}

	result := tool.Invoke(context.Background(), map[string]interface{}{})
	assert.Equal(t, "Error: Invalid arguments for tool fs_read_file", result)
	assert.EqualValues(t, 0, atomic.LoadInt32(&ch.callToolCalls), "channel must not be called on invalid arguments")

	result = tool.Invoke(context.Background(), map[string]interface{}{"path": 42})
	assert.Equal(t, "Error: Invalid arguments for tool fs_read_file", result)
}

func TestInvokeTimeout(t *testing.T) {
	ch := &fakeChannel{
		name: "slow",
		callTool: func(ctx context.Context, name string, args map[string]interface{}, progress chan<- struct{}) (*mcpsdk.CallToolResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	tool := Wrap(testDecl("hang"), ch, "slow", 50*time.Millisecond, zap.NewNop())

	result := tool.Invoke(context.Background(), map[string]interface{}{})
	assert.Equal(t, "Error: Tool execution timeout", result)
}

func TestInvokeTimeoutResetsOnProgress(t *testing.T) {
	// The call takes ~3x the timeout but reports progress the whole time,
	// so it must not be killed.
	ch := &fakeChannel{
		name: "slow",
		callTool: func(ctx context.Context, name string, args map[string]interface{}, progress chan<- struct{}) (*mcpsdk.CallToolResult, error) {
			deadline := time.After(450 * time.Millisecond)
			tick := time.NewTicker(50 * time.Millisecond)
			defer tick.Stop()
			for {
				select {
				case <-tick.C:
					select {
					case progress <- struct{}{}:
					default:
					}
				case <-deadline:
					return &mcpsdk.CallToolResult{
						Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "done"}},
					}, nil
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
		},
	}
	tool := Wrap(testDecl("long"), ch, "slow", 150*time.Millisecond, zap.NewNop())

	result := tool.Invoke(context.Background(), map[string]interface{}{})
	assert.Equal(t, "done", result)
}

func TestNormalizeResult(t *testing.T) {
	res := &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: "line one"},
			&mcpsdk.ImageContent{Data: []byte("abc123")},
			&mcpsdk.EmbeddedResource{Resource: &mcpsdk.ResourceContents{URI: "file:///tmp/x"}},
		},
	}
	out, err := normalizeResult(res)
	require.NoError(t, err)
	assert.Equal(t, "line one\n[Image: abc123]\n[Resource: file:///tmp/x]", out)
}

func TestNormalizeResultError(t *testing.T) {
	res := &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "disk on fire"}},
	}
	_, err := normalizeResult(res)
	require.Error(t, err)
	assert.Equal(t, "disk on fire", err.Error())

	_, err = normalizeResult(&mcpsdk.CallToolResult{IsError: true})
	require.Error(t, err)
	assert.Equal(t, "Tool execution failed", err.Error())
}

func TestChannelErrorBecomesErrorString(t *testing.T) {
	ch := &fakeChannel{
		name: "fs",
		callTool: func(ctx context.Context, name string, args map[string]interface{}, progress chan<- struct{}) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{
				IsError: true,
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "no such file"}},
			}, nil
		},
	}
	tool := Wrap(testDecl("read"), ch, "fs", time.Second, zap.NewNop())

	result := tool.Invoke(context.Background(), map[string]interface{}{})
	assert.Equal(t, "Error: no such file", result)
}

func TestValidatorLenience(t *testing.T) {
	tests := []struct {
		name   string
		schema map[string]interface{}
		args   map[string]interface{}
		valid  bool
	}{
		{"nil schema accepts anything", nil, map[string]interface{}{"x": 1}, true},
		{"non-object root accepts anything", map[string]interface{}{"type": "string"}, map[string]interface{}{"x": 1}, true},
		{"unknown property type accepts anything",
			map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"x": map[string]interface{}{"type": "tuple"}},
			},
			map[string]interface{}{"x": 1}, true},
		{"undeclared argument accepted",
			map[string]interface{}{"type": "object", "properties": map[string]interface{}{}},
			map[string]interface{}{"extra": true}, true},
		{"missing required rejected",
			map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"x": map[string]interface{}{"type": "string"}},
				"required":   []interface{}{"x"},
			},
			map[string]interface{}{}, false},
		{"wrong type rejected",
			map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"n": map[string]interface{}{"type": "number"}},
			},
			map[string]interface{}{"n": "NaN"}, false},
		{"number accepts float64",
			map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"n": map[string]interface{}{"type": "number"}},
			},
			map[string]interface{}{"n": float64(3)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := buildValidator(tt.schema)(tt.args)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestAuxToolsArePrePrefixed(t *testing.T) {
	ch := &fakeChannel{name: "docs"}

	var keys []string
	for _, tool := range PromptTools(ch, time.Second, zap.NewNop()) {
		keys = append(keys, tool.Name())
	}
	for _, tool := range ResourceTools(ch, time.Second, zap.NewNop()) {
		keys = append(keys, tool.Name())
	}
	assert.Equal(t, []string{"docs_list_prompts", "docs_get_prompt", "docs_list_resources", "docs_read_resource"}, keys)
}

func TestReadResourceAuxTool(t *testing.T) {
	ch := &fakeChannel{name: "docs"}
	auxTools := ResourceTools(ch, time.Second, zap.NewNop())
	read := auxTools[1]

	out := read.Invoke(context.Background(), map[string]interface{}{"uri": "doc://readme"})
	assert.Equal(t, "resource body", out)
}
