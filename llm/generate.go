package llm

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/eli0shin/envoy-sub002/errors"
	"github.com/eli0shin/envoy-sub002/session"
	"github.com/eli0shin/envoy-sub002/thinking"
	"github.com/eli0shin/envoy-sub002/tools"
)

// ToolResult is the outcome of one tool call executed during a generation
// step.
type ToolResult struct {
	ToolCallID string
	Name       string
	Result     string
}

// GenerateRequest assembles everything one generation step needs.
type GenerateRequest struct {
	Messages     []session.Message
	SystemPrompt string
	Tools        []tools.Tool
	Thinking     thinking.Knobs
	MaxRetries   int

	// OnToolCall and OnToolResult notify interactive surfaces. ShouldExecute
	// gates execution in prompt mode; nil means always execute.
	OnToolCall    func(session.ToolCall)
	OnToolResult  func(session.ToolCall, string)
	ShouldExecute func(session.ToolCall) bool
}

// GenerateResult is what one step hands back to the agent loop.
type GenerateResult struct {
	Text             string
	FinishReason     FinishReason
	Usage            Usage
	ToolResults      []ToolResult
	ResponseMessages []session.Message
}

// stringInvoker is satisfied by wrapped MCP tools, whose Invoke converts
// every failure into a uniform `Error: …` result string.
type stringInvoker interface {
	Invoke(ctx context.Context, args map[string]interface{}) string
}

// Generate performs one model invocation and executes any tool calls the
// model requested. Tool failures become result strings, never errors; an
// unknown tool name is a recoverable error the agent loop turns into a
// synthetic message. Transport and provider failures are fatal.
func Generate(ctx context.Context, client Client, req *GenerateRequest) (*GenerateResult, error) {
	messages := req.Messages
	if req.SystemPrompt != "" {
		messages = append([]session.Message{{Role: "system", Content: req.SystemPrompt}}, messages...)
	}

	resp, err := client.Chat(ctx, &ChatRequest{
		Messages:   messages,
		Tools:      req.Tools,
		Thinking:   req.Thinking,
		MaxRetries: req.MaxRetries,
	})
	if err != nil {
		return nil, classifyChatError(ctx, err)
	}

	result := &GenerateResult{
		Text:         resp.Message.Content,
		FinishReason: resp.FinishReason,
		Usage:        resp.Usage,
	}
	result.ResponseMessages = append(result.ResponseMessages, resp.Message)

	if len(resp.Message.ToolCalls) == 0 {
		return result, nil
	}

	for _, tc := range resp.Message.ToolCalls {
		tool, ok := tools.FindTool(req.Tools, tc.Name)
		if !ok {
			return nil, errors.Recoverable(errors.KindToolNotFound, "tool '%s' not found", tc.Name)
		}

		if req.OnToolCall != nil {
			req.OnToolCall(tc)
		}

		var output string
		if req.ShouldExecute != nil && !req.ShouldExecute(tc) {
			output = "Error: Tool execution declined by user"
		} else {
			output = executeTool(ctx, tool, tc.Args)
		}

		if req.OnToolResult != nil {
			req.OnToolResult(tc, output)
		}

		result.ToolResults = append(result.ToolResults, ToolResult{
			ToolCallID: tc.ToolCallID,
			Name:       tc.Name,
			Result:     output,
		})
		result.ResponseMessages = append(result.ResponseMessages, session.Message{
			Role:      "tool",
			Content:   output,
			ToolCalls: []session.ToolCall{{ToolCallID: tc.ToolCallID, Name: tc.Name}},
		})
	}

	result.FinishReason = FinishToolCalls
	return result, nil
}

// executeTool runs one tool and converts any failure into a result string,
// so the scheduler only ever sees strings for tool outcomes.
func executeTool(ctx context.Context, tool tools.Tool, args map[string]interface{}) string {
	if inv, ok := tool.(stringInvoker); ok {
		return inv.Invoke(ctx, args)
	}
	out, err := tool.Execute(ctx, args)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return out
}

// classifyChatError maps raw adapter failures onto the fatal/recoverable
// taxonomy. Errors already classified at the adapter boundary pass through.
func classifyChatError(ctx context.Context, err error) error {
	if errors.KindOf(err) != "" {
		return err
	}
	if stderrors.Is(err, context.Canceled) || ctx.Err() == context.Canceled {
		return errors.Fatal(errors.KindCancelled, "Operation cancelled by user")
	}
	return errors.FatalWrap(errors.KindConnectivity, err, "provider call failed")
}
