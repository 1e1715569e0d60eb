package agent

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eli0shin/envoy-sub002/config"
	"github.com/eli0shin/envoy-sub002/errors"
	"github.com/eli0shin/envoy-sub002/llm"
	"github.com/eli0shin/envoy-sub002/session"
	"github.com/eli0shin/envoy-sub002/tools"
)

type scriptedClient struct {
	responses []*llm.ChatResponse
	errs      []error
	calls     int
}

func (s *scriptedClient) Provider() string { return "mock" }

func (s *scriptedClient) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return s.responses[i], nil
}

type noteTool struct{}

func (noteTool) Name() string                        { return "note" }
func (noteTool) Description() string                 { return "records a note" }
func (noteTool) InputSchema() map[string]interface{} { return nil }
func (noteTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	return "noted", nil
}

func newTestAgent(client llm.Client) *Agent {
	cfg := &config.Config{MaxSteps: 3, SystemPrompt: "helper"}
	return New(cfg, nil, client, []tools.Tool{noteTool{}}, ModeAuto, ToolVerbosityNone, nil, zap.NewNop())
}

func stopResponse(text string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Message:      session.Message{Role: "assistant", Content: text},
		FinishReason: llm.FinishStop,
	}
}

func toolResponse(id string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Message: session.Message{
			Role: "assistant",
			ToolCalls: []session.ToolCall{
				{ToolCallID: id, Name: "note", Args: map[string]interface{}{}},
			},
		},
		FinishReason: llm.FinishToolCalls,
	}
}

func TestRunTurnSingleStep(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{stopResponse("all done")}}
	a := newTestAgent(client)

	res, err := a.RunTurn(context.Background(), "hello", TurnCallbacks{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, StopReasonDone, res.StopReason)
	assert.Equal(t, "all done", res.Response)
	assert.Zero(t, res.ToolCallsCount)
	assert.Equal(t, 1, client.calls)

	// History: user input then assistant reply.
	require.Len(t, a.Messages, 2)
	assert.Equal(t, "user", a.Messages[0].Role)
	assert.Equal(t, "assistant", a.Messages[1].Role)
}

func TestRunTurnToolStepThenStop(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{
		toolResponse("c1"),
		stopResponse("used the tool"),
	}}
	a := newTestAgent(client)

	var seen []string
	res, err := a.RunTurn(context.Background(), "take a note", TurnCallbacks{
		OnMessage: func(m session.Message) { seen = append(seen, m.Role) },
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.ToolCallsCount)
	assert.False(t, res.HasToolErrors)
	assert.Equal(t, "used the tool", res.Response)
	assert.Equal(t, 2, client.calls)

	// user, assistant(tool call), tool, assistant.
	require.Len(t, a.Messages, 4)
	assert.Equal(t, "tool", a.Messages[2].Role)
	assert.Equal(t, "noted", a.Messages[2].Content)

	assert.Equal(t, []string{"assistant", "tool", "assistant"}, seen)
}

func TestRunTurnRecoversFromUnknownTool(t *testing.T) {
	unknown := &llm.ChatResponse{
		Message: session.Message{
			Role: "assistant",
			ToolCalls: []session.ToolCall{
				{ToolCallID: "c1", Name: "no_such_tool", Args: map[string]interface{}{}},
			},
		},
		FinishReason: llm.FinishToolCalls,
	}
	client := &scriptedClient{responses: []*llm.ChatResponse{
		unknown,
		stopResponse("recovered"),
	}}
	a := newTestAgent(client)

	res, err := a.RunTurn(context.Background(), "go", TurnCallbacks{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.HasToolErrors)
	assert.Equal(t, "recovered", res.Response)

	// The failure is folded into the history as a synthetic user message so
	// the model can change course.
	var synthetic string
	for _, m := range a.Messages {
		if m.Role == "user" && m.Content != "go" {
			synthetic = m.Content
		}
	}
	assert.Contains(t, synthetic, "Tool call failed:")
	assert.Contains(t, synthetic, "Please try a different approach or use different tools.")
}

func TestRunTurnMaxSteps(t *testing.T) {
	// The model keeps calling tools and never produces text.
	client := &scriptedClient{responses: []*llm.ChatResponse{toolResponse("c")}}
	a := newTestAgent(client)

	res, err := a.RunTurn(context.Background(), "loop forever", TurnCallbacks{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, StopReasonMaxSteps, res.StopReason)
	assert.Equal(t, "Maximum steps reached", res.Response)
	assert.Equal(t, a.Config.MaxSteps, client.calls)
	assert.Equal(t, a.Config.MaxSteps, res.ToolCallsCount)
}

func TestRunTurnMaxStepsKeepsLastAssistantText(t *testing.T) {
	partial := &llm.ChatResponse{
		Message: session.Message{
			Role:    "assistant",
			Content: "working on it",
			ToolCalls: []session.ToolCall{
				{ToolCallID: "c1", Name: "note", Args: map[string]interface{}{}},
			},
		},
		FinishReason: llm.FinishToolCalls,
	}
	client := &scriptedClient{responses: []*llm.ChatResponse{partial}}
	a := newTestAgent(client)

	res, err := a.RunTurn(context.Background(), "loop", TurnCallbacks{})
	require.NoError(t, err)
	assert.Equal(t, StopReasonMaxSteps, res.StopReason)
	assert.Equal(t, "working on it", res.Response)
}

func TestRunTurnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &scriptedClient{responses: []*llm.ChatResponse{stopResponse("never")}}
	a := newTestAgent(client)

	res, err := a.RunTurn(ctx, "hello", TurnCallbacks{})
	require.Error(t, err)
	assert.True(t, errors.IsCancelled(err))
	assert.False(t, res.Success)
	assert.Equal(t, StopReasonCancelled, res.StopReason)
	assert.Equal(t, "Operation cancelled by user", res.Response)
	assert.Zero(t, client.calls)
}

func TestRunTurnFatalError(t *testing.T) {
	client := &scriptedClient{errs: []error{fmt.Errorf("provider melted")}}
	a := newTestAgent(client)

	res, err := a.RunTurn(context.Background(), "hello", TurnCallbacks{})
	require.Error(t, err)
	assert.False(t, errors.IsRecoverable(err))
	assert.False(t, res.Success)
	assert.Equal(t, StopReasonError, res.StopReason)
	assert.NotEmpty(t, res.Error)
	assert.Equal(t, 1, client.calls)
}
