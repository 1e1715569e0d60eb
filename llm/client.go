package llm

import (
	"context"
	"fmt"

	"github.com/eli0shin/envoy-sub002/errors"
	"github.com/eli0shin/envoy-sub002/session"
	"github.com/eli0shin/envoy-sub002/thinking"
	"github.com/eli0shin/envoy-sub002/tools"
)

// FinishReason is the provider-neutral classification of why a generation
// step ended.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishLength    FinishReason = "length"
	FinishToolCalls FinishReason = "tool-calls"
	FinishUnknown   FinishReason = "unknown"
)

// Usage is the token accounting reported by the provider for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ChatRequest is one raw model invocation: messages in, one assistant
// message out. Tool execution happens above this, in Generate.
type ChatRequest struct {
	Messages   []session.Message
	Tools      []tools.Tool
	Thinking   thinking.Knobs
	MaxRetries int
}

// ChatResponse carries the assistant message plus step metadata.
type ChatResponse struct {
	Message      session.Message
	FinishReason FinishReason
	Usage        Usage
}

// Client is the interface for one LLM provider adapter.
type Client interface {
	// Provider returns the provider family name ("anthropic", "openai", ...).
	Provider() string
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}

// NewClient constructs the adapter for the configured provider. An unknown
// provider is a fatal configuration error.
func NewClient(ctx context.Context, provider, model string) (Client, error) {
	switch provider {
	case "anthropic":
		return NewAnthropicClient(ctx, model)
	case "openai":
		return NewOpenAIClient(ctx, model)
	case "gemini":
		return NewGeminiClient(ctx, model)
	case "bedrock":
		return NewBedrockClient(ctx, model)
	case "mock":
		return &MockClient{}, nil
	default:
		return nil, errors.Fatal(errors.KindProvider, "unknown LLM provider '%s'", provider)
	}
}

// MockClient parrots the last user message back. Useful for wiring tests
// and dry runs without credentials.
type MockClient struct{}

func (m *MockClient) Provider() string { return "mock" }

func (m *MockClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	last := ""
	for _, msg := range req.Messages {
		if msg.Role == "user" {
			last = msg.Content
		}
	}
	return &ChatResponse{
		Message: session.Message{
			Role:    "assistant",
			Content: fmt.Sprintf("I am a mock LLM. You said: '%s'.", last),
		},
		FinishReason: FinishStop,
	}, nil
}
