package llm

import (
	"context"
	"encoding/json"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/eli0shin/envoy-sub002/errors"
	"github.com/eli0shin/envoy-sub002/session"
	"github.com/eli0shin/envoy-sub002/tools"
)

// anthropicMaxThinkingBudget caps the thinking budget accepted by the API.
const anthropicMaxThinkingBudget = 32000

// AnthropicClient is the adapter for the Anthropic API.
type AnthropicClient struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicClient creates a new AnthropicClient.
// It requires the ANTHROPIC_API_KEY environment variable to be set.
func NewAnthropicClient(ctx context.Context, modelName string) (*AnthropicClient, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, errors.Fatal(errors.KindProvider, "ANTHROPIC_API_KEY environment variable not set")
	}

	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)

	return &AnthropicClient{
		client: &client,
		model:  modelName,
	}, nil
}

func (a *AnthropicClient) Provider() string { return "anthropic" }

// Chat sends one request to the Anthropic API.
func (a *AnthropicClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	anthropicMessages, systemPrompt := convertMessagesToAnthropicMessages(req.Messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 4096,
		Messages:  anthropicMessages,
	}

	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: systemPrompt},
		}
	}

	anthropicTools := convertToolsToAnthropicTools(req.Tools)
	params.Tools = make([]anthropic.ToolUnionParam, len(anthropicTools))
	for i, toolParam := range anthropicTools {
		params.Tools[i] = anthropic.ToolUnionParam{OfTool: &toolParam}
	}

	var opts []option.RequestOption
	if req.MaxRetries > 0 {
		opts = append(opts, option.WithMaxRetries(req.MaxRetries))
	}
	if req.Thinking.Enabled {
		budget := req.Thinking.BudgetTokens
		if budget > anthropicMaxThinkingBudget {
			budget = anthropicMaxThinkingBudget
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(budget))
		// The response must have room for the thinking tokens.
		params.MaxTokens = int64(budget) + 4096
	}
	if req.Thinking.BetaHeader != "" {
		opts = append(opts, option.WithHeader("anthropic-beta", req.Thinking.BetaHeader))
	}

	resp, err := a.client.Messages.New(ctx, params, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to Anthropic")
	}

	return processAnthropicResponse(resp)
}

// convertMessagesToAnthropicMessages converts our internal message format to Anthropic's format.
func convertMessagesToAnthropicMessages(messages []session.Message) ([]anthropic.MessageParam, string) {
	var anthropicMessages []anthropic.MessageParam
	var systemPrompt string

	for _, msg := range messages {
		switch msg.Role {
		case "user":
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		case "assistant":
			if len(msg.ToolCalls) > 0 {
				var contentItems []anthropic.ContentBlockParamUnion
				if msg.Content != "" {
					contentItems = append(contentItems, anthropic.ContentBlockParamUnion{
						OfText: &anthropic.TextBlockParam{Text: msg.Content},
					})
				}
				for _, tc := range msg.ToolCalls {
					argsBytes, err := json.Marshal(tc.Args)
					if err != nil {
						// Unmarshalable args cannot be replayed; drop the call.
						continue
					}
					contentItems = append(contentItems, anthropic.ContentBlockParamUnion{
						OfToolUse: &anthropic.ToolUseBlockParam{
							Type:  "tool_use",
							ID:    tc.ToolCallID,
							Name:  tc.Name,
							Input: argsBytes,
						}})
				}
				anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
					Role:    anthropic.MessageParamRoleAssistant,
					Content: contentItems,
				})
			} else if msg.Content != "" {
				anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
					Role: anthropic.MessageParamRoleAssistant,
					Content: []anthropic.ContentBlockParamUnion{{
						OfText: &anthropic.TextBlockParam{
							Text: msg.Content,
						},
					}},
				})
			}
		case "tool":
			if len(msg.ToolCalls) > 0 {
				anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
					Role: anthropic.MessageParamRoleUser,
					Content: []anthropic.ContentBlockParamUnion{{
						OfToolResult: &anthropic.ToolResultBlockParam{
							ToolUseID: msg.ToolCalls[0].ToolCallID,
							Content: []anthropic.ToolResultBlockParamContentUnion{{
								OfText: &anthropic.TextBlockParam{
									Text: msg.Content,
								},
							}},
						},
					},
					}})
			}
		case "system":
			// The last system message wins as the system prompt.
			systemPrompt = msg.Content
		}
	}

	return anthropicMessages, systemPrompt
}

// convertToolsToAnthropicTools converts our Tool interface to Anthropic's tool format.
func convertToolsToAnthropicTools(ts []tools.Tool) []anthropic.ToolParam {
	if len(ts) == 0 {
		return nil
	}

	var anthropicTools []anthropic.ToolParam
	for _, t := range ts {
		properties := map[string]interface{}{}
		if schema := t.InputSchema(); schema != nil {
			if props, ok := schema["properties"].(map[string]interface{}); ok {
				properties = props
			}
		}
		anthropicTools = append(anthropicTools, anthropic.ToolParam{
			Name:        t.Name(),
			Description: anthropic.String(t.Description()),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: properties,
			},
		})
	}
	return anthropicTools
}

// processAnthropicResponse converts an Anthropic API response into our internal format.
func processAnthropicResponse(resp *anthropic.Message) (*ChatResponse, error) {
	out := &ChatResponse{
		Message:      session.Message{Role: "assistant"},
		FinishReason: mapAnthropicStopReason(resp.StopReason),
		Usage: Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}

	for _, content := range resp.Content {
		switch c := content.AsAny().(type) {
		case anthropic.TextBlock:
			out.Message.Content += c.Text
		case anthropic.ThinkingBlock:
			out.Message.Thinking += c.Thinking
		case anthropic.ToolUseBlock:
			var args map[string]interface{}
			if err := json.Unmarshal(c.Input, &args); err != nil {
				return nil, errors.Wrapf(err, "failed to unmarshal tool call input")
			}
			out.Message.ToolCalls = append(out.Message.ToolCalls, session.ToolCall{
				ToolCallID: c.ID,
				Name:       c.Name,
				Args:       args,
			})
		}
	}
	return out, nil
}

func mapAnthropicStopReason(reason anthropic.StopReason) FinishReason {
	switch reason {
	case anthropic.StopReasonEndTurn, anthropic.StopReasonStopSequence:
		return FinishStop
	case anthropic.StopReasonMaxTokens:
		return FinishLength
	case anthropic.StopReasonToolUse:
		return FinishToolCalls
	default:
		return FinishUnknown
	}
}
