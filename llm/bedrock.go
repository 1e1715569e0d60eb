package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/eli0shin/envoy-sub002/errors"
	"github.com/eli0shin/envoy-sub002/session"
)

// BedrockClient is the adapter for Anthropic models on AWS Bedrock. The
// request body follows the anthropic-on-bedrock JSON schema, including the
// extended thinking configuration.
type BedrockClient struct {
	client  *bedrockruntime.Client
	modelID string
	region  string
}

// NewBedrockClient creates a new BedrockClient.
// It requires AWS credentials to be configured in the environment.
func NewBedrockClient(ctx context.Context, modelID string) (*BedrockClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load AWS config")
	}

	client := bedrockruntime.NewFromConfig(cfg)

	region := cfg.Region
	if region == "" {
		region = os.Getenv("AWS_DEFAULT_REGION")
	}
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	return &BedrockClient{
		client:  client,
		modelID: modelID,
		region:  region,
	}, nil
}

func (b *BedrockClient) Provider() string { return "bedrock" }

// Chat sends one request to the Anthropic model via AWS Bedrock.
func (b *BedrockClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	anthropicMessages, systemPrompt := convertMessagesToBedrockFormat(req.Messages)

	requestBody, err := createBedrockRequest(anthropicMessages, systemPrompt, req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create Anthropic request")
	}

	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Body:        requestBody,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to invoke Bedrock model")
	}

	return processBedrockResponse(resp.Body)
}

// convertMessagesToBedrockFormat converts our internal message format to
// the anthropic-on-bedrock message shape.
func convertMessagesToBedrockFormat(messages []session.Message) ([]map[string]interface{}, string) {
	var anthropicMessages []map[string]interface{}
	var systemPrompt string

	for _, msg := range messages {
		switch msg.Role {
		case "user":
			anthropicMessages = append(anthropicMessages, map[string]interface{}{
				"role": "user",
				"content": []map[string]interface{}{
					{"type": "text", "text": msg.Content},
				},
			})
		case "assistant":
			if len(msg.ToolCalls) > 0 {
				var content []map[string]interface{}
				if msg.Content != "" {
					content = append(content, map[string]interface{}{"type": "text", "text": msg.Content})
				}
				for _, tc := range msg.ToolCalls {
					content = append(content, map[string]interface{}{
						"type":  "tool_use",
						"id":    tc.ToolCallID,
						"name":  tc.Name,
						"input": tc.Args,
					})
				}
				anthropicMessages = append(anthropicMessages, map[string]interface{}{
					"role":    "assistant",
					"content": content,
				})
			} else if msg.Content != "" {
				anthropicMessages = append(anthropicMessages, map[string]interface{}{
					"role": "assistant",
					"content": []map[string]interface{}{
						{"type": "text", "text": msg.Content},
					},
				})
			}
		case "tool":
			if len(msg.ToolCalls) > 0 {
				anthropicMessages = append(anthropicMessages, map[string]interface{}{
					"role": "user",
					"content": []map[string]interface{}{
						{
							"type":        "tool_result",
							"tool_use_id": msg.ToolCalls[0].ToolCallID,
							"content":     msg.Content,
						},
					},
				})
			}
		case "system":
			systemPrompt = msg.Content
		}
	}

	return anthropicMessages, systemPrompt
}

// createBedrockRequest creates the request body for Anthropic models on Bedrock.
func createBedrockRequest(messages []map[string]interface{}, systemPrompt string, req *ChatRequest) ([]byte, error) {
	request := map[string]interface{}{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        4096,
		"messages":          messages,
	}

	if systemPrompt != "" {
		request["system"] = systemPrompt
	}

	if req.Thinking.Enabled {
		budget := req.Thinking.BudgetTokens
		if budget > anthropicMaxThinkingBudget {
			budget = anthropicMaxThinkingBudget
		}
		request["thinking"] = map[string]interface{}{
			"type":          "enabled",
			"budget_tokens": budget,
		}
		request["max_tokens"] = budget + 4096
	}
	if req.Thinking.BetaHeader != "" {
		request["anthropic_beta"] = []string{req.Thinking.BetaHeader}
	}

	if len(req.Tools) > 0 {
		var toolDecls []map[string]interface{}
		for _, tool := range req.Tools {
			schema := tool.InputSchema()
			if schema == nil {
				schema = map[string]interface{}{
					"type":       "object",
					"properties": map[string]interface{}{},
				}
			}
			toolDecls = append(toolDecls, map[string]interface{}{
				"name":         tool.Name(),
				"description":  tool.Description(),
				"input_schema": schema,
			})
		}
		request["tools"] = toolDecls
	}

	return json.Marshal(request)
}

// processBedrockResponse converts a Bedrock API response into our internal format.
func processBedrockResponse(body []byte) (*ChatResponse, error) {
	var response map[string]interface{}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal Bedrock response")
	}

	if errMsg, ok := response["error"]; ok {
		return nil, errors.New("Bedrock API error: %v", errMsg)
	}

	out := &ChatResponse{
		Message:      session.Message{Role: "assistant"},
		FinishReason: FinishUnknown,
	}

	if stopReason, ok := response["stop_reason"].(string); ok {
		switch stopReason {
		case "end_turn", "stop_sequence":
			out.FinishReason = FinishStop
		case "max_tokens":
			out.FinishReason = FinishLength
		case "tool_use":
			out.FinishReason = FinishToolCalls
		}
	}
	if usage, ok := response["usage"].(map[string]interface{}); ok {
		if v, ok := usage["input_tokens"].(float64); ok {
			out.Usage.InputTokens = int(v)
		}
		if v, ok := usage["output_tokens"].(float64); ok {
			out.Usage.OutputTokens = int(v)
		}
	}

	content, ok := response["content"]
	if !ok {
		return out, nil
	}
	contentArray, ok := content.([]interface{})
	if !ok {
		return nil, errors.New("unexpected content format in Bedrock response")
	}

	toolCallIDCounter := 0
	for _, item := range contentArray {
		itemMap, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		itemType, ok := itemMap["type"].(string)
		if !ok {
			continue
		}

		switch itemType {
		case "text":
			if text, ok := itemMap["text"].(string); ok {
				out.Message.Content += text
			}
		case "thinking":
			if text, ok := itemMap["thinking"].(string); ok {
				out.Message.Thinking += text
			}
		case "tool_use":
			name, ok := itemMap["name"].(string)
			if !ok {
				continue
			}
			input, ok := itemMap["input"].(map[string]interface{})
			if !ok {
				continue
			}
			id := fmt.Sprintf("call_%d_%s", toolCallIDCounter, name)
			if toolID, ok := itemMap["id"].(string); ok {
				id = toolID
			}
			out.Message.ToolCalls = append(out.Message.ToolCalls, session.ToolCall{
				ToolCallID: id,
				Name:       name,
				Args:       input,
			})
			toolCallIDCounter++
		}
	}

	return out, nil
}
