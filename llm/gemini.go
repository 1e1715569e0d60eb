package llm

import (
	"context"
	"os"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"github.com/eli0shin/envoy-sub002/errors"
	"github.com/eli0shin/envoy-sub002/session"
	"github.com/eli0shin/envoy-sub002/tools"
)

// GeminiClient is the adapter for the Google Gemini API. Gemini takes
// neither a thinking budget nor a reasoning-effort knob, so the thinking
// decision is ignored here.
type GeminiClient struct {
	model *genai.GenerativeModel
}

// NewGeminiClient creates a new GeminiClient.
// It requires the GEMINI_API_KEY environment variable to be set.
func NewGeminiClient(ctx context.Context, modelName string) (*GeminiClient, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, errors.Fatal(errors.KindProvider, "GEMINI_API_KEY environment variable not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create genai client")
	}

	return &GeminiClient{
		model: client.GenerativeModel(modelName),
	}, nil
}

func (g *GeminiClient) Provider() string { return "gemini" }

// Chat sends one request to the Gemini API.
func (g *GeminiClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	history, systemPrompt := convertMessagesToGeminiContent(req.Messages)
	if len(history) == 0 {
		return nil, errors.Fatal(errors.KindPrompt, "no messages to send to Gemini")
	}

	g.model.Tools = convertToolsToGeminiTools(req.Tools)
	if systemPrompt != "" {
		g.model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(systemPrompt)},
		}
	}

	// The last message is the new prompt; the rest is chat history.
	lastMessage := history[len(history)-1]
	chatSession := g.model.StartChat()
	chatSession.History = history[:len(history)-1]
	resp, err := chatSession.SendMessage(ctx, lastMessage.Parts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to Gemini")
	}

	return processGeminiResponse(resp)
}

// convertMessagesToGeminiContent converts our internal message format to Gemini's.
func convertMessagesToGeminiContent(messages []session.Message) ([]*genai.Content, string) {
	var contents []*genai.Content
	var systemPrompt string

	for _, msg := range messages {
		switch msg.Role {
		case "system":
			systemPrompt = msg.Content
		case "assistant":
			parts := []genai.Part{}
			if msg.Content != "" {
				parts = append(parts, genai.Text(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, genai.FunctionCall{Name: tc.Name, Args: tc.Args})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: "model", Parts: parts})
			}
		case "tool":
			if len(msg.ToolCalls) != 1 {
				continue
			}
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []genai.Part{genai.FunctionResponse{
					Name:     msg.ToolCalls[0].Name,
					Response: map[string]interface{}{"result": msg.Content},
				}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []genai.Part{genai.Text(msg.Content)},
			})
		}
	}
	return contents, systemPrompt
}

// convertToolsToGeminiTools converts our Tool interface to Gemini's
// FunctionDeclaration format, carrying over the declared argument schema.
func convertToolsToGeminiTools(ts []tools.Tool) []*genai.Tool {
	if len(ts) == 0 {
		return nil
	}
	var funcDecls []*genai.FunctionDeclaration
	for _, tool := range ts {
		funcDecls = append(funcDecls, &genai.FunctionDeclaration{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  convertSchemaToGemini(tool.InputSchema()),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: funcDecls}}
}

// convertSchemaToGemini maps a JSON-schema-shaped map onto genai.Schema.
// Unknown shapes degrade to an open object so a sparse schema never blocks
// a tool from being declared.
func convertSchemaToGemini(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return &genai.Schema{Type: genai.TypeObject}
	}

	out := &genai.Schema{Type: geminiType(schema)}
	if desc, ok := schema["description"].(string); ok {
		out.Description = desc
	}
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if sub, ok := raw.(map[string]interface{}); ok {
				out.Properties[name] = convertSchemaToGemini(sub)
			} else {
				out.Properties[name] = &genai.Schema{Type: genai.TypeString}
			}
		}
	}
	if raw, ok := schema["required"].([]interface{}); ok {
		for _, r := range raw {
			if name, ok := r.(string); ok {
				out.Required = append(out.Required, name)
			}
		}
	}
	if items, ok := schema["items"].(map[string]interface{}); ok {
		out.Items = convertSchemaToGemini(items)
	}
	return out
}

func geminiType(schema map[string]interface{}) genai.Type {
	typ, _ := schema["type"].(string)
	switch typ {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	default:
		return genai.TypeObject
	}
}

// processGeminiResponse converts a Gemini API response into our internal format.
func processGeminiResponse(resp *genai.GenerateContentResponse) (*ChatResponse, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("received an empty response from Gemini")
	}

	candidate := resp.Candidates[0]
	out := &ChatResponse{
		Message:      session.Message{Role: "assistant"},
		FinishReason: mapGeminiFinishReason(candidate.FinishReason),
	}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}

	for _, part := range candidate.Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			out.Message.Content += string(v)
		case genai.FunctionCall:
			// Gemini does not assign call ids; mint one so tool results can
			// be correlated in the history.
			out.Message.ToolCalls = append(out.Message.ToolCalls, session.ToolCall{
				ToolCallID: uuid.NewString(),
				Name:       v.Name,
				Args:       v.Args,
			})
		default:
			return nil, errors.New("unsupported part type in Gemini response: %T", v)
		}
	}

	if len(out.Message.ToolCalls) > 0 {
		out.FinishReason = FinishToolCalls
	}
	return out, nil
}

func mapGeminiFinishReason(reason genai.FinishReason) FinishReason {
	switch reason {
	case genai.FinishReasonStop:
		return FinishStop
	case genai.FinishReasonMaxTokens:
		return FinishLength
	default:
		return FinishUnknown
	}
}
