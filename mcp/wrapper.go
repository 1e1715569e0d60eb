package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/eli0shin/envoy-sub002/errors"
	"github.com/eli0shin/envoy-sub002/tools"
)

// invokeFunc performs the underlying capability call for a wrapped tool.
type invokeFunc func(ctx context.Context, args map[string]interface{}) (string, error)

// WrappedTool adapts one externally declared capability into a validated,
// timeout-bounded, uniformly-shaped callable. Read-only after construction
// and safe for concurrent invocation.
type WrappedTool struct {
	key         string
	serverName  string
	baseName    string
	description string
	schema      map[string]interface{}
	validate    func(args map[string]interface{}) error
	invoke      invokeFunc
	logger      *zap.Logger
}

var _ tools.Tool = (*WrappedTool)(nil)

// Wrap adapts a raw MCP tool declaration into a WrappedTool bound to its
// channel. The registry later assigns the qualified key.
func Wrap(decl *mcpsdk.Tool, channel Channel, serverName string, timeout time.Duration, logger *zap.Logger) *WrappedTool {
	schema := schemaToMap(decl.InputSchema)
	return &WrappedTool{
		key:         decl.Name,
		serverName:  serverName,
		baseName:    decl.Name,
		description: decl.Description,
		schema:      schema,
		validate:    buildValidator(schema),
		invoke:      channelInvoke(decl.Name, channel, timeout),
		logger:      logger,
	}
}

// WrapLocal adapts a builtin tool so it flows through the same registry,
// disablement, and error-to-string plumbing as server tools.
func WrapLocal(t tools.Tool, serverName string, logger *zap.Logger) *WrappedTool {
	schema := t.InputSchema()
	return &WrappedTool{
		key:         t.Name(),
		serverName:  serverName,
		baseName:    t.Name(),
		description: t.Description(),
		schema:      schema,
		validate:    buildValidator(schema),
		invoke:      t.Execute,
		logger:      logger,
	}
}

func (t *WrappedTool) Name() string        { return t.key }
func (t *WrappedTool) Description() string { return t.description }
func (t *WrappedTool) ServerName() string  { return t.serverName }
func (t *WrappedTool) BaseName() string    { return t.baseName }

func (t *WrappedTool) InputSchema() map[string]interface{} { return t.schema }

// setKey is called once by the registry when the qualified key is assigned.
func (t *WrappedTool) setKey(key string) { t.key = key }

// RawInvoke validates and executes the tool, keeping structured failure for
// callers that need it.
func (t *WrappedTool) RawInvoke(ctx context.Context, args map[string]interface{}) (string, error) {
	start := time.Now()

	if err := t.validate(args); err != nil {
		t.logOutcome("validation_failed", start, 0, err)
		return "", errors.New("Invalid arguments for tool %s", t.key)
	}

	result, err := t.invoke(ctx, args)
	if err != nil {
		t.logOutcome("error", start, 0, err)
		return "", err
	}
	t.logOutcome("success", start, len(result), nil)
	return result, nil
}

// Invoke executes the tool and converts every failure into an `Error: …`
// result string, so the agent loop only ever sees string results for tool
// calls.
func (t *WrappedTool) Invoke(ctx context.Context, args map[string]interface{}) string {
	result, err := t.RawInvoke(ctx, args)
	if err != nil {
		return fmt.Sprintf("Error: %v", trimLocation(err))
	}
	return result
}

// Execute satisfies tools.Tool. Failures surface as the error return; the
// provider layer converts them to result strings at its boundary.
func (t *WrappedTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	return t.RawInvoke(ctx, args)
}

func (t *WrappedTool) logOutcome(outcome string, start time.Time, resultLen int, err error) {
	fields := []zap.Field{
		zap.String("server", t.serverName),
		zap.String("tool", t.key),
		zap.String("outcome", outcome),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("result_length", resultLen),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
		t.logger.Warn("tool call finished", fields...)
		return
	}
	t.logger.Info("tool call finished", fields...)
}

// errTimeout is the structured form of a tool execution timeout; its
// message matches the uniform result string minus the `Error: ` prefix.
var errTimeout = fmt.Errorf("Tool execution timeout")

// channelInvoke builds the invoke function for a directly declared server
// tool: a channel call under a hard timeout that resets whenever the server
// reports progress, followed by result normalization.
func channelInvoke(name string, channel Channel, timeout time.Duration) invokeFunc {
	return func(ctx context.Context, args map[string]interface{}) (string, error) {
		progress := make(chan struct{}, 1)

		type outcome struct {
			res *mcpsdk.CallToolResult
			err error
		}
		done := make(chan outcome, 1)

		callCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			res, err := channel.CallTool(callCtx, name, args, progress)
			done <- outcome{res: res, err: err}
		}()

		timer := time.NewTimer(timeout)
		defer timer.Stop()
		for {
			select {
			case o := <-done:
				if o.err != nil {
					return "", o.err
				}
				return normalizeResult(o.res)
			case <-progress:
				// The call is alive; give it the full window again.
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(timeout)
			case <-timer.C:
				cancel()
				return "", errTimeout
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
}

// normalizeResult renders heterogeneous content items into one string.
// An explicit error flag from the channel short-circuits to `Error: …`
// handling upstream by returning an error here.
func normalizeResult(res *mcpsdk.CallToolResult) (string, error) {
	parts := make([]string, 0, len(res.Content))
	for _, item := range res.Content {
		switch c := item.(type) {
		case *mcpsdk.TextContent:
			parts = append(parts, c.Text)
		case *mcpsdk.ImageContent:
			parts = append(parts, fmt.Sprintf("[Image: %s]", string(c.Data)))
		case *mcpsdk.AudioContent:
			parts = append(parts, fmt.Sprintf("[Audio: %s]", string(c.Data)))
		case *mcpsdk.EmbeddedResource:
			uri := ""
			if c.Resource != nil {
				uri = c.Resource.URI
			}
			parts = append(parts, fmt.Sprintf("[Resource: %s]", uri))
		default:
			parts = append(parts, "[Unknown content type]")
		}
	}

	joined := strings.Join(parts, "\n")
	if res.IsError {
		if joined == "" {
			joined = "Tool execution failed"
		}
		return "", fmt.Errorf("%s", joined)
	}
	return joined, nil
}

// schemaToMap converts the SDK's schema value into a plain map so both the
// validator and the provider adapters can consume it without depending on
// the schema library's node types. Nil or unconvertible schemas yield nil.
func schemaToMap(schema interface{}) map[string]interface{} {
	if schema == nil {
		return nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// buildValidator derives a structural validator from a loosely-typed
// schema. External servers are not required to produce complete schemas, so
// absence, non-object roots, and unknown node kinds all degrade to
// accept-anything rather than rejecting.
func buildValidator(schema map[string]interface{}) func(args map[string]interface{}) error {
	if schema == nil {
		return func(map[string]interface{}) error { return nil }
	}
	if typ, _ := schema["type"].(string); typ != "" && typ != "object" {
		return func(map[string]interface{}) error { return nil }
	}

	properties, _ := schema["properties"].(map[string]interface{})
	var required []string
	if raw, ok := schema["required"].([]interface{}); ok {
		for _, r := range raw {
			if name, ok := r.(string); ok {
				required = append(required, name)
			}
		}
	}

	return func(args map[string]interface{}) error {
		for _, name := range required {
			if _, ok := args[name]; !ok {
				return fmt.Errorf("missing required argument '%s'", name)
			}
		}
		for name, value := range args {
			propSchema, ok := properties[name].(map[string]interface{})
			if !ok {
				continue
			}
			typ, _ := propSchema["type"].(string)
			if !matchesType(value, typ) {
				return fmt.Errorf("argument '%s' has wrong type, expected %s", name, typ)
			}
		}
		return nil
	}
}

// matchesType checks a decoded JSON value against a schema type name.
// Unknown type names accept anything.
func matchesType(value interface{}, typ string) bool {
	if value == nil {
		return true
	}
	switch typ {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		return isJSONNumber(value)
	case "integer":
		return isJSONNumber(value)
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]interface{})
		return ok
	case "object":
		_, ok := value.(map[string]interface{})
		return ok
	default:
		return true
	}
}

func isJSONNumber(value interface{}) bool {
	switch value.(type) {
	case float64, float32, int, int32, int64, json.Number:
		return true
	default:
		return false
	}
}

// trimLocation strips the errors package's [file:line] prefix from messages
// destined for the model; the location still reaches the logs.
func trimLocation(err error) string {
	msg := err.Error()
	if strings.HasPrefix(msg, "[") {
		if idx := strings.Index(msg, "] "); idx >= 0 {
			return msg[idx+2:]
		}
	}
	return msg
}
