package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/eli0shin/envoy-sub002/errors"
)

// Auxiliary tools expose a server's prompt and resource capabilities to the
// model as ordinary callables. Their keys are pre-prefixed with the server
// name here, which is why the registry leaves already-prefixed keys alone.

func newAuxTool(channel Channel, suffix, description string, schema map[string]interface{}, timeout time.Duration, logger *zap.Logger, invoke invokeFunc) *WrappedTool {
	server := channel.Name()
	bounded := func(ctx context.Context, args map[string]interface{}) (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return invoke(callCtx, args)
	}
	return &WrappedTool{
		key:         fmt.Sprintf("%s_%s", server, suffix),
		serverName:  server,
		baseName:    suffix,
		description: description,
		schema:      schema,
		validate:    buildValidator(schema),
		invoke:      bounded,
		logger:      logger,
	}
}

// PromptTools builds the list/get helpers for a server that advertises the
// prompts capability.
func PromptTools(channel Channel, timeout time.Duration, logger *zap.Logger) []*WrappedTool {
	server := channel.Name()

	listTool := newAuxTool(channel, "list_prompts",
		fmt.Sprintf("Lists the prompts available on the '%s' server.", server),
		nil, timeout, logger,
		func(ctx context.Context, _ map[string]interface{}) (string, error) {
			prompts, err := channel.ListPrompts(ctx)
			if err != nil {
				return "", err
			}
			if len(prompts) == 0 {
				return "No prompts available", nil
			}
			lines := make([]string, 0, len(prompts))
			for _, p := range prompts {
				line := p.Name
				if p.Description != "" {
					line += ": " + p.Description
				}
				if len(p.Arguments) > 0 {
					var argNames []string
					for _, a := range p.Arguments {
						argNames = append(argNames, a.Name)
					}
					line += fmt.Sprintf(" (arguments: %s)", strings.Join(argNames, ", "))
				}
				lines = append(lines, line)
			}
			return strings.Join(lines, "\n"), nil
		})

	getSchema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name": map[string]interface{}{
				"type":        "string",
				"description": "Name of the prompt to fetch.",
			},
			"arguments": map[string]interface{}{
				"type":        "object",
				"description": "Prompt arguments as string key/value pairs.",
			},
		},
		"required": []interface{}{"name"},
	}
	getTool := newAuxTool(channel, "get_prompt",
		fmt.Sprintf("Fetches a named prompt from the '%s' server, expanded with the given arguments.", server),
		getSchema, timeout, logger,
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			name, _ := args["name"].(string)
			promptArgs := map[string]string{}
			if raw, ok := args["arguments"].(map[string]interface{}); ok {
				for k, v := range raw {
					promptArgs[k] = fmt.Sprintf("%v", v)
				}
			}
			res, err := channel.GetPrompt(ctx, name, promptArgs)
			if err != nil {
				return "", err
			}
			return renderPrompt(res), nil
		})

	return []*WrappedTool{listTool, getTool}
}

// ResourceTools builds the list/read helpers for a server that advertises
// the resources capability.
func ResourceTools(channel Channel, timeout time.Duration, logger *zap.Logger) []*WrappedTool {
	server := channel.Name()

	listTool := newAuxTool(channel, "list_resources",
		fmt.Sprintf("Lists the resources available on the '%s' server.", server),
		nil, timeout, logger,
		func(ctx context.Context, _ map[string]interface{}) (string, error) {
			resources, err := channel.ListResources(ctx)
			if err != nil {
				return "", err
			}
			if len(resources) == 0 {
				return "No resources available", nil
			}
			lines := make([]string, 0, len(resources))
			for _, r := range resources {
				line := r.URI
				if r.Name != "" {
					line += " - " + r.Name
				}
				if r.MIMEType != "" {
					line += fmt.Sprintf(" (%s)", r.MIMEType)
				}
				lines = append(lines, line)
			}
			return strings.Join(lines, "\n"), nil
		})

	readSchema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"uri": map[string]interface{}{
				"type":        "string",
				"description": "URI of the resource to read.",
			},
		},
		"required": []interface{}{"uri"},
	}
	readTool := newAuxTool(channel, "read_resource",
		fmt.Sprintf("Reads a resource from the '%s' server by URI.", server),
		readSchema, timeout, logger,
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			uri, _ := args["uri"].(string)
			res, err := channel.ReadResource(ctx, uri)
			if err != nil {
				return "", err
			}
			if len(res.Contents) == 0 {
				return "", errors.New("resource '%s' has no contents", uri)
			}
			parts := make([]string, 0, len(res.Contents))
			for _, c := range res.Contents {
				if c.Text != "" {
					parts = append(parts, c.Text)
				} else {
					parts = append(parts, fmt.Sprintf("[Binary data: %s]", c.URI))
				}
			}
			return strings.Join(parts, "\n"), nil
		})

	return []*WrappedTool{listTool, readTool}
}

func renderPrompt(res *mcpsdk.GetPromptResult) string {
	var b strings.Builder
	if res.Description != "" {
		b.WriteString(res.Description)
		b.WriteString("\n\n")
	}
	for _, m := range res.Messages {
		text := ""
		if tc, ok := m.Content.(*mcpsdk.TextContent); ok {
			text = tc.Text
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, text)
	}
	return strings.TrimRight(b.String(), "\n")
}
