// Package mcp implements the capability discovery and dispatch layer: it
// connects to configured MCP servers, wraps the tools they declare into
// validated, timeout-bounded callables, and merges everything into a single
// namespaced registry for the agent loop.
package mcp

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/eli0shin/envoy-sub002/config"
	"github.com/eli0shin/envoy-sub002/errors"
)

// CapabilitySet records which capability classes a server advertised during
// initialization. Immutable after connect.
type CapabilitySet struct {
	Tools     bool
	Prompts   bool
	Resources bool
}

// Channel is the capability channel for one configured server. Both the
// subprocess-backed and the network-stream-backed implementations satisfy
// it, and tests substitute fakes. The channel serializes concurrent calls
// itself; callers may invoke it from overlapping goroutines.
type Channel interface {
	Name() string
	Capabilities() CapabilitySet
	ListTools(ctx context.Context) ([]*mcpsdk.Tool, error)
	ListPrompts(ctx context.Context) ([]*mcpsdk.Prompt, error)
	ListResources(ctx context.Context) ([]*mcpsdk.Resource, error)
	// CallTool invokes a tool by its server-local name. When progress is
	// non-nil the channel signals it (non-blocking) on every progress
	// notification for this call, so callers can reset their timeout.
	CallTool(ctx context.Context, name string, args map[string]interface{}, progress chan<- struct{}) (*mcpsdk.CallToolResult, error)
	GetPrompt(ctx context.Context, name string, args map[string]string) (*mcpsdk.GetPromptResult, error)
	ReadResource(ctx context.Context, uri string) (*mcpsdk.ReadResourceResult, error)
	Close() error
}

// Client manages the connection to a single MCP server.
type Client struct {
	name string
	cmd  *exec.Cmd
	conn *mcpsdk.ClientSession
	caps CapabilitySet

	mu        sync.Mutex
	nextToken int
	progress  map[string]chan<- struct{}

	logger *zap.Logger
}

// Connect initializes the channel for one configured server, starting the
// subprocess or opening the HTTP stream depending on the transport kind.
func Connect(ctx context.Context, cfg *config.MCPServer, logger *zap.Logger) (*Client, error) {
	c := &Client{
		name:     cfg.Name,
		progress: make(map[string]chan<- struct{}),
		logger:   logger,
	}

	mcpClient := mcpsdk.NewClient(
		&mcpsdk.Implementation{Name: "envoy", Version: "v1.0.0"},
		&mcpsdk.ClientOptions{ProgressNotificationHandler: c.onProgress},
	)

	var transport mcpsdk.Transport
	switch cfg.TransportKind() {
	case "stdio":
		cmd := exec.Command(cfg.Command, cfg.Args...)
		cmd.Stderr = os.Stderr
		cmd.Env = os.Environ()
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
		c.cmd = cmd
		transport = mcpsdk.NewCommandTransport(cmd)
	case "http":
		httpClient := &http.Client{Transport: &headerRoundTripper{headers: cfg.Headers, base: http.DefaultTransport}}
		transport = mcpsdk.NewStreamableClientTransport(cfg.URL, &mcpsdk.StreamableClientTransportOptions{
			HTTPClient: httpClient,
		})
	default:
		return nil, errors.New("mcp server '%s': unknown transport '%s'", cfg.Name, cfg.Transport)
	}

	conn, err := mcpClient.Connect(ctx, transport, nil)
	if err != nil {
		if c.cmd != nil && c.cmd.Process != nil {
			c.cmd.Process.Kill()
		}
		return nil, errors.Wrapf(err, "failed to connect to MCP server '%s'", cfg.Name)
	}
	c.conn = conn

	if res := conn.InitializeResult(); res != nil && res.Capabilities != nil {
		c.caps = CapabilitySet{
			Tools:     res.Capabilities.Tools != nil,
			Prompts:   res.Capabilities.Prompts != nil,
			Resources: res.Capabilities.Resources != nil,
		}
	}

	logger.Info("initialized MCP server connection",
		zap.String("server", cfg.Name),
		zap.String("transport", cfg.TransportKind()),
		zap.Bool("tools", c.caps.Tools),
		zap.Bool("prompts", c.caps.Prompts),
		zap.Bool("resources", c.caps.Resources),
	)
	return c, nil
}

func (c *Client) Name() string { return c.name }

func (c *Client) Capabilities() CapabilitySet { return c.caps }

// ListTools pages through the server's declared tools.
func (c *Client) ListTools(ctx context.Context) ([]*mcpsdk.Tool, error) {
	var out []*mcpsdk.Tool
	params := &mcpsdk.ListToolsParams{}
	for {
		res, err := c.conn.ListTools(ctx, params)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to list tools from MCP server '%s'", c.name)
		}
		out = append(out, res.Tools...)
		if res.NextCursor == "" {
			return out, nil
		}
		params.Cursor = res.NextCursor
	}
}

// ListPrompts pages through the server's declared prompts.
func (c *Client) ListPrompts(ctx context.Context) ([]*mcpsdk.Prompt, error) {
	var out []*mcpsdk.Prompt
	params := &mcpsdk.ListPromptsParams{}
	for {
		res, err := c.conn.ListPrompts(ctx, params)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to list prompts from MCP server '%s'", c.name)
		}
		out = append(out, res.Prompts...)
		if res.NextCursor == "" {
			return out, nil
		}
		params.Cursor = res.NextCursor
	}
}

// ListResources pages through the server's declared resources.
func (c *Client) ListResources(ctx context.Context) ([]*mcpsdk.Resource, error) {
	var out []*mcpsdk.Resource
	params := &mcpsdk.ListResourcesParams{}
	for {
		res, err := c.conn.ListResources(ctx, params)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to list resources from MCP server '%s'", c.name)
		}
		out = append(out, res.Resources...)
		if res.NextCursor == "" {
			return out, nil
		}
		params.Cursor = res.NextCursor
	}
}

// CallTool invokes a tool, registering a progress token so that progress
// notifications for this call reach the supplied channel.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}, progress chan<- struct{}) (*mcpsdk.CallToolResult, error) {
	params := &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: args,
	}
	if progress != nil {
		token := c.registerProgress(progress)
		defer c.unregisterProgress(token)
		params.Meta = mcpsdk.Meta{"progressToken": token}
	}
	res, err := c.conn.CallTool(ctx, params)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to call tool '%s' on MCP server '%s'", name, c.name)
	}
	return res, nil
}

func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcpsdk.GetPromptResult, error) {
	res, err := c.conn.GetPrompt(ctx, &mcpsdk.GetPromptParams{Name: name, Arguments: args})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get prompt '%s' from MCP server '%s'", name, c.name)
	}
	return res, nil
}

func (c *Client) ReadResource(ctx context.Context, uri string) (*mcpsdk.ReadResourceResult, error) {
	res, err := c.conn.ReadResource(ctx, &mcpsdk.ReadResourceParams{URI: uri})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read resource '%s' from MCP server '%s'", uri, c.name)
	}
	return res, nil
}

// Close terminates the connection and, for subprocess transports, the
// server process.
func (c *Client) Close() error {
	if c.conn != nil {
		c.conn.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		c.logger.Info("terminating MCP server", zap.String("server", c.name))
		return c.cmd.Process.Kill()
	}
	return nil
}

func (c *Client) registerProgress(ch chan<- struct{}) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextToken++
	token := fmt.Sprintf("%s-%d", c.name, c.nextToken)
	c.progress[token] = ch
	return token
}

func (c *Client) unregisterProgress(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.progress, token)
}

func (c *Client) onProgress(ctx context.Context, req *mcpsdk.ProgressNotificationClientRequest) {
	token, ok := req.Params.ProgressToken.(string)
	if !ok {
		return
	}
	c.mu.Lock()
	ch := c.progress[token]
	c.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// headerRoundTripper injects configured headers into every request of the
// HTTP stream transport.
type headerRoundTripper struct {
	headers map[string]string
	base    http.RoundTripper
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(h.headers) > 0 {
		req = req.Clone(req.Context())
		for k, v := range h.headers {
			req.Header.Set(k, v)
		}
	}
	return h.base.RoundTrip(req)
}
