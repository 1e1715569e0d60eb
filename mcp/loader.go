package mcp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eli0shin/envoy-sub002/config"
)

// connect is swapped out in tests to avoid spawning real servers.
var connect = func(ctx context.Context, cfg *config.MCPServer, logger *zap.Logger) (Channel, error) {
	return Connect(ctx, cfg, logger)
}

// ServerTools is one server's contribution to the merged registry: its
// directly declared tools plus the prompt/resource auxiliary tools, all
// tagged with the owning server.
type ServerTools struct {
	ServerName string
	Config     *config.MCPServer
	Tools      []*WrappedTool
}

// classResult is the outcome of loading one capability class. A failed
// class carries an error and no items; it never blocks sibling classes.
type classResult struct {
	tools []*WrappedTool
	err   error
}

// LoadServersWithClients initializes every configured server in parallel
// and loads each server's advertised capability classes, also in parallel.
// Failures are isolated: a failing server or class contributes an error
// string instead of blocking the rest. The returned clients are the
// successfully connected channels; the caller owns closing them.
func LoadServersWithClients(ctx context.Context, cfgs []config.MCPServer, toolTimeout time.Duration, logger *zap.Logger) ([]ServerTools, []Channel, []string) {
	type serverResult struct {
		tools  *ServerTools
		client Channel
		errs   []string
	}

	results := make([]serverResult, len(cfgs))
	var wg sync.WaitGroup
	for i := range cfgs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cfg := &cfgs[i]

			client, err := connect(ctx, cfg, logger)
			if err != nil {
				results[i] = serverResult{
					errs: []string{fmt.Sprintf("failed to initialize MCP server '%s': %v", cfg.Name, err)},
				}
				return
			}

			loaded, errs := LoadServer(ctx, client, toolTimeout, logger)
			loaded.Config = cfg
			results[i] = serverResult{tools: loaded, client: client, errs: errs}
		}(i)
	}
	wg.Wait()

	var serverTools []ServerTools
	var clients []Channel
	var loadErrors []string
	for _, r := range results {
		if r.tools != nil {
			serverTools = append(serverTools, *r.tools)
		}
		if r.client != nil {
			clients = append(clients, r.client)
		}
		loadErrors = append(loadErrors, r.errs...)
	}
	return serverTools, clients, loadErrors
}

// LoadServer loads the advertised capability classes of one connected
// channel in parallel. A class the server did not advertise is never
// attempted.
func LoadServer(ctx context.Context, channel Channel, toolTimeout time.Duration, logger *zap.Logger) (*ServerTools, []string) {
	caps := channel.Capabilities()
	server := channel.Name()

	var toolsRes, promptsRes, resourcesRes classResult
	var wg sync.WaitGroup

	if caps.Tools {
		wg.Add(1)
		go func() {
			defer wg.Done()
			toolsRes = loadToolClass(ctx, channel, toolTimeout, logger)
		}()
	}
	if caps.Prompts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			promptsRes = loadPromptClass(ctx, channel, toolTimeout, logger)
		}()
	}
	if caps.Resources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resourcesRes = loadResourceClass(ctx, channel, toolTimeout, logger)
		}()
	}
	wg.Wait()

	out := &ServerTools{ServerName: server}
	out.Tools = append(out.Tools, promptsRes.tools...)
	out.Tools = append(out.Tools, resourcesRes.tools...)
	out.Tools = append(out.Tools, toolsRes.tools...)

	var errs []string
	for class, res := range map[string]classResult{
		"tools": toolsRes, "prompts": promptsRes, "resources": resourcesRes,
	} {
		if res.err != nil {
			errs = append(errs, fmt.Sprintf("failed to load %s from MCP server '%s': %v", class, server, res.err))
		}
	}

	logger.Info("loaded MCP server capabilities",
		zap.String("server", server),
		zap.Int("tools", len(out.Tools)),
		zap.Int("errors", len(errs)),
	)
	return out, errs
}

func loadToolClass(ctx context.Context, channel Channel, timeout time.Duration, logger *zap.Logger) classResult {
	decls, err := channel.ListTools(ctx)
	if err != nil {
		return classResult{err: err}
	}
	wrapped := make([]*WrappedTool, 0, len(decls))
	for _, decl := range decls {
		wrapped = append(wrapped, Wrap(decl, channel, channel.Name(), timeout, logger))
	}
	return classResult{tools: wrapped}
}

func loadPromptClass(ctx context.Context, channel Channel, timeout time.Duration, logger *zap.Logger) classResult {
	// Verify the class actually answers before exposing the helpers.
	if _, err := channel.ListPrompts(ctx); err != nil {
		return classResult{err: err}
	}
	return classResult{tools: PromptTools(channel, timeout, logger)}
}

func loadResourceClass(ctx context.Context, channel Channel, timeout time.Duration, logger *zap.Logger) classResult {
	if _, err := channel.ListResources(ctx); err != nil {
		return classResult{err: err}
	}
	return classResult{tools: ResourceTools(channel, timeout, logger)}
}
