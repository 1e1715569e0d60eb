package mcp

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/eli0shin/envoy-sub002/config"
	"github.com/eli0shin/envoy-sub002/tools"
)

// DisableReason records which configuration layer disabled a tool.
type DisableReason string

const (
	DisableReasonServerConfig DisableReason = "server_config"
	DisableReasonGlobalConfig DisableReason = "global_config"
)

// Registry is the flat name-to-callable mapping produced by merging every
// server's tools. Built once per session; read-only afterwards and safe for
// concurrent lookups.
type Registry struct {
	byKey map[string]*WrappedTool
	order []string
}

// Merge combines the per-server tool sets into one registry.
//
// Keys: a tool whose declared key is already prefixed with its owning
// server's name keeps it (auxiliary capability tools are pre-prefixed by
// their factory); every other tool gets `<server>_<name>`. On collision the
// first-seen tool wins and the later one is recorded as a conflict error.
// Disabled tools are dropped with a logged reason; enabled tools pass
// silently.
func Merge(serverTools []ServerTools, globalDisabled []string, logger *zap.Logger) (*Registry, []string) {
	reg := &Registry{byKey: make(map[string]*WrappedTool)}
	var errs []string

	for _, st := range serverTools {
		for _, tool := range st.Tools {
			key := registryKey(st.ServerName, tool)

			if disabled, reason := IsDisabled(key, tool.BaseName(), st.Config, globalDisabled); disabled {
				logger.Info("tool disabled",
					zap.String("tool", key),
					zap.String("server", st.ServerName),
					zap.String("reason", string(reason)),
				)
				continue
			}

			if _, exists := reg.byKey[key]; exists {
				errs = append(errs, fmt.Sprintf("Tool name conflict: %s already exists", key))
				continue
			}

			tool.setKey(key)
			reg.byKey[key] = tool
			reg.order = append(reg.order, key)
		}
	}
	return reg, errs
}

func registryKey(serverName string, tool *WrappedTool) string {
	if strings.HasPrefix(tool.Name(), serverName+"_") {
		return tool.Name()
	}
	return fmt.Sprintf("%s_%s", serverName, tool.BaseName())
}

// IsDisabled evaluates the two-tier disablement policy for a tool key. Pure
// function of its inputs; first match wins:
//
//  1. the owning server's config lists the bare tool name
//  2. the global list contains the fully qualified key
//  3. a global entry matches the key as a suffix
func IsDisabled(key, baseName string, serverCfg *config.MCPServer, globalDisabled []string) (bool, DisableReason) {
	if serverCfg != nil {
		for _, name := range serverCfg.DisabledTools {
			if name == baseName {
				return true, DisableReasonServerConfig
			}
		}
	}
	for _, entry := range globalDisabled {
		if entry == key {
			return true, DisableReasonGlobalConfig
		}
	}
	for _, entry := range globalDisabled {
		if entry == key || strings.HasSuffix(key, "_"+entry) {
			return true, DisableReasonGlobalConfig
		}
	}
	return false, ""
}

// Get returns the tool registered under a fully qualified key.
func (r *Registry) Get(key string) (*WrappedTool, bool) {
	t, ok := r.byKey[key]
	return t, ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int { return len(r.byKey) }

// List returns the registered tools in insertion order, typed for the
// provider layer.
func (r *Registry) List() []tools.Tool {
	out := make([]tools.Tool, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.byKey[key])
	}
	return out
}
