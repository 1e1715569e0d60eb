package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eli0shin/envoy-sub002/config"
)

func plainTool(key, baseName, server string) *WrappedTool {
	return &WrappedTool{
		key:        key,
		serverName: server,
		baseName:   baseName,
		validate:   buildValidator(nil),
		logger:     zap.NewNop(),
	}
}

func TestMergePrefixing(t *testing.T) {
	serverTools := []ServerTools{{
		ServerName: "fs",
		Tools: []*WrappedTool{
			plainTool("read_file", "read_file", "fs"),
			// Pre-prefixed by the aux tool factory; must keep its key.
			plainTool("fs_list_prompts", "list_prompts", "fs"),
		},
	}}

	reg, errs := Merge(serverTools, nil, zap.NewNop())
	require.Empty(t, errs)
	assert.Equal(t, 2, reg.Len())

	_, ok := reg.Get("fs_read_file")
	assert.True(t, ok)
	_, ok = reg.Get("fs_list_prompts")
	assert.True(t, ok)

	tool, _ := reg.Get("fs_read_file")
	assert.Equal(t, "fs_read_file", tool.Name(), "registry key becomes the tool's declared name")
}

func TestMergeCollision(t *testing.T) {
	first := plainTool("read_file", "read_file", "fs")
	second := plainTool("read_file", "read_file", "fs")
	serverTools := []ServerTools{
		{ServerName: "fs", Tools: []*WrappedTool{first}},
		{ServerName: "fs", Tools: []*WrappedTool{second}},
	}

	reg, errs := Merge(serverTools, nil, zap.NewNop())
	require.Len(t, errs, 1)
	assert.Equal(t, "Tool name conflict: fs_read_file already exists", errs[0])
	assert.Equal(t, 1, reg.Len())

	kept, ok := reg.Get("fs_read_file")
	require.True(t, ok)
	assert.Same(t, first, kept, "first inserted tool wins")
}

func TestMergeServerLevelDisable(t *testing.T) {
	cfg := &config.MCPServer{Name: "fs", DisabledTools: []string{"write_file"}}
	serverTools := []ServerTools{{
		ServerName: "fs",
		Config:     cfg,
		Tools: []*WrappedTool{
			plainTool("read_file", "read_file", "fs"),
			plainTool("write_file", "write_file", "fs"),
		},
	}}

	reg, errs := Merge(serverTools, nil, zap.NewNop())
	require.Empty(t, errs)
	assert.Equal(t, 1, reg.Len())
	_, ok := reg.Get("fs_write_file")
	assert.False(t, ok)
}

func TestMergeGlobalDisable(t *testing.T) {
	serverTools := []ServerTools{{
		ServerName: "fs",
		Tools: []*WrappedTool{
			plainTool("read_file", "read_file", "fs"),
			plainTool("write_file", "write_file", "fs"),
			plainTool("stat", "stat", "fs"),
		},
	}}

	// Exact key plus bare-name suffix entry.
	reg, errs := Merge(serverTools, []string{"fs_read_file", "write_file"}, zap.NewNop())
	require.Empty(t, errs)
	assert.Equal(t, 1, reg.Len())
	_, ok := reg.Get("fs_stat")
	assert.True(t, ok)
}

func TestIsDisabledOrderAndPurity(t *testing.T) {
	serverCfg := &config.MCPServer{Name: "fs", DisabledTools: []string{"read_file"}}

	// Server config wins even when the global list would also match.
	disabled, reason := IsDisabled("fs_read_file", "read_file", serverCfg, []string{"fs_read_file"})
	assert.True(t, disabled)
	assert.Equal(t, DisableReasonServerConfig, reason)

	// Pure function: identical inputs give identical results.
	disabled2, reason2 := IsDisabled("fs_read_file", "read_file", serverCfg, []string{"fs_read_file"})
	assert.Equal(t, disabled, disabled2)
	assert.Equal(t, reason, reason2)

	disabled, reason = IsDisabled("fs_read_file", "read_file", nil, []string{"fs_read_file"})
	assert.True(t, disabled)
	assert.Equal(t, DisableReasonGlobalConfig, reason)

	disabled, _ = IsDisabled("fs_read_file", "read_file", nil, nil)
	assert.False(t, disabled)
}

func TestIsDisabledSuffixLaw(t *testing.T) {
	// A bare name in the global list disables the tool regardless of which
	// server owns it.
	for _, server := range []string{"fs", "github", "a_b"} {
		key := server + "_write_file"
		disabled, reason := IsDisabled(key, "write_file", nil, []string{"write_file"})
		assert.True(t, disabled, "key %s", key)
		assert.Equal(t, DisableReasonGlobalConfig, reason)
	}

	// Not a suffix on an underscore boundary.
	disabled, _ := IsDisabled("fs_rewrite_file", "rewrite_file", nil, []string{"write_file"})
	assert.False(t, disabled)
}
