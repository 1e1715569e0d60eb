package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eli0shin/envoy-sub002/config"
)

func TestIsPathRestricted(t *testing.T) {
	patterns := []string{".envoy", ".envoy/**", "secrets/*.key"}

	tests := []struct {
		path string
		want bool
	}{
		{".envoy", true},
		{".envoy/config.yaml", true},
		{".envoy/sessions/a.jsonl", true},
		{"secrets/api.key", true},
		{"secrets/nested/api.key", false},
		{"main.go", false},
	}
	for _, tt := range tests {
		got, err := isPathRestricted(tt.path, patterns)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "path %s", tt.path)
	}

	_, err := isPathRestricted("x", []string{"[invalid"})
	assert.Error(t, err)
}

func TestIsCommandAllowed(t *testing.T) {
	allowed := []string{`^ls(\s|$)`, `^git status$`}

	tests := []struct {
		command string
		want    bool
	}{
		{"ls", true},
		{"ls -la /tmp", true},
		{"git status", true},
		{"git push", false},
		{"rm -rf /", false},
		{"", false},
	}
	for _, tt := range tests {
		got, err := isCommandAllowed(tt.command, allowed)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "command %q", tt.command)
	}
}

func TestIsCommandAllowedInvalidRegexFallsBack(t *testing.T) {
	// An unparseable pattern degrades to exact string comparison.
	got, err := isCommandAllowed("echo [hi", []string{"echo [hi"})
	require.NoError(t, err)
	assert.True(t, got)

	got, err = isCommandAllowed("echo [bye", []string{"echo [hi"})
	require.NoError(t, err)
	assert.False(t, got)
}

func TestReadFileToolRespectsHiddenPaths(t *testing.T) {
	dir := t.TempDir()
	secret := filepath.Join(dir, "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("hush"), 0644))

	tool := &ReadFileTool{FsAccess: &config.FilesystemAccess{Hidden: []string{filepath.Join(dir, "secret.txt")}}}
	_, err := tool.Execute(context.Background(), map[string]interface{}{"path": secret})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hidden")

	open := filepath.Join(dir, "open.txt")
	require.NoError(t, os.WriteFile(open, []byte("hello"), 0644))
	out, err := tool.Execute(context.Background(), map[string]interface{}{"path": open})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestWriteFileToolRespectsReadOnlyPaths(t *testing.T) {
	dir := t.TempDir()
	locked := filepath.Join(dir, "locked.txt")

	tool := &WriteFileTool{FsAccess: &config.FilesystemAccess{ReadOnly: []string{filepath.Join(dir, "locked.txt")}}}
	_, err := tool.Execute(context.Background(), map[string]interface{}{"path": locked, "content": "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read-only")

	free := filepath.Join(dir, "free.txt")
	out, err := tool.Execute(context.Background(), map[string]interface{}{"path": free, "content": "hello"})
	require.NoError(t, err)
	assert.Contains(t, out, "Successfully wrote 5 bytes")

	data, err := os.ReadFile(free)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestExecuteCommandToolDeniesUnlisted(t *testing.T) {
	tool := &ExecuteCommandTool{AllowedCommands: []string{`^echo(\s|$)`}}

	_, err := tool.Execute(context.Background(), map[string]interface{}{"command": "rm -rf /tmp/x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in the list of allowed commands")

	out, err := tool.Execute(context.Background(), map[string]interface{}{"command": "echo hi"})
	require.NoError(t, err)
	assert.Contains(t, out, "hi")
}

func TestFindTool(t *testing.T) {
	ts := BuiltinTools(&config.FilesystemAccess{}, nil)

	tool, ok := FindTool(ts, "read_file")
	require.True(t, ok)
	assert.Equal(t, "read_file", tool.Name())

	_, ok = FindTool(ts, "no_such")
	assert.False(t, ok)
}

func TestBuiltinToolSchemas(t *testing.T) {
	for _, tool := range BuiltinTools(&config.FilesystemAccess{}, []string{"ls"}) {
		schema := tool.InputSchema()
		require.NotNil(t, schema, tool.Name())
		assert.Equal(t, "object", schema["type"])
		assert.NotEmpty(t, schema["required"])
	}
}
