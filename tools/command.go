package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/eli0shin/envoy-sub002/config"
	"github.com/eli0shin/envoy-sub002/errors"
)

// ExecuteCommandTool implements the tool for running OS commands.
type ExecuteCommandTool struct {
	AllowedCommands []string
}

func (t *ExecuteCommandTool) Name() string { return "execute_command" }
func (t *ExecuteCommandTool) Description() string {
	if len(t.AllowedCommands) == 0 {
		return "Executes a shell command. No commands are currently allowed. Args: command (string)."
	}

	allowedList := "Allowed command wildcard patterns:\n"
	for _, cmd := range t.AllowedCommands {
		allowedList += fmt.Sprintf("- %s\n", cmd)
	}

	return fmt.Sprintf("Executes a shell command. Args: command (string).\n%s", allowedList)
}

func (t *ExecuteCommandTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"command": map[string]interface{}{"type": "string", "description": "Command line to execute."},
	}, "command")
}

func (t *ExecuteCommandTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	command, ok := args["command"].(string)
	if !ok {
		return "", errors.New("missing or invalid 'command' argument")
	}

	allowed, err := isCommandAllowed(command, t.AllowedCommands)
	if err != nil {
		return "", err
	}
	if !allowed {
		return "", errors.New("command '%s' is not in the list of allowed commands", command)
	}

	parts := strings.Fields(command)
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", errors.Wrapf(err, "command execution failed. Output:\n%s", string(output))
	}

	return fmt.Sprintf("Command executed successfully. Output:\n%s", string(output)), nil
}

// BuiltinTools returns the tools compiled into the agent itself. They are
// merged into the registry under the "builtin" server prefix.
func BuiltinTools(fsAccess *config.FilesystemAccess, allowedCommands []string) []Tool {
	return []Tool{
		&ReadFileTool{FsAccess: fsAccess},
		&WriteFileTool{FsAccess: fsAccess},
		&ExecuteCommandTool{AllowedCommands: allowedCommands},
	}
}
