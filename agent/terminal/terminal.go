// Package terminal implements the interactive command-line mode for the
// envoy agent: a prompt loop with tool-call display at configurable
// verbosity and, in prompt mode, per-tool confirmation.
package terminal

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/eli0shin/envoy-sub002/agent"
	"github.com/eli0shin/envoy-sub002/errors"
	"github.com/eli0shin/envoy-sub002/session"
)

var (
	promptColor    = color.New(color.FgCyan, color.Bold)
	assistantColor = color.New(color.FgGreen)
	toolColor      = color.New(color.FgYellow)
	thinkingColor  = color.New(color.FgHiBlack)
)

// Terminal handles the interactive CLI mode for the agent.
type Terminal struct {
	agent *agent.Agent
}

// New creates a new Terminal instance.
func New(a *agent.Agent) *Terminal {
	return &Terminal{agent: a}
}

// Run starts the interactive terminal session.
func (t *Terminal) Run(ctx context.Context, initialPrompt string) error {
	if initialPrompt != "" {
		if err := t.processTurn(ctx, initialPrompt); err != nil {
			return err
		}
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		promptColor.Print("You: ")
		if !scanner.Scan() {
			// EOF or read error ends the session.
			break
		}

		userInput := strings.TrimSpace(scanner.Text())
		if userInput == "" {
			continue
		}
		if userInput == "/quit" || userInput == "/exit" {
			break
		}

		if err := t.processTurn(ctx, userInput); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}

	return scanner.Err()
}

// processTurn runs a single user input through the agent.
func (t *Terminal) processTurn(ctx context.Context, userInput string) error {
	callbacks := agent.TurnCallbacks{
		OnMessage: func(msg session.Message) {
			if msg.Role != "assistant" {
				return
			}
			if msg.Thinking != "" {
				thinkingColor.Printf("[thinking] %s\n", msg.Thinking)
			}
			if msg.Content != "" {
				assistantColor.Printf("Envoy: %s\n", msg.Content)
			}
		},
		OnToolCall: func(toolCall session.ToolCall) {
			switch t.agent.Verbosity {
			case agent.ToolVerbosityAll:
				toolColor.Printf("Envoy wants to call tool `%s` with args: %v\n", toolCall.Name, toolCall.Args)
			case agent.ToolVerbosityInfo:
				toolColor.Printf("Envoy wants to call tool `%s`\n", toolCall.Name)
			}
		},
		OnToolResult: func(toolCall session.ToolCall, result string) {
			if t.agent.Verbosity == agent.ToolVerbosityAll {
				toolColor.Printf("Tool `%s` output: %s\n", toolCall.Name, result)
			}
		},
		ShouldExecuteTool: func(toolCall session.ToolCall) bool {
			if t.agent.Mode == agent.ModePrompt {
				fmt.Print("Do you want to allow this? (y/n): ")
				reader := bufio.NewReader(os.Stdin)
				answer, _ := reader.ReadString('\n')
				return strings.TrimSpace(strings.ToLower(answer)) == "y"
			}
			return true
		},
	}

	_, err := t.agent.RunTurn(ctx, userInput, callbacks)
	if err != nil && errors.IsCancelled(err) {
		fmt.Println(agentCancelledNote)
		return nil
	}
	return err
}

const agentCancelledNote = "Operation cancelled."
