package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/eli0shin/envoy-sub002/agent"
	"github.com/eli0shin/envoy-sub002/agent/terminal"
	"github.com/eli0shin/envoy-sub002/config"
	"github.com/eli0shin/envoy-sub002/errors"
	"github.com/eli0shin/envoy-sub002/llm"
	"github.com/eli0shin/envoy-sub002/logging"
	"github.com/eli0shin/envoy-sub002/mcp"
	"github.com/eli0shin/envoy-sub002/session"
	"github.com/eli0shin/envoy-sub002/tools"
)

func main() {
	modeFlag := flag.String("m", "auto", "Execution mode: 'auto' or 'prompt'")
	sessionFlag := flag.String("s", "", "Session name to create or use")
	resumeFlag := flag.String("r", "", "Resume a session by name")
	toolVerbosityFlag := flag.String("tool-verbosity", "none", "Tool verbosity level: 'none', 'info', or 'all'")
	interactiveFlag := flag.Bool("i", false, "Run an interactive terminal session")
	jsonFlag := flag.Bool("json", false, "Emit the turn result as a single JSON object")
	maxStepsFlag := flag.Int("max-steps", 0, "Override the configured step budget")
	debugFlag := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logger := logging.New(*debugFlag)
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %+v\n", err)
		os.Exit(1)
	}
	if *maxStepsFlag > 0 {
		cfg.MaxSteps = *maxStepsFlag
	}

	var sess *session.Session
	var history []session.Message
	if *resumeFlag != "" {
		sess, history, err = session.Load(*resumeFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error resuming session '%s': %+v\n", *resumeFlag, err)
			os.Exit(1)
		}
		logger.Info("resuming session", zap.String("session", *resumeFlag), zap.Int("messages", len(history)))
	} else {
		name := *sessionFlag
		if name == "" {
			name = defaultSessionName()
		}
		sess, err = session.New(name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating session '%s': %+v\n", name, err)
			os.Exit(1)
		}
		logger.Info("starting new session", zap.String("session", name))
	}

	var opMode agent.Mode
	switch *modeFlag {
	case "auto":
		opMode = agent.ModeAuto
	case "prompt":
		opMode = agent.ModePrompt
	default:
		fmt.Fprintf(os.Stderr, "Invalid mode '%s'. Must be 'auto' or 'prompt'.\n", *modeFlag)
		os.Exit(1)
	}

	var verbosity agent.ToolVerbosity
	switch *toolVerbosityFlag {
	case "none":
		verbosity = agent.ToolVerbosityNone
	case "info":
		verbosity = agent.ToolVerbosityInfo
	case "all":
		verbosity = agent.ToolVerbosityAll
	default:
		fmt.Fprintf(os.Stderr, "Invalid tool verbosity '%s'. Must be 'none', 'info', or 'all'.\n", *toolVerbosityFlag)
		os.Exit(1)
	}

	// Ctrl-C cancels the in-flight turn rather than killing the process
	// abruptly; a second Ctrl-C exits via the default handler.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := llm.NewClient(ctx, cfg.Provider, cfg.Model)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing LLM client: %+v\n", err)
		os.Exit(1)
	}

	// Initialize all configured MCP servers in parallel; a failing server
	// costs its own tools, not the session.
	serverTools, clients, loadErrors := mcp.LoadServersWithClients(ctx, cfg.MCPServers, cfg.ToolTimeout, logger)
	defer func() {
		for _, c := range clients {
			c.Close()
		}
	}()
	for _, msg := range loadErrors {
		logger.Warn("mcp load error", zap.String("error", msg))
	}

	// Builtin tools join the same namespace under the "builtin" prefix so
	// the disable rules apply to them too.
	builtin := mcp.ServerTools{ServerName: tools.BuiltinServerName}
	for _, t := range tools.BuiltinTools(&cfg.FilesystemAccess, cfg.AllowedCommands) {
		builtin.Tools = append(builtin.Tools, mcp.WrapLocal(t, tools.BuiltinServerName, logger))
	}
	serverTools = append(serverTools, builtin)

	registry, conflicts := mcp.Merge(serverTools, cfg.DisabledMCPTools, logger)
	for _, msg := range conflicts {
		logger.Warn("mcp merge error", zap.String("error", msg))
	}
	logger.Info("tool registry ready", zap.Int("tools", registry.Len()))

	envoyAgent := agent.New(cfg, sess, client, registry.List(), opMode, verbosity, history, logger)

	if *interactiveFlag {
		term := terminal.New(envoyAgent)
		fmt.Println("Envoy is ready. Type your prompt.")
		if err := term.Run(ctx, strings.Join(flag.Args(), " ")); err != nil {
			fmt.Fprintf(os.Stderr, "Agent stopped with an error: %+v\n", err)
			os.Exit(1)
		}
		return
	}

	prompt := strings.Join(flag.Args(), " ")
	if prompt == "" {
		fmt.Fprintln(os.Stderr, "No prompt given. Pass a prompt as arguments or use -i for interactive mode.")
		os.Exit(1)
	}

	result, err := envoyAgent.RunTurn(ctx, prompt, agent.TurnCallbacks{})
	if err != nil && !errors.IsCancelled(err) {
		logger.Error("turn failed", zap.Error(err))
	}

	if *jsonFlag {
		out := map[string]interface{}{
			"success":  result.Success,
			"response": result.Response,
		}
		if result.Error != "" {
			out["error"] = result.Error
		}
		data, _ := json.Marshal(out)
		fmt.Println(string(data))
	} else if result.Response != "" {
		fmt.Println(result.Response)
	}

	if !result.Success {
		os.Exit(1)
	}
}

func defaultSessionName() string {
	wd, err := os.Getwd()
	if err != nil {
		wd = "envoy"
	}
	dirName := filepath.Base(wd)
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	return fmt.Sprintf("%s_%s", dirName, timestamp)
}
