// Package agent drives the bounded LLM-tool loop for one conversation.
//
// A turn is one run of the step scheduler in response to one user input.
// Each step assembles a provider request from the accumulated history, the
// merged tool registry, and the thinking decision derived from the user's
// message, invokes the provider, interprets the result, and decides whether
// to stop or continue. Interaction surfaces (terminal, one-shot, JSON
// output) plug in through TurnCallbacks.
package agent

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eli0shin/envoy-sub002/config"
	"github.com/eli0shin/envoy-sub002/errors"
	"github.com/eli0shin/envoy-sub002/llm"
	"github.com/eli0shin/envoy-sub002/session"
	"github.com/eli0shin/envoy-sub002/thinking"
	"github.com/eli0shin/envoy-sub002/tools"
)

type Mode string

const (
	ModeAuto   Mode = "auto"
	ModePrompt Mode = "prompt"
)

type ToolVerbosity string

const (
	ToolVerbosityNone ToolVerbosity = "none"
	ToolVerbosityInfo ToolVerbosity = "info"
	ToolVerbosityAll  ToolVerbosity = "all"
)

// maxStepsResponse is returned when the step budget runs out before the
// model produced a final text.
const maxStepsResponse = "Maximum steps reached"

// cancelledResponse distinguishes user-initiated cancellation from other
// failures so callers can suppress it from error logs.
const cancelledResponse = "Operation cancelled by user"

// generationTimeout bounds a single provider call. It composes with the
// caller's context: whichever fires first wins.
const generationTimeout = 10 * time.Minute

// StopReason records how a turn ended.
type StopReason string

const (
	StopReasonDone      StopReason = "stop"
	StopReasonMaxSteps  StopReason = "max-steps"
	StopReasonCancelled StopReason = "cancelled"
	StopReasonError     StopReason = "error"
)

// TurnCallbacks let interaction surfaces observe a turn as it runs. All
// fields are optional.
type TurnCallbacks struct {
	// OnMessage fires for every message a step produced, in provider order,
	// once the step's whole batch is known.
	OnMessage func(session.Message)
	// OnToolCall and OnToolResult fire around each tool execution.
	OnToolCall   func(session.ToolCall)
	OnToolResult func(session.ToolCall, string)
	// ShouldExecuteTool gates execution in prompt mode; nil means always.
	ShouldExecuteTool func(session.ToolCall) bool
}

// TurnResult is the outcome of one turn.
type TurnResult struct {
	Success          bool              `json:"success"`
	Response         string            `json:"response"`
	StopReason       StopReason        `json:"stop_reason"`
	ToolCallsCount   int               `json:"tool_calls_count"`
	HasToolErrors    bool              `json:"has_tool_errors,omitempty"`
	ExecutionTime    time.Duration     `json:"execution_time"`
	Messages         []session.Message `json:"-"`
	ResponseMessages []session.Message `json:"-"`
	Error            string            `json:"error,omitempty"`
}

// Agent owns the conversation state for one session and schedules turns.
type Agent struct {
	Config    *config.Config
	Session   *session.Session
	LLMClient llm.Client
	Tools     []tools.Tool
	Mode      Mode
	Verbosity ToolVerbosity
	Logger    *zap.Logger

	// Messages is the ordered, append-only conversation history. The
	// scheduler only appends.
	Messages []session.Message
}

// New creates an agent over an already-merged tool set.
func New(cfg *config.Config, sess *session.Session, client llm.Client, activeTools []tools.Tool, mode Mode, verbosity ToolVerbosity, history []session.Message, logger *zap.Logger) *Agent {
	return &Agent{
		Config:    cfg,
		Session:   sess,
		LLMClient: client,
		Tools:     activeTools,
		Mode:      mode,
		Verbosity: verbosity,
		Logger:    logger,
		Messages:  history,
	}
}

// RunTurn executes one bounded turn for the given user input.
//
// The returned error is non-nil only for fatal outcomes; recoverable tool
// errors are folded into the conversation and the loop continues. A
// cancellation is reported both in the result and as a classified error.
func (a *Agent) RunTurn(ctx context.Context, userInput string, cb TurnCallbacks) (*TurnResult, error) {
	start := time.Now()

	decision := thinking.Analyze(userInput)
	knobs := thinking.MapToProvider(decision, a.LLMClient.Provider(), 0)
	a.Logger.Debug("thinking decision",
		zap.String("level", string(decision.Level)),
		zap.Int("budget", decision.BudgetTokens),
		zap.Bool("interleaved", decision.Interleaved),
	)

	a.append(session.Message{Role: "user", Content: userInput})
	a.persistAsync()

	result := &TurnResult{}
	maxSteps := a.Config.MaxSteps

	for step := 0; step < maxSteps; step++ {
		if ctx.Err() != nil {
			return a.cancelledResult(result, start)
		}

		stepCtx, cancel := context.WithTimeout(ctx, generationTimeout)
		stepResult, err := llm.Generate(stepCtx, a.LLMClient, &llm.GenerateRequest{
			Messages:      a.Messages,
			SystemPrompt:  a.Config.SystemPrompt,
			Tools:         a.Tools,
			Thinking:      knobs,
			MaxRetries:    a.Config.MaxRetries,
			OnToolCall:    cb.OnToolCall,
			OnToolResult:  cb.OnToolResult,
			ShouldExecute: cb.ShouldExecuteTool,
		})
		cancel()

		if err != nil {
			if errors.IsCancelled(err) || ctx.Err() != nil {
				return a.cancelledResult(result, start)
			}
			if errors.IsRecoverable(err) {
				// Unknown tool or bad arguments at the provider layer: tell
				// the model and keep going instead of aborting the turn.
				result.HasToolErrors = true
				a.append(session.Message{
					Role:    "user",
					Content: fmt.Sprintf("Tool call failed: %v. Please try a different approach or use different tools.", err),
				})
				a.persistAsync()
				a.Logger.Warn("recovered from tool error", zap.Error(err), zap.Int("step", step))
				continue
			}
			result.Success = false
			result.StopReason = StopReasonError
			result.Error = err.Error()
			result.ExecutionTime = time.Since(start)
			result.Messages = a.Messages
			return result, err
		}

		for _, msg := range stepResult.ResponseMessages {
			a.append(msg)
		}
		result.ResponseMessages = append(result.ResponseMessages, stepResult.ResponseMessages...)
		result.ToolCallsCount += len(stepResult.ToolResults)
		a.persistAsync()

		// Live updates fire only after the step's full batch is known,
		// preserving provider-returned ordering.
		if cb.OnMessage != nil {
			for _, msg := range stepResult.ResponseMessages {
				cb.OnMessage(msg)
			}
		}

		a.Logger.Debug("step complete",
			zap.Int("step", step),
			zap.String("finish_reason", string(stepResult.FinishReason)),
			zap.Int("tool_calls", len(stepResult.ToolResults)),
			zap.Int("input_tokens", stepResult.Usage.InputTokens),
			zap.Int("output_tokens", stepResult.Usage.OutputTokens),
		)

		if stepResult.FinishReason == llm.FinishStop || stepResult.FinishReason == llm.FinishLength {
			result.Success = true
			result.StopReason = StopReasonDone
			result.Response = stepResult.Text
			result.ExecutionTime = time.Since(start)
			result.Messages = a.Messages
			return result, nil
		}
	}

	// Step budget exhausted without a stop signal.
	result.Success = true
	result.StopReason = StopReasonMaxSteps
	result.Response = a.lastAssistantText()
	if result.Response == "" {
		result.Response = maxStepsResponse
	}
	result.ExecutionTime = time.Since(start)
	result.Messages = a.Messages
	return result, nil
}

func (a *Agent) append(msg session.Message) {
	a.Messages = append(a.Messages, msg)
}

// persistAsync hands the full accumulated history to the persistence sink.
// Fire-and-forget: a failed durability write never fails the live turn.
func (a *Agent) persistAsync() {
	if a.Session == nil {
		return
	}
	snapshot := make([]session.Message, len(a.Messages))
	copy(snapshot, a.Messages)
	go func() {
		if err := a.Session.PersistMessages(snapshot); err != nil {
			a.Logger.Warn("failed to persist session messages", zap.Error(err))
		}
	}()
}

func (a *Agent) lastAssistantText() string {
	for i := len(a.Messages) - 1; i >= 0; i-- {
		if a.Messages[i].Role == "assistant" && a.Messages[i].Content != "" {
			return a.Messages[i].Content
		}
	}
	return ""
}

func (a *Agent) cancelledResult(result *TurnResult, start time.Time) (*TurnResult, error) {
	result.Success = false
	result.StopReason = StopReasonCancelled
	result.Response = cancelledResponse
	result.Error = cancelledResponse
	result.ExecutionTime = time.Since(start)
	result.Messages = a.Messages
	return result, errors.Fatal(errors.KindCancelled, cancelledResponse)
}
