package errors

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
)

// New creates a new error with file and line number information.
func New(format string, a ...interface{}) error {
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		file = "???"
		line = 0
	} else {
		file = filepath.Base(file)
	}
	return fmt.Errorf("[%s:%d] %s", file, line, fmt.Sprintf(format, a...))
}

// Wrapf adds context (including file and line number) to an existing error.
// If the provided error is nil, Wrapf returns nil.
func Wrapf(err error, format string, a ...interface{}) error {
	if err == nil {
		return nil
	}
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		file = "???"
		line = 0
	} else {
		file = filepath.Base(file)
	}
	return fmt.Errorf("[%s:%d] %s: %w", file, line, fmt.Sprintf(format, a...), err)
}

// Kind classifies an agent error so that control flow never depends on
// catching provider-SDK-specific error types.
type Kind string

const (
	KindToolNotFound    Kind = "tool_not_found"
	KindInvalidToolArgs Kind = "invalid_tool_args"
	KindConnectivity    Kind = "connectivity"
	KindPrompt          Kind = "prompt"
	KindProvider        Kind = "provider"
	KindCancelled       Kind = "cancelled"
)

// AgentError is the classified error produced at the provider-adapter
// boundary. Recoverable errors let the agent loop continue with a synthetic
// conversation message; fatal ones end the turn.
type AgentError struct {
	Kind        Kind
	Message     string
	Recoverable bool
	cause       error
}

func (e *AgentError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *AgentError) Unwrap() error { return e.cause }

// Recoverable creates an error the agent loop may recover from.
func Recoverable(kind Kind, format string, a ...interface{}) error {
	return &AgentError{Kind: kind, Message: fmt.Sprintf(format, a...), Recoverable: true}
}

// Fatal creates an error that ends the current turn.
func Fatal(kind Kind, format string, a ...interface{}) error {
	return &AgentError{Kind: kind, Message: fmt.Sprintf(format, a...)}
}

// FatalWrap classifies an underlying error as fatal, preserving the cause.
// Returns nil if err is nil.
func FatalWrap(kind Kind, err error, format string, a ...interface{}) error {
	if err == nil {
		return nil
	}
	return &AgentError{Kind: kind, Message: fmt.Sprintf(format, a...), cause: err}
}

// IsRecoverable reports whether the agent loop may continue past err.
func IsRecoverable(err error) bool {
	var ae *AgentError
	return errors.As(err, &ae) && ae.Recoverable
}

// IsCancelled reports whether err is a user-initiated cancellation.
// Callers suppress cancellations from error logs.
func IsCancelled(err error) bool {
	var ae *AgentError
	return errors.As(err, &ae) && ae.Kind == KindCancelled
}

// KindOf returns the classification of err, or an empty Kind for
// unclassified errors.
func KindOf(err error) Kind {
	var ae *AgentError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}
