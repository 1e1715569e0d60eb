package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ToolCallID string                 `json:"tool_call_id"`
	Name       string                 `json:"name"`
	Args       map[string]interface{} `json:"args"`
}

// Message is one entry in the conversation history.
//
// Roles: "user", "assistant", "system", "tool". Assistant messages may carry
// tool calls and provider reasoning text; tool messages carry the result of
// exactly one tool call, identified by ToolCalls[0].ToolCallID.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Thinking  string     `json:"thinking,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Session owns one conversation transcript, persisted as append-only JSONL.
// PersistMessages may be called repeatedly with a growing prefix of the
// history; the session writes only the delta.
type Session struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	mu        sync.Mutex
	path      string
	persisted int
}

// New creates a new session. The transcript file is created on first write.
func New(name string) (*Session, error) {
	path, err := sessionPath(name)
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:   uuid.NewString(),
		Name: name,
		path: path,
	}, nil
}

// Load opens an existing session transcript by name and returns the session
// together with its recorded history.
func Load(name string) (*Session, []Message, error) {
	path, err := sessionPath(name)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("could not read session file %s: %w", path, err)
	}
	defer f.Close()

	var messages []Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			return nil, nil, fmt.Errorf("could not parse session file %s: %w", path, err)
		}
		messages = append(messages, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("could not read session file %s: %w", path, err)
	}

	return &Session{
		ID:        uuid.NewString(),
		Name:      name,
		path:      path,
		persisted: len(messages),
	}, messages, nil
}

// PersistMessages appends any messages beyond what has already been written.
// Idempotent with respect to repeated calls carrying a growing prefix.
func (s *Session) PersistMessages(all []Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(all) <= s.persisted {
		return nil
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("could not open session file %s: %w", s.path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, msg := range all[s.persisted:] {
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to serialize message: %w", err)
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("failed to write session file %s: %w", s.path, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write session file %s: %w", s.path, err)
	}

	s.persisted = len(all)
	return nil
}

// Path returns the transcript location on disk.
func (s *Session) Path() string { return s.path }

func sessionPath(name string) (string, error) {
	sessionDir := filepath.Join(".envoy", "sessions")
	if err := os.MkdirAll(sessionDir, 0755); err != nil {
		return "", fmt.Errorf("could not create session directory: %w", err)
	}
	return filepath.Join(sessionDir, fmt.Sprintf("%s.jsonl", name)), nil
}
