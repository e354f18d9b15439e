// Package protocol defines the wire format of the agentgate execution API.
// This package is importable by clients.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ExecuteRequest is the inbound Execution Request.
type ExecuteRequest struct {
	AgentID         string                 `json:"agent_id"`
	UserInput       UserInput              `json:"user_input,omitzero"`
	Variables       map[string]interface{} `json:"variables,omitempty"`
	ConfigOverrides map[string]interface{} `json:"config_overrides,omitempty"`
	ConversationID  string                 `json:"conversation_id,omitempty"`
	Stream          *bool                  `json:"stream,omitempty"`
	Debug           bool                   `json:"debug,omitempty"`
}

// Streaming reports whether the caller wants a live stream (default true).
func (r *ExecuteRequest) Streaming() bool {
	return r.Stream == nil || *r.Stream
}

// Validate checks the structural shape of the request.
func (r *ExecuteRequest) Validate() error {
	if strings.TrimSpace(r.AgentID) == "" {
		return errors.New("agent_id is required")
	}
	if len(r.AgentID) > 255 {
		return errors.New("agent_id is too long")
	}
	if len(r.ConversationID) > 255 {
		return errors.New("conversation_id is too long")
	}
	return nil
}

// ContentBlock is one element of a structured user input.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// UserInput accepts either a plain string or a list of content blocks.
type UserInput struct {
	Text   string
	Blocks []ContentBlock
}

// String flattens the input; text blocks are joined with newlines.
func (u UserInput) String() string {
	if len(u.Blocks) == 0 {
		return u.Text
	}
	parts := make([]string, 0, len(u.Blocks))
	for _, b := range u.Blocks {
		if b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// IsZero lets encoding/json omit an empty input.
func (u UserInput) IsZero() bool {
	return u.Text == "" && len(u.Blocks) == 0
}

func (u UserInput) MarshalJSON() ([]byte, error) {
	if len(u.Blocks) > 0 {
		return json.Marshal(u.Blocks)
	}
	return json.Marshal(u.Text)
}

func (u *UserInput) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	switch {
	case trimmed == "null":
		*u = UserInput{}
		return nil
	case strings.HasPrefix(trimmed, "\""):
		return json.Unmarshal(data, &u.Text)
	case strings.HasPrefix(trimmed, "["):
		var blocks []ContentBlock
		if err := json.Unmarshal(data, &blocks); err != nil {
			return fmt.Errorf("user_input: %w", err)
		}
		u.Blocks = blocks
		return nil
	default:
		return errors.New("user_input must be a string or a list of content blocks")
	}
}
