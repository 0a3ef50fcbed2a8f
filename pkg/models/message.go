// Package models defines the shared data types exchanged between the
// orchestrator, the history store, and the HTTP API.
package models

import "fmt"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether the role is one of the three known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is one role-tagged entry in a conversation. Message sequences are
// ordered and append-only: once a message is part of a transcript it is
// never mutated.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// NewUserMessage returns a user-authored message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage returns an assistant-authored message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// NewSystemMessage returns a system-authored message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// Validate checks that the message has a known role and non-empty content.
func (m Message) Validate() error {
	if !m.Role.Valid() {
		return fmt.Errorf("invalid message role %q", m.Role)
	}
	if m.Content == "" {
		return fmt.Errorf("message content is empty")
	}
	return nil
}

// LastAssistant returns the content of the most recent assistant message in
// the sequence, or "" if there is none. Callers use this to extract the
// reply shown to an end user from a finished transcript.
func LastAssistant(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleAssistant {
			return messages[i].Content
		}
	}
	return ""
}
