package chat

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartKind identifies the kind of a message content part.
type PartKind string

const (
	PartKindText       PartKind = "text"
	PartKindToolCall   PartKind = "tool-call"
	PartKindToolResult PartKind = "tool-result"
)

// Part is one ordered content part of a message. Text parts carry Text;
// tool-call parts carry ToolName and Args; tool-result parts carry Result.
type Part struct {
	Kind     PartKind        `json:"kind"`
	Text     string          `json:"text,omitempty"`
	ToolName string          `json:"toolName,omitempty"`
	Args     json.RawMessage `json:"args,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
}

// TextPart builds a plain text part.
func TextPart(text string) Part {
	return Part{Kind: PartKindText, Text: text}
}

// ToolCallPart builds a tool invocation part.
func ToolCallPart(name string, args json.RawMessage) Part {
	return Part{Kind: PartKindToolCall, ToolName: name, Args: args}
}

// ToolResultPart builds a tool result part.
func ToolResultPart(result json.RawMessage) Part {
	return Part{Kind: PartKindToolResult, Result: result}
}

// Message is a single chat message. Messages of a thread are totally
// ordered by CreatedAt and append-only; an update rewrites the rendered
// block in place, it never reorders.
type Message struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"threadId"`
	Role      Role      `json:"role"`
	Parts     []Part    `json:"parts"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// PlainText concatenates the text parts of the message. Used for list
// previews; tool parts are skipped.
func (m *Message) PlainText() string {
	var out string
	for _, p := range m.Parts {
		if p.Kind == PartKindText {
			if out != "" {
				out += "\n"
			}
			out += p.Text
		}
	}
	return out
}
