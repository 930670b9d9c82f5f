// Package protocol defines the canonical message format every backend
// adapter translates into, and the adapter contract itself.
package protocol

import (
	"fmt"
	"strings"

	"github.com/wardenhq/warden/internal/models"
)

// PendingSessionID is carried on canonical messages emitted before the
// backend has reported its own session id, so downstream code never
// null-checks the field.
const PendingSessionID = "pending"

// MessageType discriminates the canonical message union.
type MessageType string

const (
	MessageTypeSystem    MessageType = "system"
	MessageTypeUser      MessageType = "user"
	MessageTypeAssistant MessageType = "assistant"
	MessageTypeResult    MessageType = "result"
)

// BlockType discriminates content blocks inside user/assistant messages.
type BlockType string

const (
	BlockTypeText       BlockType = "text"
	BlockTypeToolUse    BlockType = "tool_use"
	BlockTypeToolResult BlockType = "tool_result"
)

// ResultSubtype classifies a terminal result message.
type ResultSubtype string

const (
	ResultSuccess        ResultSubtype = "success"
	ResultErrorExecution ResultSubtype = "error_during_execution"
	ResultErrorMaxTurns  ResultSubtype = "error_max_turns"
)

// ContentBlock is one ordered block of a user or assistant message.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ToolUseID string         `json:"toolUseId,omitempty"`
	ToolName  string         `json:"toolName,omitempty"`
	ToolInput map[string]any `json:"toolInput,omitempty"`

	// tool_result
	Content string `json:"content,omitempty"`
	IsError bool   `json:"isError,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockTypeText, Text: text}
}

// ToolUseBlock builds a tool_use content block.
func ToolUseBlock(id, name string, input map[string]any) ContentBlock {
	return ContentBlock{Type: BlockTypeToolUse, ToolUseID: id, ToolName: name, ToolInput: input}
}

// ToolResultBlock builds a tool_result content block.
func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockTypeToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// Result is the payload of a terminal result message.
type Result struct {
	Subtype    ResultSubtype `json:"subtype"`
	Usage      models.Usage  `json:"usage"`
	CostUSD    float64       `json:"costUsd"`
	DurationMS int64         `json:"durationMs"`
	NumTurns   int           `json:"numTurns"`
	FinalText  string        `json:"finalText,omitempty"`
	Errors     []string      `json:"errors,omitempty"`
}

// Message is the canonical, backend-agnostic event format. It is a closed
// tagged union on Type; SessionID is always populated (PendingSessionID
// until the backend assigns one).
type Message struct {
	Type      MessageType `json:"type"`
	Subtype   string      `json:"subtype,omitempty"` // "init" for system messages
	SessionID string      `json:"sessionId"`

	// MessageID is shared by every delta of one logical assistant turn.
	// Accumulating deltas into a single turn is the caller's contract.
	MessageID       string `json:"messageId,omitempty"`
	ParentToolUseID string `json:"parentToolUseId,omitempty"`

	// system/init
	Model string   `json:"model,omitempty"`
	Tools []string `json:"tools,omitempty"`
	Cwd   string   `json:"cwd,omitempty"`

	// user / assistant
	Content []ContentBlock `json:"content,omitempty"`

	// result
	Result *Result `json:"result,omitempty"`
}

// SystemInit builds the canonical system/init message.
func SystemInit(sessionID, model string, tools []string, cwd string) *Message {
	return &Message{
		Type:      MessageTypeSystem,
		Subtype:   "init",
		SessionID: orPending(sessionID),
		Model:     model,
		Tools:     tools,
		Cwd:       cwd,
	}
}

// UserText builds a canonical user message with a single text block.
func UserText(sessionID, text string) *Message {
	return &Message{
		Type:      MessageTypeUser,
		SessionID: orPending(sessionID),
		Content:   []ContentBlock{TextBlock(text)},
	}
}

// AssistantBlocks builds a canonical assistant message from ordered blocks.
func AssistantBlocks(sessionID string, blocks ...ContentBlock) *Message {
	return &Message{
		Type:      MessageTypeAssistant,
		SessionID: orPending(sessionID),
		Content:   blocks,
	}
}

// AssistantDelta builds one delta of a streamed assistant turn. All deltas
// of the same turn share messageID.
func AssistantDelta(sessionID, messageID, text string) *Message {
	return &Message{
		Type:      MessageTypeAssistant,
		SessionID: orPending(sessionID),
		MessageID: messageID,
		Content:   []ContentBlock{TextBlock(text)},
	}
}

// ToolResult builds the canonical tool_result carrier: a user-typed
// message holding a single tool_result block.
func ToolResult(sessionID, toolUseID, content string, isError bool) *Message {
	return &Message{
		Type:      MessageTypeUser,
		SessionID: orPending(sessionID),
		Content:   []ContentBlock{ToolResultBlock(toolUseID, content, isError)},
	}
}

// ResultMessage wraps a Result payload in a canonical message.
func ResultMessage(sessionID string, result Result) *Message {
	return &Message{
		Type:      MessageTypeResult,
		SessionID: orPending(sessionID),
		Result:    &result,
	}
}

// ErrorResult builds a result message with subtype error_during_execution.
// Both fatal and non-fatal backend errors funnel through here.
func ErrorResult(sessionID, reason string) *Message {
	return ResultMessage(sessionID, Result{
		Subtype: ResultErrorExecution,
		Errors:  []string{reason},
	})
}

// ErrorReason assembles a human-readable reason from whatever subset of
// name, message, and status code the backend provided.
func ErrorReason(name, message string, statusCode int) string {
	var parts []string
	if strings.TrimSpace(name) != "" {
		parts = append(parts, strings.TrimSpace(name))
	}
	if strings.TrimSpace(message) != "" {
		parts = append(parts, strings.TrimSpace(message))
	}
	if statusCode != 0 {
		parts = append(parts, fmt.Sprintf("status %d", statusCode))
	}
	if len(parts) == 0 {
		return "backend error"
	}
	return strings.Join(parts, ": ")
}

// ToolResultBlocks returns the tool_result blocks of a user message, if any.
func (m *Message) ToolResultBlocks() []ContentBlock {
	if m.Type != MessageTypeUser {
		return nil
	}
	var out []ContentBlock
	for _, b := range m.Content {
		if b.Type == BlockTypeToolResult {
			out = append(out, b)
		}
	}
	return out
}

// Text concatenates the text blocks of the message.
func (m *Message) Text() string {
	var parts []string
	for _, b := range m.Content {
		if b.Type == BlockTypeText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "")
}

func orPending(sessionID string) string {
	if strings.TrimSpace(sessionID) == "" {
		return PendingSessionID
	}
	return sessionID
}
