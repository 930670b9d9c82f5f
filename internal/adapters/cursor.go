package adapters

import (
	"strings"

	"github.com/wardenhq/warden/internal/models"
	"github.com/wardenhq/warden/internal/protocol"
)

// Cursor translates the cursor-agent CLI's ndjson output. Tool calls move
// through started/updated/completed subtypes; only completed or failed
// states produce a canonical tool_result.
type Cursor struct{}

// NewCursor constructs a Cursor adapter.
func NewCursor() *Cursor { return &Cursor{} }

func (a *Cursor) Backend() models.Backend { return models.BackendCursor }

// ExtractSessionID accepts either field name cursor-agent has used for
// its conversation id.
func (a *Cursor) ExtractSessionID(ev protocol.NativeEvent) string {
	if id := strings.TrimSpace(ev.String("session_id")); id != "" {
		return id
	}
	return strings.TrimSpace(ev.String("chat_id"))
}

func (a *Cursor) Translate(ev protocol.NativeEvent, sessionID, lastAssistantText string) *protocol.Message {
	switch ev.String("type") {
	case "system":
		if ev.String("subtype") != "init" {
			return nil
		}
		return protocol.SystemInit(sessionID, ev.String("model"), nil, ev.String("cwd"))

	case "assistant":
		msg := ev.Object("message")
		if msg == nil {
			return nil
		}
		blocks := claudeBlocks(msg) // cursor reuses the anthropic message shape
		if len(blocks) == 0 {
			return nil
		}
		return protocol.AssistantBlocks(sessionID, blocks...)

	case "tool_call":
		return a.translateToolCall(ev, sessionID)

	case "result":
		subtype := protocol.ResultSuccess
		var errs []string
		if ev.String("subtype") == "error" || ev.Payload["is_error"] == true {
			subtype = protocol.ResultErrorExecution
			if reason := strings.TrimSpace(ev.String("result")); reason != "" {
				errs = []string{reason}
			}
		}
		finalText := strings.TrimSpace(ev.String("result"))
		if finalText == "" {
			finalText = strings.TrimSpace(lastAssistantText)
		}
		return protocol.ResultMessage(sessionID, protocol.Result{
			Subtype:    subtype,
			DurationMS: int64(num(ev.Payload, "duration_ms")),
			FinalText:  finalText,
			Errors:     errs,
		})
	}

	return nil
}

func (a *Cursor) translateToolCall(ev protocol.NativeEvent, sessionID string) *protocol.Message {
	call := ev.Object("tool_call")
	if call == nil {
		return nil
	}
	callID := str(call, "id")
	if callID == "" {
		callID = ev.String("call_id")
	}

	switch ev.String("subtype") {
	case "started":
		return protocol.AssistantBlocks(sessionID,
			protocol.ToolUseBlock(callID, str(call, "name"), obj(call, "args")))
	case "completed":
		return protocol.ToolResult(sessionID, callID, str(call, "result"), false)
	case "errored", "failed":
		reason := str(call, "error")
		if reason == "" {
			reason = str(call, "result")
		}
		return protocol.ToolResult(sessionID, callID, reason, true)
	}
	// "updated" and other intermediate states never synthesize a result.
	return nil
}
