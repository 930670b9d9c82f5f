package adapters

import (
	"strings"

	"github.com/wardenhq/warden/internal/models"
	"github.com/wardenhq/warden/internal/protocol"
)

// Gemini translates the gemini CLI's streaming JSON output. Like opencode
// it lacks a native terminal record: the stream goes quiet with an "idle"
// signal, and token statistics arrive in separate "stats" events.
type Gemini struct {
	turns     turnIDs
	lastUsage models.Usage
}

// NewGemini constructs a Gemini adapter.
func NewGemini() *Gemini {
	return &Gemini{turns: turnIDs{prefix: "gemini"}}
}

func (a *Gemini) Backend() models.Backend { return models.BackendGemini }

// ExtractSessionID reads the id from the session_start event.
func (a *Gemini) ExtractSessionID(ev protocol.NativeEvent) string {
	if ev.String("type") != "session_start" {
		return ""
	}
	return strings.TrimSpace(ev.String("session_id"))
}

func (a *Gemini) Translate(ev protocol.NativeEvent, sessionID, lastAssistantText string) *protocol.Message {
	switch ev.String("type") {
	case "session_start":
		return protocol.SystemInit(sessionID, ev.String("model"), strs(ev.Payload, "tools"), ev.String("cwd"))

	case "model_text":
		text := ev.String("text")
		if text == "" {
			return nil
		}
		return protocol.AssistantDelta(sessionID, a.turns.active(), text)

	case "tool_call":
		// A tool call ends the current streamed text turn.
		a.turns.reset()
		return protocol.AssistantBlocks(sessionID,
			protocol.ToolUseBlock(ev.String("id"), ev.String("name"), ev.Object("args")))

	case "tool_result":
		if errText := ev.String("error"); errText != "" {
			return protocol.ToolResult(sessionID, ev.String("id"), errText, true)
		}
		return protocol.ToolResult(sessionID, ev.String("id"), ev.String("output"), false)

	case "stats":
		if usage := ev.Object("usage"); usage != nil {
			a.lastUsage = models.Usage{
				InputTokens:     int(num(usage, "input_tokens")),
				OutputTokens:    int(num(usage, "output_tokens")),
				CacheReadTokens: int(num(usage, "cached_tokens")),
			}
		}
		return nil

	case "idle":
		a.turns.reset()
		return protocol.ResultMessage(sessionID, protocol.Result{
			Subtype:   protocol.ResultSuccess,
			Usage:     a.lastUsage,
			FinalText: strings.TrimSpace(lastAssistantText),
		})

	case "error":
		errObj := ev.Object("error")
		if errObj == nil {
			errObj = ev.Payload
		}
		reason := protocol.ErrorReason(str(errObj, "name"), str(errObj, "message"), int(num(errObj, "status")))
		msg := protocol.ErrorResult(sessionID, reason)
		msg.Result.Usage = a.lastUsage
		return msg
	}

	return nil
}
