package adapters

import (
	"strings"

	"github.com/wardenhq/warden/internal/models"
	"github.com/wardenhq/warden/internal/protocol"
)

// Codex translates the codex CLI's JSON event stream. Text arrives as
// agent_message_delta events followed by a full agent_message; token
// accounting arrives out of band in token_count events, so the adapter
// keeps a metrics snapshot for the terminal task_complete.
type Codex struct {
	turns        turnIDs
	sawDelta     bool
	lastUsage    models.Usage
	lastAgentMsg string
}

// NewCodex constructs a Codex adapter.
func NewCodex() *Codex {
	return &Codex{turns: turnIDs{prefix: "codex"}}
}

func (a *Codex) Backend() models.Backend { return models.BackendCodex }

// ExtractSessionID reads the id announced by the session_configured event.
func (a *Codex) ExtractSessionID(ev protocol.NativeEvent) string {
	if codexMethod(ev) != "session_configured" {
		return ""
	}
	params := ev.Object("params")
	if params == nil {
		return ""
	}
	return strings.TrimSpace(str(params, "session_id"))
}

func (a *Codex) Translate(ev protocol.NativeEvent, sessionID, lastAssistantText string) *protocol.Message {
	params := ev.Object("params")
	if params == nil {
		params = map[string]any{}
	}

	switch codexMethod(ev) {
	case "session_configured":
		return protocol.SystemInit(sessionID, str(params, "model"), nil, str(params, "cwd"))

	case "agent_message_delta":
		delta := str(params, "delta")
		if delta == "" {
			return nil
		}
		a.sawDelta = true
		return protocol.AssistantDelta(sessionID, a.turns.active(), delta)

	case "agent_message":
		text := str(params, "message")
		if text == "" {
			return nil
		}
		a.lastAgentMsg = text
		// The full message repeats what the deltas already carried.
		if a.sawDelta {
			a.sawDelta = false
			a.turns.reset()
			return nil
		}
		return protocol.AssistantBlocks(sessionID, protocol.TextBlock(text))

	case "exec_command_begin":
		callID := str(params, "call_id")
		input := map[string]any{"command": params["command"]}
		return protocol.AssistantBlocks(sessionID, protocol.ToolUseBlock(callID, "shell", input))

	case "exec_command_end":
		callID := str(params, "call_id")
		exitCode := int(num(params, "exit_code"))
		output := str(params, "stdout")
		if exitCode != 0 && str(params, "stderr") != "" {
			output = str(params, "stderr")
		}
		return protocol.ToolResult(sessionID, callID, output, exitCode != 0)

	case "token_count":
		a.lastUsage = codexUsage(params)
		return nil

	case "task_complete":
		finalText := str(params, "last_agent_message")
		if finalText == "" {
			finalText = a.lastAgentMsg
		}
		if finalText == "" {
			finalText = lastAssistantText
		}
		return protocol.ResultMessage(sessionID, protocol.Result{
			Subtype:   protocol.ResultSuccess,
			Usage:     a.lastUsage,
			FinalText: strings.TrimSpace(finalText),
		})

	case "error", "stream_error":
		reason := protocol.ErrorReason(str(params, "name"), str(params, "message"), int(num(params, "status_code")))
		msg := protocol.ErrorResult(sessionID, reason)
		msg.Result.Usage = a.lastUsage
		return msg
	}

	// task_started, turn_diff, mcp tool chatter and similar events have
	// no canonical mapping.
	return nil
}

func codexMethod(ev protocol.NativeEvent) string {
	method := ev.String("method")
	// Some codex builds emit camelCase method names.
	switch method {
	case "sessionConfigured":
		return "session_configured"
	case "agentMessageDelta":
		return "agent_message_delta"
	case "agentMessage":
		return "agent_message"
	case "taskComplete":
		return "task_complete"
	case "tokenCount":
		return "token_count"
	}
	return method
}

func codexUsage(params map[string]any) models.Usage {
	info := obj(params, "info")
	if info == nil {
		info = params
	}
	total := obj(info, "total_token_usage")
	if total == nil {
		return models.Usage{}
	}
	return models.Usage{
		InputTokens:     int(num(total, "input_tokens")),
		OutputTokens:    int(num(total, "output_tokens")),
		CacheReadTokens: int(num(total, "cached_input_tokens")),
	}
}
