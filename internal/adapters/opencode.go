package adapters

import (
	"strings"

	"github.com/wardenhq/warden/internal/models"
	"github.com/wardenhq/warden/internal/protocol"
)

// OpenCode translates the opencode server's SSE event stream. The server
// has no native terminal message — a generic session.idle signal marks the
// end of a turn — so the adapter synthesizes the result from the caller's
// last accumulated assistant text and its own metrics snapshot.
type OpenCode struct {
	lastUsage models.Usage
	lastCost  float64
}

// NewOpenCode constructs an OpenCode adapter.
func NewOpenCode() *OpenCode {
	return &OpenCode{}
}

func (a *OpenCode) Backend() models.Backend { return models.BackendOpenCode }

// ExtractSessionID digs the opencode session id out of whichever event
// variant carries it.
func (a *OpenCode) ExtractSessionID(ev protocol.NativeEvent) string {
	props := ev.Object("properties")
	if props == nil {
		return ""
	}
	if id := strings.TrimSpace(str(props, "sessionID")); id != "" {
		return id
	}
	if info := obj(props, "info"); info != nil {
		if id := strings.TrimSpace(str(info, "sessionID")); id != "" {
			return id
		}
		if ev.String("type") == "session.updated" {
			return strings.TrimSpace(str(info, "id"))
		}
	}
	if part := obj(props, "part"); part != nil {
		return strings.TrimSpace(str(part, "sessionID"))
	}
	return ""
}

func (a *OpenCode) Translate(ev protocol.NativeEvent, sessionID, lastAssistantText string) *protocol.Message {
	props := ev.Object("properties")
	if props == nil {
		props = map[string]any{}
	}

	switch ev.String("type") {
	case "message.part.updated":
		return a.translatePart(obj(props, "part"), sessionID)

	case "step.finished":
		a.lastUsage, a.lastCost = opencodeUsage(props)
		return nil

	case "session.idle":
		// No native terminal message: reconstruct the final text from the
		// last captured assistant output rather than a placeholder.
		return protocol.ResultMessage(sessionID, protocol.Result{
			Subtype:   protocol.ResultSuccess,
			Usage:     a.lastUsage,
			CostUSD:   a.lastCost,
			FinalText: strings.TrimSpace(lastAssistantText),
		})

	case "session.error":
		errObj := obj(props, "error")
		if errObj == nil {
			errObj = map[string]any{}
		}
		message := str(errObj, "message")
		if message == "" {
			if data := obj(errObj, "data"); data != nil {
				message = str(data, "message")
			}
		}
		reason := protocol.ErrorReason(str(errObj, "name"), message, int(num(errObj, "statusCode")))
		msg := protocol.ErrorResult(sessionID, reason)
		msg.Result.Usage = a.lastUsage
		msg.Result.CostUSD = a.lastCost
		return msg
	}

	// session.updated, message.updated, file.edited and friends carry no
	// canonical payload.
	return nil
}

func (a *OpenCode) translatePart(part map[string]any, sessionID string) *protocol.Message {
	if part == nil {
		return nil
	}
	switch str(part, "type") {
	case "text":
		text := str(part, "text")
		if text == "" {
			return nil
		}
		return protocol.AssistantDelta(sessionID, str(part, "messageID"), text)

	case "tool":
		state := obj(part, "state")
		if state == nil {
			return nil
		}
		callID := str(part, "callID")
		if callID == "" {
			callID = str(part, "id")
		}
		switch str(state, "status") {
		case "running":
			return protocol.AssistantBlocks(sessionID, protocol.ToolUseBlock(callID, str(part, "tool"), obj(state, "input")))
		case "completed":
			return protocol.ToolResult(sessionID, callID, str(state, "output"), false)
		case "error":
			return protocol.ToolResult(sessionID, callID, str(state, "error"), true)
		}
		// "pending" must never synthesize a tool_result.
		return nil
	}
	return nil
}

func opencodeUsage(props map[string]any) (models.Usage, float64) {
	tokens := obj(props, "tokens")
	if tokens == nil {
		if usage := obj(props, "usage"); usage != nil {
			tokens = usage
		} else {
			return models.Usage{}, num(props, "cost")
		}
	}
	usage := models.Usage{
		InputTokens:  int(num(tokens, "input")),
		OutputTokens: int(num(tokens, "output")),
	}
	if cache := obj(tokens, "cache"); cache != nil {
		usage.CacheReadTokens = int(num(cache, "read"))
		usage.CacheCreationTokens = int(num(cache, "write"))
	}
	return usage, num(props, "cost")
}
