package adapters

import (
	"encoding/json"
	"strings"

	"github.com/wardenhq/warden/internal/models"
	"github.com/wardenhq/warden/internal/protocol"
)

// Claude translates the claude CLI's stream-json output. The stream has a
// native terminal "result" record, so no result synthesis is needed.
type Claude struct {
	turns    turnIDs
	sawDelta bool
}

// NewClaude constructs a Claude adapter.
func NewClaude() *Claude {
	return &Claude{turns: turnIDs{prefix: "claude"}}
}

func (a *Claude) Backend() models.Backend { return models.BackendClaude }

// ExtractSessionID reads the session_id field present on most claude
// stream records, starting with the system/init event.
func (a *Claude) ExtractSessionID(ev protocol.NativeEvent) string {
	return strings.TrimSpace(ev.String("session_id"))
}

func (a *Claude) Translate(ev protocol.NativeEvent, sessionID, lastAssistantText string) *protocol.Message {
	switch ev.String("type") {
	case "system":
		if ev.String("subtype") != "init" {
			return nil
		}
		return protocol.SystemInit(sessionID, ev.String("model"), strs(ev.Payload, "tools"), ev.String("cwd"))

	case "assistant":
		msg := ev.Object("message")
		if msg == nil {
			return nil
		}
		// A full assistant record closes any delta-streamed turn; the
		// caller already accumulated the deltas, so drop the duplicate.
		if a.sawDelta {
			a.sawDelta = false
			a.turns.reset()
			if !hasToolUse(msg) {
				return nil
			}
		}
		blocks := claudeBlocks(msg)
		if len(blocks) == 0 {
			return nil
		}
		out := protocol.AssistantBlocks(sessionID, blocks...)
		out.ParentToolUseID = ev.String("parent_tool_use_id")
		return out

	case "user":
		msg := ev.Object("message")
		if msg == nil {
			return nil
		}
		// Only tool_result carriers are canonical; user echoes and
		// thinking traces have no mapping.
		results := claudeToolResults(msg)
		if len(results) == 0 {
			return nil
		}
		out := &protocol.Message{
			Type:            protocol.MessageTypeUser,
			SessionID:       sessionID,
			ParentToolUseID: ev.String("parent_tool_use_id"),
			Content:         results,
		}
		if out.SessionID == "" {
			out.SessionID = protocol.PendingSessionID
		}
		return out

	case "stream_event":
		event := ev.Object("event")
		if event == nil {
			return nil
		}
		if event["type"] == "message_start" {
			a.turns.reset()
			return nil
		}
		delta := obj(event, "delta")
		if delta == nil {
			return nil
		}
		text := str(delta, "text")
		if text == "" {
			return nil
		}
		a.sawDelta = true
		return protocol.AssistantDelta(sessionID, a.turns.active(), text)

	case "result":
		return a.translateResult(ev, sessionID)
	}

	return nil
}

func (a *Claude) translateResult(ev protocol.NativeEvent, sessionID string) *protocol.Message {
	subtype := protocol.ResultSubtype(ev.String("subtype"))
	switch subtype {
	case protocol.ResultSuccess, protocol.ResultErrorExecution, protocol.ResultErrorMaxTurns:
	default:
		subtype = protocol.ResultErrorExecution
	}

	result := protocol.Result{
		Subtype:    subtype,
		Usage:      claudeUsage(ev.Object("usage")),
		CostUSD:    num(ev.Payload, "total_cost_usd"),
		DurationMS: int64(num(ev.Payload, "duration_ms")),
		NumTurns:   int(num(ev.Payload, "num_turns")),
		FinalText:  strings.TrimSpace(ev.String("result")),
	}
	for _, e := range strs(ev.Payload, "errors") {
		result.Errors = append(result.Errors, e)
	}
	if subtype != protocol.ResultSuccess && len(result.Errors) == 0 {
		if msg := strings.TrimSpace(ev.String("result")); msg != "" {
			result.Errors = []string{msg}
		}
	}
	return protocol.ResultMessage(sessionID, result)
}

func claudeBlocks(message map[string]any) []protocol.ContentBlock {
	content, _ := message["content"].([]any)
	var blocks []protocol.ContentBlock
	for _, raw := range content {
		block, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		switch str(block, "type") {
		case "text":
			if text := str(block, "text"); text != "" {
				blocks = append(blocks, protocol.TextBlock(text))
			}
		case "tool_use":
			blocks = append(blocks, protocol.ToolUseBlock(str(block, "id"), str(block, "name"), obj(block, "input")))
		}
	}
	return blocks
}

func hasToolUse(message map[string]any) bool {
	content, _ := message["content"].([]any)
	for _, raw := range content {
		if block, ok := raw.(map[string]any); ok && str(block, "type") == "tool_use" {
			return true
		}
	}
	return false
}

func claudeToolResults(message map[string]any) []protocol.ContentBlock {
	content, _ := message["content"].([]any)
	var blocks []protocol.ContentBlock
	for _, raw := range content {
		block, ok := raw.(map[string]any)
		if !ok || str(block, "type") != "tool_result" {
			continue
		}
		isError, _ := block["is_error"].(bool)
		blocks = append(blocks, protocol.ToolResultBlock(str(block, "tool_use_id"), claudeResultText(block["content"]), isError))
	}
	return blocks
}

// claudeResultText flattens a tool_result content payload, which may be a
// plain string or a list of text blocks.
func claudeResultText(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case []any:
		var parts []string
		for _, entry := range v {
			block, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			if text := str(block, "text"); text != "" {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, "\n")
	case nil:
		return ""
	default:
		data, _ := json.Marshal(v)
		return string(data)
	}
}

func claudeUsage(usage map[string]any) models.Usage {
	if usage == nil {
		return models.Usage{}
	}
	return models.Usage{
		InputTokens:         int(num(usage, "input_tokens")),
		OutputTokens:        int(num(usage, "output_tokens")),
		CacheReadTokens:     int(num(usage, "cache_read_input_tokens")),
		CacheCreationTokens: int(num(usage, "cache_creation_input_tokens")),
	}
}
