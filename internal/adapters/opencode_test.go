package adapters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/protocol"
)

func TestOpenCode_ExtractSessionIDVariants(t *testing.T) {
	a := NewOpenCode()

	direct := decode(t, `{"type":"session.idle","properties":{"sessionID":"oc-1"}}`)
	assert.Equal(t, "oc-1", a.ExtractSessionID(direct))

	nested := decode(t, `{"type":"message.updated","properties":{"info":{"sessionID":"oc-2"}}}`)
	assert.Equal(t, "oc-2", a.ExtractSessionID(nested))

	updated := decode(t, `{"type":"session.updated","properties":{"info":{"id":"oc-3"}}}`)
	assert.Equal(t, "oc-3", a.ExtractSessionID(updated))

	part := decode(t, `{"type":"message.part.updated","properties":{"part":{"sessionID":"oc-4","type":"text","text":"x"}}}`)
	assert.Equal(t, "oc-4", a.ExtractSessionID(part))
}

func TestOpenCode_TextPartsAreDeltas(t *testing.T) {
	a := NewOpenCode()

	d1 := a.Translate(decode(t, `{"type":"message.part.updated","properties":{"part":{"type":"text","messageID":"m-1","text":"Build"}}}`), "oc-1", "")
	d2 := a.Translate(decode(t, `{"type":"message.part.updated","properties":{"part":{"type":"text","messageID":"m-1","text":"ing"}}}`), "oc-1", "")
	require.NotNil(t, d1)
	require.NotNil(t, d2)
	assert.Equal(t, protocol.MessageTypeAssistant, d1.Type)
	assert.Equal(t, "m-1", d1.MessageID)
	assert.Equal(t, d1.MessageID, d2.MessageID)
}

func TestOpenCode_ToolLifecycle(t *testing.T) {
	a := NewOpenCode()

	// Pending must never synthesize anything.
	pending := a.Translate(decode(t, `{"type":"message.part.updated","properties":{"part":{"type":"tool","callID":"t-1","tool":"bash","state":{"status":"pending"}}}}`), "oc-1", "")
	assert.Nil(t, pending)

	running := a.Translate(decode(t, `{"type":"message.part.updated","properties":{"part":{"type":"tool","callID":"t-1","tool":"bash","state":{"status":"running","input":{"command":"go test"}}}}}`), "oc-1", "")
	require.NotNil(t, running)
	require.Len(t, running.Content, 1)
	assert.Equal(t, protocol.BlockTypeToolUse, running.Content[0].Type)
	assert.Equal(t, "bash", running.Content[0].ToolName)

	completed := a.Translate(decode(t, `{"type":"message.part.updated","properties":{"part":{"type":"tool","callID":"t-1","tool":"bash","state":{"status":"completed","output":"ok"}}}}`), "oc-1", "")
	require.NotNil(t, completed)
	results := completed.ToolResultBlocks()
	require.Len(t, results, 1)
	assert.Equal(t, "ok", results[0].Content)
	assert.False(t, results[0].IsError)

	errored := a.Translate(decode(t, `{"type":"message.part.updated","properties":{"part":{"type":"tool","callID":"t-2","tool":"bash","state":{"status":"error","error":"exit 1"}}}}`), "oc-1", "")
	require.NotNil(t, errored)
	results = errored.ToolResultBlocks()
	require.Len(t, results, 1)
	assert.True(t, results[0].IsError)
}

func TestOpenCode_IdleSynthesizesResultFromLastText(t *testing.T) {
	a := NewOpenCode()

	// Metrics snapshot arrives before the idle signal.
	unmapped := a.Translate(decode(t, `{"type":"step.finished","properties":{"cost":0.07,"tokens":{"input":500,"output":120,"cache":{"read":30,"write":12}}}}`), "oc-1", "")
	assert.Nil(t, unmapped)

	msg := a.Translate(decode(t, `{"type":"session.idle","properties":{"sessionID":"oc-1"}}`), "oc-1", "Done implementing the cache layer")
	require.NotNil(t, msg)
	require.NotNil(t, msg.Result)
	assert.Equal(t, protocol.ResultSuccess, msg.Result.Subtype)
	assert.Equal(t, "Done implementing the cache layer", msg.Result.FinalText,
		"final text is reconstructed from the last assistant text, not a placeholder")
	assert.InDelta(t, 0.07, msg.Result.CostUSD, 1e-9)
	assert.Equal(t, 500, msg.Result.Usage.InputTokens)
	assert.Equal(t, 120, msg.Result.Usage.OutputTokens)
	assert.Equal(t, 30, msg.Result.Usage.CacheReadTokens)
	assert.Equal(t, 12, msg.Result.Usage.CacheCreationTokens)
}

func TestOpenCode_SessionError(t *testing.T) {
	a := NewOpenCode()

	msg := a.Translate(decode(t, `{"type":"session.error","properties":{"error":{"name":"ProviderAuthError","data":{"message":"invalid api key"}}}}`), "oc-1", "")
	require.NotNil(t, msg)
	assert.Equal(t, protocol.ResultErrorExecution, msg.Result.Subtype)
	assert.Equal(t, []string{"ProviderAuthError: invalid api key"}, msg.Result.Errors)

	// Error with no detail at all still produces a reason.
	bare := a.Translate(decode(t, `{"type":"session.error","properties":{}}`), "oc-1", "")
	require.NotNil(t, bare)
	assert.Equal(t, []string{"backend error"}, bare.Result.Errors)
}

func TestOpenCode_UnmappedEvents(t *testing.T) {
	a := NewOpenCode()
	assert.Nil(t, a.Translate(decode(t, `{"type":"file.edited","properties":{"file":"main.go"}}`), "oc-1", ""))
	assert.Nil(t, a.Translate(decode(t, `{"type":"message.updated","properties":{"info":{"sessionID":"oc-1"}}}`), "oc-1", ""))
}
