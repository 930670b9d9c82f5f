package protocol

import (
	"encoding/json"

	"github.com/wardenhq/warden/internal/models"
)

// NativeEvent is one raw event read from a backend stream: the decoded
// JSON object plus the original line for diagnostics.
type NativeEvent struct {
	Payload map[string]any
	Raw     string
}

// DecodeNativeEvent parses one line of backend output. An undecodable line
// yields a NativeEvent with a nil payload; adapters treat it as unmapped.
func DecodeNativeEvent(line string) NativeEvent {
	ev := NativeEvent{Raw: line}
	_ = json.Unmarshal([]byte(line), &ev.Payload)
	return ev
}

// String returns a string field of the payload, or "".
func (e NativeEvent) String(key string) string {
	s, _ := e.Payload[key].(string)
	return s
}

// Object returns a nested object field of the payload, or nil.
func (e NativeEvent) Object(key string) map[string]any {
	m, _ := e.Payload[key].(map[string]any)
	return m
}

// Adapter translates one backend's native stream events into canonical
// messages. Implementations are stateful per running session: delta
// bookkeeping and last-known metrics snapshots live inside the adapter.
type Adapter interface {
	// Backend names the backend this adapter serves.
	Backend() models.Backend

	// Translate converts a native event into a canonical message.
	// Unmapped native event kinds (status pings, file-edit notices)
	// return nil — that is a translation gap, not an error.
	// lastAssistantText is the caller's most recent accumulated assistant
	// text, used to synthesize results for backends without a native
	// terminal message.
	Translate(ev NativeEvent, sessionID, lastAssistantText string) *Message

	// ExtractSessionID returns the backend-assigned session id carried by
	// the event, or "". Kept separate from Translate so the caller learns
	// the id as soon as it is available, even before the first
	// translatable message.
	ExtractSessionID(ev NativeEvent) string
}
