package models

import "time"

// EntryType classifies a transcript entry.
type EntryType string

const (
	EntryTypeUser      EntryType = "user"
	EntryTypeAssistant EntryType = "assistant"
	EntryTypeSystem    EntryType = "system"
	EntryTypeResult    EntryType = "result"
)

// EntryMetadata holds optional per-entry details. ActivityID is assigned
// after the entry is posted to the tracker and patched in afterwards.
type EntryMetadata struct {
	ToolUseID       string         `json:"toolUseId,omitempty"`
	ToolName        string         `json:"toolName,omitempty"`
	ToolInput       map[string]any `json:"toolInput,omitempty"`
	ParentToolUseID string         `json:"parentToolUseId,omitempty"`
	ToolResultError bool           `json:"toolResultError,omitempty"`
	IsError         bool           `json:"isError,omitempty"`
	DurationMS      int64          `json:"durationMs,omitempty"`
	BackendError    string         `json:"backendError,omitempty"`
	ActivityID      string         `json:"activityId,omitempty"`
	Timestamp       time.Time      `json:"timestamp,omitzero"`
}

// SessionEntry is one append-only transcript item. Content and Type are
// immutable once appended; only metadata may be patched afterwards.
type SessionEntry struct {
	Type     EntryType      `json:"type"`
	Content  string         `json:"content"`
	Metadata *EntryMetadata `json:"metadata,omitempty"`
}
