package models

import (
	"fmt"
	"time"
)

// SessionStatus represents the state of an agent session.
type SessionStatus string

const (
	SessionStatusActive   SessionStatus = "active"
	SessionStatusPaused   SessionStatus = "paused"
	SessionStatusComplete SessionStatus = "complete"
	SessionStatusError    SessionStatus = "error"
)

// Terminal reports whether the status is a terminal state.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusComplete || s == SessionStatusError
}

// Backend identifies one of the interchangeable coding-agent backends.
type Backend string

const (
	BackendClaude   Backend = "claude"
	BackendGemini   Backend = "gemini"
	BackendCodex    Backend = "codex"
	BackendCursor   Backend = "cursor"
	BackendOpenCode Backend = "opencode"
)

// ParseBackend validates a backend name.
func ParseBackend(name string) (Backend, error) {
	switch Backend(name) {
	case BackendClaude, BackendGemini, BackendCodex, BackendCursor, BackendOpenCode:
		return Backend(name), nil
	}
	return "", fmt.Errorf("unknown backend: %q", name)
}

// BackendRef records which backend produced a run and the session id that
// backend assigned. Exactly one backend owns a session, so the pair is a
// tagged union rather than five optional id fields.
type BackendRef struct {
	Backend   Backend `json:"backend"`
	SessionID string  `json:"sessionId"`
}

// NewBackendRef constructs a validated BackendRef.
func NewBackendRef(backend Backend, sessionID string) (BackendRef, error) {
	if _, err := ParseBackend(string(backend)); err != nil {
		return BackendRef{}, err
	}
	if sessionID == "" {
		return BackendRef{}, fmt.Errorf("backend session id is required")
	}
	return BackendRef{Backend: backend, SessionID: sessionID}, nil
}

// IssueContext ties a session to the work item that drives it.
// Nil on the session for standalone runs.
type IssueContext struct {
	TrackerID       string `json:"trackerId"`
	IssueID         string `json:"issueId"`
	IssueIdentifier string `json:"issueIdentifier"`
}

// Workspace is the directory an agent session operates in.
type Workspace struct {
	Path          string `json:"path"`
	IsGitWorktree bool   `json:"isGitWorktree"`
	HistoryPath   string `json:"historyPath,omitempty"`
}

// Usage accumulates token counts reported by a backend.
type Usage struct {
	InputTokens         int `json:"inputTokens"`
	OutputTokens        int `json:"outputTokens"`
	CacheReadTokens     int `json:"cacheReadTokens"`
	CacheCreationTokens int `json:"cacheCreationTokens"`
}

// Add accumulates another usage sample.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheReadTokens += other.CacheReadTokens
	u.CacheCreationTokens += other.CacheCreationTokens
}

// ValidationLoop tracks a nested validation loop inside a procedure step.
type ValidationLoop struct {
	Iteration int    `json:"iteration"`
	Attempts  []bool `json:"attempts"` // pass/fail per attempt
}

// Procedure tracks multi-step procedure state for a session.
type Procedure struct {
	CurrentStep    int             `json:"currentStep"`
	CompletedSteps []string        `json:"completedSteps"`
	Validation     *ValidationLoop `json:"validation,omitempty"`
}

// SessionMetadata carries run configuration and cumulative accounting.
type SessionMetadata struct {
	Model          string     `json:"model,omitempty"`
	Tools          []string   `json:"tools,omitempty"`
	PermissionMode string     `json:"permissionMode,omitempty"`
	CostUSD        float64    `json:"costUsd"`
	Usage          Usage      `json:"usage"`
	Procedure      *Procedure `json:"procedure,omitempty"`
}

// AgentSession is one unit of agent work, active or historical.
// Live process handles are owned by the orchestrator, never stored here,
// so the struct serializes cleanly into snapshots.
type AgentSession struct {
	ID                string          `json:"id"`
	ExternalSessionID string          `json:"externalSessionId,omitempty"`
	Status            SessionStatus   `json:"status"`
	Issue             *IssueContext   `json:"issue,omitempty"`
	Workspace         Workspace       `json:"workspace"`
	Backend           *BackendRef     `json:"backend,omitempty"`
	Metadata          SessionMetadata `json:"metadata"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}
