// Package mcp exposes the session registry as MCP tools so running agents
// can inspect sibling and parent sessions.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wardenhq/warden/internal/models"
	"github.com/wardenhq/warden/internal/registry"
)

// Server wraps the session registry and exposes it as MCP tools.
type Server struct {
	registry *registry.Registry
}

// NewServer creates the MCP server wrapper.
func NewServer(reg *registry.Registry) *Server {
	return &Server{registry: reg}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("warden", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.listSessionsTool())
	srv.AddTool(s.getSessionTool())
	srv.AddTool(s.getTranscriptTool())
	srv.AddTool(s.sessionTreeTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

type sessionOut struct {
	ID              string    `json:"id"`
	Status          string    `json:"status"`
	IssueIdentifier string    `json:"issueIdentifier,omitempty"`
	Backend         string    `json:"backend,omitempty"`
	WorkspacePath   string    `json:"workspacePath"`
	CostUSD         float64   `json:"costUsd"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func sessionToOut(session models.AgentSession) sessionOut {
	out := sessionOut{
		ID:            session.ID,
		Status:        string(session.Status),
		WorkspacePath: session.Workspace.Path,
		CostUSD:       session.Metadata.CostUSD,
		CreatedAt:     session.CreatedAt,
		UpdatedAt:     session.UpdatedAt,
	}
	if session.Issue != nil {
		out.IssueIdentifier = session.Issue.IssueIdentifier
	}
	if session.Backend != nil {
		out.Backend = string(session.Backend.Backend)
	}
	return out
}

// warden_list_sessions
func (s *Server) listSessionsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("warden_list_sessions",
		mcp.WithDescription("List agent sessions. Returns a JSON array with id, status, issue identifier, backend, workspace path, and cost."),
		mcp.WithString("status", mcp.Description("Filter by status: active, paused, complete, error")),
	)
	return tool, s.handleListSessions
}

func (s *Server) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := request.GetString("status", "")

	var out []sessionOut
	for _, session := range s.registry.AllSessions() {
		if status != "" && string(session.Status) != status {
			continue
		}
		out = append(out, sessionToOut(session))
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal sessions: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// warden_get_session
func (s *Server) getSessionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("warden_get_session",
		mcp.WithDescription("Get one agent session by id, including its parent and children session ids."),
		mcp.WithString("session", mcp.Required(), mcp.Description("Session id")),
	)
	return tool, s.handleGetSession
}

func (s *Server) handleGetSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("session")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session"), nil
	}

	session, ok := s.registry.GetSession(id)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("session not found: %s", id)), nil
	}
	parent, _ := s.registry.ParentOf(id)

	out := struct {
		sessionOut
		ParentID string   `json:"parentId,omitempty"`
		Children []string `json:"children,omitempty"`
	}{
		sessionOut: sessionToOut(session),
		ParentID:   parent,
		Children:   s.registry.ChildrenOf(id),
	}
	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal session: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// warden_get_transcript
func (s *Server) getTranscriptTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("warden_get_transcript",
		mcp.WithDescription("Get a session's transcript entries in append order. Each entry has type (user/assistant/system/result), content, and tool metadata."),
		mcp.WithString("session", mcp.Required(), mcp.Description("Session id")),
		mcp.WithNumber("limit", mcp.Description("Return only the last N entries")),
	)
	return tool, s.handleGetTranscript
}

func (s *Server) handleGetTranscript(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("session")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session"), nil
	}
	if _, ok := s.registry.GetSession(id); !ok {
		return mcp.NewToolResultError(fmt.Sprintf("session not found: %s", id)), nil
	}

	entries := s.registry.Entries(id)
	if limit := request.GetInt("limit", 0); limit > 0 && limit < len(entries) {
		entries = entries[len(entries)-limit:]
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal transcript: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// warden_session_tree
func (s *Server) sessionTreeTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("warden_session_tree",
		mcp.WithDescription("Get the delegation tree rooted at a session: the session, its children, and their children recursively."),
		mcp.WithString("session", mcp.Required(), mcp.Description("Root session id")),
	)
	return tool, s.handleSessionTree
}

type treeNode struct {
	sessionOut
	Children []treeNode `json:"children,omitempty"`
}

func (s *Server) handleSessionTree(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("session")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session"), nil
	}

	node, ok := s.buildTree(id, make(map[string]bool))
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("session not found: %s", id)), nil
	}
	data, err := json.Marshal(node)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal tree: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) buildTree(id string, seen map[string]bool) (treeNode, bool) {
	if seen[id] {
		return treeNode{}, false
	}
	seen[id] = true

	session, ok := s.registry.GetSession(id)
	if !ok {
		return treeNode{}, false
	}
	node := treeNode{sessionOut: sessionToOut(session)}
	for _, childID := range s.registry.ChildrenOf(id) {
		if child, ok := s.buildTree(childID, seen); ok {
			node.Children = append(node.Children, child)
		}
	}
	return node, true
}
