package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/backend"
	"github.com/wardenhq/warden/internal/models"
	"github.com/wardenhq/warden/internal/orchestrator"
	"github.com/wardenhq/warden/internal/protocol"
	"github.com/wardenhq/warden/internal/registry"
	"github.com/wardenhq/warden/internal/tracker"
)

type stubProvisioner struct{}

func (stubProvisioner) Create(ctx context.Context, issue models.IssueContext, repo models.RepositoryConfig) (models.Workspace, error) {
	return models.Workspace{Path: "/tmp/ws"}, nil
}

func (stubProvisioner) Remove(ctx context.Context, ws models.Workspace) error { return nil }

// stubRunner keeps its event stream open so sessions stay active for the
// duration of a test.
type stubRunner struct {
	events chan protocol.NativeEvent
}

func (r *stubRunner) Events() <-chan protocol.NativeEvent      { return r.events }
func (r *stubRunner) Send(ctx context.Context, s string) error { return nil }
func (r *stubRunner) Stop() error                              { return nil }
func (r *stubRunner) Err() error                               { return nil }

type stubFactory struct{}

func (stubFactory) Start(ctx context.Context, repo models.RepositoryConfig, params backend.StartParams) (backend.Runner, error) {
	return &stubRunner{events: make(chan protocol.NativeEvent)}, nil
}

func newTestServer(t *testing.T) (*Server, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	repos := []models.RepositoryConfig{{
		ID:               "backend",
		Name:             "backend",
		RepositoryPath:   "/srv/backend",
		TrackerWorkspace: "ws-1",
	}}
	orch := orchestrator.New(reg, repos, tracker.NewLogClient(nil), stubProvisioner{}, stubFactory{}, orchestrator.Options{})
	return NewServer(reg, orch, nil), reg
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *strings.Reader
	if body == "" {
		rdr = strings.NewReader("{}")
	} else {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func postEvent(t *testing.T, s *Server) string {
	t.Helper()
	rec := do(t, s, "POST", "/api/v1/events",
		`{"workspaceId":"ws-1","issueId":"iss-1","issueIdentifier":"ENG-1","externalSessionId":"ext-1","prompt":"fix it"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	id, _ := decodeBody(t, rec)["sessionId"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestHandleEvent_Accepted(t *testing.T) {
	s, reg := newTestServer(t)
	id := postEvent(t, s)

	session, ok := reg.GetSession(id)
	require.True(t, ok)
	assert.Equal(t, models.SessionStatusActive, session.Status)
}

func TestHandleEvent_BadRequests(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, "POST", "/api/v1/events", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, "POST", "/api/v1/events", `{"workspaceId":"ws-1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "issueId is required")

	rec = do(t, s, "POST", "/api/v1/events", `{"workspaceId":"ws-1","issueId":"iss-1","backend":"copilot"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown backend is rejected")
}

func TestHandleEvent_UnroutableWorkspace(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, "POST", "/api/v1/events", `{"workspaceId":"ws-unknown","issueId":"iss-1"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestListSessions_StatusFilter(t *testing.T) {
	s, reg := newTestServer(t)
	postEvent(t, s)
	require.NoError(t, reg.CreateSession(models.AgentSession{ID: "done", Status: models.SessionStatusComplete}))

	rec := do(t, s, "GET", "/api/v1/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["sessions"], 2)

	rec = do(t, s, "GET", "/api/v1/sessions?status=complete", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["sessions"], 1)
}

func TestGetSession_WithLineage(t *testing.T) {
	s, reg := newTestServer(t)
	id := postEvent(t, s)
	require.NoError(t, reg.CreateSession(models.AgentSession{ID: "child", Status: models.SessionStatusActive}))
	reg.SetParent("child", id)

	rec := do(t, s, "GET", "/api/v1/sessions/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, []any{"child"}, body["children"])

	rec = do(t, s, "GET", "/api/v1/sessions/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListEntries(t *testing.T) {
	s, _ := newTestServer(t)
	id := postEvent(t, s)

	rec := do(t, s, "GET", "/api/v1/sessions/"+id+"/entries", "")
	require.Equal(t, http.StatusOK, rec.Code)
	entries, ok := decodeBody(t, rec)["entries"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, entries, "initial prompt is recorded")

	rec = do(t, s, "GET", "/api/v1/sessions/nope/entries", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStopSession(t *testing.T) {
	s, reg := newTestServer(t)
	id := postEvent(t, s)

	rec := do(t, s, "POST", "/api/v1/sessions/"+id+"/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	session, _ := reg.GetSession(id)
	assert.Equal(t, models.SessionStatusComplete, session.Status)

	rec = do(t, s, "POST", "/api/v1/sessions/nope/stop", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeliverFeedback(t *testing.T) {
	s, _ := newTestServer(t)
	parentID := postEvent(t, s)

	rec := do(t, s, "POST", "/api/v1/events",
		`{"workspaceId":"ws-1","issueId":"iss-2","issueIdentifier":"ENG-2","externalSessionId":"ext-2","prompt":"child work","parentSessionId":"`+parentID+`"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	childID, _ := decodeBody(t, rec)["sessionId"].(string)
	require.NotEmpty(t, childID)

	rec = do(t, s, "POST", "/api/v1/sessions/"+parentID+"/feedback",
		`{"childId":"`+childID+`","text":"needs tests"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(t, s, "POST", "/api/v1/sessions/"+parentID+"/feedback",
		`{"childId":"missing","text":"hi"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSelection_NothingPending(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, "POST", "/api/v1/selections/ext-9", `{"choice":"backend"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	postEvent(t, s)

	rec := do(t, s, "GET", "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["activeSessions"])
}
