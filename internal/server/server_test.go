package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twistedxcom/sessionwatch/internal/session"
	"github.com/twistedxcom/sessionwatch/internal/tmux"
)

func newTestServer(t *testing.T, kick func()) (*Server, *session.Registry) {
	t.Helper()
	return newTestServerWithTmux(t, nil, kick)
}

func newTestServerWithTmux(t *testing.T, runner tmux.Runner, kick func()) (*Server, *session.Registry) {
	t.Helper()
	registry := session.NewRegistry(nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go registry.Run(ctx)

	var ti *tmux.Inspector
	if runner != nil {
		ti = tmux.NewInspector(runner)
	}
	s := NewServer(Config{}, registry, ti, kick)
	t.Cleanup(func() { s.cancelBase() })
	return s, registry
}

func postHook(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHook_ValidEvent(t *testing.T) {
	s, registry := newTestServer(t, nil)

	rec := postHook(t, s, `{"hook_event_name":"SessionStart","session_id":"s1","shell_pid":5,"cwd":"/tmp/proj"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	records := registry.ListSorted()
	require.Len(t, records, 1)
	assert.Equal(t, "s1", records[0].SessionID)
	assert.Equal(t, "proj", records[0].ProjectName)
}

func TestHook_MalformedJSON(t *testing.T) {
	s, registry := newTestServer(t, nil)

	rec := postHook(t, s, `{broken`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, registry.Len())
}

func TestHook_MissingSessionIDIsAccepted(t *testing.T) {
	s, registry := newTestServer(t, nil)

	// Structurally valid JSON without an identity: acknowledged at the
	// boundary, dropped downstream.
	rec := postHook(t, s, `{"hook_event_name":"Stop"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, registry.Len())
}

func TestHook_MethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/hook", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHook_KickRateLimited(t *testing.T) {
	kicks := make(chan struct{}, 8)
	s, _ := newTestServer(t, func() { kicks <- struct{}{} })

	body := `{"hook_event_name":"SessionStart","session_id":"s1","shell_pid":5}`
	postHook(t, s, body)
	postHook(t, s, body)
	postHook(t, s, body)

	select {
	case <-kicks:
	case <-time.After(time.Second):
		t.Fatal("expected one discovery kick")
	}
	select {
	case <-kicks:
		t.Fatal("kicks should be rate limited")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSessions_ListAndFilter(t *testing.T) {
	s, registry := newTestServer(t, nil)
	registry.IngestEvent(session.Event{Name: session.EventSessionStart, SessionID: "a", Cwd: "/home/u/apiserver"})
	registry.IngestEvent(session.Event{Name: session.EventSessionStart, SessionID: "b", Cwd: "/home/u/webapp"})
	registry.Len() // fence

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var all []session.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Len(t, all, 2)

	req = httptest.NewRequest(http.MethodGet, "/api/sessions?q=webapp", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var filtered []session.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &filtered))
	require.Len(t, filtered, 1)
	assert.Equal(t, "b", filtered[0].SessionID)
}

func TestHealthz(t *testing.T) {
	s, registry := newTestServer(t, nil)
	registry.IngestEvent(session.Event{Name: session.EventSessionStart, SessionID: "a"})
	registry.Len() // fence

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["ok"])
	assert.Equal(t, float64(1), resp["sessions"])
}

func TestWS_SnapshotStream(t *testing.T) {
	s, registry := newTestServer(t, nil)
	httpSrv := httptest.NewServer(s.Handler())
	defer httpSrv.Close()

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Initial snapshot: empty.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var snapshot []session.Record
	require.NoError(t, conn.ReadJSON(&snapshot))
	assert.Empty(t, snapshot)

	// A change pushes a fresh snapshot.
	registry.IngestEvent(session.Event{Name: session.EventSessionStart, SessionID: "s1"})
	registry.Len() // fence
	s.NotifyChanged()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&snapshot))
	require.Len(t, snapshot, 1)
	assert.Equal(t, "s1", snapshot[0].SessionID)
}

func TestPortFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "cc.port")

	require.NoError(t, WritePortFile(path, 8420))
	port, err := ReadPortFile(path)
	require.NoError(t, err)
	assert.Equal(t, 8420, port)

	require.NoError(t, RemovePortFile(path))
	_, err = ReadPortFile(path)
	assert.Error(t, err)

	// Removing twice is fine.
	assert.NoError(t, RemovePortFile(path))
}

func TestPortFile_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cc.port")
	require.NoError(t, os.WriteFile(path, []byte("not a port"), 0o644))
	_, err := ReadPortFile(path)
	assert.Error(t, err)
}
