package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twistedxcom/sessionwatch/internal/session"
)

// recordingRunner captures tmux invocations and serves canned output
// keyed by subcommand.
type recordingRunner struct {
	mu        sync.Mutex
	calls     [][]string
	responses map[string]string
}

func (f *recordingRunner) Run(_ context.Context, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, args)
	return f.responses[args[0]], nil
}

func (f *recordingRunner) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, call := range f.calls {
		out[i] = strings.Join(call, " ")
	}
	return out
}

func postJSON(t *testing.T, s *Server, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestFocus_SelectsSessionWindow(t *testing.T) {
	runner := &recordingRunner{responses: map[string]string{}}
	s, registry := newTestServerWithTmux(t, runner, nil)

	registry.IngestEvent(session.Event{Name: session.EventSessionStart, SessionID: "s1", ShellPID: 5})
	registry.InstallLocators(map[int]session.Locator{
		5: {SessionName: "main", WindowIndex: 3, PaneIndex: 0},
	})
	registry.Len() // fence

	rec := postJSON(t, s, "/api/focus", `{"session_id":"s1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	commands := runner.commands()
	require.Len(t, commands, 2)
	assert.Equal(t, "select-window -t main:3", commands[0])
	assert.Equal(t, "switch-client -t main:3", commands[1])
}

func TestFocus_UnknownSession(t *testing.T) {
	s, _ := newTestServerWithTmux(t, &recordingRunner{}, nil)
	rec := postJSON(t, s, "/api/focus", `{"session_id":"ghost"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFocus_SessionWithoutWindow(t *testing.T) {
	s, registry := newTestServerWithTmux(t, &recordingRunner{}, nil)
	registry.IngestEvent(session.Event{Name: session.EventSessionStart, SessionID: "s1"})
	registry.Len() // fence

	rec := postJSON(t, s, "/api/focus", `{"session_id":"s1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestFocus_NoTmux(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := postJSON(t, s, "/api/focus", `{"session_id":"s1"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestOpenWindow_UsesOldestSessionByDefault(t *testing.T) {
	runner := &recordingRunner{responses: map[string]string{
		// "old" was created first.
		"list-sessions": "fresh\t1700000500\nold\t1700000000",
		"new-window":    "old:4.0",
	}}
	s, _ := newTestServerWithTmux(t, runner, nil)

	rec := postJSON(t, s, "/api/windows", `{"dir":"/home/u/proj","name":"proj"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "old:4.0", resp["target"])

	commands := runner.commands()
	require.Len(t, commands, 4)
	assert.Equal(t, "list-sessions -F #{session_name}\t#{session_created}", commands[0])
	assert.Contains(t, commands[1], "new-window -P -t old:")
	assert.Equal(t, "select-window -t old:4", commands[2])
	assert.Equal(t, "switch-client -t old:4", commands[3])
}

func TestOpenWindow_ExplicitSession(t *testing.T) {
	runner := &recordingRunner{responses: map[string]string{"new-window": "work:2.0"}}
	s, _ := newTestServerWithTmux(t, runner, nil)

	rec := postJSON(t, s, "/api/windows", `{"session":"work","dir":"/home/u/proj"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, runner.commands()[0], "new-window -P -t work:")
}

func TestOpenWindow_NoHostSession(t *testing.T) {
	runner := &recordingRunner{responses: map[string]string{"list-sessions": ""}}
	s, _ := newTestServerWithTmux(t, runner, nil)

	rec := postJSON(t, s, "/api/windows", `{"dir":"/home/u/proj"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestOpenWindow_MissingDir(t *testing.T) {
	s, _ := newTestServerWithTmux(t, &recordingRunner{}, nil)
	rec := postJSON(t, s, "/api/windows", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
