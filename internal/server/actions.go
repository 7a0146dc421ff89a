package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// handleFocus brings a tracked session's tmux window to the front.
func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.tmux == nil {
		http.Error(w, "tmux unavailable", http.StatusServiceUnavailable)
		return
	}

	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	for _, rec := range s.registry.ListSorted() {
		if rec.SessionID != req.SessionID {
			continue
		}
		if rec.Locator == nil {
			http.Error(w, "session has no window", http.StatusConflict)
			return
		}
		if err := s.tmux.SelectWindow(r.Context(), rec.Locator.SessionName, rec.Locator.WindowIndex); err != nil {
			httpLog.Warn("focus_failed",
				slog.String("session_id", req.SessionID),
				slog.String("error", err.Error()))
			http.Error(w, "tmux focus failed", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
		return
	}
	http.Error(w, "unknown session", http.StatusNotFound)
}

// handleOpenWindow opens a new tmux window in a project directory,
// typically to start a fresh assistant session there. With no target
// session the oldest tmux session hosts the window.
func (s *Server) handleOpenWindow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.tmux == nil {
		http.Error(w, "tmux unavailable", http.StatusServiceUnavailable)
		return
	}

	var req struct {
		Session string `json:"session,omitempty"`
		Dir     string `json:"dir"`
		Name    string `json:"name,omitempty"`
		Command string `json:"command,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Dir == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	target := req.Session
	if target == "" {
		target = s.tmux.OldestSession(r.Context())
	}
	if target == "" {
		http.Error(w, "no tmux session to host the window", http.StatusConflict)
		return
	}

	created, err := s.tmux.NewWindow(r.Context(), target, req.Dir, req.Name, req.Command)
	if err != nil {
		httpLog.Warn("open_window_failed",
			slog.String("session", target),
			slog.String("dir", req.Dir),
			slog.String("error", err.Error()))
		http.Error(w, "tmux new-window failed", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"target": created})
}
