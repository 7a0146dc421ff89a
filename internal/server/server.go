// Package server exposes the hook ingress endpoint and the read-only
// session APIs presentation clients consume.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/twistedxcom/sessionwatch/internal/logging"
	"github.com/twistedxcom/sessionwatch/internal/session"
	"github.com/twistedxcom/sessionwatch/internal/tmux"
)

var httpLog = logging.ForComponent(logging.CompHTTP)

// Config defines runtime options for the hook server.
type Config struct {
	// ListenAddr is the bind address; port 0 picks a free port.
	ListenAddr string

	// PortFile is where the bound port is published for hook scripts.
	PortFile string
}

// Server receives hook events and serves session snapshots. The hook
// handler never mutates the registry on its own goroutine: it hands the
// parsed event off and acknowledges immediately.
type Server struct {
	cfg        Config
	registry   *session.Registry
	tmux       *tmux.Inspector
	httpServer *http.Server
	listener   net.Listener

	// kick requests an early discovery pass after events that may
	// reference a process the registry has not matched yet. Bursts are
	// collapsed by the limiter.
	kick        func()
	kickLimiter *rate.Limiter

	baseCtx    context.Context
	cancelBase context.CancelFunc

	subscribersMu sync.Mutex
	subscribers   map[chan struct{}]struct{}
}

// NewServer creates the hook server. kick and ti may be nil; without a
// tmux inspector the window control endpoints report unavailable.
func NewServer(cfg Config, registry *session.Registry, ti *tmux.Inspector, kick func()) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:0"
	}

	s := &Server{
		cfg:         cfg,
		registry:    registry,
		tmux:        ti,
		kick:        kick,
		kickLimiter: rate.NewLimiter(rate.Every(2*time.Second), 1),
		subscribers: make(map[chan struct{}]struct{}),
	}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("/hook", s.handleHook)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/focus", s.handleFocus)
	mux.HandleFunc("/api/windows", s.handleOpenWindow)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealthz)

	s.httpServer = &http.Server{
		Handler:           withRecover(mux),
		BaseContext:       func(_ net.Listener) context.Context { return s.baseCtx },
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Port returns the bound port, valid after Start.
func (s *Server) Port() int {
	if s.listener == nil {
		return 0
	}
	if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Handler returns the configured HTTP handler (used by tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start binds the listener, publishes the port file, and serves until
// Shutdown. Returns nil on graceful shutdown.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.listener = listener

	if s.cfg.PortFile != "" {
		if err := WritePortFile(s.cfg.PortFile, s.Port()); err != nil {
			_ = listener.Close()
			return err
		}
	}
	httpLog.Info("hook_server_listening",
		slog.String("addr", listener.Addr().String()),
		slog.String("port_file", s.cfg.PortFile))

	err = s.httpServer.Serve(listener)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server and removes the port file. A port file that
// cannot be removed is logged and ignored; it never blocks shutdown.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cfg.PortFile != "" {
		if err := RemovePortFile(s.cfg.PortFile); err != nil {
			httpLog.Warn("port_file_remove_failed",
				slog.String("path", s.cfg.PortFile),
				slog.String("error", err.Error()))
		}
	}
	if s.cancelBase != nil {
		// Signal long-lived handlers (websockets) to stop promptly.
		s.cancelBase()
	}

	err := s.httpServer.Shutdown(ctx)
	if err == nil {
		return nil
	}
	// Lingering connections can block graceful shutdown; force close so
	// the process exits promptly.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if closeErr := s.httpServer.Close(); closeErr != nil {
			return fmt.Errorf("graceful shutdown timed out and force close failed: %w", closeErr)
		}
		return nil
	}
	return err
}

// NotifyChanged wakes snapshot subscribers (websocket pushes). Intended
// as the registry's onChange callback.
func (s *Server) NotifyChanged() {
	s.subscribersMu.Lock()
	for ch := range s.subscribers {
		select {
		case ch <- struct{}{}:
		default:
			// Subscriber is behind; it will pick up the latest snapshot.
		}
	}
	s.subscribersMu.Unlock()
}

func (s *Server) subscribe() chan struct{} {
	ch := make(chan struct{}, 1)
	s.subscribersMu.Lock()
	s.subscribers[ch] = struct{}{}
	s.subscribersMu.Unlock()
	return ch
}

func (s *Server) unsubscribe(ch chan struct{}) {
	s.subscribersMu.Lock()
	delete(s.subscribers, ch)
	s.subscribersMu.Unlock()
}

// handleHook accepts one hook event. The only client error is a body
// that does not parse as JSON; structurally valid JSON is always
// acknowledged, and events without a session id become no-ops
// downstream.
func (s *Server) handleHook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	ev, err := session.ParseEvent(body)
	if err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	s.registry.IngestEvent(ev)

	// An event for a pid we may not have matched yet: ask for an early
	// discovery pass, at most one every couple of seconds.
	if s.kick != nil && ev.ShellPID != 0 && s.kickLimiter.Allow() {
		go s.kick()
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	records := s.registry.ListSorted()
	if q := r.URL.Query().Get("q"); q != "" {
		records = filterRecords(records, q)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(records)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resp := map[string]any{
		"ok":       true,
		"sessions": s.registry.Len(),
		"time":     time.Now().UTC().Format(time.RFC3339),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				httpLog.Error("panic",
					slog.String("recover", fmt.Sprintf("%v", rec)),
					slog.String("path", r.URL.Path))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) String() string {
	return "hook-server(addr=" + s.cfg.ListenAddr + ", port=" + strconv.Itoa(s.Port()) + ")"
}
