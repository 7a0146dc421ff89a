// Package tmux inspects and controls the tmux server.
package tmux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/twistedxcom/sessionwatch/internal/logging"
)

var tmuxLog = logging.ForComponent(logging.CompTmux)

// ErrCommandTimeout is returned when a tmux invocation exceeds its
// timeout. Callers should keep previous state rather than treating the
// pane or session as gone.
var ErrCommandTimeout = errors.New("tmux command timed out")

// commandTimeout bounds every tmux invocation.
const commandTimeout = 3 * time.Second

// Pane is one tmux pane with the metadata discovery needs.
type Pane struct {
	SessionName    string
	WindowIndex    int
	PaneIndex      int
	WindowName     string
	PanePID        int
	CurrentCommand string
}

// Target returns the full tmux target for this pane: session:window.pane
func (p Pane) Target() string {
	return fmt.Sprintf("%s:%d.%d", p.SessionName, p.WindowIndex, p.PaneIndex)
}

// WindowTarget returns the window-level target: session:window
func (p Pane) WindowTarget() string {
	return fmt.Sprintf("%s:%d", p.SessionName, p.WindowIndex)
}

// SessionEntry is one tmux session with its creation time.
type SessionEntry struct {
	Name    string
	Created time.Time
}

// WindowRef addresses a window by owning session and index.
type WindowRef struct {
	SessionName string
	WindowIndex int
}

// Runner executes a tmux command and returns trimmed stdout.
// Tests substitute a canned implementation.
type Runner interface {
	Run(ctx context.Context, args ...string) (string, error)
}

// ExecRunner runs the real tmux binary with a bounded timeout per call.
type ExecRunner struct{}

// Run executes tmux with the given arguments.
func (ExecRunner) Run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "tmux", args...).Output()
	if ctx.Err() == context.DeadlineExceeded {
		return "", ErrCommandTimeout
	}
	if err != nil {
		return "", fmt.Errorf("tmux %s: %w", args[0], err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Inspector enumerates and controls tmux panes, windows and sessions.
type Inspector struct {
	runner Runner
}

// NewInspector returns an Inspector backed by the given runner. A nil
// runner uses the real tmux binary.
func NewInspector(runner Runner) *Inspector {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Inspector{runner: runner}
}

// IsAvailable reports whether a tmux server is reachable.
func (in *Inspector) IsAvailable(ctx context.Context) bool {
	_, err := in.runner.Run(ctx, "display-message", "-p", "ok")
	return err == nil
}

// ListPanes lists every pane across all sessions.
func (in *Inspector) ListPanes(ctx context.Context) ([]Pane, error) {
	const format = "#{session_name}\t#{window_index}\t#{pane_index}\t#{window_name}\t#{pane_pid}\t#{pane_current_command}"
	out, err := in.runner.Run(ctx, "list-panes", "-a", "-F", format)
	if err != nil {
		return nil, err
	}

	var panes []Pane
	for _, line := range strings.Split(out, "\n") {
		parts := strings.Split(line, "\t")
		if len(parts) != 6 {
			continue
		}
		windowIdx, err1 := strconv.Atoi(parts[1])
		paneIdx, err2 := strconv.Atoi(parts[2])
		panePID, err3 := strconv.Atoi(parts[4])
		if err1 != nil || err2 != nil || err3 != nil {
			tmuxLog.Debug("list_panes_bad_line", slog.String("line", line))
			continue
		}
		panes = append(panes, Pane{
			SessionName:    parts[0],
			WindowIndex:    windowIdx,
			PaneIndex:      paneIdx,
			WindowName:     parts[3],
			PanePID:        panePID,
			CurrentCommand: parts[5],
		})
	}
	return panes, nil
}

// CapturePane returns the last lines of a pane's rendered content.
func (in *Inspector) CapturePane(ctx context.Context, target string, lines int) (string, error) {
	if lines <= 0 {
		lines = 50
	}
	return in.runner.Run(ctx, "capture-pane", "-t", target, "-p", "-S", fmt.Sprintf("-%d", lines))
}

// ActiveWindows returns the set of windows currently active in their
// session (the window a client attached to that session is looking at).
func (in *Inspector) ActiveWindows(ctx context.Context) (map[WindowRef]bool, error) {
	out, err := in.runner.Run(ctx, "list-windows", "-a", "-F",
		"#{session_name}\t#{window_index}\t#{window_active}")
	if err != nil {
		return nil, err
	}

	active := make(map[WindowRef]bool)
	for _, line := range strings.Split(out, "\n") {
		parts := strings.Split(line, "\t")
		if len(parts) != 3 || parts[2] != "1" {
			continue
		}
		idx, err := strconv.Atoi(parts[1])
		if err != nil {
			continue
		}
		active[WindowRef{SessionName: parts[0], WindowIndex: idx}] = true
	}
	return active, nil
}

// ListSessions lists tmux sessions with creation times.
func (in *Inspector) ListSessions(ctx context.Context) ([]SessionEntry, error) {
	out, err := in.runner.Run(ctx, "list-sessions", "-F", "#{session_name}\t#{session_created}")
	if err != nil {
		return nil, err
	}

	var sessions []SessionEntry
	for _, line := range strings.Split(out, "\n") {
		parts := strings.Split(line, "\t")
		if len(parts) != 2 {
			continue
		}
		created, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			continue
		}
		sessions = append(sessions, SessionEntry{
			Name:    parts[0],
			Created: time.Unix(created, 0),
		})
	}
	return sessions, nil
}

// OldestSession returns the name of the longest-lived session, or ""
// when no server is running.
func (in *Inspector) OldestSession(ctx context.Context) string {
	sessions, err := in.ListSessions(ctx)
	if err != nil || len(sessions) == 0 {
		return ""
	}
	oldest := sessions[0]
	for _, s := range sessions[1:] {
		if s.Created.Before(oldest.Created) {
			oldest = s
		}
	}
	return oldest.Name
}

// SelectWindow focuses a window within its session.
func (in *Inspector) SelectWindow(ctx context.Context, sessionName string, windowIndex int) error {
	target := fmt.Sprintf("%s:%d", sessionName, windowIndex)
	if _, err := in.runner.Run(ctx, "select-window", "-t", target); err != nil {
		return err
	}
	// switch-client moves an attached client to the window; harmless when
	// no client is attached.
	_, _ = in.runner.Run(ctx, "switch-client", "-t", target)
	return nil
}

// NewWindow opens a window in sessionName running command in dir, then
// focuses it. Returns the window target printed by tmux.
func (in *Inspector) NewWindow(ctx context.Context, sessionName, dir, windowName, command string) (string, error) {
	target, err := in.runner.Run(ctx, "new-window", "-P",
		"-t", sessionName+":", "-c", dir, "-n", windowName, command)
	if err != nil {
		return "", err
	}
	if target != "" {
		// "sess:3.0" -> "sess:3"
		winTarget, _, _ := strings.Cut(target, ".")
		_, _ = in.runner.Run(ctx, "select-window", "-t", winTarget)
		_, _ = in.runner.Run(ctx, "switch-client", "-t", winTarget)
	}
	return target, nil
}
