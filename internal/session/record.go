// Package session holds the live session registry and the sources that
// feed it: hook events and process/tmux discovery.
package session

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/twistedxcom/sessionwatch/internal/status"
)

// Locator is the tmux address of the pane a session runs in.
type Locator struct {
	SessionName string `json:"session_name"`
	WindowIndex int    `json:"window_index"`
	PaneIndex   int    `json:"pane_index"`
}

// Target returns the pane-level tmux target.
func (l Locator) Target() string {
	return fmt.Sprintf("%s:%d.%d", l.SessionName, l.WindowIndex, l.PaneIndex)
}

// Record is one tracked session. A record is keyed either by the
// authoritative session id from hook events or, until that arrives, by
// a provisional id derived from the observed process.
type Record struct {
	SessionID   string `json:"session_id"`
	Provisional bool   `json:"provisional,omitempty"`

	// ShellPID correlates hook events with discovered processes.
	// Zero means unknown.
	ShellPID int `json:"shell_pid,omitempty"`

	// Locator is nil until discovery matches the process to a pane.
	Locator *Locator `json:"locator,omitempty"`

	Status          status.Status `json:"status"`
	PermissionMode  string        `json:"permission_mode,omitempty"`
	LastTool        string        `json:"last_tool,omitempty"`
	LastEvent       string        `json:"last_event,omitempty"`
	LastEventTime   time.Time     `json:"last_event_time,omitempty"`
	NotificationMsg string        `json:"notification_msg,omitempty"`

	ProjectPath string `json:"project_path,omitempty"`
	ProjectName string `json:"project_name,omitempty"`
	Cwd         string `json:"cwd,omitempty"`
	GitBranch   string `json:"git_branch,omitempty"`

	IsFocused bool `json:"is_focused"`
}

// ProvisionalID derives the local identifier for a session observed only
// through process inspection.
func ProvisionalID(pid int) string {
	return fmt.Sprintf("tmux-%d", pid)
}

// setProject fills project path and name from a working-directory hint,
// without overwriting an already known path.
func (r *Record) setProject(cwd string) {
	if cwd == "" {
		return
	}
	r.Cwd = cwd
	if r.ProjectPath == "" {
		r.ProjectPath = cwd
		r.ProjectName = projectNameFromPath(cwd)
	}
}

func projectNameFromPath(p string) string {
	return path.Base(strings.TrimRight(p, "/"))
}

// sortRecords orders records by window index ascending with records that
// have no locator last, ties broken by session id. The order is stable
// across calls so presentation never reshuffles.
func sortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		wi, wj := sortWindow(records[i]), sortWindow(records[j])
		if wi != wj {
			return wi < wj
		}
		return records[i].SessionID < records[j].SessionID
	})
}

const noWindowSortKey = 1 << 30

func sortWindow(r Record) int {
	if r.Locator == nil {
		return noWindowSortKey
	}
	return r.Locator.WindowIndex
}
