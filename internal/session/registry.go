package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/twistedxcom/sessionwatch/internal/logging"
	"github.com/twistedxcom/sessionwatch/internal/status"
)

var regLog = logging.ForComponent(logging.CompRegistry)

// WindowKey identifies a tmux window for focus tracking.
type WindowKey struct {
	SessionName string
	WindowIndex int
}

// ReconcileInput is one discovery pass, assembled off the registry
// goroutine: the set of live pids, freshly discovered provisional
// records, and pid-to-pane matches for records that lacked a locator.
type ReconcileInput struct {
	LivePIDs   map[int]bool
	Discovered []Record
	Locators   map[int]Locator
}

// Registry owns the live session set. All mutation is serialized onto
// the Run goroutine; exported methods hand closures to that goroutine,
// so events and reconciliation passes apply strictly in arrival order
// and no reader can observe a record mid-rekey.
type Registry struct {
	ops      chan func()
	sessions map[string]*Record
	pidIndex map[int]string // shell pid -> session key
	onChange func()
	now      func() time.Time
}

// NewRegistry creates a registry. onChange (optional) fires on the
// registry goroutine after any mutation that changed state.
func NewRegistry(onChange func()) *Registry {
	return &Registry{
		ops:      make(chan func(), 64),
		sessions: make(map[string]*Record),
		pidIndex: make(map[int]string),
		onChange: onChange,
		now:      time.Now,
	}
}

// Run processes operations until ctx is cancelled. It is the single
// coordinating goroutine; nothing else touches the maps.
func (r *Registry) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-r.ops:
			op()
		}
	}
}

// IngestEvent hands a normalized event to the registry goroutine and
// returns once handed off, independent of when the mutation applies.
func (r *Registry) IngestEvent(ev Event) {
	r.ops <- func() { r.ingest(ev) }
}

// Reconcile merges a discovery snapshot.
func (r *Registry) Reconcile(input ReconcileInput) {
	r.ops <- func() { r.reconcile(input) }
}

// RefreshFocus updates IsFocused from the currently active windows.
func (r *Registry) RefreshFocus(active map[WindowKey]bool) {
	r.ops <- func() { r.refreshFocus(active) }
}

// ApplyBranches records git branches keyed by session id.
func (r *Registry) ApplyBranches(branches map[string]string) {
	r.ops <- func() { r.applyBranches(branches) }
}

// InstallLocators attaches pane locators to records that lack one,
// keyed by shell pid. Used by sweeps between full discovery passes;
// unlike Reconcile it carries no liveness information and never culls.
func (r *Registry) InstallLocators(locators map[int]Locator) {
	r.ops <- func() {
		if r.installLocators(locators) {
			r.notify()
		}
	}
}

// read runs fn on the registry goroutine and waits for it.
func (r *Registry) read(fn func()) {
	done := make(chan struct{})
	r.ops <- func() {
		fn()
		close(done)
	}
	<-done
}

// ListSorted returns a copy of all records in presentation order:
// window index ascending, records without a locator last, ties broken
// by session id.
func (r *Registry) ListSorted() []Record {
	var out []Record
	r.read(func() {
		out = make([]Record, 0, len(r.sessions))
		for _, rec := range r.sessions {
			out = append(out, copyRecord(rec))
		}
	})
	sortRecords(out)
	return out
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	var n int
	r.read(func() { n = len(r.sessions) })
	return n
}

// PidsWithoutLocator returns pids of records still unmatched to a pane.
func (r *Registry) PidsWithoutLocator() []int {
	var pids []int
	r.read(func() {
		for _, rec := range r.sessions {
			if rec.ShellPID != 0 && rec.Locator == nil {
				pids = append(pids, rec.ShellPID)
			}
		}
	})
	return pids
}

// ProjectPaths returns session id -> project path for branch refresh.
func (r *Registry) ProjectPaths() map[string]string {
	paths := make(map[string]string)
	r.read(func() {
		for id, rec := range r.sessions {
			p := rec.ProjectPath
			if p == "" {
				p = rec.Cwd
			}
			if p != "" && p != "/" {
				paths[id] = p
			}
		}
	})
	return paths
}

func copyRecord(rec *Record) Record {
	out := *rec
	if rec.Locator != nil {
		loc := *rec.Locator
		out.Locator = &loc
	}
	return out
}

func (r *Registry) notify() {
	if r.onChange != nil {
		r.onChange()
	}
}

// ingest applies one hook event. Events without a session id carry no
// identity and are dropped without touching any state.
func (r *Registry) ingest(ev Event) {
	if ev.SessionID == "" {
		return
	}

	switch ev.Name {
	case EventSessionStart:
		rec := r.getOrCreate(ev)
		rec.Status = status.WaitingForInput
		if ev.PermissionMode != "" {
			rec.PermissionMode = ev.PermissionMode
		}
		r.bookkeep(rec, ev)

	case EventUserPromptSubmit:
		rec := r.getOrCreate(ev)
		rec.Status = status.Working
		rec.NotificationMsg = ""
		r.bookkeep(rec, ev)

	case EventPostToolUse:
		rec := r.getOrCreate(ev)
		rec.Status = status.Working
		if ev.ToolName != "" {
			rec.LastTool = ev.ToolName
		}
		r.bookkeep(rec, ev)

	case EventNotification:
		rec := r.getOrCreate(ev)
		if ev.PermissionHint {
			rec.Status = status.PermissionNeeded
			rec.NotificationMsg = ev.Message
			if rec.NotificationMsg == "" {
				rec.NotificationMsg = "Permission needed"
			}
		}
		r.bookkeep(rec, ev)

	case EventStop:
		rec := r.getOrCreate(ev)
		rec.Status = status.WaitingForInput
		rec.NotificationMsg = ""
		r.bookkeep(rec, ev)

	case EventSessionEnd:
		r.remove(ev.SessionID)
		r.notify()

	default:
		// Unknown event kind: last-event bookkeeping only, and only for
		// sessions we already track.
		if rec, ok := r.sessions[ev.SessionID]; ok {
			r.bookkeep(rec, ev)
		}
	}
}

func (r *Registry) bookkeep(rec *Record, ev Event) {
	rec.LastEvent = ev.Name
	rec.LastEventTime = r.now()
	r.notify()
}

// getOrCreate resolves the record for an event. When the identity is
// new but the pid already belongs to some record, that record is rekeyed
// in place: the new id replaces the old one and every other field is
// preserved. A pid maps to exactly one record, so a discovered
// provisional record upgrades to its authoritative id, and a fresh
// authoritative id for a still-live pid (restart in the same shell with
// no SessionEnd delivered) replaces the stale one instead of
// duplicating it.
func (r *Registry) getOrCreate(ev Event) *Record {
	if rec, ok := r.sessions[ev.SessionID]; ok {
		r.updateHints(rec, ev)
		return rec
	}

	if ev.ShellPID != 0 {
		if oldID, ok := r.pidIndex[ev.ShellPID]; ok && oldID != ev.SessionID {
			if rec := r.sessions[oldID]; rec != nil {
				delete(r.sessions, oldID)
				rec.SessionID = ev.SessionID
				rec.Provisional = false
				r.sessions[ev.SessionID] = rec
				r.pidIndex[ev.ShellPID] = ev.SessionID
				r.updateHints(rec, ev)
				regLog.Debug("session_rekeyed",
					slog.String("from", oldID),
					slog.String("to", ev.SessionID),
					slog.Int("pid", ev.ShellPID))
				return rec
			}
		}
	}

	rec := &Record{
		SessionID: ev.SessionID,
		Status:    status.Unknown,
		ShellPID:  ev.ShellPID,
	}
	rec.setProject(ev.Cwd)
	r.sessions[ev.SessionID] = rec
	if ev.ShellPID != 0 {
		r.pidIndex[ev.ShellPID] = ev.SessionID
	}
	return rec
}

func (r *Registry) updateHints(rec *Record, ev Event) {
	rec.setProject(ev.Cwd)
	if ev.ShellPID != 0 && rec.ShellPID == 0 {
		rec.ShellPID = ev.ShellPID
		r.pidIndex[ev.ShellPID] = rec.SessionID
	}
}

func (r *Registry) remove(sessionID string) {
	rec, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	delete(r.sessions, sessionID)
	// The index entry may have been reassigned to another record (a late
	// pid hint on a different session id); only clear our own mapping.
	if rec.ShellPID != 0 && r.pidIndex[rec.ShellPID] == sessionID {
		delete(r.pidIndex, rec.ShellPID)
	}
}

// reconcile merges one discovery pass. Order matters: cull dead pids
// first, then install locators on surviving records, then insert newly
// discovered sessions that nothing already represents.
func (r *Registry) reconcile(input ReconcileInput) {
	// 1. Records whose process is gone.
	for id, rec := range r.sessions {
		if rec.ShellPID != 0 && !input.LivePIDs[rec.ShellPID] {
			delete(r.sessions, id)
			delete(r.pidIndex, rec.ShellPID)
			regLog.Debug("session_culled",
				slog.String("session_id", id),
				slog.Int("pid", rec.ShellPID))
		}
	}

	// 2. Locators resolved off-loop for records that lacked one.
	r.installLocators(input.Locators)

	// 3. New provisional records, skipping anything already represented
	// by pid or by pane.
	takenLocators := make(map[string]bool)
	for _, rec := range r.sessions {
		if rec.Locator != nil {
			takenLocators[rec.Locator.Target()] = true
		}
	}
	for _, cand := range input.Discovered {
		if cand.ShellPID != 0 {
			if id, ok := r.pidIndex[cand.ShellPID]; ok {
				// Already tracked. Push-sourced status wins: only a
				// record that has never seen a hook event takes the
				// discovery-inferred status.
				if rec := r.sessions[id]; rec != nil && rec.LastEvent == "" && cand.Status != status.Unknown {
					rec.Status = cand.Status
				}
				continue
			}
		}
		if cand.Locator != nil && takenLocators[cand.Locator.Target()] {
			continue
		}
		rec := copyRecord(&cand)
		r.sessions[rec.SessionID] = &rec
		if rec.ShellPID != 0 {
			r.pidIndex[rec.ShellPID] = rec.SessionID
		}
		if rec.Locator != nil {
			takenLocators[rec.Locator.Target()] = true
		}
	}

	r.notify()
}

func (r *Registry) installLocators(locators map[int]Locator) bool {
	changed := false
	for _, rec := range r.sessions {
		if rec.ShellPID == 0 || rec.Locator != nil {
			continue
		}
		if loc, ok := locators[rec.ShellPID]; ok {
			loc := loc
			rec.Locator = &loc
			changed = true
		}
	}
	return changed
}

func (r *Registry) refreshFocus(active map[WindowKey]bool) {
	changed := false
	for _, rec := range r.sessions {
		focused := rec.Locator != nil && active[WindowKey{
			SessionName: rec.Locator.SessionName,
			WindowIndex: rec.Locator.WindowIndex,
		}]
		if rec.IsFocused != focused {
			rec.IsFocused = focused
			changed = true
		}
	}
	if changed {
		r.notify()
	}
}

func (r *Registry) applyBranches(branches map[string]string) {
	changed := false
	for id, branch := range branches {
		if branch == "" {
			continue
		}
		if rec, ok := r.sessions[id]; ok && rec.GitBranch != branch {
			rec.GitBranch = branch
			changed = true
		}
	}
	if changed {
		r.notify()
	}
}
