package session

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/twistedxcom/sessionwatch/internal/logging"
	"github.com/twistedxcom/sessionwatch/internal/procs"
	"github.com/twistedxcom/sessionwatch/internal/status"
	"github.com/twistedxcom/sessionwatch/internal/tmux"
)

var discLog = logging.ForComponent(logging.CompDiscovery)

// DiscoverySnapshot is one observation pass over processes and panes.
type DiscoverySnapshot struct {
	// Records are provisional sessions built purely from observation.
	Records []Record

	// Panes is the pane enumeration the records were matched against,
	// reusable for locator sweeps within the same cycle.
	Panes []tmux.Pane

	// LivePIDs is every candidate process pid observed alive, matched
	// to a pane or not.
	LivePIDs map[int]bool
}

// Discoverer builds provisional session records from OS process and
// tmux observation. All of its work shells out and therefore runs off
// the registry goroutine; concurrent passes are collapsed into one.
type Discoverer struct {
	procs        procs.Inspector
	tmux         *tmux.Inspector
	infer        *status.Inferencer
	processName  string
	captureLines int

	group singleflight.Group
}

// NewDiscoverer wires a discoverer. processName is the executable name
// to look for (e.g. "claude").
func NewDiscoverer(pi procs.Inspector, ti *tmux.Inspector, infer *status.Inferencer, processName string, captureLines int) *Discoverer {
	if captureLines <= 0 {
		captureLines = 50
	}
	return &Discoverer{
		procs:        pi,
		tmux:         ti,
		infer:        infer,
		processName:  processName,
		captureLines: captureLines,
	}
}

// Discover runs one full observation pass. Concurrent callers share a
// single pass. An error means the pass produced no information and the
// caller must skip reconciliation for this cycle; it never means the
// sessions are gone.
func (d *Discoverer) Discover(ctx context.Context) (*DiscoverySnapshot, error) {
	v, err, _ := d.group.Do("discover", func() (any, error) {
		return d.discover(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*DiscoverySnapshot), nil
}

func (d *Discoverer) discover(ctx context.Context) (*DiscoverySnapshot, error) {
	pids, err := d.procs.FindByName(ctx, d.processName)
	if err != nil {
		return nil, fmt.Errorf("discovery: %w", err)
	}

	snap := &DiscoverySnapshot{LivePIDs: make(map[int]bool, len(pids))}
	for _, pid := range pids {
		snap.LivePIDs[pid] = true
	}
	if len(pids) == 0 {
		// No candidate processes at all is a real observation, not a
		// failed probe: an empty live set culls every pid-bearing record.
		return snap, nil
	}

	panes, err := d.tmux.ListPanes(ctx)
	if err != nil {
		// Without panes we cannot tell dead from unobservable.
		return nil, fmt.Errorf("discovery: %w", err)
	}
	snap.Panes = panes

	windowNames := make(map[string]string, len(panes))
	for _, pane := range panes {
		windowNames[pane.Target()] = pane.WindowName
	}

	for _, pid := range pids {
		loc, ok := MatchPidToPane(ctx, d.procs, pid, panes)
		if !ok {
			// Not in a pane (or the walk failed). Still alive though.
			continue
		}
		snap.Records = append(snap.Records, d.buildRecord(ctx, pid, loc, windowNames[loc.Target()]))
	}

	discLog.Debug("discovery_pass",
		slog.Int("live_pids", len(pids)),
		slog.Int("matched", len(snap.Records)))
	return snap, nil
}

func (d *Discoverer) buildRecord(ctx context.Context, pid int, loc Locator, windowName string) Record {
	st := status.Unknown
	if out, err := d.tmux.CapturePane(ctx, loc.Target(), d.captureLines); err == nil {
		st = d.infer.Infer(out)
	} else {
		discLog.Debug("capture_failed",
			slog.String("target", loc.Target()),
			slog.String("error", err.Error()))
	}

	cwd := d.procs.CwdOf(ctx, pid)
	rec := Record{
		SessionID:   ProvisionalID(pid),
		Provisional: true,
		ShellPID:    pid,
		Locator:     &loc,
		Status:      st,
	}
	rec.setProject(cwd)
	if rec.ProjectName == "" {
		// Working directory probe came back empty: the window name is
		// the best remaining label.
		rec.ProjectName = windowName
	}
	return rec
}

// MatchPids resolves locators for the given pids against panes, for
// records that joined through events and have no locator yet.
func (d *Discoverer) MatchPids(ctx context.Context, pids []int, panes []tmux.Pane) map[int]Locator {
	if len(pids) == 0 {
		return nil
	}
	if panes == nil {
		var err error
		panes, err = d.tmux.ListPanes(ctx)
		if err != nil {
			return nil
		}
	}
	matches := make(map[int]Locator)
	for _, pid := range pids {
		if loc, ok := MatchPidToPane(ctx, d.procs, pid, panes); ok {
			matches[pid] = loc
		}
	}
	return matches
}
