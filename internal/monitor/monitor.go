// Package monitor runs the periodic observation loops that keep the
// session registry converged with reality: process/pane discovery,
// window focus, pane matching for unlocated sessions, and git branch
// refresh.
package monitor

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/twistedxcom/sessionwatch/internal/git"
	"github.com/twistedxcom/sessionwatch/internal/logging"
	"github.com/twistedxcom/sessionwatch/internal/session"
	"github.com/twistedxcom/sessionwatch/internal/tmux"
)

var monLog = logging.ForComponent(logging.CompMonitor)

// Options sets the loop intervals. Zero values fall back to defaults.
type Options struct {
	DiscoveryInterval time.Duration
	FocusInterval     time.Duration
	PidMatchInterval  time.Duration
	GitInterval       time.Duration
}

func (o *Options) applyDefaults() {
	if o.DiscoveryInterval <= 0 {
		o.DiscoveryInterval = 10 * time.Second
	}
	if o.FocusInterval <= 0 {
		o.FocusInterval = 2 * time.Second
	}
	if o.PidMatchInterval <= 0 {
		o.PidMatchInterval = 5 * time.Second
	}
	if o.GitInterval <= 0 {
		o.GitInterval = 30 * time.Second
	}
}

// Monitor owns the registry's feeding loops. Everything that shells
// out (discovery, tmux queries, git) happens on the loop goroutines;
// results are handed to the registry as prepared inputs.
type Monitor struct {
	opts       Options
	registry   *session.Registry
	discoverer *session.Discoverer
	tmux       *tmux.Inspector

	kicks chan struct{}
}

// New wires a monitor around an already-constructed registry and
// discoverer.
func New(opts Options, registry *session.Registry, discoverer *session.Discoverer, ti *tmux.Inspector) *Monitor {
	opts.applyDefaults()
	return &Monitor{
		opts:       opts,
		registry:   registry,
		discoverer: discoverer,
		tmux:       ti,
		kicks:      make(chan struct{}, 1),
	}
}

// Kick requests a discovery pass ahead of schedule, typically after a
// hook event referenced a process the registry has not matched yet.
// Kicks collapse while a pass is pending.
func (m *Monitor) Kick() {
	select {
	case m.kicks <- struct{}{}:
	default:
	}
}

// Run starts the registry goroutine and all observation loops, and
// blocks until ctx is cancelled or a loop fails.
func (m *Monitor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		m.registry.Run(ctx)
		return nil
	})
	g.Go(func() error { return m.discoveryLoop(ctx) })
	g.Go(func() error { return m.focusLoop(ctx) })
	g.Go(func() error { return m.locatorLoop(ctx) })
	g.Go(func() error { return m.branchLoop(ctx) })

	return g.Wait()
}

// discoveryLoop runs a full observation pass on a ticker and on demand
// via Kick. The first pass runs immediately so a restart repopulates
// the registry without waiting out the interval.
func (m *Monitor) discoveryLoop(ctx context.Context) error {
	ticker := time.NewTicker(m.opts.DiscoveryInterval)
	defer ticker.Stop()

	m.runDiscovery(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.runDiscovery(ctx)
		case <-m.kicks:
			m.runDiscovery(ctx)
		}
	}
}

// runDiscovery performs one pass. A probe failure means this cycle
// produced no information: the registry is left untouched rather than
// culled.
func (m *Monitor) runDiscovery(ctx context.Context) {
	snap, err := m.discoverer.Discover(ctx)
	if err != nil {
		monLog.Warn("discovery_pass_skipped", slog.String("error", err.Error()))
		return
	}

	locators := make(map[int]session.Locator)
	if pids := m.registry.PidsWithoutLocator(); len(pids) > 0 {
		locators = m.discoverer.MatchPids(ctx, pids, snap.Panes)
	}

	m.registry.Reconcile(session.ReconcileInput{
		LivePIDs:   snap.LivePIDs,
		Discovered: snap.Records,
		Locators:   locators,
	})
}

func (m *Monitor) focusLoop(ctx context.Context) error {
	ticker := time.NewTicker(m.opts.FocusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			active, err := m.tmux.ActiveWindows(ctx)
			if err != nil {
				continue
			}
			keys := make(map[session.WindowKey]bool, len(active))
			for ref, ok := range active {
				keys[session.WindowKey{
					SessionName: ref.SessionName,
					WindowIndex: ref.WindowIndex,
				}] = ok
			}
			m.registry.RefreshFocus(keys)
		}
	}
}

// locatorLoop retries pane matching for sessions that arrived via hook
// events but have not been tied to a pane yet. It runs more often than
// full discovery because an unmatched session is visibly degraded.
func (m *Monitor) locatorLoop(ctx context.Context) error {
	ticker := time.NewTicker(m.opts.PidMatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pids := m.registry.PidsWithoutLocator()
			if len(pids) == 0 {
				continue
			}
			panes, err := m.tmux.ListPanes(ctx)
			if err != nil {
				continue
			}
			locators := m.discoverer.MatchPids(ctx, pids, panes)
			if len(locators) > 0 {
				m.registry.InstallLocators(locators)
			}
		}
	}
}

func (m *Monitor) branchLoop(ctx context.Context) error {
	ticker := time.NewTicker(m.opts.GitInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			paths := m.registry.ProjectPaths()
			if len(paths) == 0 {
				continue
			}
			byDir := make(map[string]string, len(paths))
			branches := make(map[string]string, len(paths))
			for id, dir := range paths {
				branch, seen := byDir[dir]
				if !seen {
					branch = git.CurrentBranch(ctx, dir)
					byDir[dir] = branch
				}
				if branch != "" {
					branches[id] = branch
				}
			}
			if len(branches) > 0 {
				m.registry.ApplyBranches(branches)
			}
		}
	}
}
