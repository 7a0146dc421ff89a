package session

import (
	"context"

	"github.com/twistedxcom/sessionwatch/internal/procs"
	"github.com/twistedxcom/sessionwatch/internal/tmux"
)

// maxAncestryHops bounds the parent-chain walk when matching a pid to
// the pane that owns it.
const maxAncestryHops = 20

// MatchPidToPane finds the tmux pane owning pid by walking up the
// parent-process chain and checking each ancestor against the pane
// pids. The first match wins. ok is false when the chain ends, the hop
// bound is exhausted, or a probe fails: the caller treats all of those
// as "temporarily unmatched", never as an error.
func MatchPidToPane(ctx context.Context, inspector procs.Inspector, pid int, panes []tmux.Pane) (Locator, bool) {
	paneByPID := make(map[int]tmux.Pane, len(panes))
	for _, pane := range panes {
		if _, exists := paneByPID[pane.PanePID]; !exists {
			paneByPID[pane.PanePID] = pane
		}
	}

	current := pid
	for hop := 0; hop < maxAncestryHops; hop++ {
		if pane, ok := paneByPID[current]; ok {
			return Locator{
				SessionName: pane.SessionName,
				WindowIndex: pane.WindowIndex,
				PaneIndex:   pane.PaneIndex,
			}, true
		}
		ppid, ok := inspector.ParentOf(ctx, current)
		if !ok || ppid <= 1 {
			return Locator{}, false
		}
		current = ppid
	}
	return Locator{}, false
}
