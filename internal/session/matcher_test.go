package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twistedxcom/sessionwatch/internal/tmux"
)

// fakeProcTree is a synthetic process tree for matcher tests.
type fakeProcTree struct {
	parents map[int]int
	cwds    map[int]string
	pids    []int
	findErr error
}

func (f *fakeProcTree) ParentOf(_ context.Context, pid int) (int, bool) {
	ppid, ok := f.parents[pid]
	return ppid, ok
}

func (f *fakeProcTree) CwdOf(_ context.Context, pid int) string {
	return f.cwds[pid]
}

func (f *fakeProcTree) FindByName(_ context.Context, _ string) ([]int, error) {
	return f.pids, f.findErr
}

func testPanes() []tmux.Pane {
	return []tmux.Pane{
		{SessionName: "main", WindowIndex: 0, PaneIndex: 0, WindowName: "vim", PanePID: 100},
		{SessionName: "main", WindowIndex: 1, PaneIndex: 0, WindowName: "claude", PanePID: 200},
	}
}

func TestMatchPidToPane_WalksAncestry(t *testing.T) {
	// 555 -> 300 -> 200 (pane pid)
	tree := &fakeProcTree{parents: map[int]int{555: 300, 300: 200}}

	loc, ok := MatchPidToPane(context.Background(), tree, 555, testPanes())
	require.True(t, ok)
	assert.Equal(t, "main:1.0", loc.Target())
}

func TestMatchPidToPane_DirectPaneProcess(t *testing.T) {
	tree := &fakeProcTree{parents: map[int]int{}}

	loc, ok := MatchPidToPane(context.Background(), tree, 100, testPanes())
	require.True(t, ok)
	assert.Equal(t, "main:0.0", loc.Target())
}

func TestMatchPidToPane_ReachesInit(t *testing.T) {
	tree := &fakeProcTree{parents: map[int]int{555: 1}}

	_, ok := MatchPidToPane(context.Background(), tree, 555, testPanes())
	assert.False(t, ok)
}

func TestMatchPidToPane_ProbeFailure(t *testing.T) {
	// No parent known for 555: the probe "failed".
	tree := &fakeProcTree{parents: map[int]int{}}

	_, ok := MatchPidToPane(context.Background(), tree, 555, testPanes())
	assert.False(t, ok)
}

func TestMatchPidToPane_DepthBound(t *testing.T) {
	// A chain deeper than the hop bound that would eventually reach a
	// pane pid. Build 30 hops: 1000 -> 1001 -> ... -> 1030 -> 200.
	parents := make(map[int]int)
	for i := 0; i < 30; i++ {
		parents[1000+i] = 1000 + i + 1
	}
	parents[1030] = 200
	tree := &fakeProcTree{parents: parents}

	_, ok := MatchPidToPane(context.Background(), tree, 1000, testPanes())
	assert.False(t, ok)
}

func TestMatchPidToPane_FirstMatchWins(t *testing.T) {
	// Two panes share a pid (not expected in practice); the first in
	// enumeration order is taken, deterministically.
	panes := []tmux.Pane{
		{SessionName: "a", WindowIndex: 0, PaneIndex: 0, PanePID: 200},
		{SessionName: "b", WindowIndex: 9, PaneIndex: 0, PanePID: 200},
	}
	tree := &fakeProcTree{parents: map[int]int{555: 200}}

	loc, ok := MatchPidToPane(context.Background(), tree, 555, panes)
	require.True(t, ok)
	assert.Equal(t, "a:0.0", loc.Target())
}
