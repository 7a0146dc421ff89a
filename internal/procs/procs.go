// Package procs inspects OS processes via ps, pgrep and lsof.
package procs

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

var procLog = logging.ForComponent(logging.CompProcs)

// probeTimeout bounds every single subprocess probe. Probes that exceed
// it report "no data", they never fail the caller.
const probeTimeout = 3 * time.Second

// Inspector is the narrow process-inspection surface the discovery and
// matching code depends on. Tests substitute a synthetic tree.
type Inspector interface {
	// ParentOf returns the parent pid of pid. ok is false when the
	// process is gone or the probe failed.
	ParentOf(ctx context.Context, pid int) (ppid int, ok bool)

	// CwdOf returns the working directory of pid, or "" if unknown.
	CwdOf(ctx context.Context, pid int) string

	// FindByName returns pids of processes whose executable name matches
	// name exactly. No matches is not an error; an error means the probe
	// itself failed and the caller has no information this cycle.
	FindByName(ctx context.Context, name string) ([]int, error)
}

// OSInspector shells out to the standard userland tools.
type OSInspector struct{}

// NewInspector returns an Inspector backed by ps/pgrep/lsof.
func NewInspector() *OSInspector {
	return &OSInspector{}
}

// ParentOf asks ps for the parent pid.
func (in *OSInspector) ParentOf(ctx context.Context, pid int) (int, bool) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "ps", "-o", "ppid=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		// Process vanished mid-probe or ps timed out: unknown, not fatal.
		return 0, false
	}
	ppid, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 0, false
	}
	return ppid, true
}

// CwdOf resolves the working directory via lsof.
func (in *OSInspector) CwdOf(ctx context.Context, pid int) string {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "lsof", "-a", "-p", strconv.Itoa(pid), "-d", "cwd", "-Fn").Output()
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(out), "\n") {
		if strings.HasPrefix(line, "n/") {
			return line[1:]
		}
	}
	return ""
}

// FindByName lists pids matching name exactly via pgrep -x.
func (in *OSInspector) FindByName(ctx context.Context, name string) ([]int, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "pgrep", "-x", name).Output()
	if err != nil {
		// pgrep exits 1 when nothing matches, which is an empty result,
		// not a failed probe.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return nil, nil
		}
		return nil, fmt.Errorf("procs: pgrep %s: %w", name, err)
	}
	var pids []int
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil {
			procLog.Debug("pgrep_bad_line", slog.String("line", line))
			continue
		}
		pids = append(pids, pid)
	}
	return pids, nil
}
