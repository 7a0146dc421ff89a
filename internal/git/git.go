// Package git looks up repository metadata for project paths.
package git

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

// branchTimeout bounds the subprocess; a slow or absent git yields "".
const branchTimeout = 2 * time.Second

// CurrentBranch returns the checked-out branch for dir, or "" when dir
// is not a work tree, git is unavailable, or HEAD is detached.
func CurrentBranch(ctx context.Context, dir string) string {
	if dir == "" || dir == "/" {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, branchTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "git", "-C", dir, "branch", "--show-current").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
