package status

import (
	"regexp"
	"strings"
	"sync/atomic"
)

// tailLines is how many lines of the capture the inferencer examines.
// Older scrollback routinely contains stale busy phrasing.
const tailLines = 20

var ansiRe = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// StripANSI removes CSI escape sequences.
func StripANSI(text string) string {
	return ansiRe.ReplaceAllString(text, "")
}

// Inferencer classifies captured pane text. The pattern set is swappable
// at runtime (config hot reload) without blocking readers.
type Inferencer struct {
	patterns atomic.Pointer[Patterns]
}

// NewInferencer returns an Inferencer using the given compiled patterns,
// or the defaults when nil.
func NewInferencer(p *Patterns) *Inferencer {
	in := &Inferencer{}
	if p == nil {
		p = Compile(nil)
	}
	in.patterns.Store(p)
	return in
}

// SetPatterns atomically replaces the pattern set.
func (in *Inferencer) SetPatterns(p *Patterns) {
	if p != nil {
		in.patterns.Store(p)
	}
}

// Infer classifies the captured output. Precedence is fixed: permission
// prompts win over busy phrasing, busy phrasing wins over an input
// prompt. A permission request blocks forward progress, so it must
// surface even when stale busy text is still on screen.
func (in *Inferencer) Infer(captured string) Status {
	tail := lastLines(StripANSI(captured), tailLines)
	lowered := strings.ToLower(tail)
	p := in.patterns.Load()

	switch {
	case p.permission.match(tail, lowered):
		return PermissionNeeded
	case p.busy.match(tail, lowered):
		return Working
	case p.prompt.match(tail, lowered):
		return WaitingForInput
	default:
		return Unknown
	}
}

func lastLines(text string, n int) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
