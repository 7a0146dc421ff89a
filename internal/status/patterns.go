package status

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/twistedxcom/sessionwatch/internal/logging"
)

var statusLog = logging.ForComponent(logging.CompStatus)

// RawPatterns holds string-form patterns before compilation. Patterns
// prefixed with "re:" are compiled as regex; everything else matches
// case-insensitively with strings.Contains.
type RawPatterns struct {
	Permission []string
	Busy       []string
	Prompt     []string
}

// DefaultRawPatterns returns the built-in detection patterns for the
// Claude Code CLI.
func DefaultRawPatterns() *RawPatterns {
	return &RawPatterns{
		Permission: []string{
			"Do you want to allow",
			"allow this action",
			"approve this",
		},
		Busy: []string{
			"esc to interrupt",
			"⏎ to interrupt",
			"ctrl+c to interrupt",
			"thinking",
			"processing",
		},
		Prompt: []string{
			"❯",
			`re:(?m)>\s*$`,
			`re:(?m)^claude\s*>`,
		},
	}
}

// Merge appends extras to a copy of base.
func Merge(base, extras *RawPatterns) *RawPatterns {
	out := &RawPatterns{}
	if base != nil {
		out.Permission = append(out.Permission, base.Permission...)
		out.Busy = append(out.Busy, base.Busy...)
		out.Prompt = append(out.Prompt, base.Prompt...)
	}
	if extras != nil {
		out.Permission = append(out.Permission, extras.Permission...)
		out.Busy = append(out.Busy, extras.Busy...)
		out.Prompt = append(out.Prompt, extras.Prompt...)
	}
	return out
}

// matcherGroup is one compiled pattern category.
type matcherGroup struct {
	substrings []string // lowercased
	regexps    []*regexp.Regexp
}

func (g *matcherGroup) match(text, lowered string) bool {
	for _, s := range g.substrings {
		if strings.Contains(lowered, s) {
			return true
		}
	}
	for _, re := range g.regexps {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// Patterns is a compiled, ready-to-use pattern set.
type Patterns struct {
	permission matcherGroup
	busy       matcherGroup
	prompt     matcherGroup
}

// Compile compiles raw patterns. Invalid regexes are logged and skipped,
// never fatal.
func Compile(raw *RawPatterns) *Patterns {
	if raw == nil {
		raw = DefaultRawPatterns()
	}
	return &Patterns{
		permission: compileGroup(raw.Permission),
		busy:       compileGroup(raw.Busy),
		prompt:     compileGroup(raw.Prompt),
	}
}

func compileGroup(patterns []string) matcherGroup {
	var g matcherGroup
	for _, p := range patterns {
		if trimmed, ok := strings.CutPrefix(p, "re:"); ok {
			re, err := regexp.Compile(trimmed)
			if err != nil {
				statusLog.Warn("invalid_pattern",
					slog.String("pattern", p),
					slog.String("error", err.Error()))
				continue
			}
			g.regexps = append(g.regexps, re)
			continue
		}
		g.substrings = append(g.substrings, strings.ToLower(p))
	}
	return g
}
