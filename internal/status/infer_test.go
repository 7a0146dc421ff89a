package status

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfer_Classification(t *testing.T) {
	in := NewInferencer(nil)

	tests := []struct {
		name string
		text string
		want Status
	}{
		{"permission prompt", "Bash command\n\nDo you want to allow this?\n", PermissionNeeded},
		{"busy interrupt hint", "✳ Pondering… (esc to interrupt)\n", Working},
		{"busy thinking", "Thinking about your request\n", Working},
		{"input prompt glyph", "some output\n❯ ", WaitingForInput},
		{"bare angle prompt", "done\n> ", WaitingForInput},
		{"claude prompt", "claude> ", WaitingForInput},
		{"nothing recognizable", "compiling module foo\nlinking\n", Unknown},
		{"empty", "", Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, in.Infer(tt.text))
		})
	}
}

func TestInfer_PermissionBeatsBusy(t *testing.T) {
	in := NewInferencer(nil)
	text := "✳ Processing… (esc to interrupt)\nDo you want to allow this action?\n"
	assert.Equal(t, PermissionNeeded, in.Infer(text))
}

func TestInfer_BusyBeatsPrompt(t *testing.T) {
	in := NewInferencer(nil)
	text := "esc to interrupt\n❯ "
	assert.Equal(t, Working, in.Infer(text))
}

func TestInfer_OnlyTailConsidered(t *testing.T) {
	in := NewInferencer(nil)
	// Permission phrasing is 30 lines up: outside the examined tail.
	text := "Do you want to allow this?\n" + strings.Repeat("noise\n", 30) + "❯ "
	assert.Equal(t, WaitingForInput, in.Infer(text))
}

func TestInfer_StripsANSI(t *testing.T) {
	in := NewInferencer(nil)
	text := "\x1b[32m❯\x1b[0m "
	assert.Equal(t, WaitingForInput, in.Infer(text))
}

func TestInfer_ExtraPatterns(t *testing.T) {
	raw := Merge(DefaultRawPatterns(), &RawPatterns{
		Busy: []string{"re:churning\\.\\.\\."},
	})
	in := NewInferencer(Compile(raw))
	assert.Equal(t, Working, in.Infer("churning...\n"))
}

func TestCompile_InvalidRegexSkipped(t *testing.T) {
	p := Compile(&RawPatterns{Busy: []string{"re:([unclosed"}})
	in := NewInferencer(p)
	// The bad pattern is dropped, not fatal.
	assert.Equal(t, Unknown, in.Infer("anything"))
}

func TestStripANSI(t *testing.T) {
	assert.Equal(t, "plain", StripANSI("\x1b[1;31mplain\x1b[0m"))
}
