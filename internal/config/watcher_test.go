package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestWatcher(t *testing.T, path string) chan *Config {
	t.Helper()
	reloads := make(chan *Config, 8)
	w, err := NewWatcher(path, func(cfg *Config) { reloads <- cfg })
	require.NoError(t, err)
	go w.Start()
	t.Cleanup(w.Stop)
	// Give Start a moment to register the directory watch.
	time.Sleep(50 * time.Millisecond)
	return reloads
}

func waitReload(t *testing.T, reloads chan *Config) *Config {
	t.Helper()
	select {
	case cfg := <-reloads:
		return cfg
	case <-time.After(3 * time.Second):
		t.Fatal("expected a config reload")
		return nil
	}
}

func TestWatcher_ReloadDeliversFreshConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte(`process_name = "claude"`), 0o644))

	reloads := startTestWatcher(t, path)

	next := `
[status]
extra_busy_patterns = ["compiling", "re:churning\\.\\.\\."]
`
	require.NoError(t, os.WriteFile(path, []byte(next), 0o644))

	cfg := waitReload(t, reloads)
	assert.Equal(t, []string{"compiling", `re:churning\.\.\.`}, cfg.Status.ExtraBusyPatterns)
	// Defaults still applied on reload.
	assert.Equal(t, "claude", cfg.ProcessName)
}

func TestWatcher_IgnoresOtherFilesInDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))

	reloads := startTestWatcher(t, path)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	select {
	case <-reloads:
		t.Fatal("unrelated file must not trigger a reload")
	case <-time.After(500 * time.Millisecond):
	}
}

func TestWatcher_BadTOMLKeepsQuiet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))

	reloads := startTestWatcher(t, path)

	// A broken save never reaches the callback...
	require.NoError(t, os.WriteFile(path, []byte("= not toml ="), 0o644))
	select {
	case <-reloads:
		t.Fatal("broken config must not be delivered")
	case <-time.After(500 * time.Millisecond):
	}

	// ...and the next valid save does.
	require.NoError(t, os.WriteFile(path, []byte(`capture_lines = 80`), 0o644))
	cfg := waitReload(t, reloads)
	assert.Equal(t, 80, cfg.CaptureLines)
}

func TestWatcher_RenameInPlace(t *testing.T) {
	// Editors typically save via write-to-temp-then-rename.
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))

	reloads := startTestWatcher(t, path)

	tmp := filepath.Join(dir, FileName+".tmp")
	require.NoError(t, os.WriteFile(tmp, []byte(`process_name = "claude-next"`), 0o644))
	require.NoError(t, os.Rename(tmp, path))

	cfg := waitReload(t, reloads)
	assert.Equal(t, "claude-next", cfg.ProcessName)
}
