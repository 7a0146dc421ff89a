// Package config loads sessionwatch user configuration from TOML.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the TOML config file under the sessionwatch directory.
const FileName = "config.toml"

// Config is the user-facing configuration.
type Config struct {
	// ListenAddr is the hook server bind address. Port 0 picks a free port.
	ListenAddr string `toml:"listen_addr"`

	// PortFile is where the bound port is published for the hook script.
	// Supports a leading "~/".
	PortFile string `toml:"port_file"`

	// ProcessName is the executable name discovery looks for.
	ProcessName string `toml:"process_name"`

	// CaptureLines is how many pane lines to capture for status inference.
	CaptureLines int `toml:"capture_lines"`

	// Intervals controls the periodic poll loops.
	Intervals IntervalSettings `toml:"intervals"`

	// Status holds extra status detection patterns. Patterns prefixed
	// with "re:" are compiled as regex, everything else is a substring.
	Status StatusSettings `toml:"status"`

	// Log controls file logging.
	Log LogSettings `toml:"log"`
}

// IntervalSettings are poll intervals in seconds.
type IntervalSettings struct {
	DiscoverySecs int `toml:"discovery_secs"`
	FocusSecs     int `toml:"focus_secs"`
	PidMatchSecs  int `toml:"pid_match_secs"`
	GitSecs       int `toml:"git_secs"`
}

// StatusSettings holds user pattern overrides, appended to the built-ins.
type StatusSettings struct {
	ExtraPermissionPatterns []string `toml:"extra_permission_patterns"`
	ExtraBusyPatterns       []string `toml:"extra_busy_patterns"`
	ExtraPromptPatterns     []string `toml:"extra_prompt_patterns"`
}

// LogSettings controls the debug log file.
type LogSettings struct {
	Level     string `toml:"level"`
	Format    string `toml:"format"`
	MaxSizeMB int    `toml:"max_size_mb"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		ListenAddr:   "127.0.0.1:0",
		PortFile:     "~/.claude/state/cc.port",
		ProcessName:  "claude",
		CaptureLines: 50,
		Intervals: IntervalSettings{
			DiscoverySecs: 10,
			FocusSecs:     2,
			PidMatchSecs:  5,
			GitSecs:       30,
		},
		Log: LogSettings{
			Level:  "info",
			Format: "json",
		},
	}
}

// Dir returns the sessionwatch config/log directory (~/.sessionwatch).
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".sessionwatch")
	}
	return filepath.Join(home, ".sessionwatch")
}

// Path returns the config file path.
func Path() string {
	return filepath.Join(Dir(), FileName)
}

// Load reads the config at path, applying defaults for anything unset.
// A missing file is not an error: defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Save writes the config as TOML, creating the directory if needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// applyDefaults backfills zero values after decoding a partial file.
func (c *Config) applyDefaults() {
	d := Default()
	if c.ListenAddr == "" {
		c.ListenAddr = d.ListenAddr
	}
	if c.PortFile == "" {
		c.PortFile = d.PortFile
	}
	if c.ProcessName == "" {
		c.ProcessName = d.ProcessName
	}
	if c.CaptureLines <= 0 {
		c.CaptureLines = d.CaptureLines
	}
	if c.Intervals.DiscoverySecs <= 0 {
		c.Intervals.DiscoverySecs = d.Intervals.DiscoverySecs
	}
	if c.Intervals.FocusSecs <= 0 {
		c.Intervals.FocusSecs = d.Intervals.FocusSecs
	}
	if c.Intervals.PidMatchSecs <= 0 {
		c.Intervals.PidMatchSecs = d.Intervals.PidMatchSecs
	}
	if c.Intervals.GitSecs <= 0 {
		c.Intervals.GitSecs = d.Intervals.GitSecs
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
}

// DiscoveryInterval returns the discovery poll interval.
func (c *Config) DiscoveryInterval() time.Duration {
	return time.Duration(c.Intervals.DiscoverySecs) * time.Second
}

// FocusInterval returns the focus poll interval.
func (c *Config) FocusInterval() time.Duration {
	return time.Duration(c.Intervals.FocusSecs) * time.Second
}

// PidMatchInterval returns the pid-to-pane matching interval.
func (c *Config) PidMatchInterval() time.Duration {
	return time.Duration(c.Intervals.PidMatchSecs) * time.Second
}

// GitInterval returns the git branch refresh interval.
func (c *Config) GitInterval() time.Duration {
	return time.Duration(c.Intervals.GitSecs) * time.Second
}

// ExpandPortFile resolves a leading "~/" in the port file path.
func (c *Config) ExpandPortFile() string {
	return expandHome(c.PortFile)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
