package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	neturl "net/url"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/twistedxcom/sessionwatch/internal/config"
	"github.com/twistedxcom/sessionwatch/internal/logging"
	"github.com/twistedxcom/sessionwatch/internal/monitor"
	"github.com/twistedxcom/sessionwatch/internal/procs"
	"github.com/twistedxcom/sessionwatch/internal/server"
	"github.com/twistedxcom/sessionwatch/internal/session"
	"github.com/twistedxcom/sessionwatch/internal/status"
	"github.com/twistedxcom/sessionwatch/internal/tmux"
)

const Version = "0.3.0"

// Table column widths for status command output
const (
	tableColProject = 24
	tableColStatus  = 12
	tableColTool    = 14
	tableColWindow  = 16
)

const shutdownTimeout = 5 * time.Second

func main() {
	args := os.Args[1:]
	if len(args) > 0 {
		switch args[0] {
		case "version", "--version", "-v":
			fmt.Printf("sessionwatch v%s\n", Version)
			return
		case "help", "--help", "-h":
			printHelp()
			return
		case "status":
			handleStatus(args[1:])
			return
		case "config":
			handleConfig(args[1:])
			return
		case "run":
			args = args[1:]
		}
	}
	runDaemon(args)
}

func printHelp() {
	fmt.Println(`sessionwatch - tracks Claude Code sessions across tmux

Usage:
  sessionwatch [run] [flags]   Run the watcher daemon (default)
  sessionwatch status [--json] Show sessions from the running daemon
  sessionwatch config init     Write a default config file
  sessionwatch config path     Print the config file location
  sessionwatch version         Print version

Run flags:
  -config <path>   Config file (default: ~/.sessionwatch/config.toml)
  -listen <addr>   Override the hook server bind address
  -log-level <lvl> Override the log level (debug|info|warn|error)

The daemon publishes its port to the port file (default
~/.claude/state/cc.port) so hook scripts can find it. SIGUSR1 dumps
the in-memory debug log ring to the config directory.`)
}

func runDaemon(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", config.Path(), "config file path")
	listenAddr := fs.String("listen", "", "override hook server bind address")
	logLevel := fs.String("log-level", "", "override log level")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	logging.Init(logging.Config{
		LogDir:    config.Dir(),
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		MaxSizeMB: cfg.Log.MaxSizeMB,
	})
	defer logging.Shutdown()
	log := logging.ForComponent(logging.CompMonitor)
	log.Info("starting", slog.String("version", Version), slog.String("config", *configPath))

	if _, err := exec.LookPath("tmux"); err != nil {
		// Hook ingestion still works; discovery and pane matching will
		// simply come up empty until tmux appears.
		fmt.Fprintln(os.Stderr, "Warning: tmux not found in PATH; pane discovery is disabled")
		log.Warn("tmux_not_found")
	}

	inferencer := status.NewInferencer(compilePatterns(cfg))
	tmuxInspector := tmux.NewInspector(nil)
	procInspector := procs.NewInspector()

	var srv *server.Server
	registry := session.NewRegistry(func() {
		if srv != nil {
			srv.NotifyChanged()
		}
	})
	discoverer := session.NewDiscoverer(procInspector, tmuxInspector, inferencer, cfg.ProcessName, cfg.CaptureLines)

	mon := monitor.New(monitor.Options{
		DiscoveryInterval: cfg.DiscoveryInterval(),
		FocusInterval:     cfg.FocusInterval(),
		PidMatchInterval:  cfg.PidMatchInterval(),
		GitInterval:       cfg.GitInterval(),
	}, registry, discoverer, tmuxInspector)

	srv = server.NewServer(server.Config{
		ListenAddr: cfg.ListenAddr,
		PortFile:   cfg.ExpandPortFile(),
	}, registry, tmuxInspector, mon.Kick)

	// Hot-reload status patterns when the config file changes. Other
	// settings (addresses, intervals) take effect on restart.
	watcher, err := config.NewWatcher(*configPath, func(next *config.Config) {
		inferencer.SetPatterns(compilePatterns(next))
		log.Info("status_patterns_reloaded")
	})
	if err != nil {
		log.Warn("config_watch_unavailable", slog.String("error", err.Error()))
	} else {
		go watcher.Start()
		defer watcher.Stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go dumpLogsOnSignal(ctx, log)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mon.Run(ctx) })
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("exited_with_error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	log.Info("stopped")
}

// compilePatterns merges user pattern extras over the built-ins.
func compilePatterns(cfg *config.Config) *status.Patterns {
	return status.Compile(status.Merge(status.DefaultRawPatterns(), &status.RawPatterns{
		Permission: cfg.Status.ExtraPermissionPatterns,
		Busy:       cfg.Status.ExtraBusyPatterns,
		Prompt:     cfg.Status.ExtraPromptPatterns,
	}))
}

// dumpLogsOnSignal writes the in-memory log ring to disk on SIGUSR1.
func dumpLogsOnSignal(ctx context.Context, log *slog.Logger) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			path := filepath.Join(config.Dir(), fmt.Sprintf("ringdump-%s.log", time.Now().Format("20060102-150405")))
			if err := logging.DumpRingBuffer(path); err != nil {
				log.Warn("ring_dump_failed", slog.String("error", err.Error()))
				continue
			}
			log.Info("ring_dumped", slog.String("path", path))
		}
	}
}

func handleStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "print raw JSON")
	configPath := fs.String("config", config.Path(), "config file path")
	query := fs.String("q", "", "fuzzy filter")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	port, err := server.ReadPortFile(cfg.ExpandPortFile())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: daemon not running (no port file at %s)\n", cfg.ExpandPortFile())
		os.Exit(1)
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/api/sessions", port)
	if *query != "" {
		url += "?q=" + neturl.QueryEscape(*query)
	}
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach daemon on port %d: %v\n", port, err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	var records []session.Record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		fmt.Fprintf(os.Stderr, "Error: bad response: %v\n", err)
		os.Exit(1)
	}

	if *asJSON {
		out, _ := json.MarshalIndent(records, "", "  ")
		fmt.Println(string(out))
		return
	}

	if len(records) == 0 {
		fmt.Println("No sessions.")
		return
	}
	fmt.Printf("%-*s %-*s %-*s %-*s %s\n",
		tableColProject, "PROJECT", tableColStatus, "STATUS",
		tableColTool, "LAST TOOL", tableColWindow, "WINDOW", "BRANCH")
	for _, rec := range records {
		window := "-"
		if rec.Locator != nil {
			window = rec.Locator.Target()
		}
		name := rec.ProjectName
		if name == "" {
			name = rec.SessionID
		}
		focused := " "
		if rec.IsFocused {
			focused = "*"
		}
		fmt.Printf("%s%-*s %-*s %-*s %-*s %s\n",
			focused,
			tableColProject-1, truncate(name, tableColProject-1),
			tableColStatus, string(rec.Status),
			tableColTool, truncate(rec.LastTool, tableColTool),
			tableColWindow, truncate(window, tableColWindow),
			rec.GitBranch)
	}
}

func handleConfig(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: sessionwatch config <init|path>")
		os.Exit(1)
	}
	switch args[0] {
	case "path":
		fmt.Println(config.Path())
	case "init":
		path := config.Path()
		if _, err := os.Stat(path); err == nil {
			fmt.Fprintf(os.Stderr, "Error: %s already exists\n", path)
			os.Exit(1)
		}
		if err := config.Save(path, config.Default()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %s\n", path)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config command: %s\n", args[0])
		os.Exit(1)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
