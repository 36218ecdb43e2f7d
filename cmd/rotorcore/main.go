package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/sevlyar/go-daemon"

	"github.com/rotorcore/rotorcore/internal/config"
	. "github.com/rotorcore/rotorcore/internal/logging"
	"github.com/rotorcore/rotorcore/internal/paths"
	"github.com/rotorcore/rotorcore/internal/rotation"
	"github.com/rotorcore/rotorcore/internal/rotation/router"
)

// version is set by goreleaser via ldflags: -X main.version=...
var version = "dev"

// RuntimePaths holds derived paths for daemon operation.
type RuntimePaths struct {
	DataDir string
	PidFile string
	LogFile string
}

func loadRuntimePaths() (*RuntimePaths, error) {
	dataDir, err := paths.BaseDir()
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}
	return &RuntimePaths{
		DataDir: dataDir,
		PidFile: filepath.Join(dataDir, "rotorcore.pid"),
		LogFile: filepath.Join(dataDir, "rotorcore.log"),
	}, nil
}

// buildCore wires a Core with the daemon and inproc providers registered
// from environment configuration.
func buildCore(ctx context.Context) (*rotation.Core, error) {
	cfg := config.Load()
	core := rotation.NewCore(cfg)

	daemonURL := os.Getenv("ROTORCORE_DAEMON_URL")
	if daemonURL == "" {
		daemonURL = "http://127.0.0.1:11434"
	}
	dp := router.NewDaemonProvider("daemon", "daemon:", daemonURL, 0)
	if err := core.RegisterProvider(ctx, dp); err != nil {
		L_warn("daemon provider registration failed, continuing without it", "error", err)
	}

	inprocDir := os.Getenv("ROTORCORE_INPROC_MODELS_DIR")
	if inprocDir != "" {
		ip := router.NewInprocProvider("inproc", "inproc:", inprocDir, os.Getenv("ROTORCORE_INPROC_LANGUAGE"), 4)
		if err := core.RegisterProvider(ctx, ip); err != nil {
			L_warn("inproc provider registration failed, continuing without it", "error", err)
		}
	}

	return core, nil
}

// CLI defines the command-line interface.
type CLI struct {
	Debug bool `help:"Enable debug logging" short:"d"`
	Trace bool `help:"Enable trace logging" short:"t"`

	Run      RunCmd      `cmd:"" default:"withargs" help:"Run the rotation core in the foreground"`
	Start    StartCmd    `cmd:"" help:"Start the rotation core as a background daemon"`
	Stop     StopCmd     `cmd:"" help:"Stop the background daemon"`
	Status   StatusCmd   `cmd:"" help:"Show rotation core status"`
	Rotate   RotateCmd   `cmd:"" help:"Request a model rotation"`
	Force    ForceCmd    `cmd:"" help:"Force a model rotation, bypassing the queue"`
	History  HistoryCmd  `cmd:"" help:"Show recent rotation history"`
	Cleanup  CleanupCmd  `cmd:"" help:"Run an emergency cleanup"`
	Models   ModelsCmd   `cmd:"" help:"List all known models across providers"`
	Validate ValidateCmd `cmd:"" help:"Validate the rotation configuration"`
	Version  VersionCmd  `cmd:"" help:"Show version"`
}

// Context carries global flags into command handlers.
type Context struct {
	Debug bool
	Trace bool
}

// RunCmd runs the rotation core in the foreground, draining the queue and
// sampling memory until interrupted.
type RunCmd struct{}

func (r *RunCmd) Run(ctx *Context) error {
	L_info("rotorcore: starting", "version", version)

	core, err := buildCore(context.Background())
	if err != nil {
		return err
	}
	core.Start()
	defer core.Stop()

	select {}
}

// StartCmd daemonizes the rotation core.
type StartCmd struct{}

func (s *StartCmd) Run(ctx *Context) error {
	paths, err := loadRuntimePaths()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}

	if err := os.MkdirAll(paths.DataDir, 0750); err != nil {
		L_error("failed to create data directory", "error", err)
		return err
	}

	if isRunningAt(paths.PidFile) {
		L_error("rotorcore already running")
		return fmt.Errorf("already running")
	}

	cntxt := &daemon.Context{
		PidFileName: paths.PidFile,
		PidFilePerm: 0644,
		LogFileName: paths.LogFile,
		LogFilePerm: 0640,
		WorkDir:     "./",
		Umask:       027,
	}

	d, err := cntxt.Reborn()
	if err != nil {
		L_fatal("daemonize failed", "error", err)
	}
	if d != nil {
		L_info("rotorcore started", "pid", d.Pid, "dataDir", paths.DataDir)
		return nil
	}
	defer cntxt.Release() //nolint:errcheck // daemon cleanup

	L_info("rotorcore: daemon started", "pid", os.Getpid(), "dataDir", paths.DataDir)

	core, err := buildCore(context.Background())
	if err != nil {
		L_fatal("failed to build rotation core", "error", err)
	}
	core.Start()
	select {}
}

// StopCmd stops the background daemon.
type StopCmd struct{}

func (s *StopCmd) Run(ctx *Context) error {
	paths, err := loadRuntimePaths()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}

	pid, running := getPidFromFile(paths.PidFile)
	if !running {
		L_info("rotorcore not running")
		return nil
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("process not found: %w", err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to stop: %w", err)
	}

	L_info("rotorcore stopped", "pid", pid)
	os.Remove(paths.PidFile)
	return nil
}

// StatusCmd shows whether the daemon is running.
type StatusCmd struct{}

func (s *StatusCmd) Run(ctx *Context) error {
	paths, err := loadRuntimePaths()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}

	_, running := getPidFromFile(paths.PidFile)
	if !running {
		fmt.Println("rotorcore: not running")
		return nil
	}
	fmt.Println("rotorcore: running")
	return nil
}

// RotateCmd requests a queued rotation. Since this CLI has no IPC to a
// running daemon, it builds its own short-lived core for one-shot
// inspection/administration use.
type RotateCmd struct {
	Provider string `arg:"" help:"Provider name"`
	Model    string `arg:"" help:"Model name"`
	Priority string `help:"Priority: low, normal, or high" default:"normal"`
}

func (r *RotateCmd) Run(ctx *Context) error {
	priority, ok := rotation.ParsePriority(r.Priority)
	if !ok {
		return fmt.Errorf("unknown priority %q", r.Priority)
	}

	core, err := buildCore(context.Background())
	if err != nil {
		return err
	}

	outcome, rerr := core.RequestRotation(context.Background(), r.Provider, r.Model, "cli", priority)
	if rerr != nil {
		return rerr
	}
	fmt.Printf("action=%s success=%v\n", outcome.Action, outcome.Success)
	return nil
}

// ForceCmd forces an immediate rotation.
type ForceCmd struct {
	Provider string `arg:"" help:"Provider name"`
	Model    string `arg:"" help:"Model name"`
}

func (f *ForceCmd) Run(ctx *Context) error {
	core, err := buildCore(context.Background())
	if err != nil {
		return err
	}

	outcome, rerr := core.ForceRotation(context.Background(), f.Provider, f.Model, "cli")
	if rerr != nil {
		return rerr
	}
	fmt.Printf("action=%s success=%v durationMs=%d\n", outcome.Action, outcome.Success, outcome.DurationMs)
	return nil
}

// HistoryCmd prints recent rotation history.
type HistoryCmd struct {
	Limit int `help:"Maximum entries to show" default:"20"`
}

func (h *HistoryCmd) Run(ctx *Context) error {
	core, err := buildCore(context.Background())
	if err != nil {
		return err
	}

	for _, entry := range core.History(h.Limit) {
		fmt.Printf("%s %s/%s status=%s durationMs=%d\n",
			entry.Start.Format(time.RFC3339), entry.Provider, entry.Model, entry.Status, entry.DurationMs)
	}
	return nil
}

// CleanupCmd runs an emergency cleanup.
type CleanupCmd struct{}

func (c *CleanupCmd) Run(ctx *Context) error {
	core, err := buildCore(context.Background())
	if err != nil {
		return err
	}

	outcome := core.EmergencyCleanup(context.Background())
	fmt.Printf("success=%v\n", outcome.Success)
	return nil
}

// ModelsCmd lists all known models across registered providers.
type ModelsCmd struct{}

func (m *ModelsCmd) Run(ctx *Context) error {
	core, err := buildCore(context.Background())
	if err != nil {
		return err
	}

	for _, model := range core.ListAllModels(context.Background()) {
		fmt.Printf("%s\t%s\n", model.Provider, model.Name)
	}
	return nil
}

// ValidateCmd validates the rotation configuration.
type ValidateCmd struct{}

func (v *ValidateCmd) Run(ctx *Context) error {
	core, err := buildCore(context.Background())
	if err != nil {
		return err
	}

	report := core.ValidateConfig()
	fmt.Printf("isValid=%v\n", report.IsValid)
	for _, e := range report.Errors {
		fmt.Printf("error: %s\n", e)
	}
	for _, w := range report.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
	return nil
}

// VersionCmd shows version info.
type VersionCmd struct{}

func (v *VersionCmd) Run(ctx *Context) error {
	fmt.Printf("rotorcore %s\n", version)
	return nil
}

func getPidFromFile(pidFile string) (int, bool) {
	pidBytes, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(pidBytes)))
	if err != nil {
		return 0, false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return pid, false
	}
	if err := process.Signal(syscall.Signal(0)); err != nil {
		return pid, false
	}
	return pid, true
}

func isRunningAt(pidFile string) bool {
	_, running := getPidFromFile(pidFile)
	return running
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("rotorcore"),
		kong.Description("A multi-provider model rotation dispatcher"),
		kong.UsageOnError(),
	)

	level := LevelInfo
	if cli.Trace {
		level = LevelTrace
	} else if cli.Debug {
		level = LevelDebug
	}

	Init(&Config{Level: level, ShowCaller: true})

	err := ctx.Run(&Context{Debug: cli.Debug, Trace: cli.Trace})
	if err != nil {
		L_fatal("command failed", "error", err)
	}
}
