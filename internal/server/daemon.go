package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/alanmeadows/mrwatch/internal/config"
	"github.com/alanmeadows/mrwatch/internal/store"
)

func dataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			return ""
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, "mrwatch")
}

// PIDFilePath returns the path to the daemon PID file.
func PIDFilePath() string {
	dir := dataDir()
	if dir == "" {
		slog.Error("cannot determine home directory; set $HOME or $XDG_DATA_HOME")
		os.Exit(1)
	}
	return filepath.Join(dir, "mrwatchd.pid")
}

// LogFilePath returns the path to the daemon log file.
func LogFilePath() string {
	dir := dataDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "logs", "mrwatchd.log")
}

// StartDaemon forks the current process as a daemon.
// If foreground is true, runs the watcher inline without forking.
func StartDaemon(cfg *config.Config, configPath string, foreground bool) error {
	// Use file lock to prevent concurrent starts.
	lockPath := PIDFilePath() + ".lock"
	return store.WithLock(lockPath, 5*time.Second, func() error {
		if running, pid, _, _ := DaemonStatus(); running {
			return fmt.Errorf("daemon already running (PID %d)", pid)
		}

		if foreground {
			return runForeground(cfg)
		}
		return forkDaemon(cfg, configPath)
	})
}

// expandHome replaces a leading "~/" in a path with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") && path != "~" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}

// forkArgs returns the arguments that re-run this binary as the daemon child.
func forkArgs(configPath string, verbose bool) []string {
	args := []string{"start", "--foreground"}
	if configPath != "" {
		if abs, err := filepath.Abs(configPath); err == nil {
			configPath = abs
		}
		args = append(args, "--config", configPath)
	}
	if verbose {
		args = append(args, "--verbose")
	}
	return args
}

// forkEnv carries the parent's resolved platform and watch settings to the
// child through the environment overrides config.Load applies last, so
// command-line flags given to "start" survive the fork. The token travels
// here rather than in argv.
func forkEnv(cfg *config.Config) []string {
	var env []string
	set := func(key, value string) {
		if value != "" {
			env = append(env, key+"="+value)
		}
	}
	set("MRWATCH_PLATFORM", cfg.Platform.Kind)
	set("MRWATCH_URL", cfg.Platform.URL)
	set("MRWATCH_TOKEN", cfg.Platform.Token)
	set("MRWATCH_POLL_INTERVAL", cfg.Watch.PollInterval)

	stateFile := expandHome(cfg.Watch.StateFile)
	if stateFile != "" {
		if abs, err := filepath.Abs(stateFile); err == nil {
			stateFile = abs
		}
	}
	set("MRWATCH_STATE_FILE", stateFile)
	return env
}

func forkDaemon(cfg *config.Config, configPath string) error {
	logDir := expandHome(cfg.Server.LogDir)
	if logDir == "" {
		logDir = filepath.Dir(LogFilePath())
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	logFile := filepath.Join(logDir, "mrwatchd.log")

	verbose := slog.Default().Enabled(context.Background(), slog.LevelDebug)
	cmd := exec.Command(os.Args[0], forkArgs(configPath, verbose)...)
	cmd.Env = append(os.Environ(), forkEnv(cfg)...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	cmd.Stdout = f
	cmd.Stderr = f
	cmd.Stdin = nil

	if err := cmd.Start(); err != nil {
		f.Close()
		return fmt.Errorf("starting daemon: %w", err)
	}

	pid := cmd.Process.Pid

	// The child writes its own PID file in runForeground.
	cmd.Process.Release()
	f.Close()

	fmt.Printf("daemon started (PID: %d)\n", pid)
	fmt.Printf("log file: %s\n", logFile)
	return nil
}

func runForeground(cfg *config.Config) error {
	if err := writePIDFile(os.Getpid()); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM, syscall.SIGINT,
	)
	defer stop()

	return Run(ctx, cfg)
}

// StopDaemon sends SIGTERM to the running daemon and waits for exit.
func StopDaemon() error {
	running, pid, _, err := DaemonStatus()
	if err != nil {
		return err
	}
	if !running {
		return fmt.Errorf("daemon is not running")
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process: %w", err)
	}

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) || errors.Is(err, os.ErrProcessDone) {
			removePIDFile()
			return nil
		}
		return fmt.Errorf("sending SIGTERM: %w", err)
	}

	// The watcher finishes its in-flight MR before exiting.
	deadline := time.After(30 * time.Second)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			_ = proc.Signal(syscall.SIGKILL)
			removePIDFile()
			return fmt.Errorf("daemon did not stop gracefully, sent SIGKILL")
		case <-ticker.C:
			if err := proc.Signal(syscall.Signal(0)); err != nil {
				removePIDFile()
				return nil
			}
		}
	}
}

// DaemonStatus checks whether the daemon is running.
// Returns: running bool, pid int, uptime duration, error.
func DaemonStatus() (bool, int, time.Duration, error) {
	pidFile := PIDFilePath()
	data, err := os.ReadFile(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, 0, nil
		}
		return false, 0, 0, fmt.Errorf("reading PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false, 0, 0, fmt.Errorf("invalid PID file: %w", err)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		removePIDFile()
		return false, 0, 0, nil
	}

	if err := proc.Signal(syscall.Signal(0)); err != nil {
		// Stale PID file.
		removePIDFile()
		return false, 0, 0, nil
	}

	info, err := os.Stat(pidFile)
	if err != nil {
		return true, pid, 0, nil
	}
	return true, pid, time.Since(info.ModTime()), nil
}

func writePIDFile(pid int) error {
	pidFile := PIDFilePath()
	if err := os.MkdirAll(filepath.Dir(pidFile), 0755); err != nil {
		return fmt.Errorf("creating PID directory: %w", err)
	}

	tmp := pidFile + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(pid)), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, pidFile)
}

func removePIDFile() {
	_ = os.Remove(PIDFilePath())
}

// SystemdUnit renders the user unit that runs execPath in the foreground.
func SystemdUnit(execPath, home, configPath string) string {
	execStart := execPath + " start --foreground"
	if configPath != "" {
		execStart += " --config " + configPath
	}
	return fmt.Sprintf(`[Unit]
Description=mrwatch merge request CI watcher
After=network-online.target

[Service]
Type=simple
ExecStart=%s
Restart=on-failure
RestartSec=5s
TimeoutStopSec=45
Environment=HOME=%s

[Install]
WantedBy=default.target
`, execStart, home)
}

// InstallSystemdService writes a systemd user unit file and enables the service.
func InstallSystemdService(configPath string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("getting home dir: %w", err)
	}

	unitDir := filepath.Join(home, ".config", "systemd", "user")
	if err := os.MkdirAll(unitDir, 0755); err != nil {
		return fmt.Errorf("creating systemd directory: %w", err)
	}

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("finding executable path: %w", err)
	}
	if configPath != "" {
		if abs, err := filepath.Abs(configPath); err == nil {
			configPath = abs
		}
	}

	unitPath := filepath.Join(unitDir, "mrwatch.service")
	if err := os.WriteFile(unitPath, []byte(SystemdUnit(execPath, home, configPath)), 0644); err != nil {
		return fmt.Errorf("writing unit file: %w", err)
	}

	reloadCmd := exec.Command("systemctl", "--user", "daemon-reload")
	if out, err := reloadCmd.CombinedOutput(); err != nil {
		return fmt.Errorf("daemon-reload: %s: %w", string(out), err)
	}

	enableCmd := exec.Command("systemctl", "--user", "enable", "mrwatch")
	if out, err := enableCmd.CombinedOutput(); err != nil {
		return fmt.Errorf("enabling service: %s: %w", string(out), err)
	}

	fmt.Printf("installed mrwatch.service at %s\n", unitPath)
	fmt.Println("service enabled, start with: systemctl --user start mrwatch")
	return nil
}
