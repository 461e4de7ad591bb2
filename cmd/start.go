package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"mcpgate/internal/config"
	"mcpgate/internal/gateway"
	"mcpgate/internal/gwerrors"
	"mcpgate/internal/instance"
	"mcpgate/pkg/logging"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

// detachWaitTimeout bounds how long `start --detach` waits for the daemon
// to become reachable before giving up.
const detachWaitTimeout = 15 * time.Second

var (
	startConfigPath string
	startHost       string
	startPort       int
	startLogLevel   string
	startName       string
	startDetach     bool
	startLogFile    string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway",
	Long: `Starts the gateway: attaches the configured backends, discovers
their capabilities, and serves the merged catalog on the configured
transport.

By default the gateway runs in the foreground until interrupted. With
--detach it forks into the background, records the instance under the
state directory, and returns once the endpoint answers.`,
	Args: cobra.NoArgs,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig(startConfigPath)
	if err != nil {
		return err
	}
	if startHost != "" {
		cfg.Server.Host = startHost
	}
	if startPort != 0 {
		cfg.Server.Port = startPort
	}

	name := startName
	if name == "" {
		name = instance.AutoName(cfg.Server.Port)
	}
	if err := instance.ValidateName(name); err != nil {
		return &gwerrors.ConfigError{Field: "name", Reason: err.Error()}
	}

	if cfg.Server.Transport != config.TransportStdio {
		if err := instance.CheckPortFree(cfg.Server.Host, cfg.Server.Port); err != nil {
			return err
		}
	}

	if startDetach {
		if cfg.Server.Transport == config.TransportStdio {
			return &gwerrors.ConfigError{Field: "server.transport", Reason: "stdio transport cannot run detached"}
		}
		return runDetached(cfg, name)
	}

	return runForeground(cmd.Context(), cfg, name)
}

// runForeground runs the gateway in the current process until SIGINT or
// SIGTERM.
func runForeground(ctx context.Context, cfg config.Config, name string) error {
	level := logging.ParseLevel(startLogLevel)
	if startLogFile != "" {
		logFile, err := logging.InitForDaemon(level, startLogFile)
		if err != nil {
			return err
		}
		defer logFile.Close()
	} else {
		logging.InitForCLI(level, os.Stderr)
	}

	svc, err := gateway.NewService(cfg, startConfigPath)
	if err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Start(runCtx); err != nil {
		return err
	}

	inst := &instance.Instance{
		Name:      name,
		PID:       os.Getpid(),
		Host:      cfg.Server.Host,
		Port:      cfg.Server.Port,
		Config:    startConfigPath,
		LogFile:   startLogFile,
		StartedAt: time.Now(),
	}
	if err := instance.Save(inst); err != nil {
		logging.Warn("Start", "Could not write instance record: %v", err)
	}
	defer func() {
		_ = instance.Remove(name)
	}()

	<-runCtx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return svc.Stop(shutdownCtx)
}

// runDetached forks a foreground copy of this command into its own
// session, redirects its output to the log file, and waits for the
// endpoint to answer.
func runDetached(cfg config.Config, name string) error {
	logFile := startLogFile
	if logFile == "" {
		dir, err := instance.Dir()
		if err != nil {
			return err
		}
		logFile = filepath.Join(dir, name+".log")
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("cannot locate executable: %w", err)
	}

	args := []string{
		"start",
		"--name", name,
		"--host", cfg.Server.Host,
		"--port", strconv.Itoa(cfg.Server.Port),
		"--log-level", startLogLevel,
		"--log-file", logFile,
	}
	if startConfigPath != "" {
		args = append(args, "--config", startConfigPath)
	}

	child := exec.Command(exe, args...)
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	child.Stdin = nil
	child.Stdout = nil
	child.Stderr = nil

	if err := child.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	pid := child.Process.Pid
	// The child is reparented to init; don't wait on it.
	_ = child.Process.Release()

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = fmt.Sprintf(" Waiting for %s to become ready...", name)
	s.Start()
	defer s.Stop()

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	deadline := time.Now().Add(detachWaitTimeout)
	for time.Now().Before(deadline) {
		if !instance.IsAlive(pid) {
			s.Stop()
			return fmt.Errorf("daemon exited during startup, see %s", logFile)
		}
		conn, err := net.DialTimeout("tcp", addr, time.Second)
		if err == nil {
			conn.Close()
			s.Stop()
			fmt.Printf("Started %s (pid %d) on %s\n", name, pid, addr)
			fmt.Printf("Logs: %s\n", logFile)
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}

	s.Stop()
	return fmt.Errorf("daemon did not become ready within %s, see %s", detachWaitTimeout, logFile)
}

func init() {
	rootCmd.AddCommand(startCmd)

	startCmd.Flags().StringVar(&startConfigPath, "config", "", "Path to the configuration file (default ~/.config/mcpgate/mcpgate.yaml)")
	startCmd.Flags().StringVar(&startHost, "host", "", "Override the configured listen host")
	startCmd.Flags().IntVar(&startPort, "port", 0, "Override the configured listen port")
	startCmd.Flags().StringVar(&startLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	startCmd.Flags().StringVar(&startName, "name", "", "Instance name (default gw-<port>)")
	startCmd.Flags().BoolVar(&startDetach, "detach", false, "Run the gateway in the background")
	startCmd.Flags().StringVar(&startLogFile, "log-file", "", "Write logs to this file instead of stderr")
	_ = startCmd.Flags().MarkHidden("log-file")
}
