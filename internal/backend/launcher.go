package backend

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"mcpgate/pkg/logging"
)

// stopGrace is how long a launched helper process gets to exit after
// SIGTERM before it is killed.
const stopGrace = 3 * time.Second

// launcher runs a local helper process for SSE backends whose server must
// be started before the URL becomes reachable. Unlike stdio backends, the
// helper's stdin/stdout are not wired to the MCP codec; both output
// streams are forwarded to the gateway log.
type launcher struct {
	name    string
	command string
	args    []string
	env     map[string]string

	mu       sync.Mutex
	cmd      *exec.Cmd
	loggerWG sync.WaitGroup
}

func newLauncher(name, command string, args []string, env map[string]string) *launcher {
	return &launcher{
		name:    name,
		command: command,
		args:    args,
		env:     env,
	}
}

// Start spawns the helper process and begins streaming its output.
func (l *launcher) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cmd != nil {
		return fmt.Errorf("helper process for %s already running", l.name)
	}

	cmd := exec.Command(l.command, l.args...)
	cmd.Env = os.Environ()
	for k, v := range l.env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to pipe helper stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to pipe helper stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start helper process %s: %w", l.command, err)
	}

	logging.Info("Launcher", "Started helper process for backend %s (pid %d)", l.name, cmd.Process.Pid)

	l.streamLines("stdout", stdout)
	l.streamLines("stderr", stderr)

	l.cmd = cmd
	return nil
}

func (l *launcher) streamLines(stream string, r io.Reader) {
	l.loggerWG.Add(1)
	go func() {
		defer l.loggerWG.Done()
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			logging.Info("Launcher", "[%s %s] %s", l.name, stream, scanner.Text())
		}
	}()
}

// Stop terminates the helper: SIGTERM, then SIGKILL after stopGrace. The
// output loggers are joined before returning so no log lines are lost.
func (l *launcher) Stop() error {
	l.mu.Lock()
	cmd := l.cmd
	l.cmd = nil
	l.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	pid := cmd.Process.Pid
	logging.Debug("Launcher", "Stopping helper process for backend %s (pid %d)", l.name, pid)

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Already gone.
		l.loggerWG.Wait()
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(stopGrace):
		logging.Warn("Launcher", "Helper process for backend %s did not exit after SIGTERM, killing", l.name)
		if err := cmd.Process.Kill(); err != nil {
			logging.Debug("Launcher", "Kill of helper for %s failed: %v", l.name, err)
		}
		<-done
	}

	l.loggerWG.Wait()
	return nil
}

// Pid returns the helper's process ID, or 0 when not running.
func (l *launcher) Pid() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cmd == nil || l.cmd.Process == nil {
		return 0
	}
	return l.cmd.Process.Pid
}
