package instance

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"mcpgate/pkg/logging"
)

// stopGrace is how long a process gets after SIGTERM before SIGKILL.
const stopGrace = 3 * time.Second

// IsAlive reports whether a process with the given pid exists. Signal 0
// performs the existence check without delivering anything.
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// Stop terminates the instance's process with SIGTERM, escalating to
// SIGKILL after the grace period, and removes the instance record.
func Stop(inst *Instance) error {
	process, err := os.FindProcess(inst.PID)
	if err != nil {
		_ = Remove(inst.Name)
		return fmt.Errorf("%w: %s", ErrNotFound, inst.Name)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		// Already gone; just clean up the record.
		_ = Remove(inst.Name)
		return nil
	}
	logging.Info("Instance", "Sent SIGTERM to %s (pid %d)", inst.Name, inst.PID)

	deadline := time.Now().Add(stopGrace)
	for time.Now().Before(deadline) {
		if !IsAlive(inst.PID) {
			_ = Remove(inst.Name)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	logging.Warn("Instance", "Instance %s (pid %d) did not exit in %s, sending SIGKILL",
		inst.Name, inst.PID, stopGrace)
	if err := process.Kill(); err != nil {
		logging.Warn("Instance", "SIGKILL failed for pid %d: %v", inst.PID, err)
	}
	_ = Remove(inst.Name)
	return nil
}
