// Package instance manages the on-disk records of running gateway
// daemons. Every detached gateway writes one JSON file under the state
// directory; the status and stop commands read those files to find and
// control the processes.
package instance

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"mcpgate/pkg/logging"
)

// namePattern constrains instance names to something safe for filenames
// and process titles.
var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,31}$`)

// ErrNotFound is returned when no instance file exists for a name.
var ErrNotFound = errors.New("instance not found")

// Instance is the persisted record of one running gateway.
type Instance struct {
	Name      string    `json:"name"`
	PID       int       `json:"pid"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Config    string    `json:"config,omitempty"`
	LogFile   string    `json:"log_file,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Uptime returns how long the instance has been running.
func (i *Instance) Uptime() time.Duration {
	return time.Since(i.StartedAt)
}

// ValidateName checks an instance name against the allowed pattern.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("invalid instance name %q: must match %s", name, namePattern.String())
	}
	return nil
}

// AutoName derives the default instance name from the listen port.
func AutoName(port int) string {
	return fmt.Sprintf("gw-%d", port)
}

// Dir returns the instances directory, creating it if needed. It honors
// XDG_STATE_HOME and falls back to ~/.local/state.
func Dir() (string, error) {
	stateHome := os.Getenv("XDG_STATE_HOME")
	if stateHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine state directory: %w", err)
		}
		stateHome = filepath.Join(home, ".local", "state")
	}
	dir := filepath.Join(stateHome, "mcpgate", "instances")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("cannot create instance directory: %w", err)
	}
	return dir, nil
}

func pathFor(name string) (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name+".json"), nil
}

// Save writes the instance record atomically (write to temp, rename).
func Save(inst *Instance) error {
	if err := ValidateName(inst.Name); err != nil {
		return err
	}
	path, err := pathFor(inst.Name)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(inst, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot encode instance record: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("cannot write instance record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("cannot write instance record: %w", err)
	}
	return nil
}

// Load reads one instance record by name.
func Load(name string) (*Instance, error) {
	path, err := pathFor(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, err
	}
	var inst Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, fmt.Errorf("corrupt instance record %s: %w", name, err)
	}
	return &inst, nil
}

// Remove deletes an instance record. Missing files are not an error.
func Remove(name string) error {
	path, err := pathFor(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// List returns all instance records, sorted by name. Records whose process
// is no longer alive are removed on the way (stale cleanup) and not
// returned.
func List() ([]*Instance, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var instances []*Instance
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".json")
		inst, err := Load(name)
		if err != nil {
			logging.Warn("Instance", "Skipping unreadable instance record %s: %v", name, err)
			continue
		}
		if !IsAlive(inst.PID) {
			logging.Debug("Instance", "Removing stale instance record %s (pid %d gone)", name, inst.PID)
			_ = Remove(name)
			continue
		}
		instances = append(instances, inst)
	}

	sort.Slice(instances, func(a, b int) bool {
		return instances[a].Name < instances[b].Name
	})
	return instances, nil
}

// CheckPortFree reports an error when another live instance already
// listens on the given host and port.
func CheckPortFree(host string, port int) error {
	instances, err := List()
	if err != nil {
		return err
	}
	for _, inst := range instances {
		if inst.Port == port && inst.Host == host {
			return fmt.Errorf("instance %s (pid %d) already listens on %s:%d",
				inst.Name, inst.PID, host, port)
		}
	}
	return nil
}
