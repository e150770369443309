package pid

import (
	"errors"
	"fmt"
	"path/filepath"
)

// DefaultProcessNames contains the binary names of common WiredTiger
// hosts. Used when no explicit pids, process_names, libraries or
// cgroup_path is configured.
var DefaultProcessNames = []string{
	"mongod",
	"wt", // WiredTiger command-line utility
	"wtperf",
}

// DefaultProcRoot is where process information is read from.
const DefaultProcRoot = "/proc"

// Config holds configuration for PID discovery.
type Config struct {
	// PIDs are traced unconditionally, in addition to discovered ones.
	PIDs []uint32 `yaml:"pids"`

	// ProcessNames is a list of process names to discover by
	// scanning /proc. E.g. ["mongod", "wtperf"].
	ProcessNames []string `yaml:"process_names"`

	// Libraries matches processes that have a shared object whose base
	// name starts with one of these prefixes mapped, e.g.
	// ["libwiredtiger"].
	Libraries []string `yaml:"libraries"`

	// CgroupPath is the cgroup v2 path containing the target
	// processes. E.g. "/sys/fs/cgroup/mongodb.slice".
	CgroupPath string `yaml:"cgroup_path"`

	// ProcRoot overrides the procfs mount point.
	// Defaults to /proc.
	ProcRoot string `yaml:"proc_root"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.ProcRoot == "" {
		c.ProcRoot = DefaultProcRoot
	}

	if len(c.PIDs) == 0 && len(c.ProcessNames) == 0 &&
		len(c.Libraries) == 0 && c.CgroupPath == "" {
		c.ProcessNames = append([]string(nil), DefaultProcessNames...)
	}
}

// Validate checks the discovery configuration.
func (c *Config) Validate() error {
	for _, pid := range c.PIDs {
		if pid == 0 {
			return errors.New("target.pids must not contain 0")
		}
	}

	for _, name := range c.ProcessNames {
		if name == "" {
			return errors.New("target.process_names must not contain empty names")
		}

		// The kernel truncates comm to 15 bytes.
		if len(name) > 15 {
			return fmt.Errorf("target.process_names entry %q exceeds 15 bytes", name)
		}
	}

	for _, lib := range c.Libraries {
		if lib == "" {
			return errors.New("target.libraries must not contain empty prefixes")
		}
	}

	if c.CgroupPath != "" && !filepath.IsAbs(c.CgroupPath) {
		return fmt.Errorf("target.cgroup_path must be absolute, got %q", c.CgroupPath)
	}

	return nil
}
