package configuration

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"gopkg.in/yaml.v2"
)

// Configuration is the complete, resolved configuration of a pakfs
// process. It is loaded once and never mutated during a run.
type Configuration struct {
	Storage struct {
		// Root is the base directory for the local repository.
		Root string `yaml:"root,omitempty"`
		// MountPoint is where the virtual filesystem is presented.
		MountPoint string `yaml:"mount_point,omitempty"`
	} `yaml:"storage,omitempty"`

	Solver struct {
		// BuildKeyNameOrder is a comma-separated list of glob patterns
		// that biases the option name ordering used to sort builds.
		BuildKeyNameOrder string `yaml:"build_key_name_order,omitempty"`
		// BinaryOnly disables building packages from source.
		BinaryOnly bool `yaml:"binary_only,omitempty"`
		// TimeoutSeconds aborts a solve after this much wall time.
		// Zero disables the deadline.
		TimeoutSeconds uint64 `yaml:"timeout_seconds,omitempty"`
		// TooLongSeconds escalates solver output verbosity after this
		// much wall time. Zero disables escalation.
		TooLongSeconds uint64 `yaml:"too_long_seconds,omitempty"`
	} `yaml:"solver,omitempty"`

	CLI struct {
		Ls struct {
			// HostFiltering defaults listing commands to filtering by
			// the host's options.
			HostFiltering bool `yaml:"host_filtering,omitempty"`
		} `yaml:"ls,omitempty"`
	} `yaml:"cli,omitempty"`
}

// Environment variables recognized at load time.
const (
	// EnvStorageRoot overrides storage.root.
	EnvStorageRoot = "PAKFS_STORAGE_ROOT"
	// EnvBinaryOnly overrides solver.binary_only.
	EnvBinaryOnly = "PAKFS_SOLVER_BINARY_ONLY"
	// EnvMonitorDisableCnproc disables the kernel-assisted process event
	// source, forcing the monitor to poll.
	EnvMonitorDisableCnproc = "PAKFS_MONITOR_DISABLE_CNPROC"
	// EnvMonitorForegroundLogging names the monitor-logging variable; no
	// code in this module reads it.
	EnvMonitorForegroundLogging = "PAKFS_MONITOR_FOREGROUND_LOGGING"
	// EnvNoAutoServe names the service auto-start variable; no code in
	// this module reads it.
	EnvNoAutoServe = "PAKFS_NO_AUTO_SERVE"
)

// Default returns the built-in configuration.
func Default() *Configuration {
	config := &Configuration{}
	config.Storage.Root = "/var/lib/pakfs"
	config.Storage.MountPoint = "/pakfs"
	config.Solver.BinaryOnly = true
	config.Solver.TooLongSeconds = 30
	return config
}

// Parse reads a configuration from the given reader, applying defaults
// first and environment overrides last.
func Parse(rd io.Reader) (*Configuration, error) {
	config := Default()
	in, err := io.ReadAll(rd)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(in, config); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}
	config.applyEnvironment()
	return config, nil
}

func (c *Configuration) applyEnvironment() {
	if root := os.Getenv(EnvStorageRoot); root != "" {
		c.Storage.Root = root
	}
	if binaryOnly := os.Getenv(EnvBinaryOnly); binaryOnly != "" {
		if parsed, err := strconv.ParseBool(binaryOnly); err == nil {
			c.Solver.BinaryOnly = parsed
		}
	}
}

var (
	loaded     *Configuration
	loadedOnce sync.Once
)

// Get returns the process-wide configuration snapshot, loading it on
// first access. The file named by PAKFS_CONFIG is used when present;
// otherwise defaults apply.
func Get() *Configuration {
	loadedOnce.Do(func() {
		loaded = Default()
		path := os.Getenv("PAKFS_CONFIG")
		if path == "" {
			loaded.applyEnvironment()
			return
		}
		fp, err := os.Open(path)
		if err != nil {
			loaded.applyEnvironment()
			return
		}
		defer fp.Close()
		if parsed, err := Parse(fp); err == nil {
			loaded = parsed
		} else {
			loaded.applyEnvironment()
		}
	})
	return loaded
}
