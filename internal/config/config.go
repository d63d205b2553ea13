// Package config loads procio job files.
//
// # Security Model
//
// A job whose cmd is a string runs through "sh -c", so pipes, redirects and
// variable expansion work as in a Makefile. A list cmd is executed directly.
// Either way a job file can run arbitrary programs: only use job files from
// trusted sources.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/charliek/procio/internal/constants"
	"github.com/charliek/procio/internal/domain"
)

// Output modes for a job's stdout and stderr
const (
	OutputCapture = "capture"
	OutputDiscard = "discard"
)

// Config represents a procio job file
type Config struct {
	EnvFile   string
	ChunkSize int
	// Jobs holds every job by name; Order lists the names as declared
	Jobs  map[string]JobConfig
	Order []string
	// Dir is where the file lives; relative paths resolve against it
	Dir string
}

// JobConfig is one job. Its command can be given as a string (run through
// the shell) or a list (executed directly).
type JobConfig struct {
	Cmd     []string          `yaml:"-"`
	Shell   bool              `yaml:"-"`
	Input   string            `yaml:"input"`
	Env     map[string]string `yaml:"env"`
	EnvFile string            `yaml:"env_file"`
	Dir     string            `yaml:"dir"`
	Stdout  string            `yaml:"stdout"`
	Stderr  string            `yaml:"stderr"`
	Timeout string            `yaml:"timeout"`
}

// rawConfig is used for initial YAML parsing; jobs stay as a node so their
// order and flexible form survive
type rawConfig struct {
	EnvFile   string    `yaml:"env_file"`
	ChunkSize int       `yaml:"chunk_size"`
	Jobs      yaml.Node `yaml:"jobs"`
}

// Load reads and parses a job file
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("checking config file: %w", err)
	}

	if err := CheckFilePermissions(path); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if abs, err := filepath.Abs(filepath.Dir(path)); err == nil {
		cfg.Dir = abs
	}
	return cfg, nil
}

// Parse parses a job file from YAML bytes
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parsing yaml: %v", domain.ErrInvalidConfig, err)
	}

	config := &Config{
		EnvFile:   raw.EnvFile,
		ChunkSize: raw.ChunkSize,
		Jobs:      make(map[string]JobConfig),
	}
	if config.ChunkSize == 0 {
		config.ChunkSize = constants.DefaultReadChunkSize
	}

	if raw.Jobs.Kind != 0 && raw.Jobs.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: jobs: must be a mapping", domain.ErrInvalidConfig)
	}
	for i := 0; i+1 < len(raw.Jobs.Content); i += 2 {
		name := raw.Jobs.Content[i].Value
		job, err := parseJobConfig(raw.Jobs.Content[i+1])
		if err != nil {
			return nil, fmt.Errorf("%w: job %q: %v", domain.ErrInvalidConfig, name, err)
		}
		if _, dup := config.Jobs[name]; dup {
			return nil, fmt.Errorf("%w: job %q defined twice", domain.ErrInvalidConfig, name)
		}
		config.Jobs[name] = job
		config.Order = append(config.Order, name)
	}

	if err := Validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

// parseJobConfig handles both simple and expanded job definitions
func parseJobConfig(node *yaml.Node) (JobConfig, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		// Simple form: build: make all
		return JobConfig{Cmd: []string{node.Value}, Shell: true}, nil
	case yaml.MappingNode:
		var job JobConfig
		if err := node.Decode(&job); err != nil {
			return JobConfig{}, err
		}
		for i := 0; i+1 < len(node.Content); i += 2 {
			if node.Content[i].Value != "cmd" {
				continue
			}
			cmd, shell, err := parseCmd(node.Content[i+1])
			if err != nil {
				return JobConfig{}, err
			}
			job.Cmd, job.Shell = cmd, shell
		}
		return job, nil
	default:
		return JobConfig{}, fmt.Errorf("invalid job configuration: expected a command or a mapping")
	}
}

func parseCmd(node *yaml.Node) ([]string, bool, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Value == "" {
			return nil, false, nil
		}
		return []string{node.Value}, true, nil
	case yaml.SequenceNode:
		var args []string
		if err := node.Decode(&args); err != nil {
			return nil, false, fmt.Errorf("cmd: %w", err)
		}
		return args, false, nil
	default:
		return nil, false, fmt.Errorf("cmd: expected a string or a list")
	}
}

// Argv returns the argument vector that runs the job
func (j JobConfig) Argv() []string {
	if j.Shell {
		return []string{"/bin/sh", "-c", j.Cmd[0]}
	}
	return j.Cmd
}

// CaptureStdout reports whether stdout is recorded
func (j JobConfig) CaptureStdout() bool {
	return j.Stdout != OutputDiscard
}

// CaptureStderr reports whether stderr is recorded
func (j JobConfig) CaptureStderr() bool {
	return j.Stderr != OutputDiscard
}

// TimeoutDuration returns the job's timeout, or 0 for none
func (j JobConfig) TimeoutDuration() time.Duration {
	if j.Timeout == "" {
		return 0
	}
	d, _ := time.ParseDuration(j.Timeout)
	return d
}

// Job returns the named job
func (c *Config) Job(name string) (JobConfig, error) {
	job, ok := c.Jobs[name]
	if !ok {
		return JobConfig{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, name)
	}
	return job, nil
}

// JobDir resolves the job's working directory against the config directory
func (c *Config) JobDir(job JobConfig) string {
	if job.Dir == "" {
		return c.Dir
	}
	return resolvePath(job.Dir, c.Dir)
}

// JobEnv builds the job's complete environment: the current process
// environment overlaid by the global env file, the job's env file and the
// job's inline variables, in that order.
func (c *Config) JobEnv(job JobConfig) ([]string, error) {
	overrides, err := LoadJobEnv(c.EnvFile, job.EnvFile, job.Env, c.Dir)
	if err != nil {
		return nil, err
	}
	return EnvList(os.Environ(), overrides), nil
}
