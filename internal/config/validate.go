package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/charliek/procio/internal/constants"
	"github.com/charliek/procio/internal/domain"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors, reporting all of them at once
func Validate(config *Config) error {
	var errs []string

	if config.ChunkSize < constants.MinReadChunkSize || config.ChunkSize > constants.MaxReadChunkSize {
		errs = append(errs, fmt.Sprintf("chunk_size: must be between %d and %d, got %d",
			constants.MinReadChunkSize, constants.MaxReadChunkSize, config.ChunkSize))
	}

	if len(config.Jobs) == 0 {
		errs = append(errs, "jobs: at least one job must be defined")
	}

	for _, name := range config.Order {
		job := config.Jobs[name]
		if err := ValidateJobName(name); err != nil {
			errs = append(errs, fmt.Sprintf("jobs.%s: %v", name, err))
		}
		if len(job.Cmd) == 0 || job.Cmd[0] == "" {
			errs = append(errs, fmt.Sprintf("jobs.%s.cmd: command is required", name))
		}
		for field, mode := range map[string]string{"stdout": job.Stdout, "stderr": job.Stderr} {
			if mode != "" && mode != OutputCapture && mode != OutputDiscard {
				errs = append(errs, fmt.Sprintf("jobs.%s.%s: must be %q or %q, got %q", name, field, OutputCapture, OutputDiscard, mode))
			}
		}
		if job.Timeout != "" {
			if d, err := time.ParseDuration(job.Timeout); err != nil || d < 0 {
				errs = append(errs, fmt.Sprintf("jobs.%s.timeout: invalid duration %q", name, job.Timeout))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

// ValidateJobName checks if a job name is valid
func ValidateJobName(name string) error {
	if name == "" {
		return &ValidationError{Field: "name", Message: "job name cannot be empty"}
	}
	if strings.ContainsAny(name, " \t\n/\\") {
		return &ValidationError{Field: "name", Message: "job name cannot contain whitespace or path separators"}
	}
	return nil
}
