package domain

import (
	"errors"
	"fmt"
)

// ErrConfig is the parent of every misuse error: reusing a busy supervisor,
// registering a reactor source twice or touching a reactor after shutdown.
var ErrConfig = errors.New("configuration error")

// Domain errors
var (
	ErrAlreadyRunning   = fmt.Errorf("%w: run while running", ErrConfig)
	ErrDuplicateSource  = fmt.Errorf("%w: source already registered", ErrConfig)
	ErrReactorClosed    = fmt.Errorf("%w: reactor shut down", ErrConfig)
	ErrSupervisorClosed = errors.New("supervisor closed")
	ErrNotRunning       = errors.New("process not running")
	ErrSpawn            = errors.New("spawn failed")
	ErrStreamClosed     = errors.New("stream closed")
	ErrConfigNotFound   = errors.New("config file not found")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrJobNotFound      = errors.New("job not found")
	ErrInvalidPattern   = errors.New("invalid filter pattern")
)

// Error codes for machine readable output
const (
	ErrCodeAlreadyRunning   = "ALREADY_RUNNING"
	ErrCodeDuplicateSource  = "DUPLICATE_SOURCE"
	ErrCodeReactorClosed    = "REACTOR_CLOSED"
	ErrCodeConfig           = "CONFIG_ERROR"
	ErrCodeSupervisorClosed = "SUPERVISOR_CLOSED"
	ErrCodeNotRunning       = "NOT_RUNNING"
	ErrCodeSpawn            = "SPAWN_FAILED"
	ErrCodeStreamClosed     = "STREAM_CLOSED"
	ErrCodeInvalidConfig    = "INVALID_CONFIG"
	ErrCodeJobNotFound      = "JOB_NOT_FOUND"
	ErrCodeInvalidPattern   = "INVALID_PATTERN"
	ErrCodeConfigNotFound   = "CONFIG_NOT_FOUND"
)

// SpawnError describes a program that could not be started. It only ever
// travels inside a RunResult handed to the termination callback.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrSpawn, e.Path, e.Err)
}

func (e *SpawnError) Unwrap() []error {
	return []error{ErrSpawn, e.Err}
}

// ErrorCode returns the stable error code for a domain error
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAlreadyRunning):
		return ErrCodeAlreadyRunning
	case errors.Is(err, ErrDuplicateSource):
		return ErrCodeDuplicateSource
	case errors.Is(err, ErrReactorClosed):
		return ErrCodeReactorClosed
	case errors.Is(err, ErrConfig):
		return ErrCodeConfig
	case errors.Is(err, ErrSupervisorClosed):
		return ErrCodeSupervisorClosed
	case errors.Is(err, ErrNotRunning):
		return ErrCodeNotRunning
	case errors.Is(err, ErrSpawn):
		return ErrCodeSpawn
	case errors.Is(err, ErrStreamClosed):
		return ErrCodeStreamClosed
	case errors.Is(err, ErrInvalidConfig):
		return ErrCodeInvalidConfig
	case errors.Is(err, ErrJobNotFound):
		return ErrCodeJobNotFound
	case errors.Is(err, ErrInvalidPattern):
		return ErrCodeInvalidPattern
	case errors.Is(err, ErrConfigNotFound):
		return ErrCodeConfigNotFound
	default:
		return "INTERNAL_ERROR"
	}
}
