package domain

import (
	"fmt"
	"syscall"
)

// RunState represents where a supervisor is in the life of its current run.
// Runs move Idle -> Spawning -> Running -> Terminated, and a terminated
// supervisor may spawn again.
type RunState string

const (
	// RunStateIdle indicates nothing has been run yet
	RunStateIdle RunState = "idle"
	// RunStateSpawning indicates pipes are being created and the program started
	RunStateSpawning RunState = "spawning"
	// RunStateRunning indicates a live child that has not been reaped
	RunStateRunning RunState = "running"
	// RunStateTerminated indicates the last run produced its result
	RunStateTerminated RunState = "terminated"
)

// String returns the string representation of RunState
func (s RunState) String() string {
	return string(s)
}

// IsActive returns true while a run is in flight
func (s RunState) IsActive() bool {
	return s == RunStateSpawning || s == RunStateRunning
}

// RunResult is the outcome of one completed run.
type RunResult struct {
	// Signaled is true when the child was ended by a signal.
	Signaled bool `json:"signaled"`
	// ReturnCode is the exit status, or the signal number when Signaled.
	// It is -1 when the program never started.
	ReturnCode int `json:"return_code"`
	// Err is set only when the program could not be started.
	Err error `json:"-"`
}

// SpawnFailure builds the synthetic result reported for a program that never started.
func SpawnFailure(path string, err error) RunResult {
	return RunResult{ReturnCode: -1, Err: &SpawnError{Path: path, Err: err}}
}

// ResultFromStatus converts a reaped wait status into a RunResult.
func ResultFromStatus(status syscall.WaitStatus) RunResult {
	if status.Signaled() {
		return RunResult{Signaled: true, ReturnCode: int(status.Signal())}
	}
	return RunResult{ReturnCode: status.ExitStatus()}
}

// Launched reports whether the program was actually started
func (r RunResult) Launched() bool {
	return r.Err == nil
}

// Success returns true for a launched program that exited with code 0
func (r RunResult) Success() bool {
	return r.Launched() && !r.Signaled && r.ReturnCode == 0
}

// ExitCode maps the result to a shell-style exit code: the return code,
// 128+signal for signaled children and 127 when nothing was launched.
func (r RunResult) ExitCode() int {
	switch {
	case !r.Launched():
		return 127
	case r.Signaled:
		return 128 + r.ReturnCode
	default:
		return r.ReturnCode
	}
}

func (r RunResult) String() string {
	switch {
	case !r.Launched():
		return fmt.Sprintf("not started (%v)", r.Err)
	case r.Signaled:
		return fmt.Sprintf("killed by signal %d (%s)", r.ReturnCode, syscall.Signal(r.ReturnCode))
	default:
		return fmt.Sprintf("exited (rc=%d)", r.ReturnCode)
	}
}
