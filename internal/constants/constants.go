// Package constants provides shared configuration values used across procio.
package constants

import "time"

// Configuration file defaults
const (
	// DefaultConfigFile is the default job file name
	DefaultConfigFile = "procio.yaml"
)

// Buffer sizes
const (
	// DefaultReadChunkSize is the largest chunk read from a child's output per readiness event
	DefaultReadChunkSize = 64 * 1024 // 64KB

	// MinReadChunkSize is the smallest accepted read chunk size
	MinReadChunkSize = 512

	// MaxReadChunkSize is the largest accepted read chunk size
	MaxReadChunkSize = 16 * 1024 * 1024 // 16MB

	// DefaultWriteChunkSize bounds a single stdin write issued by the executor
	DefaultWriteChunkSize = 64 * 1024 // 64KB

	// DefaultMaxEvents is the epoll event batch size per reactor pass
	DefaultMaxEvents = 64

	// MaxDrainReads bounds how many reads are attempted when draining a
	// stream after its child has exited
	MaxDrainReads = 256

	// DefaultTailLines is the number of output lines kept per job by batch
	DefaultTailLines = 20
)

// Timeouts
const (
	// WritableRetryInterval bounds each wait for stdin to become writable
	// before the executor retries the write anyway
	WritableRetryInterval = 50 * time.Millisecond
)

// Terminal styling for stream prefixes, as lipgloss ANSI color indexes
var (
	// JobColors are the colors used for job names in terminal output
	JobColors = []string{"6", "3", "2", "5", "4", "1"}

	// StderrColor is used for stderr prefixes
	StderrColor = "9"

	// StdoutColor is used for stdout prefixes
	StdoutColor = "8"
)

// Shutdown
const (
	// DefaultStopGrace is how long an interrupted command gets between
	// SIGTERM and SIGKILL
	DefaultStopGrace = 10 * time.Second
)
