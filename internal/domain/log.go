package domain

import "time"

// Stream identifies one of a child's output streams
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// String returns the string representation of Stream
func (s Stream) String() string {
	return string(s)
}

// LogEntry represents a single line of output from a job
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Job       string    `json:"job"`
	Stream    Stream    `json:"stream"`
	Line      string    `json:"line"`
}

// LogFilter selects log entries by job, stream and line content
type LogFilter struct {
	Jobs    []string // Filter to specific job names
	Streams []Stream // Filter to specific streams
	Pattern string   // Substring or regex to match
	IsRegex bool     // Whether Pattern is a regex
}

// IsEmpty returns true if no filters are set
func (f LogFilter) IsEmpty() bool {
	return len(f.Jobs) == 0 && len(f.Streams) == 0 && f.Pattern == ""
}

// MatchesSource returns true if the entry's job and stream pass the filter.
// Pattern matching needs a compiled filter; see logs.Filter.
func (f LogFilter) MatchesSource(entry LogEntry) bool {
	return f.matchesJob(entry.Job) && f.matchesStream(entry.Stream)
}

func (f LogFilter) matchesJob(name string) bool {
	if len(f.Jobs) == 0 {
		return true
	}
	for _, j := range f.Jobs {
		if j == name {
			return true
		}
	}
	return false
}

func (f LogFilter) matchesStream(s Stream) bool {
	if len(f.Streams) == 0 {
		return true
	}
	for _, st := range f.Streams {
		if st == s {
			return true
		}
	}
	return false
}
