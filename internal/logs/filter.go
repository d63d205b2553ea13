package logs

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/charliek/procio/internal/domain"
)

// MaxPatternLength is the maximum allowed length for filter patterns
const MaxPatternLength = 256

// Filter is a LogFilter with its pattern compiled
type Filter struct {
	filter domain.LogFilter
	regex  *regexp.Regexp
}

// NewFilter validates and compiles a LogFilter
func NewFilter(filter domain.LogFilter) (*Filter, error) {
	if len(filter.Pattern) > MaxPatternLength {
		return nil, fmt.Errorf("%w: pattern exceeds maximum length of %d characters", domain.ErrInvalidPattern, MaxPatternLength)
	}
	for _, s := range filter.Streams {
		if s != domain.StreamStdout && s != domain.StreamStderr {
			return nil, fmt.Errorf("%w: unknown stream %q", domain.ErrInvalidPattern, s)
		}
	}

	f := &Filter{filter: filter}
	if filter.Pattern != "" && filter.IsRegex {
		re, err := regexp.Compile(filter.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPattern, err)
		}
		f.regex = re
	}
	return f, nil
}

// Matches returns true if the entry passes every criterion
func (f *Filter) Matches(entry domain.LogEntry) bool {
	if !f.filter.MatchesSource(entry) {
		return false
	}

	switch {
	case f.filter.Pattern == "":
		return true
	case f.regex != nil:
		return f.regex.MatchString(entry.Line)
	default:
		return strings.Contains(entry.Line, f.filter.Pattern)
	}
}

// FilterEntries returns the entries that pass filter, in order
func FilterEntries(entries []domain.LogEntry, filter domain.LogFilter) ([]domain.LogEntry, error) {
	f, err := NewFilter(filter)
	if err != nil {
		return nil, err
	}
	if filter.IsEmpty() {
		return entries, nil
	}

	result := make([]domain.LogEntry, 0, len(entries))
	for _, entry := range entries {
		if f.Matches(entry) {
			result = append(result, entry)
		}
	}
	return result, nil
}

// FilterEntriesLast filters entries and keeps at most the last n. It also
// returns the number of matches before trimming.
func FilterEntriesLast(entries []domain.LogEntry, filter domain.LogFilter, n int) ([]domain.LogEntry, int, error) {
	filtered, err := FilterEntries(entries, filter)
	if err != nil {
		return nil, 0, err
	}

	total := len(filtered)
	if n > 0 && total > n {
		filtered = filtered[total-n:]
	}
	return filtered, total, nil
}
