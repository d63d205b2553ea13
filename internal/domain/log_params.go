package domain

// LogParams holds the CLI's selection of captured output to show.
//
// Fields:
//   - Jobs: Limit output to these jobs. Empty means all jobs.
//   - Stream: "stdout", "stderr" or empty for both.
//   - Lines: Number of trailing lines per job. 0 means the default.
//   - Pattern: Text pattern for filtering lines. Empty string means no filtering.
//   - Regex: If true, Pattern is treated as a regular expression. If false, Pattern
//     is treated as a literal substring match. Has no effect when Pattern is empty.
type LogParams struct {
	Jobs    []string
	Stream  string
	Lines   int
	Pattern string
	Regex   bool
}

// Filter converts the parameters into a LogFilter.
func (p LogParams) Filter() LogFilter {
	f := LogFilter{Jobs: p.Jobs, Pattern: p.Pattern, IsRegex: p.Regex}
	if p.Stream != "" {
		f.Streams = []Stream{Stream(p.Stream)}
	}
	return f
}

// ForJob narrows the parameters to a single job.
func (p LogParams) ForJob(job string) LogParams {
	p.Jobs = []string{job}
	return p
}
