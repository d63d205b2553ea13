package cli

import (
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/charliek/procio/internal/constants"
	"github.com/charliek/procio/internal/domain"
)

// Result colors
var (
	okColor         = lipgloss.Color("10") // Green
	failedColor     = lipgloss.Color("9")  // Red
	notStartedColor = lipgloss.Color("11") // Yellow
	dimColor        = lipgloss.Color("8")
)

// styles are bound to one writer, so color is dropped when that writer is
// not a terminal.
type styles struct {
	jobs       []lipgloss.Style
	stdout     lipgloss.Style
	stderr     lipgloss.Style
	ok         lipgloss.Style
	failed     lipgloss.Style
	notStarted lipgloss.Style
	dim        lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	s := styles{
		stdout: r.NewStyle().Foreground(lipgloss.Color(constants.StdoutColor)),
		stderr: r.NewStyle().Foreground(lipgloss.Color(constants.StderrColor)),
		ok: r.NewStyle().
			Foreground(okColor).
			Bold(true),
		failed: r.NewStyle().
			Foreground(failedColor).
			Bold(true),
		notStarted: r.NewStyle().Foreground(notStartedColor),
		dim:        r.NewStyle().Foreground(dimColor),
	}
	for _, c := range constants.JobColors {
		s.jobs = append(s.jobs, r.NewStyle().Foreground(lipgloss.Color(c)))
	}
	return s
}

// stream returns the prefix style of s
func (s styles) stream(st domain.Stream) lipgloss.Style {
	if st == domain.StreamStderr {
		return s.stderr
	}
	return s.stdout
}

// status renders the one-word outcome of a job
func (s styles) status(r domain.RunResult, timedOut bool) string {
	switch {
	case !r.Launched():
		return s.notStarted.Render("not started")
	case timedOut:
		return s.failed.Render("timed out")
	case r.Success():
		return s.ok.Render("ok")
	default:
		return s.failed.Render("failed")
	}
}
