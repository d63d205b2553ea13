package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/charliek/procio/internal/domain"
)

// Printer handles consistent output formatting and color assignment. It is
// safe for concurrent use.
type Printer struct {
	mu         sync.Mutex
	out        io.Writer
	styles     styles
	jobs       map[string]lipgloss.Style
	colorIndex int
	width      int
}

// NewPrinter creates a Printer writing to out. width pads job names so
// lines of different jobs line up.
func NewPrinter(out io.Writer, width int) *Printer {
	return &Printer{
		out:    out,
		styles: newStyles(out),
		jobs:   make(map[string]lipgloss.Style),
		width:  width,
	}
}

// PrintEntry prints a line as "job | line"; stderr lines use "!" instead
// of the bar.
func (p *Printer) PrintEntry(entry domain.LogEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()

	name := p.jobStyle(entry.Job).Render(fmt.Sprintf("%-*s", p.width, entry.Job))
	sep := p.styles.dim.Render("|")
	if entry.Stream == domain.StreamStderr {
		sep = p.styles.stderr.Render("!")
	}
	fmt.Fprintf(p.out, "%s %s %s\n", name, sep, entry.Line)
}

// PrintStream prints a line of a single command as "stream | line"
func (p *Printer) PrintStream(entry domain.LogEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prefix := p.styles.stream(entry.Stream).Render(fmt.Sprintf("%-6s", entry.Stream))
	fmt.Fprintf(p.out, "%s %s %s\n", prefix, p.styles.dim.Render("|"), entry.Line)
}

func (p *Printer) jobStyle(job string) lipgloss.Style {
	style, ok := p.jobs[job]
	if !ok {
		style = p.styles.jobs[p.colorIndex%len(p.styles.jobs)]
		p.jobs[job] = style
		p.colorIndex++
	}
	return style
}
