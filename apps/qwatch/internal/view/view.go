// Package view prints run progress to a terminal as stage transitions.
package view

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/quatton/qwatch/pkg/qstage"
	"github.com/quatton/qwatch/pkg/qtrack"
)

// Printer is a qtrack.Observer that writes one line per stage transition.
type Printer struct {
	out     io.Writer
	catalog *qstage.Catalog

	mu     sync.Mutex
	runID  string
	last   qstage.States
	status string

	running, done, failed, faint, bold *color.Color
}

// New returns a Printer writing to out. Colors are used only when out is a
// terminal.
func New(out io.Writer, c *qstage.Catalog) *Printer {
	p := &Printer{
		out:     out,
		catalog: c,
		running: color.New(color.FgCyan),
		done:    color.New(color.FgGreen),
		failed:  color.New(color.FgRed, color.Bold),
		faint:   color.New(color.Faint),
		bold:    color.New(color.Bold),
	}
	p.SetColor(isTerminal(out))
	return p
}

// SetColor forces colored output on or off.
func (p *Printer) SetColor(on bool) {
	for _, c := range []*color.Color{p.running, p.done, p.failed, p.faint, p.bold} {
		if on {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Observe implements qtrack.Observer.
func (p *Printer) Observe(u qtrack.Update) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if u.RunID != p.runID {
		p.runID = u.RunID
		p.last = nil
		p.status = ""
		fmt.Fprintf(p.out, "%s %s\n", p.bold.Sprint("Tracking run"), u.RunID)
	}

	total := p.catalog.Len()
	for _, ss := range qstage.Ordered(u.States, p.catalog) {
		prev, ok := p.last[ss.Stage.Key]
		if !ok {
			prev = qstage.Pending
		}
		if prev == ss.State {
			continue
		}
		step := fmt.Sprintf("[%d/%d]", ss.Stage.Index+1, total)
		fmt.Fprintf(p.out, "%s %s %s\n", p.faint.Sprint(step), p.mark(ss.State), ss.Stage.Label)
	}
	p.last = u.States

	if u.Run != nil && string(u.Run.Status) != p.status {
		p.status = string(u.Run.Status)
		if u.Terminal {
			fmt.Fprintf(p.out, "%s %s\n", p.bold.Sprint("Finished"), p.statusColor(p.status))
		}
	}
	if u.TransportErr != nil {
		fmt.Fprintf(p.out, "%s %v\n", p.failed.Sprint("✗ lost contact with the service:"), u.TransportErr)
	}
}

func (p *Printer) mark(st qstage.State) string {
	switch st {
	case qstage.Running:
		return p.running.Sprint("▶ running  ")
	case qstage.Completed:
		return p.done.Sprint("✓ completed")
	case qstage.Failed:
		return p.failed.Sprint("✗ failed   ")
	default:
		return p.faint.Sprint("· pending  ")
	}
}

func (p *Printer) statusColor(status string) string {
	if status == "COMPLETED" {
		return p.done.Sprint(status)
	}
	return p.failed.Sprint(status)
}
