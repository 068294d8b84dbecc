// Package display implementation for terminal-based output.
package display

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"xbenv/pkg/common"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/term"
)

const clearPrevLine = "\x1b[1A\x1b[2K"

// consoleDisplay writes primary output to out and everything else to log.
// At most one task is active at a time. On a terminal its status line is kept
// as the last line of log and redrawn around other messages; otherwise stage
// changes are printed as plain lines and progress is dropped.
type consoleDisplay struct {
	out  io.Writer
	log  io.Writer
	v    Verbosity
	live bool

	mu     sync.Mutex
	active *consoleTask

	taskStyle lipgloss.Style
	dimStyle  lipgloss.Style
	errStyle  lipgloss.Style
}

// NewStreams creates a Display printing primary output to out and
// diagnostics to log.
func NewStreams(out, log io.Writer, v Verbosity) Display {
	return newConsole(out, log, v)
}

// NewWriterDisplay creates a Display that writes everything to w.
func NewWriterDisplay(w io.Writer, v Verbosity) Display {
	return newConsole(w, w, v)
}

func newConsole(out, log io.Writer, v Verbosity) *consoleDisplay {
	r := lipgloss.NewRenderer(log)
	return &consoleDisplay{
		out:       out,
		log:       log,
		v:         v,
		live:      isTerminal(log),
		taskStyle: r.NewStyle().Foreground(lipgloss.Color("6")).Bold(true),
		dimStyle:  r.NewStyle().Faint(true),
		errStyle:  r.NewStyle().Foreground(lipgloss.Color("1")),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	return ok && term.IsTerminal(f.Fd())
}

func (d *consoleDisplay) Verbosity() Verbosity { return d.v }

func (d *consoleDisplay) StartTask(name string) Task {
	t := &consoleTask{d: d, name: name}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.v >= Normal {
		d.active = t
		fmt.Fprintln(d.log, t.status())
	}
	return t
}

func (d *consoleDisplay) Log(msg string)   { d.logAt(Normal, msg) }
func (d *consoleDisplay) Debug(msg string) { d.logAt(Verbose, d.dimStyle.Render(msg)) }
func (d *consoleDisplay) Trace(msg string) { d.logAt(Trace, d.dimStyle.Render(msg)) }
func (d *consoleDisplay) Error(msg string) { d.logAt(Quiet, d.errStyle.Render(msg)) }

func (d *consoleDisplay) logAt(level Verbosity, msg string) {
	if d.v < level {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.printAboveTask(msg)
}

// printAboveTask must be called with mu held.
func (d *consoleDisplay) printAboveTask(msg string) {
	if d.active == nil || !d.live {
		fmt.Fprintln(d.log, msg)
		return
	}
	fmt.Fprint(d.log, clearPrevLine)
	fmt.Fprintln(d.log, msg)
	fmt.Fprintln(d.log, d.active.status())
}

// Print writes a message directly to the output writer.
func (d *consoleDisplay) Print(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprint(d.out, msg)
}

// RenderOutput displays structured data from an Output struct to the console.
func (d *consoleDisplay) RenderOutput(out *common.Output) {
	if out == nil {
		return
	}

	if out.Message != "" {
		d.Print(fmt.Sprintln(out.Message))
	}

	for _, kv := range out.KV {
		d.Print(fmt.Sprintf("%-12s %s\n", kv.Key+":", kv.Value))
	}

	if out.Table != nil {
		d.renderTable(out.Table)
	}
}

func (d *consoleDisplay) renderTable(t *common.Table) {
	if len(t.Header) == 0 {
		return
	}

	widths := make([]int, len(t.Header))
	for i, h := range t.Header {
		widths[i] = len(h)
	}
	for _, row := range t.Rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var sb strings.Builder
	for i, h := range t.Header {
		fmt.Fprintf(&sb, "%-*s  ", widths[i], h)
	}
	d.Print(strings.TrimRight(sb.String(), " ") + "\n")

	totalWidth := 0
	for _, w := range widths {
		totalWidth += w + 2
	}
	d.Print(strings.Repeat("-", totalWidth-2) + "\n")

	for _, row := range t.Rows {
		sb.Reset()
		for i, cell := range row {
			if i < len(widths) {
				fmt.Fprintf(&sb, "%-*s  ", widths[i], cell)
			}
		}
		d.Print(strings.TrimRight(sb.String(), " ") + "\n")
	}
}

func (d *consoleDisplay) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active = nil
}

type consoleTask struct {
	d       *consoleDisplay
	name    string
	stage   string
	target  string
	percent int
	message string
}

func (t *consoleTask) status() string {
	var sb strings.Builder
	sb.WriteString(t.d.taskStyle.Render("[" + t.name + "]"))
	if t.stage != "" {
		sb.WriteString(" " + t.stage)
	}
	if t.target != "" {
		sb.WriteString(" " + t.target)
	}
	if t.percent > 0 {
		fmt.Fprintf(&sb, " %d%%", t.percent)
	}
	if t.message != "" {
		sb.WriteString(" " + t.message)
	}
	return sb.String()
}

func (t *consoleTask) redraw() {
	if t.d.active != t || !t.d.live {
		return
	}
	fmt.Fprint(t.d.log, clearPrevLine)
	fmt.Fprintln(t.d.log, t.status())
}

func (t *consoleTask) Log(msg string) {
	t.d.logAt(Verbose, msg)
}

func (t *consoleTask) SetStage(name string, target string) {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	t.stage = name
	t.target = target
	if t.d.active == t && !t.d.live {
		fmt.Fprintln(t.d.log, t.status())
		return
	}
	t.redraw()
}

func (t *consoleTask) Progress(percent int, message string) {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	t.percent = percent
	t.message = message
	t.redraw()
}

func (t *consoleTask) Done() {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	if t.d.active != t {
		return
	}
	t.d.active = nil
	if t.d.live {
		fmt.Fprint(t.d.log, clearPrevLine)
	}
	msg := t.d.taskStyle.Render("["+t.name+"]") + " Done"
	if t.message != "" {
		msg += " (" + t.message + ")"
	}
	fmt.Fprintln(t.d.log, msg)
}
