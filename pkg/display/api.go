package display

import (
	"fmt"

	"xbenv/pkg/common"
)

// Verbosity selects how much a Display prints. It is a value threaded through
// constructors; there is no package-level verbosity.
type Verbosity int

const (
	// Quiet prints only primary output and errors.
	Quiet Verbosity = iota
	// Normal adds stage messages and task progress.
	Normal
	// Verbose adds the resolved closure, argv and per-task details.
	Verbose
	// Trace adds one line per materialized file and per external query.
	Trace
)

func (v Verbosity) String() string {
	switch v {
	case Quiet:
		return "quiet"
	case Normal:
		return "normal"
	case Verbose:
		return "verbose"
	case Trace:
		return "trace"
	default:
		return fmt.Sprintf("verbosity(%d)", int(v))
	}
}

// FromFlags maps -q and a count of -v flags to a Verbosity. Quiet wins.
func FromFlags(quiet bool, verbose int) Verbosity {
	if quiet {
		return Quiet
	}
	v := Normal + Verbosity(verbose)
	if v > Trace {
		v = Trace
	}
	return v
}

// Task represents a unit of work that can be monitored.
type Task interface {
	// Log adds a detail message associated with this task (shown at Verbose).
	Log(msg string)
	// SetStage updates the current stage of the task (e.g. "Manifest", "Link")
	// and the target being worked on.
	SetStage(name string, target string)
	// Progress updates the completion percentage (0-100) and status message.
	Progress(percent int, message string)
	// Done marks the task as completed and removes it from the display.
	// It is the responsibility of the caller who created the task via StartTask.
	Done()
}

// Display handles the visualization of tasks and logs.
type Display interface {
	// StartTask creates and returns a new tracked Task.
	StartTask(name string) Task
	// Log prints a stage message (Normal and above).
	Log(msg string)
	// Debug prints a detail message (Verbose and above).
	Debug(msg string)
	// Trace prints a per-item message (Trace only).
	Trace(msg string)
	// Error prints a message at every verbosity, including Quiet.
	Error(msg string)
	// Print adds a primary output message (e.g. table, info) to the display.
	Print(msg string)
	// RenderOutput prints structured primary output.
	RenderOutput(out *common.Output)
	// Verbosity returns the level the display was created with.
	Verbosity() Verbosity
	// Close cleans up any resources and ensures final output is rendered.
	Close()
}
