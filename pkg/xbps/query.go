package xbps

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// QueryTool is the XBPS query executable.
const QueryTool = "xbps-query"

// ErrorKind classifies a failed query.
type ErrorKind int

const (
	// KindMissingTool means the query executable is not available on the host.
	KindMissingTool ErrorKind = iota
	// KindDiagnostics means the query wrote to its error stream.
	KindDiagnostics
	// KindExec means the query could not be run or exited non-zero.
	KindExec
)

func (k ErrorKind) String() string {
	switch k {
	case KindMissingTool:
		return "missing tool"
	case KindDiagnostics:
		return "diagnostics"
	case KindExec:
		return "exec"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// QueryError is the failure half of every query: a query either returns its
// parsed data or a QueryError, never partially parsed output.
type QueryError struct {
	Kind    ErrorKind
	Args    []string
	Message string
}

func (e *QueryError) Error() string {
	if len(e.Args) == 0 {
		return fmt.Sprintf("%s: %s", QueryTool, e.Message)
	}
	return fmt.Sprintf("%s %s: %s: %s", QueryTool, strings.Join(e.Args, " "), e.Kind, e.Message)
}

// Runner executes the query tool with args and returns its stdout and stderr.
// err is reserved for failures to run the tool or a non-zero exit.
type Runner interface {
	Run(ctx context.Context, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct {
	path string
}

// NewExecRunner returns a Runner that executes the query tool found in $PATH.
func NewExecRunner() (Runner, error) {
	path, err := exec.LookPath(QueryTool)
	if err != nil {
		return nil, &QueryError{
			Kind:    KindMissingTool,
			Message: fmt.Sprintf("%s not found in $PATH", QueryTool),
		}
	}
	return &execRunner{path: path}, nil
}

func (r *execRunner) Run(ctx context.Context, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// query runs the tool once and returns its stdout split into non-empty lines.
// Non-empty stderr fails the whole query even when the exit status is zero.
func (x *Index) query(ctx context.Context, args ...string) ([]string, error) {
	x.trace(fmt.Sprintf("%s %s", QueryTool, strings.Join(args, " ")))

	stdout, stderr, err := x.runner.Run(ctx, args...)
	if diag := strings.TrimSpace(string(stderr)); diag != "" {
		return nil, &QueryError{Kind: KindDiagnostics, Args: args, Message: diag}
	}
	if err != nil {
		return nil, &QueryError{Kind: KindExec, Args: args, Message: err.Error()}
	}

	var lines []string
	for _, line := range strings.Split(string(stdout), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}
