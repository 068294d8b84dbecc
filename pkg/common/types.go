// Package common provides shared types used across xbenv.
// It includes package and path aliases, sandbox launch descriptions and the
// execution results passed from command handlers back to main.
package common

// HostPath represents a path on the host filesystem.
type HostPath = string

// PkgRef represents a bare package name as known to the host package
// database (e.g. "coreutils", never "coreutils-9.4_1").
type PkgRef = string

// ExecutionResult represents the outcome of an xbenv operation.
type ExecutionResult struct {
	// ExitCode is the status code main should exit with. For `run` this is
	// the sandboxed command's own status, passed through unmodified.
	ExitCode int

	// Output is rendered to the display before exiting, if set.
	Output *Output
}

// SandboxConfig holds the metadata for wrapping a command in a sandbox.
type SandboxConfig struct {
	// Exe is the path to the executable to run within the sandbox.
	Exe string
	// Args contains the command-line arguments for the sandboxed process.
	Args []string
	// Hostname is the UTS name visible inside the sandbox.
	Hostname string

	// Binds defines the filesystem bindings for the sandbox.
	Binds []SandboxBind
	// Flags are extra arguments for the sandbox engine (e.g. --unshare-all).
	Flags []string
}

// SandboxBind represents a filesystem mount or virtual filesystem in the sandbox.
type SandboxBind struct {
	Source string
	Target string
	Type   string // e.g., "--bind", "--dev-bind", "--proc"
}

// KV is a single key/value line of output.
type KV struct {
	Key   string
	Value string
}

// Table is a simple header + rows table.
type Table struct {
	Header []string
	Rows   [][]string
}

// Output is structured primary output of a command.
type Output struct {
	Message string
	KV      []KV
	Table   *Table
}
