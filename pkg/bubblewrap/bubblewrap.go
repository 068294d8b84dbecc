// Package bubblewrap provides a wrapper around the Linux bubblewrap (bwrap) utility.
package bubblewrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"xbenv/pkg/common"
	"xbenv/pkg/display"
)

// BindType represents the type of bind mount to perform.
type BindType = string

const (
	BIND     BindType = "--bind"
	BIND_DEV BindType = "--dev-bind"
)

type bindPair struct {
	sandboxTarget string
	hostSource    string
	bindType      BindType
}

// Bubblewrap represents a pending sandbox execution configuration.
//
// Mounts are emitted in the order they were first added. Adding a mount for
// a target that already has one replaces it in place.
type Bubblewrap struct {
	binds      map[string]bindPair
	order      []string
	flags      []string
	hostname   string
	executable string
	cmdline    []string
}

// Create initializes an empty Bubblewrap configuration.
func Create() *Bubblewrap {
	return &Bubblewrap{
		binds: make(map[string]bindPair),
	}
}

func (b *Bubblewrap) put(p bindPair) {
	if _, ok := b.binds[p.sandboxTarget]; !ok {
		b.order = append(b.order, p.sandboxTarget)
	}
	b.binds[p.sandboxTarget] = p
}

// AddBind mounts host path at the same path inside the sandbox.
func (b *Bubblewrap) AddBind(typ BindType, path string) {
	b.put(bindPair{path, path, typ})
}

// AddMapBind mounts hostpath at sandboxpath.
func (b *Bubblewrap) AddMapBind(typ BindType, hostpath string, sandboxpath string) {
	b.put(bindPair{sandboxpath, hostpath, typ})
}

func (b *Bubblewrap) AddFlag(flag string) {
	b.flags = append(b.flags, flag)
}

func (b *Bubblewrap) SetHostname(hostname string) {
	b.hostname = hostname
}

func (b *Bubblewrap) SetCommand(executable string, cmdline ...string) {
	b.executable = executable
	b.cmdline = cmdline
}

// bindSlice returns the mounts in emission order.
func (b *Bubblewrap) bindSlice() []common.SandboxBind {
	res := make([]common.SandboxBind, 0, len(b.order))
	for _, key := range b.order {
		bind := b.binds[key]
		res = append(res, common.SandboxBind{
			Source: bind.hostSource,
			Target: bind.sandboxTarget,
			Type:   bind.bindType,
		})
	}
	return res
}

// Config snapshots the builder into a SandboxConfig.
func (b *Bubblewrap) Config() *common.SandboxConfig {
	return &common.SandboxConfig{
		Exe:      b.executable,
		Args:     b.cmdline,
		Hostname: b.hostname,
		Binds:    b.bindSlice(),
		Flags:    append([]string(nil), b.flags...),
	}
}

// SandboxArgs renders s as a bwrap argument vector.
func SandboxArgs(s *common.SandboxConfig) []string {
	var args []string
	if s == nil {
		return args
	}
	args = append(args, s.Flags...)
	if s.Hostname != "" {
		args = append(args, "--hostname", s.Hostname)
	}
	for _, bind := range s.Binds {
		args = append(args, bind.Type, bind.Source, bind.Target)
	}
	if s.Exe != "" {
		args = append(args, "--", s.Exe)
		args = append(args, s.Args...)
	}
	return args
}

// LaunchOptions describes one sandboxed command.
type LaunchOptions struct {
	// Root is the materialized root mounted at / inside the sandbox.
	Root string
	// Hostname is the UTS hostname seen inside the sandbox.
	Hostname string
	// Binds are extra host paths mounted read-write at the same path.
	Binds []string
	// Command is the program and its arguments. Empty means Shell.
	Command []string
	// Shell is the interactive fallback command, "/bin/sh" if empty.
	Shell string
}

// ResolveLaunch turns opts into a SandboxConfig. The sandbox unshares every
// namespace, dies with its parent, and sees Root as /, the host /dev and the
// host /proc.
func ResolveLaunch(opts LaunchOptions) (*common.SandboxConfig, error) {
	if !filepath.IsAbs(opts.Root) {
		return nil, fmt.Errorf("sandbox root must be an absolute path, got %q", opts.Root)
	}
	if opts.Hostname == "" {
		return nil, errors.New("sandbox hostname must not be empty")
	}

	b := Create()
	b.AddFlag("--unshare-all")
	b.AddFlag("--die-with-parent")
	b.SetHostname(opts.Hostname)

	b.AddMapBind(BIND, opts.Root, "/")
	b.AddBind(BIND_DEV, "/dev")
	b.AddBind(BIND, "/proc")

	for _, p := range opts.Binds {
		if !filepath.IsAbs(p) {
			return nil, fmt.Errorf("bind path must be absolute, got %q", p)
		}
		b.AddBind(BIND, filepath.Clean(p))
	}

	if len(opts.Command) > 0 {
		b.SetCommand(opts.Command[0], opts.Command[1:]...)
	} else {
		shell := opts.Shell
		if shell == "" {
			shell = "/bin/sh"
		}
		b.SetCommand(shell)
	}
	return b.Config(), nil
}

// ErrSetup reports that bwrap exited before starting the sandboxed command,
// for example because namespaces could not be created.
var ErrSetup = errors.New("sandbox setup failed")

// statusFd is where bwrap writes its JSON status: the first ExtraFiles entry.
const statusFd = "3"

// Launcher runs sandbox configurations with bwrap.
type Launcher struct {
	path string
	disp display.Display

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// NewLauncher creates a Launcher for the bwrap binary at path, attached to
// the process's standard streams.
func NewLauncher(path string, disp display.Display) *Launcher {
	return &Launcher{
		path:   path,
		disp:   disp,
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// DefaultLauncher locates bwrap on the host and checks that it can create
// sandboxes before returning a Launcher for it.
func DefaultLauncher(disp display.Display) (*Launcher, error) {
	caps := DetectCapabilities()
	if !caps.BwrapAvailable {
		return nil, ErrNotFound
	}
	if !caps.CanRunSandbox() {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, caps.SkipReason())
	}
	return NewLauncher(caps.BwrapPath, disp), nil
}

// Path returns the bwrap binary used by the launcher.
func (l *Launcher) Path() string { return l.path }

// Run executes cfg and blocks until the sandboxed command exits. The returned
// code is the command's own exit status; a command killed by a signal
// reports 128+signal as a shell would. err is set when bwrap could not be
// started, when it gave up before starting the command (ErrSetup), or when
// ctx ended the run.
//
// Terminal signals (SIGINT, SIGQUIT) reach the sandboxed command through the
// process group and are ignored here for the duration of the run, so the
// caller survives to tear the root down. Cancelling ctx sends SIGTERM.
func (l *Launcher) Run(ctx context.Context, cfg *common.SandboxConfig) (int, error) {
	statusR, statusW, err := os.Pipe()
	if err != nil {
		return 0, err
	}
	defer statusR.Close()

	args := append([]string{"--json-status-fd", statusFd}, SandboxArgs(cfg)...)
	cmd := exec.CommandContext(ctx, l.path, args...)
	cmd.Stdin = l.Stdin
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr
	cmd.ExtraFiles = []*os.File{statusW}
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = 5 * time.Second

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGQUIT)
	defer signal.Stop(sigs)

	if l.disp != nil {
		l.disp.Debug(fmt.Sprintf("exec %s %s", l.path, strings.Join(args, " ")))
	}

	err = cmd.Start()
	statusW.Close()
	if err != nil {
		return 0, fmt.Errorf("failed to start %s: %w", l.path, err)
	}
	started := make(chan bool, 1)
	go readStatus(statusR, started)

	err = cmd.Wait()
	childStarted := <-started

	if err == nil && childStarted {
		return 0, nil
	}
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return 0, err
	}
	if !childStarted {
		return 0, fmt.Errorf("%w: %s exited with status %d before running the command", ErrSetup, l.path, waitStatus(exitErr))
	}
	return waitStatus(exitErr), nil
}

// waitStatus returns the exit status of a finished process, 128+signal for
// one killed by a signal.
func waitStatus(exitErr *exec.ExitError) int {
	if exitErr == nil {
		return 0
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return exitErr.ExitCode()
}

// readStatus consumes bwrap's JSON status stream. It sends true on started
// as soon as bwrap reports the command's pid, or false if the stream ends
// without one.
func readStatus(r io.Reader, started chan<- bool) {
	sent := false
	dec := json.NewDecoder(r)
	for {
		var msg map[string]any
		if err := dec.Decode(&msg); err != nil {
			break
		}
		if _, ok := msg["child-pid"]; ok && !sent {
			started <- true
			sent = true
		}
	}
	if !sent {
		started <- false
	}
	// Drain so bwrap never blocks on a full pipe.
	io.Copy(io.Discard, r)
}
