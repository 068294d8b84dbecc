// Package env drives one sandbox root through its whole life: allocation,
// closure resolution, materialization, a sandboxed run and teardown.
package env

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"xbenv/pkg/bubblewrap"
	"xbenv/pkg/common"
	"xbenv/pkg/rootfs"

	"github.com/dustin/go-humanize"
)

// State is the position of an Environment in its lifecycle. Transitions are
// linear: Created -> Built -> Running -> Destroyed. Failed replaces Built
// when resolution or materialization fails; the root can then only be
// destroyed.
type State int

const (
	Created State = iota
	Built
	Running
	Destroyed
	Failed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Built:
		return "built"
	case Running:
		return "running"
	case Destroyed:
		return "destroyed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrInvalidState is returned when an operation is invoked in a state that
// does not allow it.
var ErrInvalidState = errors.New("invalid environment state")

// Environment is one sandbox root exclusively owned by this process.
type Environment struct {
	m      *Manager
	root   string
	unlock func() error

	mu      sync.Mutex
	state   State
	closure []common.PkgRef
	stats   *rootfs.Stats
}

// Root returns the root directory.
func (e *Environment) Root() string { return e.root }

// State returns the current lifecycle state.
func (e *Environment) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Closure returns the resolved closure once the environment is built.
func (e *Environment) Closure() []common.PkgRef {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closure
}

// Stats returns the materialization summary once the environment is built.
func (e *Environment) Stats() *rootfs.Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// transition moves from one of from to to, or fails with ErrInvalidState.
func (e *Environment) transition(to State, from ...State) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range from {
		if e.state == s {
			e.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: cannot go from %s to %s", ErrInvalidState, e.state, to)
}

func (e *Environment) expect(s State) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != s {
		return fmt.Errorf("%w: %s, want %s", ErrInvalidState, e.state, s)
	}
	return nil
}

func (e *Environment) set(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Build resolves requested plus base and materializes the closure into the
// root. Any failure leaves the environment Failed.
func (e *Environment) Build(ctx context.Context, requested, base []common.PkgRef) error {
	if err := e.expect(Created); err != nil {
		return err
	}

	e.m.disp.Log("Resolving closure")
	closure, err := e.m.resolver.Resolve(ctx, requested, base)
	if err != nil {
		e.set(Failed)
		return err
	}

	e.m.disp.Log(fmt.Sprintf("Materializing %d packages into %s", len(closure), e.root))
	stats, err := e.m.builder.Build(ctx, e.root, closure)
	if err != nil {
		e.set(Failed)
		return err
	}

	e.mu.Lock()
	e.closure = closure
	e.stats = stats
	e.state = Built
	e.mu.Unlock()

	e.m.disp.Log(fmt.Sprintf("Built %s: %s packages, %s files, %s directories",
		e.root, humanize.Comma(int64(stats.Packages)), humanize.Comma(int64(stats.Files)), humanize.Comma(int64(stats.Dirs))))
	return nil
}

// Run executes command inside the sandbox and blocks until it exits. An
// empty command starts the configured shell. The returned code is the
// command's own exit status; err reports a failure to launch it.
func (e *Environment) Run(ctx context.Context, command []string) (int, error) {
	cfg := e.m.cfg
	sc, err := bubblewrap.ResolveLaunch(bubblewrap.LaunchOptions{
		Root:     e.root,
		Hostname: cfg.GetHostname(),
		Binds:    cfg.GetBinds(),
		Command:  command,
		Shell:    cfg.GetShell(),
	})
	if err != nil {
		return 0, err
	}

	if err := e.transition(Running, Built); err != nil {
		return 0, err
	}
	code, err := e.m.launcher.Run(ctx, sc)
	if err != nil {
		return 0, err
	}
	e.m.disp.Debug(fmt.Sprintf("command exited with status %d", code))
	return code, nil
}

// Destroy removes the root and everything below it, then releases the lock.
// It can only succeed once: on a destroyed environment it fails because the
// root no longer exists.
func (e *Environment) Destroy() error {
	e.mu.Lock()
	if e.state == Destroyed {
		e.mu.Unlock()
		return &os.PathError{Op: "destroy", Path: e.root, Err: os.ErrNotExist}
	}
	e.state = Destroyed
	e.mu.Unlock()

	e.m.disp.Log("Removing " + e.root)
	var errs []error
	if _, err := os.Lstat(e.root); err != nil {
		errs = append(errs, err)
	} else if err := os.RemoveAll(e.root); err != nil {
		errs = append(errs, fmt.Errorf("failed to remove %s: %w", e.root, err))
	}
	if err := e.unlock(); err != nil {
		errs = append(errs, fmt.Errorf("failed to release lock of %s: %w", e.root, err))
	}
	return errors.Join(errs...)
}
