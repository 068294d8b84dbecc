// Package cli is the xbenv command line: a cobra command tree whose handlers
// return an ExecutionResult for main to turn into an exit status.
package cli

import (
	"context"
	"io"
	"os"

	"xbenv/pkg/bubblewrap"
	"xbenv/pkg/common"
	"xbenv/pkg/config"
	"xbenv/pkg/display"
	"xbenv/pkg/env"
	"xbenv/pkg/resolver"
	"xbenv/pkg/rootfs"
	"xbenv/pkg/xbps"
)

// ExitSetupFailure is the exit status for failures before or around the
// sandboxed command: bad flags, missing packages or tools, filesystem
// mismatch, a sandbox bwrap could not build. The command's own status is
// passed through unchanged. 125 is what container runtimes reserve for the
// same purpose; ordinary commands do not use it.
const ExitSetupFailure = 125

// Index is the package database as used by the resolver and the builder.
type Index interface {
	resolver.Index
	rootfs.Index
}

// IndexFactory opens the package database of the host root.
type IndexFactory func(cfg config.ReadOnly, disp display.Display, repoMode bool) (Index, error)

// LauncherFactory locates the sandbox launcher.
type LauncherFactory func(disp display.Display) (env.Launcher, error)

func defaultIndex(cfg config.ReadOnly, disp display.Display, repoMode bool) (Index, error) {
	x, err := xbps.New(cfg.GetHostRoot(), xbps.WithDisplay(disp), xbps.WithRepoMode(repoMode))
	if err != nil {
		return nil, err
	}
	return x, nil
}

func defaultLauncher(disp display.Display) (env.Launcher, error) {
	l, err := bubblewrap.DefaultLauncher(disp)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Managers holds what handlers need, built once the global flags are parsed.
type Managers struct {
	Disp   display.Display
	Theme  *Theme
	SysCfg config.ReadOnly

	newIndex    IndexFactory
	newLauncher LauncherFactory
}

// Index opens the host package database.
func (m *Managers) Index(repoMode bool) (Index, error) {
	return m.newIndex(m.SysCfg, m.Disp, repoMode)
}

// Launcher locates the sandbox launcher.
func (m *Managers) Launcher() (env.Launcher, error) {
	return m.newLauncher(m.Disp)
}

// App runs one command line.
type App struct {
	stdout io.Writer
	stderr io.Writer

	newIndex    IndexFactory
	newLauncher LauncherFactory
}

// Option configures an App.
type Option func(*App)

// WithOutput redirects primary output and diagnostics.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(a *App) { a.stdout, a.stderr = stdout, stderr }
}

// WithIndexFactory replaces how the package database is opened.
func WithIndexFactory(f IndexFactory) Option {
	return func(a *App) { a.newIndex = f }
}

// WithLauncherFactory replaces how the sandbox launcher is found.
func WithLauncherFactory(f LauncherFactory) Option {
	return func(a *App) { a.newLauncher = f }
}

// New creates an App writing to the process's standard streams.
func New(opts ...Option) *App {
	a := &App{
		stdout:      os.Stdout,
		stderr:      os.Stderr,
		newIndex:    defaultIndex,
		newLauncher: defaultLauncher,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Execute parses args, runs the selected command and returns its result.
// A non-nil error is a setup failure; the caller should report it and exit
// with ExitSetupFailure.
func (a *App) Execute(ctx context.Context, args []string) (*common.ExecutionResult, error) {
	s := &session{app: a}
	defer func() {
		if s.mgr != nil {
			s.mgr.Disp.Close()
		}
	}()
	root := s.rootCommand()
	root.SetArgs(args)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		return nil, err
	}
	if s.result == nil {
		// Help and usage output.
		return &common.ExecutionResult{ExitCode: 0}, nil
	}
	if s.mgr != nil {
		s.mgr.Disp.RenderOutput(s.result.Output)
	}
	return s.result, nil
}

// ReportError prints a setup failure the way the App prints everything else.
func (a *App) ReportError(err error) {
	t := NewTheme(a.stderr)
	io.WriteString(a.stderr, t.Styled(t.Red, "xbenv: "+err.Error())+"\n")
}
