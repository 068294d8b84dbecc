package env

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"xbenv/pkg/common"
	"xbenv/pkg/config"
	"xbenv/pkg/disk"
	"xbenv/pkg/display"
	"xbenv/pkg/lock"
	"xbenv/pkg/rootfs"

	"github.com/google/uuid"
)

// RootPrefix starts the name of every generated root.
const RootPrefix = "env-"

// Resolver computes validated closures.
type Resolver interface {
	Resolve(ctx context.Context, requested, base []common.PkgRef) ([]common.PkgRef, error)
}

// Builder materializes closures into roots.
type Builder interface {
	Build(ctx context.Context, root string, closure []common.PkgRef) (*rootfs.Stats, error)
}

// Launcher runs sandbox configurations.
type Launcher interface {
	Run(ctx context.Context, cfg *common.SandboxConfig) (int, error)
}

// Manager creates environments and keeps the roots directory tidy.
type Manager struct {
	cfg      config.ReadOnly
	disp     display.Display
	resolver Resolver
	builder  Builder
	launcher Launcher
}

// NewManager creates a Manager. launcher may be nil for managers that never
// run anything (list, prune).
func NewManager(cfg config.ReadOnly, disp display.Display, resolver Resolver, builder Builder, launcher Launcher) *Manager {
	return &Manager{
		cfg:      cfg,
		disp:     disp,
		resolver: resolver,
		builder:  builder,
		launcher: launcher,
	}
}

// Create allocates a root and returns it in the Created state. An empty root
// generates a fresh env-<uuid> directory under the roots directory; an
// explicit root must not exist yet. The root is locked for the lifetime of
// the environment.
func (m *Manager) Create(root string) (*Environment, error) {
	if root == "" {
		dir := m.cfg.GetRootsDir()
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create roots directory: %w", err)
		}
		root = filepath.Join(dir, RootPrefix+uuid.NewString())
	} else {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, err
		}
		root = abs
		if _, err := os.Lstat(root); err == nil {
			return nil, fmt.Errorf("%s already exists", root)
		}
	}

	unlock, err := lock.TryLock(root)
	if err != nil {
		return nil, err
	}
	// Mkdir rather than MkdirAll: the root must be ours alone.
	if err := os.Mkdir(root, 0755); err != nil {
		unlock()
		return nil, fmt.Errorf("failed to create root: %w", err)
	}

	m.disp.Debug("allocated " + root)
	return &Environment{m: m, root: root, unlock: unlock, state: Created}, nil
}

// ErrInterrupted is returned by Execute when Request.Interrupt fired before
// the command started.
var ErrInterrupted = errors.New("interrupted")

// Request is one full resolve-build-run cycle.
type Request struct {
	Packages []common.PkgRef
	// Base defaults to the configured base packages when empty.
	Base    []common.PkgRef
	Root    string
	Command []string
	// Interrupt aborts resolution and materialization. Once the command is
	// running it is no longer watched; the command gets the signal itself.
	Interrupt <-chan os.Signal
}

// Execute runs req from allocation to teardown and returns the command's
// exit status. The root is removed on every path out, including resolution
// and materialization failures and cancellation. A teardown failure is
// reported on the display and never replaces the command's status or the
// original error.
func (m *Manager) Execute(ctx context.Context, req Request) (int, error) {
	if m.launcher == nil {
		return 0, errors.New("no sandbox launcher configured")
	}
	base := req.Base
	if len(base) == 0 {
		base = m.cfg.GetBasePkgs()
	}

	e, err := m.Create(req.Root)
	if err != nil {
		return 0, err
	}
	defer func() {
		if derr := e.Destroy(); derr != nil {
			m.disp.Error(fmt.Sprintf("cleanup: %v", derr))
		}
	}()

	setupCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if req.Interrupt != nil {
		go func() {
			select {
			case <-req.Interrupt:
				cancel(ErrInterrupted)
			case <-setupCtx.Done():
			}
		}()
	}

	if err := e.Build(setupCtx, req.Packages, base); err != nil {
		if cause := context.Cause(setupCtx); errors.Is(cause, ErrInterrupted) {
			return 0, ErrInterrupted
		}
		return 0, err
	}
	cancel(nil)
	return e.Run(ctx, req.Command)
}

// RootInfo describes a root found under the roots directory.
type RootInfo struct {
	disk.Usage
	// PID is the owning process, 0 if the root has no readable lock.
	PID   int
	Since time.Time
	Alive bool
}

// List returns the roots under the roots directory with their owner and size.
func (m *Manager) List() ([]RootInfo, error) {
	usages, _, err := disk.Scan(m.cfg.GetRootsDir(), RootPrefix)
	if err != nil {
		return nil, err
	}

	infos := make([]RootInfo, 0, len(usages))
	for _, u := range usages {
		info := RootInfo{Usage: u}
		if owner, err := lock.ReadOwner(u.Path); err == nil {
			info.PID = owner.PID
			info.Since = owner.Since
			info.Alive = owner.Alive()
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Prune removes roots whose owner is gone, typically left behind by a killed
// run, and stale lock files without a root. Roots held by a live process are
// skipped. It returns the removed roots.
func (m *Manager) Prune() ([]string, error) {
	dir := m.cfg.GetRootsDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var removed []string
	var errs []error
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, RootPrefix) {
			continue
		}
		var target string
		switch {
		case e.IsDir():
			target = filepath.Join(dir, name)
		case strings.HasSuffix(name, lock.Suffix):
			target = filepath.Join(dir, strings.TrimSuffix(name, lock.Suffix))
			if _, err := os.Lstat(target); err == nil {
				// Handled with its root.
				continue
			}
		default:
			continue
		}

		unlock, err := lock.TryLock(target)
		if errors.Is(err, lock.ErrLocked) {
			m.disp.Debug("skipping " + target + ": in use")
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}

		if e.IsDir() {
			m.disp.Log("Removing " + target)
			if err := os.RemoveAll(target); err != nil {
				errs = append(errs, fmt.Errorf("failed to remove %s: %w", target, err))
			} else {
				removed = append(removed, target)
			}
		}
		if err := unlock(); err != nil {
			errs = append(errs, err)
		}
	}
	return removed, errors.Join(errs...)
}
