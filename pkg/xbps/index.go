// Package xbps is a read-only adapter over the host's XBPS package database.
// It answers three questions by running xbps-query: which packages are
// installed, what a package depends on, and which files a package owns.
package xbps

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"xbenv/pkg/common"
	"xbenv/pkg/display"
)

// PkgName strips the trailing version/revision component from a pkgver
// string ("glibc-2.39_1" -> "glibc"). Strings without a hyphen are returned
// unchanged.
func PkgName(pkgver string) common.PkgRef {
	i := strings.LastIndex(pkgver, "-")
	if i < 0 {
		return pkgver
	}
	return pkgver[:i]
}

// Index queries the package database of one root.
type Index struct {
	root     string
	repoMode bool
	runner   Runner
	disp     display.Display
}

// Option configures an Index.
type Option func(*Index)

// WithRunner replaces the xbps-query executor.
func WithRunner(r Runner) Option {
	return func(x *Index) { x.runner = r }
}

// WithRepoMode makes dependency queries use repository (not yet installed)
// metadata instead of the installed package database.
func WithRepoMode(enabled bool) Option {
	return func(x *Index) { x.repoMode = enabled }
}

// WithDisplay traces every query to d.
func WithDisplay(d display.Display) Option {
	return func(x *Index) { x.disp = d }
}

// New creates an Index for the package database at root. Without
// WithRunner it requires xbps-query in $PATH and fails with a
// KindMissingTool QueryError otherwise.
func New(root string, opts ...Option) (*Index, error) {
	if root == "" {
		root = "/"
	}
	x := &Index{root: root}
	for _, opt := range opts {
		opt(x)
	}
	if x.runner == nil {
		r, err := NewExecRunner()
		if err != nil {
			return nil, err
		}
		x.runner = r
	}
	return x, nil
}

// Root returns the root whose package database is queried.
func (x *Index) Root() string { return x.root }

// ListInstalled returns the bare names of all packages installed in the root.
func (x *Index) ListInstalled(ctx context.Context) ([]common.PkgRef, error) {
	args := []string{"-r", x.root, "-l"}
	lines, err := x.query(ctx, args...)
	if err != nil {
		return nil, err
	}

	pkgs := make([]common.PkgRef, 0, len(lines))
	for _, line := range lines {
		// "<state> <pkgver> <description...>"
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, &QueryError{Kind: KindDiagnostics, Args: args, Message: fmt.Sprintf("unexpected line %q", line)}
		}
		pkgs = append(pkgs, PkgName(fields[1]))
	}
	return pkgs, nil
}

// ListDependencies returns the dependencies of pkg as bare names. With
// recursive set the full transitive tree is returned.
func (x *Index) ListDependencies(ctx context.Context, pkg common.PkgRef, recursive bool) ([]common.PkgRef, error) {
	args := []string{"-r", x.root}
	if x.repoMode {
		args = append(args, "-R")
	}
	if recursive {
		args = append(args, "--fulldeptree")
	}
	args = append(args, "-x", pkg)

	lines, err := x.query(ctx, args...)
	if err != nil {
		return nil, err
	}

	deps := make([]common.PkgRef, 0, len(lines))
	for _, line := range lines {
		deps = append(deps, PkgName(strings.TrimSpace(line)))
	}
	return deps, nil
}

// ListFiles returns the absolute paths owned by pkg. Symlinks are listed by
// their link path; the "-> target" part of the listing is dropped.
func (x *Index) ListFiles(ctx context.Context, pkg common.PkgRef) ([]common.HostPath, error) {
	args := []string{"-r", x.root}
	if x.repoMode {
		args = append(args, "-R")
	}
	args = append(args, "-f", pkg)
	lines, err := x.query(ctx, args...)
	if err != nil {
		return nil, err
	}

	files := make([]common.HostPath, 0, len(lines))
	for _, line := range lines {
		path, _, _ := strings.Cut(line, " -> ")
		if !filepath.IsAbs(path) {
			return nil, &QueryError{Kind: KindDiagnostics, Args: args, Message: fmt.Sprintf("not an absolute path: %q", path)}
		}
		files = append(files, path)
	}
	return files, nil
}

func (x *Index) trace(msg string) {
	if x.disp != nil {
		x.disp.Trace(msg)
	}
}
