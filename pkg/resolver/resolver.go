// Package resolver computes the dependency closure of a set of packages and
// checks that every member of it is installed on the host.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"xbenv/pkg/common"
	"xbenv/pkg/display"

	"golang.org/x/sync/errgroup"
)

// Index is the part of the package database the resolver needs.
type Index interface {
	ListInstalled(ctx context.Context) ([]common.PkgRef, error)
	ListDependencies(ctx context.Context, pkg common.PkgRef, recursive bool) ([]common.PkgRef, error)
}

// NotInstalledError reports a closure member missing from the host.
type NotInstalledError struct {
	Pkg common.PkgRef
}

func (e *NotInstalledError) Error() string {
	return fmt.Sprintf("package %s not installed", e.Pkg)
}

// Resolver expands package sets into closures.
type Resolver struct {
	index Index
	disp  display.Display
	jobs  int
}

// New creates a Resolver. jobs bounds the number of concurrent dependency
// queries; values below 1 mean one at a time.
func New(index Index, disp display.Display, jobs int) *Resolver {
	if jobs < 1 {
		jobs = 1
	}
	return &Resolver{index: index, disp: disp, jobs: jobs}
}

// Resolve returns the validated closure of requested plus base: the seeds
// followed by the recursive dependencies of every member, first occurrence
// kept. It fails with *NotInstalledError if any member is not installed.
func (r *Resolver) Resolve(ctx context.Context, requested, base []common.PkgRef) ([]common.PkgRef, error) {
	closure, err := r.Closure(ctx, requested, base)
	if err != nil {
		return nil, err
	}
	if err := r.Validate(ctx, closure); err != nil {
		return nil, err
	}
	r.disp.Debug(fmt.Sprintf("closure (%d): %s", len(closure), strings.Join(closure, ", ")))
	return closure, nil
}

// Closure expands requested plus base without validating it.
//
// Members are expanded level by level. The queries of one level run
// concurrently, but their results are appended in member order, so the
// result equals expanding the closure one member at a time.
func (r *Resolver) Closure(ctx context.Context, requested, base []common.PkgRef) ([]common.PkgRef, error) {
	seed := Dedup(append(append([]common.PkgRef(nil), requested...), base...))
	if len(seed) == 0 {
		return nil, errors.New("no packages to resolve")
	}

	closure := seed
	seen := make(map[common.PkgRef]bool, len(seed))
	for _, p := range seed {
		seen[p] = true
	}

	frontier := seed
	for len(frontier) > 0 {
		lists := make([][]common.PkgRef, len(frontier))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.jobs)
		for i, pkg := range frontier {
			g.Go(func() error {
				deps, err := r.index.ListDependencies(gctx, pkg, true)
				if err != nil {
					return fmt.Errorf("failed to list dependencies of %s: %w", pkg, err)
				}
				lists[i] = deps
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		var next []common.PkgRef
		for _, deps := range lists {
			for _, dep := range deps {
				if dep == "" || seen[dep] {
					continue
				}
				seen[dep] = true
				closure = append(closure, dep)
				next = append(next, dep)
			}
		}
		frontier = next
	}

	return closure, nil
}

// Validate checks every closure member against the installed package set and
// reports the first one that is missing.
func (r *Resolver) Validate(ctx context.Context, closure []common.PkgRef) error {
	installed, err := r.index.ListInstalled(ctx)
	if err != nil {
		return fmt.Errorf("failed to list installed packages: %w", err)
	}
	set := make(map[common.PkgRef]bool, len(installed))
	for _, p := range installed {
		set[p] = true
	}
	for _, p := range closure {
		if !set[p] {
			return &NotInstalledError{Pkg: p}
		}
	}
	return nil
}

// Dedup removes repeated and empty entries, keeping first occurrences in order.
func Dedup(pkgs []common.PkgRef) []common.PkgRef {
	seen := make(map[common.PkgRef]bool, len(pkgs))
	out := make([]common.PkgRef, 0, len(pkgs))
	for _, p := range pkgs {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
