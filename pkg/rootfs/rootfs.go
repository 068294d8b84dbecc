// Package rootfs materializes a package closure into a directory tree made of
// hard links to the host's own files.
//
// A materialized root shares inodes with the host. Nothing is copied, so the
// root is cheap to build even for large closures, but it is not isolated from
// the host at the file level: writing to a linked file inside the sandbox
// changes the host file, and the other way round. Only the directory tree
// (which entries exist, and where) belongs to the root.
package rootfs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"xbenv/pkg/common"
	"xbenv/pkg/display"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// Index lists the files owned by a package.
type Index interface {
	ListFiles(ctx context.Context, pkg common.PkgRef) ([]common.HostPath, error)
}

// Entry is the file list of one package.
type Entry struct {
	Pkg   common.PkgRef     `json:"pkg"`
	Files []common.HostPath `json:"files"`
}

// Manifest holds the file lists of a closure in closure order.
type Manifest []Entry

// Files returns the number of paths across all entries.
func (m Manifest) Files() int {
	n := 0
	for _, e := range m {
		n += len(e.Files)
	}
	return n
}

// Stats summarizes a completed build.
type Stats struct {
	Packages int
	Files    int
	Dirs     int
	// Bytes is the apparent size of all linked files. It is shared with the
	// host, not consumed.
	Bytes uint64
}

// DeviceMismatchError means the root is on another filesystem than the host
// root, so hard links between them are impossible.
type DeviceMismatchError struct {
	Root     string
	HostRoot string
}

func (e *DeviceMismatchError) Error() string {
	return fmt.Sprintf("%s is not on the same filesystem as %s", e.Root, e.HostRoot)
}

// ConflictError means a path was already materialized, typically because two
// packages in the closure own the same file.
type ConflictError struct {
	Path  common.HostPath
	Pkg   common.PkgRef
	Owner common.PkgRef // empty if the entry did not come from this build
}

func (e *ConflictError) Error() string {
	if e.Owner == "" {
		return fmt.Sprintf("%s (from %s) already exists in the root", e.Path, e.Pkg)
	}
	return fmt.Sprintf("%s is owned by both %s and %s", e.Path, e.Owner, e.Pkg)
}

// Device returns the id of the device holding path.
func Device(path string) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, &os.PathError{Op: "stat", Path: path, Err: err}
	}
	return uint64(st.Dev), nil
}

// SameDevice reports whether a and b live on the same filesystem.
func SameDevice(a, b string) (bool, error) {
	return sameDevice(Device, a, b)
}

func sameDevice(devOf func(string) (uint64, error), a, b string) (bool, error) {
	da, err := devOf(a)
	if err != nil {
		return false, err
	}
	db, err := devOf(b)
	if err != nil {
		return false, err
	}
	return da == db, nil
}

// Builder materializes closures.
type Builder struct {
	index    Index
	disp     display.Display
	hostRoot string
	jobs     int

	deviceOf func(string) (uint64, error)
}

// NewBuilder creates a Builder linking files from hostRoot. jobs bounds the
// number of concurrent file-list queries.
func NewBuilder(index Index, disp display.Display, hostRoot string, jobs int) *Builder {
	if hostRoot == "" {
		hostRoot = "/"
	}
	if jobs < 1 {
		jobs = 1
	}
	return &Builder{
		index:    index,
		disp:     disp,
		hostRoot: hostRoot,
		jobs:     jobs,
		deviceOf: Device,
	}
}

// Manifest fetches the file lists of closure, preserving closure order.
func (b *Builder) Manifest(ctx context.Context, closure []common.PkgRef) (Manifest, error) {
	m := make(Manifest, len(closure))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.jobs)
	for i, pkg := range closure {
		g.Go(func() error {
			files, err := b.index.ListFiles(gctx, pkg)
			if err != nil {
				return fmt.Errorf("failed to list files of %s: %w", pkg, err)
			}
			m[i] = Entry{Pkg: pkg, Files: files}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return m, nil
}

// Build hard-links every file owned by the closure into root at the same
// path it has under the host root. root must already exist.
//
// Build checks the filesystem identity of root before doing anything else.
// Symlinks are linked as symlinks (never followed) and directories listed by
// a package are created rather than linked. An entry that already exists is
// a *ConflictError; nothing is ever overwritten. On error the partially
// built tree is left for the caller to remove.
func (b *Builder) Build(ctx context.Context, root string, closure []common.PkgRef) (*Stats, error) {
	same, err := sameDevice(b.deviceOf, root, b.hostRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to check filesystem of %s: %w", root, err)
	}
	if !same {
		return nil, &DeviceMismatchError{Root: root, HostRoot: b.hostRoot}
	}

	task := b.disp.StartTask("build")
	defer task.Done()

	task.SetStage("Manifest", fmt.Sprintf("%d packages", len(closure)))
	manifest, err := b.Manifest(ctx, closure)
	if err != nil {
		return nil, err
	}

	task.SetStage("Link", root)
	stats, err := b.link(ctx, task, root, manifest)
	if err != nil {
		return nil, err
	}
	task.Progress(100, fmt.Sprintf("%s files, %s shared with host",
		humanize.Comma(int64(stats.Files)), humanize.Bytes(stats.Bytes)))
	return stats, nil
}

func (b *Builder) link(ctx context.Context, task display.Task, root string, manifest Manifest) (*Stats, error) {
	stats := &Stats{Packages: len(manifest)}
	owners := make(map[string]common.PkgRef)
	total := manifest.Files()
	done := 0

	for _, entry := range manifest {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		task.Log(fmt.Sprintf("%s: %d files", entry.Pkg, len(entry.Files)))

		for _, path := range entry.Files {
			rel := filepath.Clean("/" + path)
			src := filepath.Join(b.hostRoot, rel)
			dst := filepath.Join(root, rel)

			fi, err := os.Lstat(src)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", entry.Pkg, err)
			}

			if fi.IsDir() {
				if err := os.MkdirAll(dst, 0755); err != nil {
					return nil, err
				}
				stats.Dirs++
			} else {
				if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
					return nil, err
				}
				// Flags 0: no AT_SYMLINK_FOLLOW, a symlink is linked as itself.
				if err := unix.Linkat(unix.AT_FDCWD, src, unix.AT_FDCWD, dst, 0); err != nil {
					if errors.Is(err, unix.EEXIST) {
						return nil, &ConflictError{Path: rel, Pkg: entry.Pkg, Owner: owners[rel]}
					}
					return nil, &os.LinkError{Op: "link", Old: src, New: dst, Err: err}
				}
				owners[rel] = entry.Pkg
				stats.Files++
				stats.Bytes += uint64(fi.Size())
				b.disp.Trace("link " + rel)
			}

			done++
			if total > 0 && done%256 == 0 {
				task.Progress(done*100/total, fmt.Sprintf("%d/%d", done, total))
			}
		}
	}
	return stats, nil
}
