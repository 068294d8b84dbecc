// Package disk measures the space taken by sandbox roots.
package disk

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
)

// Usage represents disk usage information for one directory.
type Usage struct {
	Label string
	Size  int64
	Items int
	Path  string
}

// DirSize calculates the apparent size and the number of non-directory
// entries below path. Symlinks are counted but not followed. Files are hard
// links shared with the host, so Size is not space that removing path frees.
func DirSize(path string) (int64, int) {
	var size int64
	var count int
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			// Entries vanishing under a concurrent teardown are skipped.
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			size += info.Size()
		}
		count++
		return nil
	})
	return size, count
}

// Scan measures every directory directly under dir whose name starts with
// prefix, sorted by name. A missing dir yields no entries.
func Scan(dir, prefix string) ([]Usage, int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, err
	}

	var total int64
	var stats []Usage
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		size, count := DirSize(path)
		total += size
		stats = append(stats, Usage{Label: e.Name(), Size: size, Items: count, Path: path})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Label < stats[j].Label })
	return stats, total, nil
}

// Free returns the space available to unprivileged users on the filesystem
// holding path.
func Free(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, &os.PathError{Op: "statfs", Path: path, Err: err}
	}
	return st.Bavail * uint64(st.Bsize), nil
}

// FormatSize converts bytes to a human-readable string.
func FormatSize(b int64) string {
	if b < 0 {
		b = 0
	}
	return humanize.IBytes(uint64(b))
}
