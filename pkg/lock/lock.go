// Package lock marks a path as owned by a live process with a sibling
// "<path>.lock" file holding "<RFC3339 timestamp> <pid>".
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Suffix is appended to the target path to form the lock file name.
const Suffix = ".lock"

// ErrLocked is returned by TryLock when a live process holds the lock.
var ErrLocked = errors.New("locked by a running process")

// Owner describes the process recorded in a lock file.
type Owner struct {
	PID   int
	Since time.Time
}

// Alive reports whether the owning process still exists.
func (o *Owner) Alive() bool {
	return isPidAlive(o.PID)
}

// File returns the lock file path for target.
func File(target string) string {
	return target + Suffix
}

// TryLock locks target without waiting. A lock left behind by a dead process,
// or one that cannot be parsed, is taken over. If a live process holds the
// lock, the error wraps ErrLocked. The returned function releases the lock.
func TryLock(target string) (func() error, error) {
	lockFile := File(target)

	if err := os.MkdirAll(filepath.Dir(lockFile), 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent dir for lock: %w", err)
	}

	// Two attempts: the second one follows the removal of a stale lock.
	for attempt := 0; attempt < 2; attempt++ {
		err := create(lockFile)
		if err == nil {
			return func() error {
				return os.Remove(lockFile)
			}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to acquire lock: %w", err)
		}

		owner, err := ReadOwner(target)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Released in the meantime.
		case err != nil:
			os.Remove(lockFile)
		case owner.Alive():
			return nil, fmt.Errorf("%s: %w (pid %d since %s)", target, ErrLocked, owner.PID, owner.Since.Format(time.RFC3339))
		default:
			os.Remove(lockFile)
		}
	}
	return nil, fmt.Errorf("%s: %w", target, ErrLocked)
}

// create writes the lock content to a temporary file and links it into
// place, so the lock file never exists without its content. It fails with
// an error satisfying os.IsExist when the lock is already held.
func create(lockFile string) error {
	tmp, err := os.CreateTemp(filepath.Dir(lockFile), filepath.Base(lockFile)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	content := fmt.Sprintf("%s %d", time.Now().Format(time.RFC3339), os.Getpid())
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write to lock file: %w", err)
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write to lock file: %w", err)
	}
	return os.Link(tmp.Name(), lockFile)
}

// ReadOwner parses the lock file of target. A missing lock file is reported
// as an error wrapping os.ErrNotExist.
func ReadOwner(target string) (*Owner, error) {
	content, err := os.ReadFile(File(target))
	if err != nil {
		return nil, err
	}

	parts := strings.Fields(string(content))
	if len(parts) < 2 {
		return nil, fmt.Errorf("malformed lock file %s", File(target))
	}
	pid, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return nil, fmt.Errorf("malformed pid in lock file %s: %w", File(target), err)
	}
	since, err := time.Parse(time.RFC3339, parts[0])
	if err != nil {
		return nil, fmt.Errorf("malformed timestamp in lock file %s: %w", File(target), err)
	}
	return &Owner{PID: pid, Since: since}, nil
}

func isPidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Signal 0 only checks existence.
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if errors.Is(err, syscall.ESRCH) || errors.Is(err, os.ErrProcessDone) {
		return false
	}

	// EPERM: the process exists but belongs to someone else.
	return true
}
