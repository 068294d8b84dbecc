package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"
)

func deadPid(t *testing.T) int {
	t.Helper()
	for i := 32000; i < 60000; i++ {
		proc, _ := os.FindProcess(i)
		if err := proc.Signal(syscall.Signal(0)); errors.Is(err, syscall.ESRCH) {
			return i
		}
	}
	return 9999999
}

func TestLockSimple(t *testing.T) {
	target := filepath.Join(t.TempDir(), "env-1")

	unlock, err := TryLock(target)
	if err != nil {
		t.Fatalf("Failed to lock: %v", err)
	}
	if _, err := os.Stat(File(target)); err != nil {
		t.Errorf("Lock file not created: %v", err)
	}

	owner, err := ReadOwner(target)
	if err != nil {
		t.Fatalf("ReadOwner failed: %v", err)
	}
	if owner.PID != os.Getpid() || !owner.Alive() {
		t.Errorf("unexpected owner %+v", owner)
	}
	if time.Since(owner.Since) > time.Minute {
		t.Errorf("unexpected lock timestamp %v", owner.Since)
	}

	if err := unlock(); err != nil {
		t.Errorf("Failed to unlock: %v", err)
	}
	if _, err := os.Stat(File(target)); !os.IsNotExist(err) {
		t.Errorf("Lock file should be gone")
	}
}

func TestLockHeld(t *testing.T) {
	target := filepath.Join(t.TempDir(), "held")

	unlock, err := TryLock(target)
	if err != nil {
		t.Fatalf("Failed to lock: %v", err)
	}
	defer unlock()

	if _, err := TryLock(target); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
}

func TestLockStale(t *testing.T) {
	target := filepath.Join(t.TempDir(), "stale")
	pid := deadPid(t)

	content := fmt.Sprintf("%s %d", time.Now().Format(time.RFC3339), pid)
	if err := os.WriteFile(File(target), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	owner, err := ReadOwner(target)
	if err != nil {
		t.Fatalf("ReadOwner failed: %v", err)
	}
	if owner.Alive() {
		t.Fatalf("pid %d should be dead", pid)
	}

	unlock, err := TryLock(target)
	if err != nil {
		t.Fatalf("Failed to acquire lock over stale one: %v", err)
	}
	if owner, _ := ReadOwner(target); owner == nil || owner.PID != os.Getpid() {
		t.Errorf("expected lock to be ours, got %+v", owner)
	}
	unlock()
}

func TestLockCorrupt(t *testing.T) {
	target := filepath.Join(t.TempDir(), "corrupt")
	if err := os.WriteFile(File(target), []byte("garbage"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadOwner(target); err == nil {
		t.Error("expected error for malformed lock file")
	}

	unlock, err := TryLock(target)
	if err != nil {
		t.Fatalf("expected corrupt lock to be taken over: %v", err)
	}
	unlock()
}

func TestReadOwnerMissing(t *testing.T) {
	if _, err := ReadOwner(filepath.Join(t.TempDir(), "none")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func TestLockNeverVisibleEmpty(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "env-1")

	done := make(chan struct{})
	exited := make(chan struct{})
	malformed := make(chan error, 1)
	go func() {
		defer close(exited)
		for {
			select {
			case <-done:
				return
			default:
			}
			if _, err := ReadOwner(target); err != nil && !errors.Is(err, os.ErrNotExist) {
				select {
				case malformed <- err:
				default:
				}
				return
			}
		}
	}()

	for i := 0; i < 500; i++ {
		unlock, err := TryLock(target)
		if err != nil {
			t.Fatalf("Failed to lock: %v", err)
		}
		if err := unlock(); err != nil {
			t.Fatalf("Failed to unlock: %v", err)
		}
	}
	close(done)
	<-exited

	select {
	case err := <-malformed:
		t.Errorf("a reader saw a partial lock file: %v", err)
	default:
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no leftover files, found %d", len(entries))
	}
}
