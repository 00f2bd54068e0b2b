package state

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLockAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latest-run.lock")
	l := NewFileLocker(path)

	release, err := l.Acquire(time.Second)
	if err != nil {
		t.Fatalf("Acquire error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("lock file not created: %v", err)
	}
	if !strings.Contains(string(data), fmt.Sprintf("PID=%d", os.Getpid())) {
		t.Errorf("lock payload missing pid: %q", data)
	}

	if err := release(); err != nil {
		t.Fatalf("release error: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("lock file survived release")
	}
}

// A second invocation waits, times out, and reports the active holder.
func TestLockHeldTimesOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latest-run.lock")
	first := NewFileLocker(path)
	second := NewFileLocker(path)

	release, err := first.Acquire(time.Second)
	if err != nil {
		t.Fatalf("first Acquire error: %v", err)
	}
	defer release()

	start := time.Now()
	_, err = second.Acquire(300 * time.Millisecond)
	if !errors.Is(err, ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}
	if !strings.Contains(err.Error(), "another run appears active") {
		t.Errorf("error message: %v", err)
	}
	if time.Since(start) < 300*time.Millisecond {
		t.Error("Acquire returned before the timeout elapsed")
	}
}

func TestLockWaitsForRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latest-run.lock")
	first := NewFileLocker(path)
	second := NewFileLocker(path)

	release, err := first.Acquire(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		time.Sleep(150 * time.Millisecond)
		release()
	}()

	got, err := second.Acquire(2 * time.Second)
	if err != nil {
		t.Fatalf("second Acquire should succeed after release: %v", err)
	}
	got()
}

// A lock whose holding process is dead is broken and re-acquired.
func TestStaleLockBroken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latest-run.lock")

	// A process that has already exited gives us a provably dead pid.
	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Skipf("cannot run helper process: %v", err)
	}
	deadPID := cmd.Process.Pid

	payload := fmt.Sprintf("PID=%d\nACQUIRED_AT=%s\n", deadPID, time.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(path, []byte(payload), 0644); err != nil {
		t.Fatal(err)
	}

	l := NewFileLocker(path)
	release, err := l.Acquire(2 * time.Second)
	if err != nil {
		t.Fatalf("stale lock was not broken: %v", err)
	}
	release()
}

// A malformed lock payload is never treated as stale.
func TestMalformedLockNotBroken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latest-run.lock")
	if err := os.WriteFile(path, []byte("garbage"), 0644); err != nil {
		t.Fatal(err)
	}

	l := NewFileLocker(path)
	if _, err := l.Acquire(200 * time.Millisecond); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld for malformed lock, got %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Error("malformed lock file was removed")
	}
}
