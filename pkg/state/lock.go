package state

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"syscall"
	"time"
)

// ErrLockHeld means another invocation holds the state lock and the wait
// timed out.
var ErrLockHeld = errors.New("another run appears active: state lock held")

// FileLocker is an advisory lock backed by an O_EXCL-created file whose
// payload names the holding process. A lock left behind by a dead process
// is broken automatically.
type FileLocker struct {
	path string
	poll time.Duration
}

// NewFileLocker returns a locker over the given lock file path.
func NewFileLocker(path string) *FileLocker {
	return &FileLocker{path: path, poll: 100 * time.Millisecond}
}

// Acquire takes the lock, waiting up to timeout. On success it returns a
// release function that removes the lock file.
func (l *FileLocker) Acquire(timeout time.Duration) (func() error, error) {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := l.tryAcquire()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() error {
				if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("release state lock: %w", err)
				}
				return nil
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w (lock file %s, holder pid %s)", ErrLockHeld, l.path, l.holderPID())
		}
		time.Sleep(l.poll)
	}
}

func (l *FileLocker) tryAcquire() (bool, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			l.breakIfStale()
			return false, nil
		}
		return false, fmt.Errorf("create state lock: %w", err)
	}
	payload := fmt.Sprintf("PID=%d\nACQUIRED_AT=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if _, err := f.WriteString(payload); err != nil {
		f.Close()
		os.Remove(l.path)
		return false, fmt.Errorf("write state lock: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(l.path)
		return false, fmt.Errorf("close state lock: %w", err)
	}
	return true, nil
}

// breakIfStale removes the lock file when its holder is no longer running.
// An unreadable or malformed payload is left alone; only a provably dead
// holder justifies breaking someone else's lock.
func (l *FileLocker) breakIfStale() {
	pid, ok := l.parsePID()
	if !ok {
		return
	}
	if processAlive(pid) {
		return
	}
	os.Remove(l.path)
}

func (l *FileLocker) parsePID() (int, bool) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0, false
	}
	rec, err := DecodeRecord(data)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(rec["PID"])
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

func (l *FileLocker) holderPID() string {
	if pid, ok := l.parsePID(); ok {
		return strconv.Itoa(pid)
	}
	return "unknown"
}

// processAlive probes a pid with signal 0. EPERM means the process exists
// but belongs to another user; that still counts as alive.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
