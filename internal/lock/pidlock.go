// Package lock enforces one control plane per data directory. The lock
// is a PID file held under flock(2): advisory, released automatically
// by the kernel if the process dies, and readable by operators who want
// to know which PID owns the store.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
)

// PIDLock holds the flock'd PID file. The lock lives as long as the
// descriptor stays open; dropping the handle without Release leaks the
// descriptor but the kernel still unlocks on exit.
type PIDLock struct {
	path string
	f    *os.File
}

// AcquirePIDLock takes the exclusive lock at path without blocking and
// stamps the file with the current PID. A second instance gets EWOULDBLOCK
// wrapped in the returned error.
func AcquirePIDLock(path string) (*PIDLock, error) {
	if path == "" {
		return nil, fmt.Errorf("pid lock path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create pid lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open pid lock: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("acquire pid lock: %w", err)
	}

	if err := stampPID(f); err != nil {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
		return nil, err
	}

	return &PIDLock{path: path, f: f}, nil
}

// stampPID rewrites the locked file to hold just our PID. The file may
// carry a stale PID from a previous owner, so truncate before writing.
func stampPID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate pid lock: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return fmt.Errorf("rewind pid lock: %w", err)
	}
	if _, err := f.WriteString(strconv.Itoa(os.Getpid()) + "\n"); err != nil {
		return fmt.Errorf("write pid: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync pid lock: %w", err)
	}
	return nil
}

// Path returns the lock file location.
func (l *PIDLock) Path() string { return l.path }

// Release unlocks and closes the PID file. Safe to call more than once.
func (l *PIDLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}
