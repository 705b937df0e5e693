package storage

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrLockTimeout is returned when another process keeps the lock for longer
// than the acquire budget.
var ErrLockTimeout = errors.New("timeout waiting for file lock")

const (
	lockRetries    = 50
	lockRetryDelay = 100 * time.Millisecond
	staleLockAge   = 30 * time.Second
)

// Lock is an exclusive cross-process lock backed by a sibling ".lock" file.
type Lock struct {
	file *os.File
	path string
}

// AcquireLock takes an exclusive lock on filePath.
// Uses a separate lock file so readers of filePath are never blocked.
func AcquireLock(filePath string) (*Lock, error) {
	lockPath := filePath + ".lock"

	for i := 0; i < lockRetries; i++ {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			// PID helps when debugging a stuck lock
			fmt.Fprintf(f, "%d", os.Getpid())
			return &Lock{file: f, path: lockPath}, nil
		}

		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to acquire file lock: %w", err)
		}

		if info, statErr := os.Stat(lockPath); statErr == nil &&
			time.Since(info.ModTime()) > staleLockAge {
			if remErr := os.Remove(lockPath); remErr != nil && !os.IsNotExist(remErr) {
				return nil, fmt.Errorf(
					"failed to remove stale lock file %s: %w",
					lockPath,
					remErr,
				)
			}
			continue
		}

		time.Sleep(lockRetryDelay)
	}

	return nil, fmt.Errorf("%w after %v", ErrLockTimeout, lockRetries*lockRetryDelay)
}

// Release closes and removes the lock file. Calling it twice returns the
// os.Remove error of the second call.
func (l *Lock) Release() error {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	return os.Remove(l.path)
}
