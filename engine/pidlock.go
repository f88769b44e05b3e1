package engine

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// AcquireLock opens path (creating it at mode 0644 if absent) and takes a
// non-blocking advisory exclusive lock, writing the calling process's PID
// once the lock is held. A second instance starting against the same
// path is refused immediately by lock contention.
// The returned file must be kept open for the process lifetime; closing
// it (or exiting) releases the lock.
func AcquireLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open pid file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("another preheatd instance is already running (%s locked): %w", path, err)
	}

	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, fmt.Errorf("truncate pid file: %w", err)
	}
	if _, err := f.WriteAt([]byte(fmt.Sprintf("%d\n", os.Getpid())), 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("write pid file: %w", err)
	}
	return f, nil
}
