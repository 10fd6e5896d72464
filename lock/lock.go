// Package lock provides a cross-process exclusive advisory lock used to
// serialize ping sessions per machine UUID and config refresh cycles
// against themselves.
package lock

import (
	"fmt"
	"os"
	"path/filepath"

	"emperror.dev/errors"
	"golang.org/x/sys/unix"
)

// ErrBusy is returned by Acquire when the lock is already held by another
// process.
var ErrBusy = errors.Sentinel("lock: already held")

// Lock is a non-blocking exclusive advisory file lock. The zero value is
// not usable; construct one with Acquire.
type Lock struct {
	file *os.File
}

// Acquire opens (creating if necessary) the lock file named `name` inside
// dir and attempts a non-blocking exclusive flock on it. On success, the
// current PID is written into the file for diagnostics. Returns ErrBusy if
// another process already holds the lock.
func Acquire(dir, name string) (*Lock, error) {
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.WithMessagef(err, "lock: failed to open %s", path)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, errors.WithMessagef(ErrBusy, "lock: %s held by another process", path)
		}
		return nil, errors.WithMessagef(err, "lock: flock failed on %s", path)
	}

	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(fmt.Sprintf("%d\n", os.Getpid())), 0)
	}

	return &Lock{file: f}, nil
}

// Release drops the lock and closes the underlying file descriptor. It is
// safe to call more than once; subsequent calls are no-ops.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	cerr := l.file.Close()
	l.file = nil
	if err != nil {
		return errors.WithMessage(err, "lock: failed to unlock")
	}
	return errors.WithMessage(cerr, "lock: failed to close lock file")
}

// UUIDLockName returns the lock filename for a ping session on the given
// machine UUID.
func UUIDLockName(uuid string) string {
	return fmt.Sprintf("turku-storage-ping-%s.lock", uuid)
}

// RefreshLockName is the lock filename used to serialize config-refresh
// cycles against each other.
const RefreshLockName = "turku-storage-update-config.lock"
