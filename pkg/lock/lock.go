// Package lock implements the advisory single-writer directory lock.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/arfanq/barreldb/pkg/kverrors"
)

const sentinelName = ".lock"

// Lock is held for the lifetime of an open store. It wraps a kernel
// advisory lock (flock) on the sentinel file's descriptor, not the mere
// existence of the file: the kernel releases the lock the moment the
// descriptor is closed, including when the holding process dies without
// running any cleanup, so a crashed store never wedges the next Open.
type Lock struct {
	path string
	f    *os.File
}

// Acquire opens (or creates) the sentinel file and takes a non-blocking
// exclusive flock on it. If another live process already holds the
// lock, the syscall fails immediately with EWOULDBLOCK and the
// directory is considered owned by another store instance. The
// sentinel file itself is left in place across opens — only the
// in-kernel lock state distinguishes "held" from "free".
func Acquire(dir string) (*Lock, error) {
	path := filepath.Join(dir, sentinelName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, kverrors.NewIoError(fmt.Sprintf("open lock file %q", path), err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if err == syscall.EWOULDBLOCK {
			return nil, kverrors.NewAlreadyLockedError(path)
		}
		return nil, kverrors.NewIoError(fmt.Sprintf("flock %q", path), err)
	}

	return &Lock{path: path, f: f}, nil
}

// Release unlocks and closes the sentinel's descriptor. Safe to call
// once; callers should not reuse a released Lock. The sentinel file
// itself is left on disk — removing it would race with another process
// opening and locking it between the unlink and the next Acquire.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	if err := l.f.Close(); err != nil {
		return kverrors.NewIoError(fmt.Sprintf("close lock file %q", l.path), err)
	}
	return nil
}
