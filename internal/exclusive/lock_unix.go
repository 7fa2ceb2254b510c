//go:build unix

package exclusive

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

type fileLock struct {
	f *os.File
}

// tryLockFile takes a non-blocking flock on path. The kernel drops the lock
// when the owning process dies, so a crashed holder never blocks forever.
func tryLockFile(path, token string) (fileLock, bool, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fileLock{}, false, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return fileLock{}, false, nil
		}
		return fileLock{}, false, err
	}
	if err := f.Truncate(0); err == nil {
		fmt.Fprintf(f, "pid %d owner %s\n", os.Getpid(), token)
	}
	return fileLock{f: f}, true, nil
}

func (l fileLock) unlock() error {
	if l.f == nil {
		return nil
	}
	_ = l.f.Truncate(0)
	err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	return err
}
