//go:build unix

package lock

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/sidkik/dotsync/pkg/errors"
)

// flockGuard takes an exclusive flock on `path`. The kernel drops it if the
// process dies, so a crash while holding the guard can't wedge other
// processes.
func flockGuard(path string, wait bool) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.WithContext(err, "open guard file")
	}

	how := unix.LOCK_EX
	if !wait {
		how |= unix.LOCK_NB
	}

	for {
		err = unix.Flock(int(f.Fd()), how)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, errGuardHeld
		}
		return nil, errors.WithContext(err, "flock")
	}

	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	}, nil
}
