//go:build unix

package tree

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// fileLock holds an exclusive advisory lock on the heapfile for the
// life of the tree handle. Multi-process concurrency on one heapfile
// is unsupported; the lock turns it into an open-time error instead of
// silent corruption.
type fileLock struct {
	file *os.File
}

func lockHeapfile(path string) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open heapfile %s for locking: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("heapfile %s is in use by another process: %w", path, err)
	}
	return &fileLock{file: f}, nil
}

func (l *fileLock) release() {
	if l.file == nil {
		return
	}
	unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	l.file.Close()
	l.file = nil
}
