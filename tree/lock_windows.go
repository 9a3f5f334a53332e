//go:build windows

package tree

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

// fileLock holds an exclusive lock on the first byte of the heapfile
// for the life of the tree handle, preventing a second process from
// opening the same file.
type fileLock struct {
	file *os.File
}

func lockHeapfile(path string) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open heapfile %s for locking: %w", path, err)
	}
	var overlapped windows.Overlapped
	err = windows.LockFileEx(windows.Handle(f.Fd()),
		windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY,
		0, 1, 0, &overlapped)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("heapfile %s is in use by another process: %w", path, err)
	}
	return &fileLock{file: f}, nil
}

func (l *fileLock) release() {
	if l.file == nil {
		return
	}
	var overlapped windows.Overlapped
	windows.UnlockFileEx(windows.Handle(l.file.Fd()), 0, 1, 0, &overlapped)
	l.file.Close()
	l.file = nil
}
