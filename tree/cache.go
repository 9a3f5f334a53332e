package tree

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/intellect4all/heaptree/swap"
)

// errPageMissing reports a page id beyond the current end of the
// heapfile. The root bootstrap relies on it; anything else treats it
// as corruption of the caller's id arithmetic.
var errPageMissing = errors.New("page not on disk")

// loadPage returns the resident page for id, reading and installing it
// from the heapfile if necessary. Every load touches the page's swap
// priority; when the touch or the admission evicts another page, that
// page is flushed before loadPage returns.
func (t *Tree) loadPage(id uint64) (*Page, error) {
	t.mu.RLock()
	page, _ := t.resident.Get(id)
	lock, _ := t.locks.Get(id)
	t.mu.RUnlock()

	if lock != nil {
		invariant(page != nil, "page %d has a lock but no resident page", id)

		t.mu.Lock()
		evicted := t.swap.SetPriority(id, t.nextPriorityLocked())
		t.mu.Unlock()

		invariant(evicted != id, "page %d evicted itself on touch", id)
		if evicted != swap.None {
			debugf("[%s] swapping page %d for page %d", t.filename, evicted, id)
			if err := t.flushPage(evicted); err != nil {
				return nil, err
			}
		}
		return page, nil
	}
	invariant(page == nil, "page %d resident without a lock", id)

	buf, err := t.readPageBytes(id)
	if err != nil {
		return nil, err
	}
	page, err = t.deserializePage(buf)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", id, err)
	}

	t.mu.Lock()
	t.ioCounter++
	t.resident.Set(id, page)
	lock = new(sync.RWMutex)
	t.locks.Set(id, lock)
	t.mu.Unlock()

	if id == 0 {
		// Page lock before tree lock, matching flushPage.
		lock.RLock()
		t.mu.Lock()
		t.expandRootCoverLocked(page)
		t.mu.Unlock()
		lock.RUnlock()
	}

	debugf("[%s] loaded page %d with %d records", t.filename, id, page.records)

	t.mu.Lock()
	evicted := t.swap.SetPriority(id, t.nextPriorityLocked())
	t.mu.Unlock()

	invariant(evicted != id, "page %d evicted itself on admission", id)
	if evicted != swap.None {
		debugf("[%s] swapping page %d for page %d", t.filename, evicted, id)
		if err := t.flushPage(evicted); err != nil {
			return nil, err
		}
	}
	return page, nil
}

// readPageBytes reads the raw page at offset (id+1)*P. The heapfile is
// opened read-only per call; concurrent loads are independent at the
// OS layer.
func (t *Tree) readPageBytes(id uint64) ([]byte, error) {
	f, err := os.Open(t.filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errPageMissing
		}
		return nil, fmt.Errorf("open heapfile %s: %w", t.filename, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat heapfile %s: %w", t.filename, err)
	}
	offset := int64(id+1) * int64(t.pageSize)
	if offset >= info.Size() {
		return nil, errPageMissing
	}

	buf := make([]byte, t.pageSize)
	if _, err := f.ReadAt(buf, offset); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("short read of page %d: %w", id, err)
		}
		return nil, fmt.Errorf("read page %d: %w", id, err)
	}
	return buf, nil
}

// flushPage writes a resident page to disk if it is dirty and releases
// it from the cache, the lock map and the swap. Flushing an id that is
// no longer resident is a no-op; a half-resident id is fatal.
func (t *Tree) flushPage(id uint64) error {
	t.mu.RLock()
	page, _ := t.resident.Get(id)
	lock, _ := t.locks.Get(id)
	t.mu.RUnlock()

	if page == nil && lock == nil {
		debugf("[%s] page %d has already been flushed", t.filename, id)
		return nil
	}
	invariant(page != nil && lock != nil, "page/lock inconsistency while flushing page %d", id)

	lock.Lock()
	if page.dirty {
		if err := t.writePage(page, id); err != nil {
			lock.Unlock()
			return err
		}
	}
	t.mu.Lock()
	t.resident.Unset(id)
	t.locks.Unset(id)
	t.swap.UnsetPriority(id)
	t.mu.Unlock()
	lock.Unlock()
	return nil
}

// writePage serializes a page and writes it at its offset, clearing
// the dirty flag on success.
func (t *Tree) writePage(page *Page, id uint64) error {
	buf, err := t.serializePage(page)
	if err != nil {
		return fmt.Errorf("page %d: %w", id, err)
	}
	f, err := os.OpenFile(t.filename, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open heapfile %s: %w", t.filename, err)
	}
	if _, err := f.WriteAt(buf, int64(id+1)*int64(t.pageSize)); err != nil {
		f.Close()
		return fmt.Errorf("write page %d: %w", id, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close heapfile: %w", err)
	}
	page.dirty = false
	return nil
}
