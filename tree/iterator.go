package tree

import (
	"sync"

	"github.com/intellect4all/heaptree/container"
)

// SubtreeIterator walks the pages of a subtree breadth-first. Every
// page surfaced by Next comes with its per-page lock held for reading;
// the lock is released when the caller advances or closes the
// iterator, so query algorithms can inspect page contents without
// copying while structural modifications stay serialized behind them.
type SubtreeIterator struct {
	t      *Tree
	browse *container.Queue[uint64]

	id   uint64
	page *Page
	lock *sync.RWMutex
	err  error
}

// IterSubtree returns an iterator over the subtree rooted at root
// (pass 0 for the whole tree).
func (t *Tree) IterSubtree(root uint64) *SubtreeIterator {
	browse := container.NewQueue[uint64]()
	browse.PushTail(root)
	return &SubtreeIterator{t: t, browse: browse}
}

// Next advances to the next page, releasing the previous page's lock.
// It returns false when the subtree is exhausted or an error occurred.
func (it *SubtreeIterator) Next() bool {
	it.release()
	if it.err != nil {
		return false
	}
	for it.browse.Len() > 0 {
		id := it.browse.PopHead()
		page, err := it.t.loadPage(id)
		if err != nil {
			it.err = err
			return false
		}
		it.t.mu.RLock()
		lock, ok := it.t.locks.Get(id)
		it.t.mu.RUnlock()
		if !ok {
			// The page was renumbered away between load and lock
			// lookup; it will be reachable under its new id.
			continue
		}
		lock.RLock()
		if !page.leaf {
			for i := uint32(0); i < page.records; i++ {
				it.browse.PushTail(it.t.childID(id, uint64(i)))
			}
		}
		it.id = id
		it.page = page
		it.lock = lock
		return true
	}
	return false
}

// ID returns the identifier of the current page.
func (it *SubtreeIterator) ID() uint64 { return it.id }

// Page returns the current page; valid until the next call to Next or
// Close.
func (it *SubtreeIterator) Page() *Page { return it.page }

// Err returns the first error the iterator encountered.
func (it *SubtreeIterator) Err() error { return it.err }

// Close releases the current page lock.
func (it *SubtreeIterator) Close() {
	it.release()
	it.browse.Clear()
}

func (it *SubtreeIterator) release() {
	if it.lock != nil {
		it.lock.RUnlock()
		it.lock = nil
		it.page = nil
	}
}
