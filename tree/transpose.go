package tree

import (
	"sync"

	"github.com/intellect4all/heaptree/container"
	"github.com/intellect4all/heaptree/swap"
)

// pageChange is a renumbered page waiting to be reseated at its new
// identifier.
type pageChange struct {
	id   uint64
	page *Page
}

// transposeSubtree renumbers the subtree rooted at from so that every
// descendant acquires the id it would have had if from had been to all
// along. Pages are pulled out of the cache (and the swap, and the lock
// map) as they are visited, so a concurrent reader that races the move
// fails its lock lookup and restarts from the root. The renumbered
// pages are returned as a deferred change set; nothing is reseated
// here. The caller must drain the changes — in ascending destination
// order — before any other operation may observe either id.
func (t *Tree) transposeSubtree(from, to uint64) ([]pageChange, error) {
	original := container.NewQueue[uint64]()
	transposed := container.NewQueue[uint64]()
	original.PushTail(from)
	transposed.PushTail(to)

	var changes []pageChange
	for original.Len() > 0 {
		invariant(original.Len() == transposed.Len(), "transposition queues diverged")
		a := original.PopHead()
		b := transposed.PopHead()
		if a == b {
			continue
		}
		debugf("[%s] transposing page %d to %d", t.filename, a, b)

		page, err := t.loadPage(a)
		if err != nil {
			return nil, err
		}
		t.mu.RLock()
		lock, _ := t.locks.Get(a)
		t.mu.RUnlock()
		invariant(lock != nil, "transposing page %d without a lock", a)

		t.mu.Lock()
		t.resident.Unset(a)
		t.locks.Unset(a)
		t.swap.UnsetPriority(a)
		invariant(!t.swap.IsActive(a), "transposed page %d still active in swap", a)
		t.mu.Unlock()

		lock.Lock()
		page.dirty = true
		if !page.leaf {
			for offset := uint64(0); offset < uint64(page.records); offset++ {
				original.PushTail(t.childID(a, offset))
				transposed.PushTail(t.childID(b, offset))
			}
		}
		lock.Unlock()

		changes = append(changes, pageChange{id: b, page: page})
	}
	return changes, nil
}

// applyChanges drains a transposition change set in ascending
// destination order, so on-disk overwrites progress monotonically.
// With the dump policy each page is written at its new offset and
// discarded; otherwise it is reinstalled in the cache under a fresh
// lock and a fresh swap entry.
func (t *Tree) applyChanges(changes []pageChange) error {
	if t.dump {
		return t.writeChanges(changes)
	}
	for _, c := range ascending(changes) {
		t.mu.Lock()
		evicted := t.swap.SetPriority(c.id, t.nextPriorityLocked())
		invariant(t.swap.IsActive(c.id), "reseated page %d absent from swap", c.id)
		t.mu.Unlock()

		invariant(evicted != c.id, "page %d evicted itself while reseating", c.id)
		if evicted != swap.None {
			debugf("[%s] swapping page %d for page %d", t.filename, evicted, c.id)
			if err := t.flushPage(evicted); err != nil {
				return err
			}
		}

		t.mu.Lock()
		t.resident.Set(c.id, c.page)
		if _, ok := t.locks.Get(c.id); !ok {
			t.locks.Set(c.id, new(sync.RWMutex))
		}
		t.mu.Unlock()
	}
	return nil
}

// writeChanges writes a change set to disk in ascending destination
// order and discards the pages.
func (t *Tree) writeChanges(changes []pageChange) error {
	for _, c := range ascending(changes) {
		// A reader racing the transposition may have pulled a stale
		// copy of the destination id from disk; drop it before
		// overwriting.
		t.mu.Lock()
		t.resident.Unset(c.id)
		t.locks.Unset(c.id)
		t.swap.UnsetPriority(c.id)
		t.mu.Unlock()

		if err := t.writePage(c.page, c.id); err != nil {
			return err
		}
	}
	return nil
}

func ascending(changes []pageChange) []pageChange {
	sorted := container.NewHeap[pageChange](func(a, b pageChange) bool { return a.id < b.id })
	for _, c := range changes {
		sorted.Push(c)
	}
	out := make([]pageChange, 0, len(changes))
	for sorted.Len() > 0 {
		out = append(out, sorted.Pop())
	}
	return out
}
