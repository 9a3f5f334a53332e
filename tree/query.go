package tree

import (
	"errors"

	"github.com/intellect4all/heaptree/common"
	"github.com/intellect4all/heaptree/container"
)

// Point lookups and range scans. All read-only traversals acquire
// per-page locks without blocking; when a structural modification
// holds a page (or has renumbered it away), the traversal clears its
// state and restarts from the root, giving writers forward progress
// under long reads.

// FindAny returns the object id of one record matching key.
func (t *Tree) FindAny(key []float32) (uint64, error) {
	invariant(t.variant == Spatial, "spatial lookup on a graph tree")
	if t.isClosed() {
		return 0, common.ErrClosed
	}
	if err := t.ensureLoadedRoot(); err != nil {
		return 0, err
	}
	t.mu.RLock()
	contained := keyEnclosedByBox(key, t.rootBox)
	t.mu.RUnlock()
	if !contained {
		return 0, common.ErrNotFound
	}

	browse := container.NewQueue[uint64]()
search:
	for {
		browse.Clear()
		browse.PushTail(0)
		for browse.Len() > 0 {
			pageID := browse.PopHead()
			page, err := t.loadPage(pageID)
			if err != nil {
				return 0, err
			}
			t.mu.RLock()
			lock, ok := t.locks.Get(pageID)
			t.mu.RUnlock()
			if !ok || !lock.TryRLock() {
				continue search
			}
			if page.leaf {
				leaf := page.node.(*spatialLeaf)
				for i := uint32(0); i < page.records; i++ {
					if equalKeys(leaf.key(i), key) {
						object := leaf.objects[i]
						lock.RUnlock()
						return object, nil
					}
				}
			} else {
				in := page.node.(*spatialInternal)
				for i := uint32(0); i < page.records; i++ {
					if keyEnclosedByBox(key, in.box(i)) {
						browse.PushTail(t.childID(pageID, uint64(i)))
					}
				}
			}
			lock.RUnlock()
		}
		return 0, common.ErrNotFound
	}
}

// FindAll returns the object ids of every record matching key, one
// entry per duplicate.
func (t *Tree) FindAll(key []float32) ([]uint64, error) {
	invariant(t.variant == Spatial, "spatial lookup on a graph tree")
	if t.isClosed() {
		return nil, common.ErrClosed
	}
	if err := t.ensureLoadedRoot(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	contained := keyEnclosedByBox(key, t.rootBox)
	t.mu.RUnlock()
	if !contained {
		return nil, nil
	}

	browse := container.NewQueue[uint64]()
search:
	for {
		var result []uint64
		browse.Clear()
		browse.PushTail(0)
		for browse.Len() > 0 {
			pageID := browse.PopHead()
			page, err := t.loadPage(pageID)
			if err != nil {
				return nil, err
			}
			t.mu.RLock()
			lock, ok := t.locks.Get(pageID)
			t.mu.RUnlock()
			if !ok || !lock.TryRLock() {
				continue search
			}
			if page.leaf {
				leaf := page.node.(*spatialLeaf)
				for i := uint32(0); i < page.records; i++ {
					if equalKeys(leaf.key(i), key) {
						result = append(result, leaf.objects[i])
					}
				}
			} else {
				in := page.node.(*spatialInternal)
				for i := uint32(0); i < page.records; i++ {
					if keyEnclosedByBox(key, in.box(i)) {
						browse.PushTail(t.childID(pageID, uint64(i)))
					}
				}
			}
			lock.RUnlock()
		}
		return result, nil
	}
}

// Range returns every record whose key falls inside the box spanned by
// lo and hi (inclusive on both ends).
func (t *Tree) Range(lo, hi []float32) ([]DataPair, error) {
	invariant(t.variant == Spatial, "spatial range scan on a graph tree")
	if t.isClosed() {
		return nil, common.ErrClosed
	}
	query := make([]Interval, t.dims)
	for j := range query {
		if lo[j] > hi[j] {
			return nil, errors.New("erroneous range query: lower bound exceeds upper bound")
		}
		query[j] = Interval{Start: lo[j], End: hi[j]}
	}
	if err := t.ensureLoadedRoot(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	overlaps := overlappingBoxes(query, t.rootBox)
	t.mu.RUnlock()
	if !overlaps {
		return nil, nil
	}

	browse := container.NewQueue[uint64]()
search:
	for {
		var result []DataPair
		browse.Clear()
		browse.PushTail(0)
		for browse.Len() > 0 {
			pageID := browse.PopHead()
			page, err := t.loadPage(pageID)
			if err != nil {
				return nil, err
			}
			t.mu.RLock()
			lock, ok := t.locks.Get(pageID)
			t.mu.RUnlock()
			if !ok || !lock.TryRLock() {
				continue search
			}
			if page.leaf {
				leaf := page.node.(*spatialLeaf)
				for i := uint32(0); i < page.records; i++ {
					if keyEnclosedByBox(leaf.key(i), query) {
						key := make([]float32, t.dims)
						copy(key, leaf.key(i))
						result = append(result, DataPair{Key: key, Object: leaf.objects[i]})
					}
				}
			} else {
				in := page.node.(*spatialInternal)
				for i := uint32(0); i < page.records; i++ {
					if overlappingBoxes(query, in.box(i)) {
						browse.PushTail(t.childID(pageID, uint64(i)))
					}
				}
			}
			lock.RUnlock()
		}
		return result, nil
	}
}

// ensureLoadedRoot loads the root so that the cached root cover is
// current; a heapfile with no pages yet simply has nothing to find.
func (t *Tree) ensureLoadedRoot() error {
	if _, err := t.loadPage(0); err != nil && !errors.Is(err, errPageMissing) {
		return err
	}
	return nil
}
