package tree

import (
	"errors"
	"math"

	"github.com/intellect4all/heaptree/common"
	"github.com/intellect4all/heaptree/container"
)

// Insert adds a d-dimensional record. Duplicate keys are permitted;
// each insert adds one record. The walk prefers the least-loaded leaf
// whose ancestry already contains the key; failing that it follows the
// minimum-volume-expansion path, splitting full pages along the way
// and propagating cover changes upward.
func (t *Tree) Insert(key []float32, object uint64) error {
	invariant(t.variant == Spatial, "spatial insert into a graph tree")
	invariant(len(key) == int(t.dims), "key of %d dimensions inserted into a %d-dimensional tree", len(key), t.dims)
	if t.isClosed() {
		return common.ErrClosed
	}
	if err := t.ensureRoot(); err != nil {
		return err
	}

	t.mu.Lock()
	t.dirty = true
	t.indexedRecords++
	t.mu.Unlock()

	var (
		minLoad uint32 = math.MaxUint32
		minPos  uint64
		minLeaf *Page
	)
	browse := container.NewStack[uint64]()
	browse.Push(0)
	for browse.Len() > 0 {
		position := browse.Pop()
		page, err := t.loadPage(position)
		if err != nil {
			return err
		}
		lock := t.pageLock(position)
		lock.RLock()
		if page.leaf {
			if page.records < minLoad {
				minLoad = page.records
				minPos = position
				minLeaf = page
			}
		} else {
			in := page.node.(*spatialInternal)
			for i := uint32(0); i < page.records; i++ {
				if keyEnclosedByBox(key, in.box(i)) {
					browse.Push(t.childID(position, uint64(i)))
				}
			}
		}
		lock.RUnlock()
	}

	if minLeaf == nil {
		return t.insertExpanding(key, object)
	}

	lock := t.pageLock(minPos)
	lock.RLock()
	records := minLeaf.records
	lock.RUnlock()

	if records >= t.leafEntries {
		position, err := t.splitLeaf(minPos)
		if err != nil {
			return err
		}
		chosen, contained, err := t.chooseSplitTarget(position, key)
		if err != nil {
			return err
		}
		if !contained {
			// Neither half contains the key; fall back to the
			// expansion path from the root.
			return t.insertExpanding(key, object)
		}
		minPos = chosen
	}

	leaf, err := t.loadPage(minPos)
	if err != nil {
		return err
	}
	lock = t.pageLock(minPos)
	lock.Lock()
	leaf.dirty = true
	t.leafInsert(leaf, key, object)
	lock.Unlock()

	if minPos == 0 {
		return t.refreshRootCover()
	}
	return nil
}

// ensureRoot bootstraps the root page if the heapfile holds none.
func (t *Tree) ensureRoot() error {
	if _, err := t.loadPage(0); err != nil {
		if errors.Is(err, errPageMissing) {
			return t.newRoot()
		}
		return err
	}
	return nil
}

func (t *Tree) leafInsert(leaf *Page, key []float32, object uint64) {
	invariant(leaf.leaf, "record inserted into internal page")
	invariant(leaf.records < t.leafEntries, "record inserted into full leaf")
	node := leaf.node.(*spatialLeaf)
	copy(node.key(leaf.records), key)
	node.objects[leaf.records] = object
	leaf.records++
}

// chooseSplitTarget picks between the two halves of a fresh leaf
// split: a half containing the key wins, the less loaded one when both
// do.
func (t *Tree) chooseSplitTarget(position uint64, key []float32) (uint64, bool, error) {
	parent, err := t.loadPage(t.parentID(position))
	if err != nil {
		return 0, false, err
	}
	parentLock := t.pageLock(t.parentID(position))
	parentLock.RLock()
	sibling := t.childID(t.parentID(position), uint64(parent.records-1))
	parentLock.RUnlock()

	positionBox, err := t.boxOf(position)
	if err != nil {
		return 0, false, err
	}
	siblingBox, err := t.boxOf(sibling)
	if err != nil {
		return 0, false, err
	}
	former := keyEnclosedByBox(key, positionBox)
	latter := keyEnclosedByBox(key, siblingBox)
	switch {
	case former && latter:
		lo, err := t.loadPage(position)
		if err != nil {
			return 0, false, err
		}
		hi, err := t.loadPage(sibling)
		if err != nil {
			return 0, false, err
		}
		if hi.records < lo.records {
			return sibling, true, nil
		}
		return position, true, nil
	case latter:
		return sibling, true, nil
	case former:
		return position, true, nil
	default:
		return position, false, nil
	}
}

// boxOf returns a copy of the bounding box of id: the root box for id
// 0, the parent's slot otherwise.
func (t *Tree) boxOf(id uint64) ([]Interval, error) {
	box := make([]Interval, t.dims)
	if id == 0 {
		t.mu.RLock()
		copy(box, t.rootBox)
		t.mu.RUnlock()
		return box, nil
	}
	parent, err := t.loadPage(t.parentID(id))
	if err != nil {
		return nil, err
	}
	parentLock := t.pageLock(t.parentID(id))
	parentLock.RLock()
	copy(box, parent.node.(*spatialInternal).box(t.childOffset(id)))
	parentLock.RUnlock()
	return box, nil
}

// insertExpanding places a key that no leaf ancestry contains: a
// best-first descent by volume expansion finds the cheapest leaf,
// and after the insert every ancestor slot on the path is stretched
// until one already covers the key.
func (t *Tree) insertExpanding(key []float32, object uint64) error {
	type candidate struct {
		id     uint64
		volume float32
	}
	frontier := container.NewHeap[candidate](func(a, b candidate) bool { return a.volume < b.volume })
	frontier.Push(candidate{id: 0})

	for frontier.Len() > 0 {
		position := frontier.Pop().id
		page, err := t.loadPage(position)
		if err != nil {
			return err
		}
		lock := t.pageLock(position)
		lock.RLock()

		if !page.leaf {
			in := page.node.(*spatialInternal)
			for i := uint32(0); i < page.records; i++ {
				frontier.Push(candidate{
					id:     t.childID(position, uint64(i)),
					volume: expansionVolume(key, in.box(i)),
				})
			}
			lock.RUnlock()
			continue
		}

		if page.records >= t.leafEntries {
			lock.RUnlock()
			position, err = t.splitLeaf(position)
			if err != nil {
				return err
			}
			chosen, _, err := t.chooseSplitTarget(position, key)
			if err != nil {
				return err
			}
			position = chosen
			page, err = t.loadPage(position)
			if err != nil {
				return err
			}
			lock = t.pageLock(position)
		} else {
			lock.RUnlock()
		}

		lock.Lock()
		t.leafInsert(page, key, object)
		page.dirty = true
		lock.Unlock()

		// Stretch ancestor slots until one already covers the key.
		for ; position != 0; position = t.parentID(position) {
			parent, err := t.loadPage(t.parentID(position))
			if err != nil {
				return err
			}
			parentLock := t.pageLock(t.parentID(position))
			offset := t.childOffset(position)

			parentLock.Lock()
			slot := parent.node.(*spatialInternal).box(offset)
			if keyEnclosedByBox(key, slot) {
				parentLock.Unlock()
				break
			}
			for j := range slot {
				if key[j] < slot[j].Start {
					slot[j].Start = key[j]
				} else if key[j] > slot[j].End {
					slot[j].End = key[j]
				}
			}
			parent.dirty = true
			parentLock.Unlock()
		}

		if position == 0 {
			t.mu.Lock()
			for j := range t.rootBox {
				if key[j] < t.rootBox[j].Start {
					t.rootBox[j].Start = key[j]
				}
				if key[j] > t.rootBox[j].End {
					t.rootBox[j].End = key[j]
				}
			}
			t.dirty = true
			t.mu.Unlock()
		}
		return nil
	}
	invariant(false, "expansion descent found no leaf")
	return nil
}
