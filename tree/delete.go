package tree

import (
	"github.com/intellect4all/heaptree/common"
	"github.com/intellect4all/heaptree/container"
	"github.com/intellect4all/heaptree/swap"
)

// Delete removes one record matching key and returns its object id.
// Duplicate keys require repeated calls. A leaf left below minimum
// occupancy is dissolved: its surviving records are set aside, the
// structural hole cascades upward (a parent that underflows in turn
// harvests its own subtree), and every set-aside record is reinserted
// from the top.
func (t *Tree) Delete(key []float32) (uint64, error) {
	invariant(t.variant == Spatial, "spatial delete on a graph tree")
	if t.isClosed() {
		return 0, common.ErrClosed
	}

	browse := container.NewStack[uint64]()
	browse.Push(0)
	for browse.Len() > 0 {
		pageID := browse.Pop()
		page, err := t.loadPage(pageID)
		if err != nil {
			return 0, err
		}
		lock := t.pageLock(pageID)
		lock.RLock()

		if !page.leaf {
			in := page.node.(*spatialInternal)
			for i := uint32(0); i < page.records; i++ {
				if keyEnclosedByBox(key, in.box(i)) {
					browse.Push(t.childID(pageID, uint64(i)))
				}
			}
			lock.RUnlock()
			continue
		}

		leaf := page.node.(*spatialLeaf)
		matched := int32(-1)
		for i := uint32(0); i < page.records; i++ {
			if equalKeys(leaf.key(i), key) {
				matched = int32(i)
				break
			}
		}
		lock.RUnlock()
		if matched < 0 {
			continue
		}

		lock.Lock()
		result := leaf.objects[matched]
		i := uint32(matched)

		if pageID != 0 && page.records <= t.minLeafRecords() {
			// The leaf dies. Detach it, cascade the hole upward, then
			// reinsert its surviving records from the top.
			t.mu.Lock()
			t.resident.Unset(pageID)
			t.locks.Unset(pageID)
			t.swap.UnsetPriority(pageID)
			t.dirty = true
			t.mu.Unlock()
			page.dirty = true

			if err := t.cascadeDeletion(t.parentID(pageID), t.childOffset(pageID)); err != nil {
				lock.Unlock()
				return 0, err
			}

			for j := uint32(0); j < page.records; j++ {
				if j == i {
					continue
				}
				t.mu.Lock()
				t.indexedRecords--
				t.mu.Unlock()
				carried := make([]float32, t.dims)
				copy(carried, leaf.key(j))
				if err := t.Insert(carried, leaf.objects[j]); err != nil {
					lock.Unlock()
					return 0, err
				}
			}

			t.mu.Lock()
			t.indexedRecords--
			t.treeSize--
			t.mu.Unlock()
			lock.Unlock()
			return result, nil
		}

		if i < page.records-1 {
			copy(leaf.key(i), leaf.key(page.records-1))
			leaf.objects[i] = leaf.objects[page.records-1]
		}
		page.records--
		page.dirty = true
		lock.Unlock()

		t.mu.Lock()
		t.indexedRecords--
		t.dirty = true
		t.mu.Unlock()

		if err := t.updateUpwards(pageID); err != nil {
			return 0, err
		}
		return result, nil
	}

	debugf("[%s] attempted to delete a non-existent record", t.filename)
	return 0, common.ErrNotFound
}

// cascadeDeletion removes the child at the given slot of an internal
// page.
//
// Case 0: the page keeps enough children — the last slot is swapped
// into the hole and its subtree is transposed onto the vacated ids.
// Case I: a non-root page underflows — its surviving records are
// harvested, the page dissolves, the hole cascades to its parent, and
// the harvest is reinserted.
// Case II: the root has exactly two children and loses one — the
// survivor's subtree is transposed onto id 0 and its cover becomes the root
// cover. Any other state is a fatal invariant violation.
func (t *Tree) cascadeDeletion(pageID uint64, offset uint32) error {
	debugf("[%s] cascaded deletion reached page %d slot %d", t.filename, pageID, offset)

	page, err := t.loadPage(pageID)
	if err != nil {
		return err
	}
	t.mu.Lock()
	lock, _ := t.locks.Get(pageID)
	t.dirty = true
	t.mu.Unlock()
	invariant(lock != nil, "cascading into page %d without a lock", pageID)

	lock.Lock()
	invariant(offset < page.records, "cascading into slot %d of page %d holding %d children", offset, pageID, page.records)
	invariant(!page.leaf, "cascaded deletion reached a leaf")
	page.dirty = true

	removed := false
	switch {
	// Case 0 applies when enough children remain after the removal;
	// the root only needs to keep two.
	case page.records > t.minInternalRecords() || (pageID == 0 && page.records > 2):
		// Case 0
		deletedID := t.childID(pageID, uint64(offset))
		replacementID := t.childID(pageID, uint64(page.records-1))
		if deletedID < replacementID {
			if t.variant == Spatial {
				in := page.node.(*spatialInternal)
				copy(in.box(offset), in.box(page.records-1))
			} else {
				gr := page.node.(*graphInternal)
				gr.ranges[offset] = gr.ranges[page.records-1]
			}

			// Pin this page: its lock is held for writing, so the
			// moves below must not evict it.
			t.mu.Lock()
			t.swap.UnsetPriority(pageID)
			t.mu.Unlock()

			changes, err := t.transposeSubtree(replacementID, deletedID)
			if err != nil {
				lock.Unlock()
				return err
			}
			if err := t.applyChanges(changes); err != nil {
				lock.Unlock()
				return err
			}

			t.mu.Lock()
			evicted := t.swap.SetPriority(pageID, t.nextPriorityLocked())
			t.mu.Unlock()
			invariant(evicted != pageID, "page %d evicted itself while re-admitting", pageID)
			if evicted != swap.None {
				if err := t.flushPage(evicted); err != nil {
					lock.Unlock()
					return err
				}
			}
		}

	case pageID != 0:
		// Case I
		t.mu.Lock()
		t.resident.Unset(pageID)
		t.locks.Unset(pageID)
		t.swap.UnsetPriority(pageID)
		t.mu.Unlock()

		pairs, arcs, err := t.harvestChildren(pageID, page, offset)
		if err != nil {
			lock.Unlock()
			return err
		}

		if err := t.cascadeDeletion(t.parentID(pageID), t.childOffset(pageID)); err != nil {
			lock.Unlock()
			return err
		}

		for _, pair := range pairs {
			if err := t.Insert(pair.Key, pair.Object); err != nil {
				lock.Unlock()
				return err
			}
		}
		for _, arc := range arcs {
			if err := t.InsertArc(arc.From, arc.To, arc.Weight); err != nil {
				lock.Unlock()
				return err
			}
		}
		removed = true

	case page.records == 2:
		// Case II
		t.mu.Lock()
		t.resident.Unset(pageID)
		t.locks.Unset(pageID)
		t.swap.UnsetPriority(pageID)
		t.mu.Unlock()

		survivorSlot := uint32(1)
		survivorID := uint64(2)
		if offset == 1 {
			survivorSlot = 0
			survivorID = 1
		}
		changes, err := t.transposeSubtree(survivorID, 0)
		if err != nil {
			lock.Unlock()
			return err
		}
		if err := t.applyChanges(changes); err != nil {
			lock.Unlock()
			return err
		}

		t.mu.Lock()
		if t.variant == Spatial {
			copy(t.rootBox, page.node.(*spatialInternal).box(survivorSlot))
		} else {
			*t.rootRange = page.node.(*graphInternal).ranges[survivorSlot]
		}
		t.mu.Unlock()
		removed = true

	default:
		invariant(false, "root collapse attempted with %d children", page.records)
	}

	if removed {
		lock.Unlock()
		t.mu.Lock()
		t.treeSize--
		t.mu.Unlock()
		return nil
	}

	page.records--
	lock.Unlock()
	return t.updateUpwards(pageID)
}

// harvestChildren pulls every record out of the subtrees under page,
// skipping the child at skip, dropping the visited pages from the
// cache and from the page count, and decrementing the record count for
// each harvested entry (reinsertion restores it).
func (t *Tree) harvestChildren(pageID uint64, page *Page, skip uint32) ([]DataPair, []Arc, error) {
	var pairs []DataPair
	var arcs []Arc

	browse := container.NewStack[uint64]()
	for i := uint32(0); i < page.records; i++ {
		if i != skip {
			browse.Push(t.childID(pageID, uint64(i)))
		}
	}

	for browse.Len() > 0 {
		subsumedID := browse.Pop()
		if _, err := t.loadPage(subsumedID); err != nil {
			return nil, nil, err
		}
		t.mu.Lock()
		subsumed, _ := t.resident.Unset(subsumedID)
		subsumedLock, _ := t.locks.Unset(subsumedID)
		t.swap.UnsetPriority(subsumedID)
		t.treeSize--
		t.mu.Unlock()
		invariant(subsumed != nil && subsumedLock != nil, "harvested page %d missing from cache", subsumedID)

		subsumedLock.Lock()
		subsumed.dirty = true
		if subsumed.leaf {
			if t.variant == Spatial {
				leaf := subsumed.node.(*spatialLeaf)
				for i := uint32(0); i < subsumed.records; i++ {
					key := make([]float32, t.dims)
					copy(key, leaf.key(i))
					pairs = append(pairs, DataPair{Key: key, Object: leaf.objects[i]})
					t.mu.Lock()
					t.indexedRecords--
					t.mu.Unlock()
				}
			} else {
				leaf := subsumed.node.(*graphLeaf)
				position := 0
				for i := uint32(0); i < subsumed.records; i++ {
					for k := 0; k < int(leaf.ptrs[i]); k++ {
						arcs = append(arcs, Arc{From: leaf.from[i], To: leaf.to[position], Weight: leaf.weights[position]})
						position++
						t.mu.Lock()
						t.indexedRecords--
						t.mu.Unlock()
					}
				}
			}
		} else {
			for i := uint32(0); i < subsumed.records; i++ {
				browse.Push(t.childID(subsumedID, uint64(i)))
			}
		}
		subsumedLock.Unlock()
	}
	return pairs, arcs, nil
}
