package tree

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/intellect4all/heaptree/common"
	"github.com/intellect4all/heaptree/container"
)

// Graph-variant operations. A graph tree indexes weighted directed
// arcs grouped by source: leaves hold per-source adjacency lists,
// internal pages hold source-id ranges, and everything else — cache,
// swap, transposition, cascades — is shared with the spatial variant.

// InsertArc adds one weighted arc. The arcs of a source always live in
// one record of one leaf; a leaf is full when either its record slots
// or its page bytes run out, and splits by source id.
func (t *Tree) InsertArc(from, to uint64, weight float32) error {
	invariant(t.variant == Graph, "arc inserted into a spatial tree")
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

	position, err := t.locateArcLeaf(from)
	if err != nil {
		return err
	}
	for {
		page, err := t.loadPage(position)
		if err != nil {
			return err
		}
		lock := t.pageLock(position)
		lock.Lock()
		fits, overflow := t.graphArcCapacity(page, from)
		if overflow {
			lock.Unlock()
			return fmt.Errorf("adjacency list of source %d exceeds page capacity: %w", from, common.ErrCorruptPage)
		}
		if fits {
			t.graphLeafInsert(page, from, to, weight)
			page.dirty = true
			lock.Unlock()
			break
		}
		lock.Unlock()

		position, err = t.splitGraphLeaf(position)
		if err != nil {
			return err
		}
		position, err = t.chooseGraphTarget(position, from)
		if err != nil {
			return err
		}
	}
	return t.updateUpwards(position)
}

// locateArcLeaf finds the leaf that should receive an arc of the given
// source: the leaf already holding the source wins, then the
// least-loaded leaf whose ancestry covers it, then the leaf reached by
// the smallest range expansion.
func (t *Tree) locateArcLeaf(from uint64) (uint64, error) {
	var (
		holder  = noID
		minPos  = noID
		minLoad uint32 = math.MaxUint32
	)
	browse := container.NewStack[uint64]()
	browse.Push(0)
	for browse.Len() > 0 {
		position := browse.Pop()
		page, err := t.loadPage(position)
		if err != nil {
			return 0, err
		}
		lock := t.pageLock(position)
		lock.RLock()
		if page.leaf {
			leaf := page.node.(*graphLeaf)
			for i := uint32(0); i < page.records; i++ {
				if leaf.from[i] == from {
					holder = position
					break
				}
			}
			if page.records < minLoad {
				minLoad = page.records
				minPos = position
			}
		} else {
			gr := page.node.(*graphInternal)
			for i := uint32(0); i < page.records; i++ {
				if rangeContains(gr.ranges[i], from) {
					browse.Push(t.childID(position, uint64(i)))
				}
			}
		}
		lock.RUnlock()
		if holder != noID {
			return holder, nil
		}
	}
	if minPos != noID {
		return minPos, nil
	}

	// No covering leaf: descend best-first by range expansion.
	type candidate struct {
		id        uint64
		expansion uint64
	}
	frontier := container.NewHeap[candidate](func(a, b candidate) bool { return a.expansion < b.expansion })
	frontier.Push(candidate{id: 0})
	for frontier.Len() > 0 {
		position := frontier.Pop().id
		page, err := t.loadPage(position)
		if err != nil {
			return 0, err
		}
		if page.leaf {
			return position, nil
		}
		lock := t.pageLock(position)
		lock.RLock()
		gr := page.node.(*graphInternal)
		for i := uint32(0); i < page.records; i++ {
			frontier.Push(candidate{
				id:        t.childID(position, uint64(i)),
				expansion: rangeExpansion(gr.ranges[i], from),
			})
		}
		lock.RUnlock()
	}
	invariant(false, "range expansion descent found no leaf")
	return 0, nil
}

// graphArcCapacity reports whether one more arc of the given source
// fits the leaf, and whether it can never fit (out-degree or page
// capacity exhausted beyond what a split can fix).
func (t *Tree) graphArcCapacity(page *Page, from uint64) (fits, overflow bool) {
	leaf := page.node.(*graphLeaf)
	size := t.serializedSize(page)
	for i := uint32(0); i < page.records; i++ {
		if leaf.from[i] == from {
			if leaf.ptrs[i] == math.MaxUint16 {
				return false, true
			}
			if size+12 <= int(t.pageSize) {
				return true, false
			}
			// A lone record cannot shed bytes by splitting.
			return false, page.records == 1
		}
	}
	if page.records < t.leafEntries && size+10+12 <= int(t.pageSize) {
		return true, false
	}
	// A split moves whole records; fewer than two leaves nothing to
	// move.
	return false, page.records <= 1
}

// graphLeafInsert appends an arc to its source's adjacency slice,
// creating the record if the source is new to the leaf. The caller
// holds the page lock for writing and has checked capacity.
func (t *Tree) graphLeafInsert(page *Page, from, to uint64, weight float32) {
	leaf := page.node.(*graphLeaf)
	for i := uint32(0); i < page.records; i++ {
		if leaf.from[i] != from {
			continue
		}
		at := leaf.arcOffset(i) + int(leaf.ptrs[i])
		leaf.to = append(leaf.to, 0)
		copy(leaf.to[at+1:], leaf.to[at:])
		leaf.to[at] = to
		leaf.weights = append(leaf.weights, 0)
		copy(leaf.weights[at+1:], leaf.weights[at:])
		leaf.weights[at] = weight
		leaf.ptrs[i]++
		return
	}
	leaf.from[page.records] = from
	leaf.ptrs[page.records] = 1
	leaf.to = append(leaf.to, to)
	leaf.weights = append(leaf.weights, weight)
	page.records++
}

// chooseGraphTarget picks between the two halves of a fresh leaf
// split for the given source.
func (t *Tree) chooseGraphTarget(position uint64, from uint64) (uint64, error) {
	parent, err := t.loadPage(t.parentID(position))
	if err != nil {
		return 0, err
	}
	parentLock := t.pageLock(t.parentID(position))
	parentLock.RLock()
	sibling := t.childID(t.parentID(position), uint64(parent.records-1))
	parentLock.RUnlock()

	loRange, err := t.rangeOf(position)
	if err != nil {
		return 0, err
	}
	hiRange, err := t.rangeOf(sibling)
	if err != nil {
		return 0, err
	}
	former := rangeContains(loRange, from)
	latter := rangeContains(hiRange, from)
	switch {
	case former && latter:
		lo, err := t.loadPage(position)
		if err != nil {
			return 0, err
		}
		hi, err := t.loadPage(sibling)
		if err != nil {
			return 0, err
		}
		if hi.records < lo.records {
			return sibling, nil
		}
		return position, nil
	case latter:
		return sibling, nil
	case former:
		return position, nil
	default:
		if rangeExpansion(hiRange, from) < rangeExpansion(loRange, from) {
			return sibling, nil
		}
		return position, nil
	}
}

// rangeOf returns the source-id range covering id: the root range for
// id 0, the parent's slot otherwise.
func (t *Tree) rangeOf(id uint64) (ObjectRange, error) {
	if id == 0 {
		t.mu.RLock()
		defer t.mu.RUnlock()
		return *t.rootRange, nil
	}
	parent, err := t.loadPage(t.parentID(id))
	if err != nil {
		return ObjectRange{}, err
	}
	parentLock := t.pageLock(t.parentID(id))
	parentLock.RLock()
	defer parentLock.RUnlock()
	return parent.node.(*graphInternal).ranges[t.childOffset(id)], nil
}

// splitGraphLeaf splits an overfull adjacency leaf by source id; whole
// records move, so a source's arcs never span pages.
func (t *Tree) splitGraphLeaf(position uint64) (uint64, error) {
	debugf("[%s] splitting adjacency leaf at position %d", t.filename, position)

	position, err := t.ensureLeafParent(position)
	if err != nil {
		return 0, err
	}
	over, err := t.loadPage(position)
	if err != nil {
		return 0, err
	}
	parent, err := t.loadPage(t.parentID(position))
	if err != nil {
		return 0, err
	}
	invariant(over.leaf, "leaf split starting from internal page %d", position)
	lock := t.pageLock(position)
	parentLock := t.pageLock(t.parentID(position))

	loOffset := t.childOffset(position)
	parentLock.RLock()
	hiOffset := parent.records
	parentLock.RUnlock()
	hiID := t.childID(t.parentID(position), uint64(hiOffset))

	loPage := t.newLeafPage()
	hiPage := t.newLeafPage()

	lock.RLock()
	leaf := over.node.(*graphLeaf)
	order := make([]int, over.records)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return leaf.from[order[a]] < leaf.from[order[b]] })
	half := int(over.records >> 1)

	gin := parent.node.(*graphInternal)
	parentLock.Lock()
	for rank, idx := range order {
		dst, dstOffset := hiPage, hiOffset
		if rank < half {
			dst, dstOffset = loPage, loOffset
		}
		dstLeaf := dst.node.(*graphLeaf)
		dstLeaf.from[dst.records] = leaf.from[idx]
		dstLeaf.ptrs[dst.records] = leaf.ptrs[idx]
		start := leaf.arcOffset(uint32(idx))
		end := start + int(leaf.ptrs[idx])
		dstLeaf.to = append(dstLeaf.to, leaf.to[start:end]...)
		dstLeaf.weights = append(dstLeaf.weights, leaf.weights[start:end]...)

		slot := &gin.ranges[dstOffset]
		source := leaf.from[idx]
		if dst.records == 0 {
			*slot = ObjectRange{Start: source, End: source}
		} else {
			if source < slot.Start {
				slot.Start = source
			}
			if source > slot.End {
				slot.End = source
			}
		}
		dst.records++
	}
	parent.records++
	parent.dirty = true
	parentLock.Unlock()
	lock.RUnlock()

	invariant(over.records == loPage.records+hiPage.records,
		"adjacency split of %d records produced %d+%d", over.records, loPage.records, hiPage.records)

	if err := t.installSplitPages(position, hiID, loPage, hiPage); err != nil {
		return 0, err
	}
	return position, nil
}

// FindArcs returns every outgoing arc of a source.
func (t *Tree) FindArcs(from uint64) ([]Arc, error) {
	invariant(t.variant == Graph, "arc lookup on a spatial tree")
	if t.isClosed() {
		return nil, common.ErrClosed
	}
	if err := t.ensureLoadedRoot(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	contained := rangeContains(*t.rootRange, from)
	t.mu.RUnlock()
	if !contained {
		return nil, nil
	}

	browse := container.NewQueue[uint64]()
search:
	for {
		var result []Arc
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
				leaf := page.node.(*graphLeaf)
				for i := uint32(0); i < page.records; i++ {
					if leaf.from[i] == from {
						start := leaf.arcOffset(i)
						for k := 0; k < int(leaf.ptrs[i]); k++ {
							result = append(result, Arc{From: from, To: leaf.to[start+k], Weight: leaf.weights[start+k]})
						}
					}
				}
			} else {
				gr := page.node.(*graphInternal)
				for i := uint32(0); i < page.records; i++ {
					if rangeContains(gr.ranges[i], from) {
						browse.PushTail(t.childID(pageID, uint64(i)))
					}
				}
			}
			lock.RUnlock()
		}
		return result, nil
	}
}

// FindArc returns the weight of the arc from→to.
func (t *Tree) FindArc(from, to uint64) (float32, error) {
	arcs, err := t.FindArcs(from)
	if err != nil {
		return 0, err
	}
	for _, arc := range arcs {
		if arc.To == to {
			return arc.Weight, nil
		}
	}
	return 0, common.ErrNotFound
}

// DeleteArc removes the arc from→to and returns its weight. Removing
// the last arc of a source removes the source's record; a leaf left
// below minimum occupancy dissolves through the shared cascade.
func (t *Tree) DeleteArc(from, to uint64) (float32, error) {
	invariant(t.variant == Graph, "arc delete on a spatial tree")
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
			gr := page.node.(*graphInternal)
			for i := uint32(0); i < page.records; i++ {
				if rangeContains(gr.ranges[i], from) {
					browse.Push(t.childID(pageID, uint64(i)))
				}
			}
			lock.RUnlock()
			continue
		}

		leaf := page.node.(*graphLeaf)
		record, arcAt := int32(-1), -1
		for i := uint32(0); i < page.records && record < 0; i++ {
			if leaf.from[i] != from {
				continue
			}
			start := leaf.arcOffset(i)
			for k := 0; k < int(leaf.ptrs[i]); k++ {
				if leaf.to[start+k] == to {
					record = int32(i)
					arcAt = start + k
					break
				}
			}
		}
		lock.RUnlock()
		if record < 0 {
			continue
		}

		lock.Lock()
		i := uint32(record)
		weight := leaf.weights[arcAt]
		dropsRecord := leaf.ptrs[i] == 1

		if dropsRecord && pageID != 0 && page.records <= t.minLeafRecords() {
			if err := t.dissolveGraphLeaf(pageID, page, arcAt, lock); err != nil {
				return 0, err
			}
			return weight, nil
		}

		leaf.to = append(leaf.to[:arcAt], leaf.to[arcAt+1:]...)
		leaf.weights = append(leaf.weights[:arcAt], leaf.weights[arcAt+1:]...)
		leaf.ptrs[i]--
		if dropsRecord {
			copy(leaf.from[i:], leaf.from[i+1:page.records])
			copy(leaf.ptrs[i:], leaf.ptrs[i+1:page.records])
			page.records--
		}
		page.dirty = true
		lock.Unlock()

		t.mu.Lock()
		t.indexedRecords--
		t.dirty = true
		t.mu.Unlock()

		if err := t.updateUpwards(pageID); err != nil {
			return 0, err
		}
		return weight, nil
	}

	debugf("[%s] attempted to delete a non-existent arc", t.filename)
	return 0, common.ErrNotFound
}

// dissolveGraphLeaf detaches an underflowing adjacency leaf, cascades
// the hole upward and reinserts every surviving arc, skipping the one
// at skipArc. The caller holds the page's write lock; the lock is
// released here.
func (t *Tree) dissolveGraphLeaf(pageID uint64, page *Page, skipArc int, lock *sync.RWMutex) error {
	t.mu.Lock()
	t.resident.Unset(pageID)
	t.locks.Unset(pageID)
	t.swap.UnsetPriority(pageID)
	t.dirty = true
	t.mu.Unlock()
	page.dirty = true

	if err := t.cascadeDeletion(t.parentID(pageID), t.childOffset(pageID)); err != nil {
		lock.Unlock()
		return err
	}

	leaf := page.node.(*graphLeaf)
	at := 0
	for i := uint32(0); i < page.records; i++ {
		for k := 0; k < int(leaf.ptrs[i]); k++ {
			if at == skipArc {
				at++
				continue
			}
			t.mu.Lock()
			t.indexedRecords--
			t.mu.Unlock()
			if err := t.InsertArc(leaf.from[i], leaf.to[at], leaf.weights[at]); err != nil {
				lock.Unlock()
				return err
			}
			at++
		}
	}

	t.mu.Lock()
	t.indexedRecords--
	t.treeSize--
	t.mu.Unlock()
	lock.Unlock()
	return nil
}

// DeleteSource removes every arc of a source and returns how many
// arcs were dropped.
func (t *Tree) DeleteSource(from uint64) (int, error) {
	invariant(t.variant == Graph, "arc delete on a spatial tree")
	if t.isClosed() {
		return 0, common.ErrClosed
	}
	dropped := 0
	for {
		arcs, err := t.FindArcs(from)
		if err != nil {
			return dropped, err
		}
		if len(arcs) == 0 {
			if dropped == 0 {
				return 0, common.ErrNotFound
			}
			return dropped, nil
		}
		for _, arc := range arcs {
			if _, err := t.DeleteArc(arc.From, arc.To); err != nil {
				return dropped, err
			}
			dropped++
		}
	}
}
