// Package tree implements a disk-resident, page-structured
// multidimensional index over a single heapfile. Pages live in an
// implicit m-ary heap: the root occupies id 0 and the i-th child of
// page p occupies id p*m+i+1, so a page's location in the file is a
// pure function of its id. A tree is either spatial (d-dimensional
// point records under bounding boxes) or graph (weighted adjacency
// lists under source-id ranges); the choice is fixed at creation and
// both variants share the cache, swap, codec framing and id algebra.
package tree

import (
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"sync"

	"github.com/intellect4all/heaptree/common"
	"github.com/intellect4all/heaptree/container"
	"github.com/intellect4all/heaptree/swap"
)

// Variant selects the page layout of a tree.
type Variant uint8

const (
	Spatial Variant = iota
	Graph
)

// Interval is a closed interval along one spatial dimension.
type Interval struct {
	Start float32
	End   float32
}

// ObjectRange is a closed interval over object identifiers.
type ObjectRange struct {
	Start uint64
	End   uint64
}

// Arc is a weighted directed edge of the graph variant.
type Arc struct {
	From   uint64
	To     uint64
	Weight float32
}

// DataPair is a spatial record: a d-dimensional key and its object id.
type DataPair struct {
	Key    []float32
	Object uint64
}

// Verbose enables diagnostic logging from the engine.
var Verbose bool

func debugf(format string, args ...any) {
	if Verbose {
		log.Printf(format, args...)
	}
}

// invariant aborts on states that indicate a programming error inside
// the engine; continuing would corrupt the heapfile.
func invariant(cond bool, format string, args ...any) {
	if !cond {
		panic("invariant violation: " + fmt.Sprintf(format, args...))
	}
}

const (
	treeHeaderSize = 22
	pageHeaderSize = 8

	// noID marks absent identifiers in traversal queues.
	noID = ^uint64(0)
)

// Config freezes the shape of a tree at creation time.
type Config struct {
	Dimensions uint16 // spatial dimensionality; ignored for Graph
	PageSize   uint32 // on-disk page size in bytes
	Variant    Variant

	// FairnessThreshold is the lower bound on split balance and, via
	// ceil(threshold*fanout/2), the minimum page occupancy.
	FairnessThreshold float64

	// SwapCapacity bounds the number of resident pages.
	SwapCapacity int

	// DumpTransposedPages writes renumbered subtree pages straight to
	// disk instead of reinstalling them in the cache.
	DumpTransposedPages bool
}

// DefaultConfig returns a spatial configuration with sensible
// defaults: 4KB pages, LRU residency for 4096 pages, balanced splits.
func DefaultConfig(dimensions uint16) Config {
	return Config{
		Dimensions:        dimensions,
		PageSize:          4096,
		Variant:           Spatial,
		FairnessThreshold: 0.5,
		SwapCapacity:      4096,
	}
}

// Tree is the top-level handle over one heapfile.
type Tree struct {
	filename string
	flock    *fileLock

	variant  Variant
	dims     uint16
	pageSize uint32
	alpha    float64
	dump     bool

	leafEntries     uint32
	internalEntries uint32

	// mu is the tree lock. It guards the three cache structures below,
	// the root cover, the scalar header fields and the LRU clock. The
	// resident map and the lock map mutate only while mu is held for
	// writing and have identical key sets whenever mu is released.
	mu       sync.RWMutex
	resident *container.TreeMap[*Page]
	locks    *container.TreeMap[*sync.RWMutex]
	swap     *swap.Swap
	priority uint64

	rootBox   []Interval   // spatial variant, len == dims
	rootRange *ObjectRange // graph variant

	indexedRecords uint64
	treeSize       uint64
	ioCounter      uint64
	dirty          bool
	closed         bool
}

// New creates a heapfile at path, truncating any previous content.
// Page size, dimensionality and variant are frozen for the life of the
// file.
func New(path string, cfg Config) (*Tree, error) {
	if cfg.FairnessThreshold <= 0 || cfg.FairnessThreshold > 1 {
		return nil, fmt.Errorf("fairness threshold %v outside (0,1]: %w",
			cfg.FairnessThreshold, common.ErrConfigRejected)
	}
	if cfg.Variant == Spatial && cfg.Dimensions == 0 {
		return nil, fmt.Errorf("spatial tree needs at least one dimension: %w", common.ErrConfigRejected)
	}
	if cfg.SwapCapacity < 2 {
		cfg.SwapCapacity = DefaultConfig(1).SwapCapacity
	}

	dims := cfg.Dimensions
	if cfg.Variant == Graph {
		dims = 0
	}
	t := &Tree{
		filename: path,
		variant:  cfg.Variant,
		dims:     dims,
		pageSize: cfg.PageSize,
		alpha:    cfg.FairnessThreshold,
		dump:     cfg.DumpTransposedPages,
		resident: container.NewTreeMap[*Page](),
		locks:    container.NewTreeMap[*sync.RWMutex](),
		swap:     swap.New(cfg.SwapCapacity),
		dirty:    true,
	}
	if err := t.deriveFanouts(); err != nil {
		return nil, err
	}
	t.initRootCover()

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create heapfile %s: %w", path, err)
	}
	f.Close()

	// Lock before truncating so a second process cannot clobber a
	// heapfile that is already open elsewhere.
	lock, err := lockHeapfile(path)
	if err != nil {
		return nil, err
	}
	t.flock = lock

	if err := os.Truncate(path, 0); err != nil {
		lock.release()
		return nil, fmt.Errorf("truncate heapfile %s: %w", path, err)
	}
	f, err = os.OpenFile(path, os.O_WRONLY, 0o644)
	if err != nil {
		lock.release()
		return nil, fmt.Errorf("open heapfile %s: %w", path, err)
	}
	if _, err := f.WriteAt(t.encodeTreeHeader(), 0); err != nil {
		f.Close()
		lock.release()
		return nil, fmt.Errorf("write heapfile header: %w", err)
	}
	if err := f.Close(); err != nil {
		lock.release()
		return nil, fmt.Errorf("close heapfile: %w", err)
	}

	if err := t.newRoot(); err != nil {
		lock.release()
		return nil, err
	}
	return t, nil
}

// Open loads the tree header of an existing heapfile. The variant is
// recovered from the stored dimensionality (graph trees record zero
// dimensions). The root page is loaded lazily on first access.
func Open(path string, cfg Config) (*Tree, error) {
	if cfg.FairnessThreshold <= 0 || cfg.FairnessThreshold > 1 {
		cfg.FairnessThreshold = 0.5
	}
	if cfg.SwapCapacity < 2 {
		cfg.SwapCapacity = DefaultConfig(1).SwapCapacity
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open heapfile %s: %w", path, err)
	}
	header := make([]byte, treeHeaderSize)
	if _, err := f.ReadAt(header, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("read heapfile header: %w", err)
	}
	f.Close()

	t := &Tree{
		filename: path,
		alpha:    cfg.FairnessThreshold,
		dump:     cfg.DumpTransposedPages,
		resident: container.NewTreeMap[*Page](),
		locks:    container.NewTreeMap[*sync.RWMutex](),
		swap:     swap.New(cfg.SwapCapacity),
	}
	if err := t.decodeTreeHeader(header); err != nil {
		return nil, err
	}
	if t.dims == 0 {
		t.variant = Graph
	}
	if err := t.deriveFanouts(); err != nil {
		return nil, err
	}
	t.initRootCover()

	lock, err := lockHeapfile(path)
	if err != nil {
		return nil, err
	}
	t.flock = lock
	return t, nil
}

func (t *Tree) deriveFanouts() error {
	if t.pageSize <= pageHeaderSize {
		return fmt.Errorf("page size %d leaves no payload: %w", t.pageSize, common.ErrCorruptPage)
	}
	payload := t.pageSize - pageHeaderSize
	if t.variant == Spatial {
		t.leafEntries = payload / (uint32(t.dims)*4 + 8)
		t.internalEntries = payload / (uint32(t.dims) * 8)
	} else {
		t.leafEntries = payload / (8 + 2)
		t.internalEntries = payload / 16
	}
	if t.leafEntries < 2 || t.internalEntries < 2 {
		return fmt.Errorf("page size %d holds fewer than two records: %w", t.pageSize, common.ErrConfigRejected)
	}
	if t.minInternalRecords() < 2 {
		return fmt.Errorf("fan-out %d with threshold %v allows underflow to one record: %w",
			t.internalEntries, t.alpha, common.ErrConfigRejected)
	}
	return nil
}

func (t *Tree) initRootCover() {
	if t.variant == Spatial {
		t.rootBox = make([]Interval, t.dims)
		for j := range t.rootBox {
			t.rootBox[j] = Interval{Start: math.MaxFloat32, End: -math.MaxFloat32}
		}
	} else {
		t.rootRange = &ObjectRange{Start: math.MaxUint64, End: 0}
	}
}

// Identifier algebra over the implicit heap. The root is id 0; the
// i-th child of p is p*m+i+1, so the parent of c>0 is (c-1)/m and its
// slot in the parent is (c-1) mod m.

func (t *Tree) parentID(c uint64) uint64 {
	if c == 0 {
		return 0
	}
	return (c - 1) / uint64(t.internalEntries)
}

func (t *Tree) childOffset(c uint64) uint32 {
	if c == 0 {
		return 0
	}
	return uint32((c - 1) % uint64(t.internalEntries))
}

func (t *Tree) childID(p uint64, offset uint64) uint64 {
	return p*uint64(t.internalEntries) + offset + 1
}

// anchor returns the first identifier of the heap level containing id.
func (t *Tree) anchor(id uint64) uint64 {
	sum, product := uint64(0), uint64(1)
	for sum <= id {
		sum += product
		product *= uint64(t.internalEntries)
	}
	return sum - product/uint64(t.internalEntries)
}

// transposedPosition maps id to the identifier it holds after the
// whole hierarchy is pushed one level down by a new root.
func (t *Tree) transposedPosition(id uint64) uint64 {
	a := t.anchor(id)
	return t.childID(a, id-a)
}

func (t *Tree) minInternalRecords() uint32 {
	return uint32(math.Ceil(t.alpha * float64(t.internalEntries) / 2))
}

func (t *Tree) minLeafRecords() uint32 {
	return uint32(math.Ceil(t.alpha * float64(t.leafEntries) / 2))
}

// pageLock returns the per-page lock of a resident page.
func (t *Tree) pageLock(id uint64) *sync.RWMutex {
	t.mu.RLock()
	l, _ := t.locks.Get(id)
	t.mu.RUnlock()
	invariant(l != nil, "page %d resident without a lock", id)
	return l
}

// nextPriorityLocked advances the LRU clock; the caller holds mu.
func (t *Tree) nextPriorityLocked() float64 {
	t.priority++
	return float64(t.priority)
}

// newRoot installs a fresh root. If the hierarchy is non-empty the
// whole tree is first transposed one level down (0 becomes 1) and the
// renumbered pages are written out; the new root is then an internal
// page with a single slot covering the old root.
func (t *Tree) newRoot() error {
	t.mu.RLock()
	occupied := t.resident.Len() > 0
	t.mu.RUnlock()

	var root *Page
	if occupied {
		debugf("[%s] allocating new root over a populated hierarchy", t.filename)
		changes, err := t.transposeSubtree(0, 1)
		if err != nil {
			return err
		}
		t.mu.Lock()
		t.swap.Clear()
		t.mu.Unlock()
		if err := t.writeChanges(changes); err != nil {
			return err
		}

		root = t.newInternalPage()
		root.records = 1
		t.mu.Lock()
		if t.variant == Spatial {
			in := root.node.(*spatialInternal)
			copy(in.box(0), t.rootBox)
		} else {
			gr := root.node.(*graphInternal)
			gr.ranges[0] = *t.rootRange
		}
		t.mu.Unlock()
	} else {
		root = t.newLeafPage()
	}

	t.mu.Lock()
	evicted := t.swap.SetPriority(0, t.nextPriorityLocked())
	invariant(t.swap.IsActive(0), "root absent from swap after admission")
	t.mu.Unlock()
	if evicted != swap.None {
		if err := t.flushPage(evicted); err != nil {
			return err
		}
	}

	t.mu.Lock()
	t.resident.Set(0, root)
	t.locks.Set(0, new(sync.RWMutex))
	t.treeSize++
	t.dirty = true
	t.mu.Unlock()
	return nil
}

// updateUpwards restores the parent-covers-child invariant along the
// path from id to the root, stopping at the first ancestor whose slot
// already covers.
func (t *Tree) updateUpwards(id uint64) error {
	for ; id != 0; id = t.parentID(id) {
		updated, err := t.updateParentCover(id)
		if err != nil {
			return err
		}
		if !updated {
			return nil
		}
	}
	return t.refreshRootCover()
}

// updateParentCover expands the parent slot of id to cover the page's
// contents. The child is read-locked before the parent is
// write-locked, the same child-then-parent order that leaf splits and
// leaf deletions use. Transpositions and harvests instead lock pages
// below a page whose lock they already hold, after removing those
// pages from the cache.
func (t *Tree) updateParentCover(id uint64) (bool, error) {
	if id == 0 {
		return false, nil
	}
	page, err := t.loadPage(id)
	if err != nil {
		return false, err
	}
	parent, err := t.loadPage(t.parentID(id))
	if err != nil {
		return false, err
	}
	lock := t.pageLock(id)
	parentLock := t.pageLock(t.parentID(id))

	lock.RLock()
	parentLock.Lock()
	updated := t.expandSlot(parent, t.childOffset(id), page)
	if updated {
		parent.dirty = true
	}
	parentLock.Unlock()
	lock.RUnlock()

	if updated {
		t.mu.Lock()
		t.dirty = true
		t.mu.Unlock()
	}
	return updated, nil
}

// expandSlot widens the cover stored at parent slot offset so that it
// contains everything in child. Both page locks are held by the
// caller.
func (t *Tree) expandSlot(parent *Page, offset uint32, child *Page) bool {
	updated := false
	if t.variant == Spatial {
		slot := parent.node.(*spatialInternal).box(offset)
		each := func(start, end float32, j int) {
			if start < slot[j].Start {
				slot[j].Start = start
				updated = true
			}
			if end > slot[j].End {
				slot[j].End = end
				updated = true
			}
		}
		if child.leaf {
			leaf := child.node.(*spatialLeaf)
			for i := uint32(0); i < child.records; i++ {
				key := leaf.key(i)
				for j := 0; j < int(t.dims); j++ {
					each(key[j], key[j], j)
				}
			}
		} else {
			in := child.node.(*spatialInternal)
			for i := uint32(0); i < child.records; i++ {
				box := in.box(i)
				for j := 0; j < int(t.dims); j++ {
					each(box[j].Start, box[j].End, j)
				}
			}
		}
		return updated
	}

	slot := &parent.node.(*graphInternal).ranges[offset]
	each := func(start, end uint64) {
		if start < slot.Start {
			slot.Start = start
			updated = true
		}
		if end > slot.End {
			slot.End = end
			updated = true
		}
	}
	if child.leaf {
		leaf := child.node.(*graphLeaf)
		for i := uint32(0); i < child.records; i++ {
			each(leaf.from[i], leaf.from[i])
		}
	} else {
		gr := child.node.(*graphInternal)
		for i := uint32(0); i < child.records; i++ {
			each(gr.ranges[i].Start, gr.ranges[i].End)
		}
	}
	return updated
}

// refreshRootCover expands the cached root cover from the contents of
// page 0.
func (t *Tree) refreshRootCover() error {
	root, err := t.loadPage(0)
	if err != nil {
		return err
	}
	lock := t.pageLock(0)
	lock.RLock()
	t.mu.Lock()
	t.expandRootCoverLocked(root)
	t.mu.Unlock()
	lock.RUnlock()
	return nil
}

// expandRootCoverLocked widens the root cover from a root page; the
// caller holds the tree lock for writing and a read lock on the page.
func (t *Tree) expandRootCoverLocked(root *Page) {
	if t.variant == Spatial {
		expand := func(start, end float32, j int) {
			if start < t.rootBox[j].Start {
				t.rootBox[j].Start = start
				t.dirty = true
			}
			if end > t.rootBox[j].End {
				t.rootBox[j].End = end
				t.dirty = true
			}
		}
		if root.leaf {
			leaf := root.node.(*spatialLeaf)
			for i := uint32(0); i < root.records; i++ {
				key := leaf.key(i)
				for j := 0; j < int(t.dims); j++ {
					expand(key[j], key[j], j)
				}
			}
		} else {
			in := root.node.(*spatialInternal)
			for i := uint32(0); i < root.records; i++ {
				box := in.box(i)
				for j := 0; j < int(t.dims); j++ {
					expand(box[j].Start, box[j].End, j)
				}
			}
		}
		return
	}

	expand := func(start, end uint64) {
		if start < t.rootRange.Start {
			t.rootRange.Start = start
			t.dirty = true
		}
		if end > t.rootRange.End {
			t.rootRange.End = end
			t.dirty = true
		}
	}
	if root.leaf {
		leaf := root.node.(*graphLeaf)
		for i := uint32(0); i < root.records; i++ {
			expand(leaf.from[i], leaf.from[i])
		}
	} else {
		gr := root.node.(*graphInternal)
		for i := uint32(0); i < root.records; i++ {
			expand(gr.ranges[i].Start, gr.ranges[i].End)
		}
	}
}

// RootBox returns a copy of the root bounding box of a spatial tree.
func (t *Tree) RootBox() []Interval {
	invariant(t.variant == Spatial, "root box requested from a graph tree")
	t.mu.RLock()
	defer t.mu.RUnlock()
	box := make([]Interval, len(t.rootBox))
	copy(box, t.rootBox)
	return box
}

// RootRange returns the root source-id range of a graph tree.
func (t *Tree) RootRange() ObjectRange {
	invariant(t.variant == Graph, "root range requested from a spatial tree")
	t.mu.RLock()
	defer t.mu.RUnlock()
	return *t.rootRange
}

// Dimensions returns the spatial dimensionality (zero for graphs).
func (t *Tree) Dimensions() uint16 { return t.dims }

// PageSize returns the fixed on-disk page size.
func (t *Tree) PageSize() uint32 { return t.pageSize }

// LeafEntries returns the leaf fan-out derived from the page size.
func (t *Tree) LeafEntries() uint32 { return t.leafEntries }

// InternalEntries returns the internal fan-out derived from the page
// size.
func (t *Tree) InternalEntries() uint32 { return t.internalEntries }

// Stats reports counters about the tree.
func (t *Tree) Stats() common.Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return common.Stats{
		IndexedRecords: t.indexedRecords,
		TreePages:      t.treeSize,
		ResidentPages:  t.resident.Len(),
		IOReads:        t.ioCounter,
		Dirty:          t.dirty,
	}
}

// Flush writes the tree header (if dirty) and every resident page in
// ascending id order, releasing the pages from memory. Flushing twice
// in a row writes identical bytes; after a flush no page is dirty.
func (t *Tree) Flush() error {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return common.ErrClosed
	}
	headerDirty := t.dirty
	t.mu.RUnlock()

	if headerDirty {
		f, err := os.OpenFile(t.filename, os.O_WRONLY|os.O_CREATE, 0o644)
		if err != nil {
			return fmt.Errorf("open heapfile %s: %w", t.filename, err)
		}
		t.mu.RLock()
		header := t.encodeTreeHeader()
		t.mu.RUnlock()
		if _, err := f.WriteAt(header, 0); err != nil {
			f.Close()
			return fmt.Errorf("write heapfile header: %w", err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close heapfile: %w", err)
		}
	}

	t.mu.RLock()
	ids := t.resident.Keys()
	t.mu.RUnlock()

	sorted := container.NewHeap[uint64](func(a, b uint64) bool { return a < b })
	for _, id := range ids {
		sorted.Push(id)
	}
	flushed := 0
	for sorted.Len() > 0 {
		id := sorted.Pop()
		t.mu.RLock()
		page, _ := t.resident.Get(id)
		t.mu.RUnlock()
		if page != nil && page.dirty {
			flushed++
		}
		if err := t.flushPage(id); err != nil {
			return err
		}
	}
	debugf("[%s] flushed hierarchy, %d dirty pages written", t.filename, flushed)

	t.mu.Lock()
	t.dirty = false
	t.mu.Unlock()
	return nil
}

// Close flushes the tree and tears down the cache. A tree that indexes
// no records deletes its heapfile.
func (t *Tree) Close() error {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return nil
	}
	t.mu.RUnlock()

	if err := t.Flush(); err != nil {
		return err
	}

	t.mu.Lock()
	empty := t.indexedRecords == 0
	t.closed = true
	t.mu.Unlock()

	if t.flock != nil {
		t.flock.release()
		t.flock = nil
	}
	if empty {
		debugf("[%s] deleting heapfile: no records indexed", t.filename)
		if err := os.Remove(t.filename); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove empty heapfile: %w", err)
		}
	}
	return nil
}

func (t *Tree) isClosed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}
