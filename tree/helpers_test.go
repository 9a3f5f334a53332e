package tree

import (
	"path/filepath"
	"testing"

	"github.com/intellect4all/heaptree/common/testutil"
)

// smallConfig is a 2-D spatial configuration with page size 136: both
// fan-outs come out at 8, so splits and cascades trigger with a few
// dozen records.
func smallConfig() Config {
	cfg := DefaultConfig(2)
	cfg.PageSize = 136
	return cfg
}

func newTestTree(t *testing.T, cfg Config) *Tree {
	t.Helper()
	path := filepath.Join(testutil.TempDir(t), "test.heap")
	tr, err := New(path, cfg)
	if err != nil {
		t.Fatalf("create tree: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

// pageCover computes the tight cover of a spatial page's contents.
func pageCover(tr *Tree, p *Page) []Interval {
	cover := make([]Interval, tr.dims)
	expand := func(start, end float32, j int, first bool) {
		if first {
			cover[j] = Interval{Start: start, End: end}
			return
		}
		if start < cover[j].Start {
			cover[j].Start = start
		}
		if end > cover[j].End {
			cover[j].End = end
		}
	}
	if p.leaf {
		leaf := p.node.(*spatialLeaf)
		for i := uint32(0); i < p.records; i++ {
			key := leaf.key(i)
			for j := 0; j < int(tr.dims); j++ {
				expand(key[j], key[j], j, i == 0)
			}
		}
	} else {
		in := p.node.(*spatialInternal)
		for i := uint32(0); i < p.records; i++ {
			box := in.box(i)
			for j := 0; j < int(tr.dims); j++ {
				expand(box[j].Start, box[j].End, j, i == 0)
			}
		}
	}
	return cover
}

// checkStructure verifies containment (every parent slot covers its
// child subtree), occupancy, and the identifier algebra over the whole
// tree. slack loosens the occupancy bound for workloads that are
// allowed to leave pages at the boundary.
func checkStructure(t *testing.T, tr *Tree, slack uint32) {
	t.Helper()
	type pending struct {
		id   uint64
		slot []Interval // expected cover, nil for the root
	}
	queue := []pending{{id: 0}}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		page, err := tr.loadPage(next.id)
		if err != nil {
			t.Fatalf("load page %d: %v", next.id, err)
		}

		if next.id != 0 {
			min := tr.minLeafRecords()
			if !page.leaf {
				min = tr.minInternalRecords()
			}
			if min > slack && page.records < min-slack {
				t.Errorf("page %d holds %d records, minimum is %d", next.id, page.records, min)
			}
			// Identifier algebra: the parent must be loadable and its
			// slot must cover this page.
			if _, err := tr.loadPage(tr.parentID(next.id)); err != nil {
				t.Errorf("parent %d of page %d not loadable: %v", tr.parentID(next.id), next.id, err)
			}
		} else if !page.leaf && page.records < 2 {
			t.Errorf("internal root holds %d children", page.records)
		}

		if next.slot != nil {
			cover := pageCover(tr, page)
			if page.records > 0 && !boxEnclosedByBox(cover, next.slot) {
				t.Errorf("page %d cover %v escapes its parent slot %v", next.id, cover, next.slot)
			}
		}

		if page.leaf {
			continue
		}
		in := page.node.(*spatialInternal)
		for i := uint32(0); i < page.records; i++ {
			slot := make([]Interval, tr.dims)
			copy(slot, in.box(i))
			queue = append(queue, pending{id: tr.childID(next.id, uint64(i)), slot: slot})
		}
	}
}

// checkParity verifies that the resident-page map, the per-page-lock
// map and the swap track exactly the same identifiers.
func checkParity(t *testing.T, tr *Tree) {
	t.Helper()
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	residentKeys := tr.resident.Keys()
	lockKeys := tr.locks.Keys()
	if len(residentKeys) != len(lockKeys) {
		t.Fatalf("resident map has %d pages, lock map has %d", len(residentKeys), len(lockKeys))
	}
	for i := range residentKeys {
		if residentKeys[i] != lockKeys[i] {
			t.Fatalf("resident/lock key sets diverge: %v vs %v", residentKeys, lockKeys)
		}
	}
	if tr.swap.Len() != len(residentKeys) {
		t.Fatalf("swap tracks %d identifiers, %d pages resident", tr.swap.Len(), len(residentKeys))
	}
	for _, id := range residentKeys {
		if !tr.swap.IsActive(id) {
			t.Fatalf("resident page %d not tracked by swap", id)
		}
	}
}

func diagonalKey(i int) []float32 {
	return []float32{float32(i), float32(i)}
}
