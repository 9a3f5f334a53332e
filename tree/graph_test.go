package tree

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/intellect4all/heaptree/common"
	"github.com/intellect4all/heaptree/common/testutil"
)

func graphConfig() Config {
	cfg := DefaultConfig(0)
	cfg.Variant = Graph
	cfg.PageSize = 136
	return cfg
}

func TestInsertAndFindArcs(t *testing.T) {
	tr := newTestTree(t, graphConfig())

	arcs := []Arc{
		{From: 1, To: 2, Weight: 1.5},
		{From: 1, To: 3, Weight: 2.5},
		{From: 2, To: 3, Weight: 0.25},
		{From: 3, To: 1, Weight: 4.0},
	}
	for _, arc := range arcs {
		if err := tr.InsertArc(arc.From, arc.To, arc.Weight); err != nil {
			t.Fatalf("insert arc %v: %v", arc, err)
		}
	}

	out, err := tr.FindArcs(1)
	if err != nil {
		t.Fatalf("find arcs: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 arcs out of source 1, got %v", out)
	}
	targets := map[uint64]float32{}
	for _, arc := range out {
		targets[arc.To] = arc.Weight
	}
	if targets[2] != 1.5 || targets[3] != 2.5 {
		t.Fatalf("wrong adjacency for source 1: %v", targets)
	}

	weight, err := tr.FindArc(2, 3)
	if err != nil {
		t.Fatalf("find arc 2->3: %v", err)
	}
	if weight != 0.25 {
		t.Fatalf("arc 2->3 has weight %v", weight)
	}

	if _, err := tr.FindArc(2, 99); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a missing arc, got %v", err)
	}
	if got := tr.Stats().IndexedRecords; got != 4 {
		t.Fatalf("expected 4 indexed arcs, got %d", got)
	}
}

func TestGraphLeafSplits(t *testing.T) {
	tr := newTestTree(t, graphConfig())

	// 136-byte pages hold five single-arc sources; forty sources force
	// repeated splits and an internal level.
	const sources = 40
	for s := uint64(1); s <= sources; s++ {
		if err := tr.InsertArc(s, s+1000, float32(s)); err != nil {
			t.Fatalf("insert source %d: %v", s, err)
		}
	}
	if tr.Stats().TreePages < 4 {
		t.Fatalf("expected the adjacency tree to split, got %d pages", tr.Stats().TreePages)
	}

	for s := uint64(1); s <= sources; s++ {
		weight, err := tr.FindArc(s, s+1000)
		if err != nil {
			t.Fatalf("find arc of source %d: %v", s, err)
		}
		if weight != float32(s) {
			t.Fatalf("arc of source %d has weight %v", s, weight)
		}
	}

	r := tr.RootRange()
	if r.Start != 1 || r.End != sources {
		t.Fatalf("root range [%d,%d], expected [1,%d]", r.Start, r.End, sources)
	}
	checkParity(t, tr)
}

func TestFatSourceStaysOnOnePage(t *testing.T) {
	tr := newTestTree(t, graphConfig())

	// One source with eight arcs occupies most of a page but must not
	// be torn across leaves.
	for k := uint64(0); k < 8; k++ {
		if err := tr.InsertArc(5, 100+k, float32(k)); err != nil {
			t.Fatalf("insert arc %d: %v", k, err)
		}
	}
	out, err := tr.FindArcs(5)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 8 {
		t.Fatalf("expected 8 arcs, got %d", len(out))
	}

	// An adjacency list the page cannot hold is rejected, not torn.
	var capacityErr error
	for k := uint64(8); k < 40; k++ {
		if err := tr.InsertArc(5, 100+k, float32(k)); err != nil {
			capacityErr = err
			break
		}
	}
	if capacityErr == nil {
		t.Fatal("oversized adjacency list accepted")
	}
	if !errors.Is(capacityErr, common.ErrCorruptPage) {
		t.Fatalf("expected a page-capacity error, got %v", capacityErr)
	}
}

func TestDeleteArcs(t *testing.T) {
	tr := newTestTree(t, graphConfig())

	const sources = 30
	for s := uint64(1); s <= sources; s++ {
		if err := tr.InsertArc(s, s*10, float32(s)); err != nil {
			t.Fatal(err)
		}
		if err := tr.InsertArc(s, s*10+1, float32(s)+0.5); err != nil {
			t.Fatal(err)
		}
	}
	before := tr.Stats().IndexedRecords

	weight, err := tr.DeleteArc(7, 70)
	if err != nil {
		t.Fatalf("delete arc: %v", err)
	}
	if weight != 7 {
		t.Fatalf("deleted arc had weight %v", weight)
	}
	if got := tr.Stats().IndexedRecords; got != before-1 {
		t.Fatalf("arc count went %d -> %d", before, got)
	}
	if _, err := tr.FindArc(7, 70); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("deleted arc still reachable: %v", err)
	}
	if _, err := tr.FindArc(7, 71); err != nil {
		t.Fatalf("sibling arc lost: %v", err)
	}

	if _, err := tr.DeleteArc(7, 70); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("second delete: expected ErrNotFound, got %v", err)
	}

	// Delete a large batch to exercise leaf dissolution and cascades.
	for s := uint64(1); s <= 20; s++ {
		if _, err := tr.DeleteArc(s, s*10+1); err != nil {
			t.Fatalf("delete arc of source %d: %v", s, err)
		}
	}
	for s := uint64(21); s <= sources; s++ {
		if _, err := tr.FindArc(s, s*10); err != nil {
			t.Fatalf("survivor source %d lost its arcs: %v", s, err)
		}
	}
	checkParity(t, tr)
}

func TestDeleteSource(t *testing.T) {
	tr := newTestTree(t, graphConfig())
	for k := uint64(0); k < 3; k++ {
		if err := tr.InsertArc(4, 40+k, 1); err != nil {
			t.Fatal(err)
		}
	}
	if err := tr.InsertArc(9, 90, 2); err != nil {
		t.Fatal(err)
	}

	dropped, err := tr.DeleteSource(4)
	if err != nil {
		t.Fatalf("delete source: %v", err)
	}
	if dropped != 3 {
		t.Fatalf("expected 3 dropped arcs, got %d", dropped)
	}
	if out, _ := tr.FindArcs(4); len(out) != 0 {
		t.Fatalf("source 4 still has arcs: %v", out)
	}
	if _, err := tr.FindArc(9, 90); err != nil {
		t.Fatalf("unrelated source lost: %v", err)
	}
	if _, err := tr.DeleteSource(4); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGraphSurvivesReopen(t *testing.T) {
	path := filepath.Join(testutil.TempDir(t), "graph.heap")
	tr, err := New(path, graphConfig())
	if err != nil {
		t.Fatal(err)
	}
	const sources = 25
	for s := uint64(1); s <= sources; s++ {
		if err := tr.InsertArc(s, s+500, float32(s)/2); err != nil {
			t.Fatal(err)
		}
	}
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}

	// The header records zero dimensions, so Open recovers the graph
	// variant without being told.
	reopened, err := Open(path, Config{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	for s := uint64(1); s <= sources; s++ {
		weight, err := reopened.FindArc(s, s+500)
		if err != nil {
			t.Fatalf("find arc of source %d after reopen: %v", s, err)
		}
		if weight != float32(s)/2 {
			t.Fatalf("arc of source %d has weight %v after reopen", s, weight)
		}
	}
	r := reopened.RootRange()
	if r.Start != 1 || r.End != sources {
		t.Fatalf("root range [%d,%d] after reopen", r.Start, r.End)
	}
}
