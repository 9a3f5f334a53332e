package tree

import (
	"errors"
	"testing"

	"github.com/intellect4all/heaptree/common"
)

func TestMassDeletionKeepsSurvivorsReachable(t *testing.T) {
	tr := newTestTree(t, smallConfig())

	const n = 200
	for i := 0; i < n; i++ {
		if err := tr.Insert(diagonalKey(i), uint64(i)); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	pagesBefore := tr.Stats().TreePages

	// Delete all but the last fifteen; this exercises leaf
	// dissolution, the upward cascade, and the root collapse.
	for i := 0; i < n-15; i++ {
		object, err := tr.Delete(diagonalKey(i))
		if err != nil {
			t.Fatalf("delete %d: %v", i, err)
		}
		if object != uint64(i) {
			t.Fatalf("delete %d returned object %d", i, object)
		}
	}

	stats := tr.Stats()
	if stats.IndexedRecords != 15 {
		t.Fatalf("expected 15 surviving records, got %d", stats.IndexedRecords)
	}
	if stats.TreePages >= pagesBefore {
		t.Fatalf("page count did not shrink: %d -> %d", pagesBefore, stats.TreePages)
	}

	for i := n - 15; i < n; i++ {
		objects, err := tr.FindAll(diagonalKey(i))
		if err != nil {
			t.Fatalf("find %d: %v", i, err)
		}
		if len(objects) != 1 || objects[0] != uint64(i) {
			t.Fatalf("survivor %d lost: %v", i, objects)
		}
	}
	for i := 0; i < n-15; i++ {
		if objects, _ := tr.FindAll(diagonalKey(i)); len(objects) != 0 {
			t.Fatalf("deleted key %d still present: %v", i, objects)
		}
	}

	checkStructure(t, tr, 0)
	checkParity(t, tr)
}

func TestDeleteEverything(t *testing.T) {
	tr := newTestTree(t, smallConfig())

	const n = 120
	for i := 0; i < n; i++ {
		if err := tr.Insert(diagonalKey(i), uint64(i)); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < n; i++ {
		if _, err := tr.Delete(diagonalKey(i)); err != nil {
			t.Fatalf("delete %d: %v", i, err)
		}
	}

	if got := tr.Stats().IndexedRecords; got != 0 {
		t.Fatalf("expected an empty tree, %d records remain", got)
	}
	for i := 0; i < n; i++ {
		if _, err := tr.FindAny(diagonalKey(i)); !errors.Is(err, common.ErrNotFound) {
			t.Fatalf("key %d still reachable: %v", i, err)
		}
	}
}

func TestRootCollapseRestoresCover(t *testing.T) {
	tr := newTestTree(t, smallConfig())

	const n = 200
	for i := 0; i < n; i++ {
		if err := tr.Insert(diagonalKey(i), uint64(i)); err != nil {
			t.Fatal(err)
		}
	}

	// Shave records from the low end until the hierarchy has lost at
	// least one level; collapses transpose the surviving subtree onto
	// id 0.
	deleted := 0
	for i := 0; i < n-10; i++ {
		if _, err := tr.Delete(diagonalKey(i)); err != nil {
			t.Fatalf("delete %d: %v", i, err)
		}
		deleted++
	}

	// The cached root cover must still contain every survivor.
	box := tr.RootBox()
	for i := deleted; i < n; i++ {
		if !keyEnclosedByBox(diagonalKey(i), box) {
			t.Fatalf("survivor %d escapes the root box %v", i, box)
		}
	}
	checkStructure(t, tr, 0)
}

func TestDeletionsSurviveReopen(t *testing.T) {
	cfg := smallConfig()
	tr := newTestTree(t, cfg)
	path := tr.filename

	for i := 0; i < 100; i++ {
		if err := tr.Insert(diagonalKey(i), uint64(i)); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 60; i++ {
		if _, err := tr.Delete(diagonalKey(i)); err != nil {
			t.Fatalf("delete %d: %v", i, err)
		}
	}
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(path, Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	if got := reopened.Stats().IndexedRecords; got != 40 {
		t.Fatalf("expected 40 records after reopen, got %d", got)
	}
	for i := 60; i < 100; i++ {
		object, err := reopened.FindAny(diagonalKey(i))
		if err != nil {
			t.Fatalf("find %d after reopen: %v", i, err)
		}
		if object != uint64(i) {
			t.Fatalf("key %d resolved to object %d", i, object)
		}
	}
	for i := 0; i < 60; i++ {
		if _, err := reopened.FindAny(diagonalKey(i)); !errors.Is(err, common.ErrNotFound) {
			t.Fatalf("deleted key %d reachable after reopen: %v", i, err)
		}
	}
}
