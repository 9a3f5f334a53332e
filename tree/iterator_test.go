package tree

import "testing"

func TestIterSubtreeVisitsEveryPage(t *testing.T) {
	tr := newTestTree(t, smallConfig())
	const n = 60
	for i := 0; i < n; i++ {
		if err := tr.Insert(diagonalKey(i), uint64(i)); err != nil {
			t.Fatal(err)
		}
	}

	it := tr.IterSubtree(0)
	pages := 0
	records := 0
	seenRoot := false
	for it.Next() {
		pages++
		page := it.Page()
		if it.ID() == 0 {
			seenRoot = true
			if page.IsLeaf() {
				t.Fatal("root of a 60-record tree is a leaf")
			}
		}
		if page.IsLeaf() {
			records += page.Records()
			for i := 0; i < page.Records(); i++ {
				key := page.Key(i)
				if key[0] != key[1] {
					t.Fatalf("unexpected key %v in leaf %d", key, it.ID())
				}
			}
		}
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator error: %v", err)
	}
	it.Close()

	if !seenRoot {
		t.Fatal("iterator never yielded the root")
	}
	if uint64(pages) != tr.Stats().TreePages {
		t.Fatalf("iterator yielded %d pages, tree has %d", pages, tr.Stats().TreePages)
	}
	if records != n {
		t.Fatalf("iterator saw %d records, expected %d", records, n)
	}

	// Every lock is released: a structural write must succeed.
	if err := tr.Insert(diagonalKey(n), uint64(n)); err != nil {
		t.Fatalf("insert after iteration: %v", err)
	}
}

func TestIterSubtreeOfChild(t *testing.T) {
	tr := newTestTree(t, smallConfig())
	for i := 0; i < 60; i++ {
		if err := tr.Insert(diagonalKey(i), uint64(i)); err != nil {
			t.Fatal(err)
		}
	}

	root, err := tr.loadPage(0)
	if err != nil {
		t.Fatal(err)
	}
	if root.leaf {
		t.Skip("tree too shallow")
	}

	it := tr.IterSubtree(tr.childID(0, 0))
	defer it.Close()
	subtreeRecords := 0
	for it.Next() {
		if it.Page().IsLeaf() {
			subtreeRecords += it.Page().Records()
		}
	}
	if it.Err() != nil {
		t.Fatalf("iterator error: %v", it.Err())
	}
	if subtreeRecords == 0 || subtreeRecords >= 60 {
		t.Fatalf("child subtree holds %d records, expected a proper subset", subtreeRecords)
	}
}
