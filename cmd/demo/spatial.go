package main

import (
	"fmt"
	"log"
	"strings"

	"github.com/intellect4all/heaptree/tree"
)

func demoSpatial(path string) {
	fmt.Println("\n### Spatial index ###")
	fmt.Println(strings.Repeat("-", 40))

	t, err := tree.New(path, tree.DefaultConfig(2))
	if err != nil {
		log.Fatal(err)
	}
	defer t.Close()

	cities := map[uint64][]float32{
		1: {40.7, -74.0},  // New York
		2: {37.8, -122.4}, // San Francisco
		3: {34.1, -118.2}, // Los Angeles
		4: {41.9, -87.6},  // Chicago
		5: {47.6, -122.3}, // Seattle
	}
	for object, key := range cities {
		if err := t.Insert(key, object); err != nil {
			log.Fatal(err)
		}
	}
	fmt.Printf("indexed %d points\n", len(cities))

	object, err := t.FindAny([]float32{37.8, -122.4})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("point lookup (37.8,-122.4) -> object %d\n", object)

	pairs, err := t.Range([]float32{34.0, -125.0}, []float32{48.0, -118.0})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("west-coast range scan -> %d hits\n", len(pairs))
	for _, pair := range pairs {
		fmt.Printf("  object %d at (%.1f, %.1f)\n", pair.Object, pair.Key[0], pair.Key[1])
	}

	if _, err := t.Delete([]float32{41.9, -87.6}); err != nil {
		log.Fatal(err)
	}
	stats := t.Stats()
	fmt.Printf("after one delete: %d records on %d pages, %d disk reads\n",
		stats.IndexedRecords, stats.TreePages, stats.IOReads)

	box := t.RootBox()
	fmt.Printf("root box: [%.1f,%.1f] x [%.1f,%.1f]\n",
		box[0].Start, box[0].End, box[1].Start, box[1].End)
}
