package main

import (
	"fmt"
	"log"
	"strings"

	"github.com/intellect4all/heaptree/tree"
)

func demoGraph(path string) {
	fmt.Println("\n### Graph index ###")
	fmt.Println(strings.Repeat("-", 40))

	cfg := tree.DefaultConfig(0)
	cfg.Variant = tree.Graph
	t, err := tree.New(path, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer t.Close()

	arcs := []tree.Arc{
		{From: 1, To: 2, Weight: 4.5},
		{From: 1, To: 3, Weight: 2.0},
		{From: 2, To: 3, Weight: 1.5},
		{From: 3, To: 1, Weight: 7.25},
		{From: 3, To: 4, Weight: 0.5},
	}
	for _, arc := range arcs {
		if err := t.InsertArc(arc.From, arc.To, arc.Weight); err != nil {
			log.Fatal(err)
		}
	}
	fmt.Printf("indexed %d arcs\n", len(arcs))

	out, err := t.FindArcs(3)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("outgoing arcs of source 3:\n")
	for _, arc := range out {
		fmt.Printf("  3 -> %d (weight %.2f)\n", arc.To, arc.Weight)
	}

	weight, err := t.FindArc(1, 2)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("arc 1->2 has weight %.2f\n", weight)

	if _, err := t.DeleteArc(1, 3); err != nil {
		log.Fatal(err)
	}
	stats := t.Stats()
	fmt.Printf("after one delete: %d arcs on %d pages\n", stats.IndexedRecords, stats.TreePages)

	r := t.RootRange()
	fmt.Printf("root source range: [%d, %d]\n", r.Start, r.End)
}
