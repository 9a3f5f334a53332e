// Command demo walks through both tree variants: a 2-D spatial index
// with point, range and delete operations, and a graph index with
// weighted adjacency lists.
package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

func main() {
	fmt.Println(strings.Repeat("=", 72))
	fmt.Println("heaptree demo: paged spatial and graph indexes on one engine")
	fmt.Println(strings.Repeat("=", 72))

	dir, err := os.MkdirTemp("", "heaptree-demo-*")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	demoSpatial(filepath.Join(dir, "points.heap"))
	fmt.Println()
	demoGraph(filepath.Join(dir, "arcs.heap"))
}
