// Command benchmark compares heaptree against bbolt on the same point
// workload: load N d-dimensional points, then issue point lookups.
// bbolt indexes the little-endian serialization of each key, which
// gives it exact point lookups but no spatial structure; the
// comparison bounds what the paged R-tree costs for the same access
// pattern.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/intellect4all/heaptree/common/benchmark"
	"github.com/intellect4all/heaptree/tree"
)

var bucketName = []byte("points")

// boltIndex adapts a bbolt bucket to the benchmark surface.
type boltIndex struct {
	db *bolt.DB
}

func (b *boltIndex) key(key []float32) []byte {
	out := make([]byte, 4*len(key))
	for j, v := range key {
		binary.LittleEndian.PutUint32(out[4*j:], math.Float32bits(v))
	}
	return out
}

func (b *boltIndex) Insert(key []float32, object uint64) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		var value [8]byte
		binary.LittleEndian.PutUint64(value[:], object)
		return tx.Bucket(bucketName).Put(b.key(key), value[:])
	})
}

func (b *boltIndex) FindAny(key []float32) (uint64, error) {
	var object uint64
	err := b.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(bucketName).Get(b.key(key))
		if value == nil {
			return fmt.Errorf("key not found")
		}
		object = binary.LittleEndian.Uint64(value)
		return nil
	})
	return object, err
}

func main() {
	points := flag.Int("points", 50000, "points to load")
	lookups := flag.Int("lookups", 100000, "lookups to issue")
	dims := flag.Int("dims", 2, "dimensions")
	pageSize := flag.Int("pagesize", 4096, "heaptree page size")
	swapCap := flag.Int("swap", 4096, "heaptree resident-page budget")
	dist := flag.String("dist", "uniform", "lookup distribution: uniform, zipfian, sequential")
	flag.Parse()

	dir, err := os.MkdirTemp("", "heaptree-bench-*")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	base := benchmark.Config{
		NumPoints:       *points,
		Dimensions:      *dims,
		Lookups:         *lookups,
		KeyDistribution: benchmark.KeyDistribution(*dist),
		Seed:            42,
	}

	fmt.Printf("point workload: %d points, %d lookups, %d dimensions, %s distribution\n\n",
		*points, *lookups, *dims, *dist)

	// heaptree
	cfg := tree.DefaultConfig(uint16(*dims))
	cfg.PageSize = uint32(*pageSize)
	cfg.SwapCapacity = *swapCap
	ht, err := tree.New(filepath.Join(dir, "bench.heap"), cfg)
	if err != nil {
		log.Fatal(err)
	}
	htCfg := base
	htCfg.Name = "heaptree"
	htResult, err := benchmark.Run(ht, htCfg)
	if err != nil {
		log.Fatal(err)
	}
	stats := ht.Stats()
	htResult.Print()
	fmt.Printf("%-24s %8d pages, %d disk reads\n\n", "", stats.TreePages, stats.IOReads)
	if err := ht.Close(); err != nil {
		log.Fatal(err)
	}

	// bbolt
	db, err := bolt.Open(filepath.Join(dir, "bench.bolt"), 0o644, nil)
	if err != nil {
		log.Fatal(err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		log.Fatal(err)
	}
	boltCfg := base
	boltCfg.Name = "bbolt"
	boltResult, err := benchmark.Run(&boltIndex{db: db}, boltCfg)
	if err != nil {
		log.Fatal(err)
	}
	boltResult.Print()
	if err := db.Close(); err != nil {
		log.Fatal(err)
	}
}
