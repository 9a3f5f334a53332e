// Package benchmark runs point-workload micro-benchmarks against any
// index exposing insert and point lookup, so different engines can be
// compared side by side.
package benchmark

import (
	"fmt"
	"time"
)

// PointIndex is the surface a benchmarked engine must expose.
type PointIndex interface {
	Insert(key []float32, object uint64) error
	FindAny(key []float32) (uint64, error)
}

// Config defines a benchmark scenario.
type Config struct {
	Name string

	NumPoints  int // unique points in the dataset
	Dimensions int
	Lookups    int // lookups issued after the load phase

	KeyDistribution KeyDistribution
	Seed            int64
}

// Result collects the measurements of one run.
type Result struct {
	Config Config

	Inserts        int
	Lookups        int
	Misses         int
	InsertDuration time.Duration
	LookupDuration time.Duration
}

func (r *Result) InsertsPerSec() float64 {
	if r.InsertDuration == 0 {
		return 0
	}
	return float64(r.Inserts) / r.InsertDuration.Seconds()
}

func (r *Result) LookupsPerSec() float64 {
	if r.LookupDuration == 0 {
		return 0
	}
	return float64(r.Lookups) / r.LookupDuration.Seconds()
}

// Run loads NumPoints records and then issues Lookups point queries
// according to the configured distribution.
func Run(index PointIndex, cfg Config) (*Result, error) {
	keyGen := NewKeyGenerator(cfg.NumPoints, cfg.Dimensions, cfg.KeyDistribution, cfg.Seed)
	result := &Result{Config: cfg}

	start := time.Now()
	for n := 0; n < cfg.NumPoints; n++ {
		if err := index.Insert(keyGen.Point(n), uint64(n)); err != nil {
			return nil, fmt.Errorf("%s: insert point %d: %w", cfg.Name, n, err)
		}
		result.Inserts++
	}
	result.InsertDuration = time.Since(start)

	start = time.Now()
	for i := 0; i < cfg.Lookups; i++ {
		n := keyGen.NextPoint()
		object, err := index.FindAny(keyGen.Point(n))
		if err != nil {
			result.Misses++
			continue
		}
		if object != uint64(n) {
			return nil, fmt.Errorf("%s: lookup of point %d returned object %d", cfg.Name, n, object)
		}
		result.Lookups++
	}
	result.LookupDuration = time.Since(start)

	return result, nil
}

// Print renders a result to stdout.
func (r *Result) Print() {
	fmt.Printf("%-24s %8d inserts in %-12v (%10.0f ops/s)\n",
		r.Config.Name, r.Inserts, r.InsertDuration.Round(time.Millisecond), r.InsertsPerSec())
	fmt.Printf("%-24s %8d lookups in %-12v (%10.0f ops/s, %d misses)\n",
		"", r.Lookups, r.LookupDuration.Round(time.Millisecond), r.LookupsPerSec(), r.Misses)
}
