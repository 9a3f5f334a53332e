package benchmark

import (
	mrand "math/rand"
)

// KeyDistribution defines how point keys are accessed.
type KeyDistribution string

const (
	DistUniform    KeyDistribution = "uniform"    // all points equally likely
	DistZipfian    KeyDistribution = "zipfian"    // 80/20 rule (realistic)
	DistSequential KeyDistribution = "sequential" // ascending point numbers
)

// KeyGenerator produces deterministic d-dimensional point keys: point
// number n always maps to the same coordinates, so lookups can verify
// what preloads wrote.
type KeyGenerator struct {
	numPoints    int
	dimensions   int
	distribution KeyDistribution
	rng          *mrand.Rand
	zipf         *mrand.Zipf
	seq          int
}

func NewKeyGenerator(numPoints, dimensions int, distribution KeyDistribution, seed int64) *KeyGenerator {
	rng := mrand.New(mrand.NewSource(seed))
	kg := &KeyGenerator{
		numPoints:    numPoints,
		dimensions:   dimensions,
		distribution: distribution,
		rng:          rng,
	}
	if distribution == DistZipfian {
		kg.zipf = mrand.NewZipf(rng, 1.1, 1, uint64(numPoints-1))
	}
	return kg
}

// Point returns the coordinates of point number n.
func (kg *KeyGenerator) Point(n int) []float32 {
	local := mrand.New(mrand.NewSource(int64(n) + 1))
	key := make([]float32, kg.dimensions)
	for j := range key {
		key[j] = local.Float32() * 1000
	}
	return key
}

// NextPoint picks a point number according to the distribution.
func (kg *KeyGenerator) NextPoint() int {
	switch kg.distribution {
	case DistZipfian:
		return int(kg.zipf.Uint64())
	case DistSequential:
		n := kg.seq % kg.numPoints
		kg.seq++
		return n
	default:
		return kg.rng.Intn(kg.numPoints)
	}
}
