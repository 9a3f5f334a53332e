// Package swap implements the fixed-capacity priority table that
// decides which pages of a tree stay resident. It is an indexed binary
// min-heap over a small table of identifiers: SetPriority admits,
// touches, or evicts; the evicted identifier — the one with the
// smallest priority — is handed back to the caller for flushing.
// The table is not synchronized; the tree mutates it under its lock.
package swap

import "math"

// None is the sentinel returned by SetPriority when no page was
// evicted.
const None = ^uint64(0)

const freeSlot = ^uint64(0)

// Swap tracks up to capacity page identifiers with their eviction
// priorities. Slots are addressed through a 1-based indexed heap:
// pq maps heap positions to slots, qp maps slots back to positions.
type Swap struct {
	pq   []int
	qp   []int
	keys []float64
	ids  []uint64

	size     int
	capacity int
}

func New(capacity int) *Swap {
	s := &Swap{
		pq:       make([]int, capacity+1),
		qp:       make([]int, capacity+1),
		keys:     make([]float64, capacity+1),
		ids:      make([]uint64, capacity),
		capacity: capacity,
	}
	s.Clear()
	return s
}

func (s *Swap) Len() int { return s.size }
func (s *Swap) Cap() int { return s.capacity }

// Clear drops every tracked identifier.
func (s *Swap) Clear() {
	for i := range s.ids {
		s.ids[i] = freeSlot
	}
	for i := range s.qp {
		s.qp[i] = -1
		s.pq[i] = -1
	}
	s.size = 0
}

// IsActive reports whether id is currently tracked.
func (s *Swap) IsActive(id uint64) bool {
	return s.slotOf(id) >= 0
}

// SetPriority touches id with the given priority. A tracked id has its
// priority raised (touch); an untracked id is admitted while capacity
// lasts. When the table is full the smallest-priority identifier is
// evicted and returned; otherwise None is returned.
func (s *Swap) SetPriority(id uint64, priority float64) uint64 {
	if slot := s.slotOf(id); slot >= 0 {
		s.increaseKey(slot+1, priority)
		return None
	}
	if s.size < s.capacity {
		slot := s.freeSlotIndex()
		s.ids[slot] = id
		s.insert(slot+1, priority)
		return None
	}
	i := s.delMin()
	previous := s.ids[i-1]
	s.ids[i-1] = id
	s.insert(i, priority)
	return previous
}

// UnsetPriority removes id and reports whether it was tracked.
func (s *Swap) UnsetPriority(id uint64) bool {
	slot := s.slotOf(id)
	if slot < 0 {
		return false
	}
	s.ids[slot] = freeSlot
	s.remove(slot + 1)
	return true
}

func (s *Swap) slotOf(id uint64) int {
	for i := 0; i < s.capacity; i++ {
		if s.ids[i] == id {
			return i
		}
	}
	return -1
}

func (s *Swap) freeSlotIndex() int {
	for i := 0; i < s.capacity; i++ {
		if s.ids[i] == freeSlot {
			return i
		}
	}
	return -1
}

func (s *Swap) greater(i, j int) bool {
	return s.keys[s.pq[i]] > s.keys[s.pq[j]]
}

func (s *Swap) exch(i, j int) {
	s.pq[i], s.pq[j] = s.pq[j], s.pq[i]
	s.qp[s.pq[i]] = i
	s.qp[s.pq[j]] = j
}

func (s *Swap) swim(k int) {
	for k > 1 && s.greater(k>>1, k) {
		s.exch(k, k>>1)
		k >>= 1
	}
}

func (s *Swap) sink(k int) {
	for j := k << 1; j <= s.size; j = k << 1 {
		if j < s.size && s.greater(j, j+1) {
			j++
		}
		if !s.greater(k, j) {
			break
		}
		s.exch(k, j)
		k = j
	}
}

func (s *Swap) insert(i int, key float64) {
	s.size++
	s.keys[i] = key
	s.qp[i] = s.size
	s.pq[s.size] = i
	s.swim(s.size)
}

func (s *Swap) increaseKey(i int, key float64) {
	if key > s.keys[i] {
		s.keys[i] = key
		s.sink(s.qp[i])
	}
}

func (s *Swap) delMin() int {
	min := s.pq[1]
	s.exch(1, s.size)
	s.size--
	s.sink(1)
	s.qp[min] = -1
	s.pq[s.size+1] = -1
	return min
}

func (s *Swap) remove(i int) {
	pos := s.qp[i]
	s.exch(pos, s.size)
	s.size--
	if pos <= s.size {
		s.swim(pos)
		s.sink(pos)
	}
	s.keys[i] = math.MaxFloat64
	s.qp[i] = -1
	s.pq[s.size+1] = -1
}
