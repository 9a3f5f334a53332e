package swap

import "testing"

func TestAdmitUntilCapacity(t *testing.T) {
	s := New(4)
	for id := uint64(0); id < 4; id++ {
		if evicted := s.SetPriority(id, float64(id)); evicted != None {
			t.Fatalf("eviction below capacity: %d", evicted)
		}
	}
	if s.Len() != 4 {
		t.Fatalf("expected 4 tracked identifiers, got %d", s.Len())
	}
	for id := uint64(0); id < 4; id++ {
		if !s.IsActive(id) {
			t.Fatalf("identifier %d not active", id)
		}
	}
}

func TestEvictsSmallestPriority(t *testing.T) {
	s := New(3)
	s.SetPriority(10, 1)
	s.SetPriority(20, 2)
	s.SetPriority(30, 3)

	if evicted := s.SetPriority(40, 4); evicted != 10 {
		t.Fatalf("expected to evict 10, evicted %d", evicted)
	}
	if s.IsActive(10) {
		t.Fatal("evicted identifier still active")
	}
	if !s.IsActive(40) {
		t.Fatal("admitted identifier not active")
	}
}

func TestTouchProtectsFromEviction(t *testing.T) {
	s := New(3)
	s.SetPriority(10, 1)
	s.SetPriority(20, 2)
	s.SetPriority(30, 3)

	// Touch 10 so 20 becomes the coldest.
	if evicted := s.SetPriority(10, 4); evicted != None {
		t.Fatalf("touch evicted %d", evicted)
	}
	if evicted := s.SetPriority(40, 5); evicted != 20 {
		t.Fatalf("expected to evict 20, evicted %d", evicted)
	}
}

func TestTouchNeverLowersPriority(t *testing.T) {
	s := New(2)
	s.SetPriority(10, 5)
	s.SetPriority(20, 6)
	// A touch with a smaller value must not demote 10.
	s.SetPriority(10, 1)
	if evicted := s.SetPriority(30, 7); evicted != 10 {
		t.Fatalf("expected the still-coldest 10, evicted %d", evicted)
	}
}

func TestUnsetPriority(t *testing.T) {
	s := New(3)
	s.SetPriority(10, 1)
	s.SetPriority(20, 2)

	if !s.UnsetPriority(10) {
		t.Fatal("unset of tracked identifier reported absent")
	}
	if s.UnsetPriority(10) {
		t.Fatal("unset of removed identifier reported present")
	}
	if s.IsActive(10) {
		t.Fatal("identifier active after unset")
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 tracked identifier, got %d", s.Len())
	}

	// The freed slot is reusable without eviction.
	if evicted := s.SetPriority(30, 3); evicted != None {
		t.Fatalf("admission into freed slot evicted %d", evicted)
	}
	if evicted := s.SetPriority(40, 4); evicted != None {
		t.Fatalf("admission into capacity evicted %d", evicted)
	}
	if evicted := s.SetPriority(50, 5); evicted != 20 {
		t.Fatalf("expected to evict 20, evicted %d", evicted)
	}
}

func TestLRUSequence(t *testing.T) {
	s := New(4)
	clock := 0.0
	touch := func(id uint64) uint64 {
		clock++
		return s.SetPriority(id, clock)
	}

	for id := uint64(1); id <= 4; id++ {
		touch(id)
	}
	touch(1) // order now 2,3,4,1
	touch(3) // order now 2,4,1,3
	if evicted := touch(5); evicted != 2 {
		t.Fatalf("expected 2, evicted %d", evicted)
	}
	if evicted := touch(6); evicted != 4 {
		t.Fatalf("expected 4, evicted %d", evicted)
	}
	if evicted := touch(7); evicted != 1 {
		t.Fatalf("expected 1, evicted %d", evicted)
	}
}

func TestClear(t *testing.T) {
	s := New(3)
	s.SetPriority(10, 1)
	s.SetPriority(20, 2)
	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("expected empty table, got %d", s.Len())
	}
	if s.IsActive(10) || s.IsActive(20) {
		t.Fatal("identifiers active after clear")
	}
	for id := uint64(0); id < 3; id++ {
		if evicted := s.SetPriority(id, float64(id)); evicted != None {
			t.Fatalf("eviction right after clear: %d", evicted)
		}
	}
}
