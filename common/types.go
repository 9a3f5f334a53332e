package common

// Stats contains engine statistics.
type Stats struct {
	IndexedRecords uint64 // records (or arcs) currently indexed
	TreePages      uint64 // pages in the heapfile hierarchy
	ResidentPages  int    // pages currently cached in memory
	IOReads        uint64 // pages read from disk since open
	Dirty          bool   // header or pages pending flush
}
