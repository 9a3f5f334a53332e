package common

import "errors"

var (
	// ErrNotFound is returned by lookups and deletes with no matching
	// record. Non-fatal; callers are expected to test for it.
	ErrNotFound = errors.New("no matching record")

	// ErrClosed is returned by operations on a closed tree.
	ErrClosed = errors.New("tree is closed")

	// ErrCorruptPage reports a page whose serialized form does not fit
	// its fixed size, or whose on-disk fields are out of bounds.
	ErrCorruptPage = errors.New("corrupt page")

	// ErrConfigRejected reports a creation-time configuration whose
	// minimum occupancy would degenerate below two records per page.
	ErrConfigRejected = errors.New("configuration rejected")
)
