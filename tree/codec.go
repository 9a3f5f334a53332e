package tree

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/intellect4all/heaptree/common"
)

// On-disk layout. All multi-byte integers are little-endian.
//
// Tree header, at file offset 0, zero-padded to one page:
//
//	offset  size  field
//	0       2     dimensions (0 for the graph variant)
//	2       4     page size
//	6       8     page count
//	14      8     indexed records
//
// Page i occupies bytes (i+1)*P .. (i+2)*P-1:
//
//	offset  size  field
//	0       4     records
//	4       1     flags (bit 0: leaf; bit 1: dirty, never persisted set)
//	5       3     padding
//	8       -     body, by variant and leaf flag (see the node types)

const (
	flagLeaf  = 1 << 0
	flagDirty = 1 << 1
)

func (t *Tree) encodeTreeHeader() []byte {
	buf := make([]byte, t.pageSize)
	binary.LittleEndian.PutUint16(buf[0:], t.dims)
	binary.LittleEndian.PutUint32(buf[2:], t.pageSize)
	binary.LittleEndian.PutUint64(buf[6:], t.treeSize)
	binary.LittleEndian.PutUint64(buf[14:], t.indexedRecords)
	return buf
}

func (t *Tree) decodeTreeHeader(buf []byte) error {
	if len(buf) < treeHeaderSize {
		return fmt.Errorf("heapfile header truncated at %d bytes: %w", len(buf), common.ErrCorruptPage)
	}
	t.dims = binary.LittleEndian.Uint16(buf[0:])
	t.pageSize = binary.LittleEndian.Uint32(buf[2:])
	t.treeSize = binary.LittleEndian.Uint64(buf[6:])
	t.indexedRecords = binary.LittleEndian.Uint64(buf[14:])
	if t.pageSize < treeHeaderSize {
		return fmt.Errorf("implausible page size %d: %w", t.pageSize, common.ErrCorruptPage)
	}
	return nil
}

// serializePage renders a page into a fresh buffer of exactly one page
// size. A page whose populated fields would overflow the page is
// rejected.
func (t *Tree) serializePage(p *Page) ([]byte, error) {
	buf := make([]byte, t.pageSize)
	binary.LittleEndian.PutUint32(buf[0:], p.records)
	if p.leaf {
		buf[4] = flagLeaf
	}

	off := pageHeaderSize
	need := t.serializedSize(p)
	if need > int(t.pageSize) {
		return nil, fmt.Errorf("page of %d records serializes to %d bytes, page size is %d: %w",
			p.records, need, t.pageSize, common.ErrCorruptPage)
	}

	switch n := p.node.(type) {
	case *spatialLeaf:
		for i := 0; i < int(p.records)*int(t.dims); i++ {
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(n.keys[i]))
			off += 4
		}
		for i := 0; i < int(p.records); i++ {
			binary.LittleEndian.PutUint64(buf[off:], n.objects[i])
			off += 8
		}
	case *spatialInternal:
		for i := 0; i < int(p.records)*int(t.dims); i++ {
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(n.boxes[i].Start))
			binary.LittleEndian.PutUint32(buf[off+4:], math.Float32bits(n.boxes[i].End))
			off += 8
		}
	case *graphLeaf:
		arcs := n.totalArcs(p.records)
		for i := 0; i < int(p.records); i++ {
			binary.LittleEndian.PutUint64(buf[off:], n.from[i])
			off += 8
		}
		for i := 0; i < int(p.records); i++ {
			binary.LittleEndian.PutUint16(buf[off:], n.ptrs[i])
			off += 2
		}
		for i := 0; i < arcs; i++ {
			binary.LittleEndian.PutUint64(buf[off:], n.to[i])
			off += 8
		}
		for i := 0; i < arcs; i++ {
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(n.weights[i]))
			off += 4
		}
	case *graphInternal:
		for i := 0; i < int(p.records); i++ {
			binary.LittleEndian.PutUint64(buf[off:], n.ranges[i].Start)
			binary.LittleEndian.PutUint64(buf[off+8:], n.ranges[i].End)
			off += 16
		}
	}
	return buf, nil
}

// serializedSize returns the number of bytes the populated fields of a
// page occupy on disk.
func (t *Tree) serializedSize(p *Page) int {
	records := int(p.records)
	switch n := p.node.(type) {
	case *spatialLeaf:
		return pageHeaderSize + records*(int(t.dims)*4+8)
	case *spatialInternal:
		return pageHeaderSize + records*int(t.dims)*8
	case *graphLeaf:
		return pageHeaderSize + records*(8+2) + n.totalArcs(p.records)*(8+4)
	case *graphInternal:
		return pageHeaderSize + records*16
	}
	return pageHeaderSize
}

// deserializePage is the inverse of serializePage. Record counts that
// exceed the fan-out, or adjacency data that runs past the page
// boundary, are reported as corruption.
func (t *Tree) deserializePage(buf []byte) (*Page, error) {
	if len(buf) != int(t.pageSize) {
		return nil, fmt.Errorf("page buffer of %d bytes, expected %d: %w", len(buf), t.pageSize, common.ErrCorruptPage)
	}
	p := &Page{
		records: binary.LittleEndian.Uint32(buf[0:]),
		leaf:    buf[4]&flagLeaf != 0,
	}
	if p.leaf && p.records > t.leafEntries {
		return nil, fmt.Errorf("leaf claims %d records, fan-out is %d: %w", p.records, t.leafEntries, common.ErrCorruptPage)
	}
	if !p.leaf && p.records > t.internalEntries {
		return nil, fmt.Errorf("internal page claims %d children, fan-out is %d: %w", p.records, t.internalEntries, common.ErrCorruptPage)
	}

	off := pageHeaderSize
	if t.variant == Spatial {
		if p.leaf {
			n := &spatialLeaf{
				dims:    t.dims,
				keys:    make([]float32, t.leafEntries*uint32(t.dims)),
				objects: make([]uint64, t.leafEntries),
			}
			for i := 0; i < int(p.records)*int(t.dims); i++ {
				n.keys[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
				off += 4
			}
			for i := 0; i < int(p.records); i++ {
				n.objects[i] = binary.LittleEndian.Uint64(buf[off:])
				off += 8
			}
			p.node = n
		} else {
			n := &spatialInternal{
				dims:  t.dims,
				boxes: make([]Interval, t.internalEntries*uint32(t.dims)),
			}
			for i := 0; i < int(p.records)*int(t.dims); i++ {
				n.boxes[i].Start = math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
				n.boxes[i].End = math.Float32frombits(binary.LittleEndian.Uint32(buf[off+4:]))
				off += 8
			}
			p.node = n
		}
		return p, nil
	}

	if p.leaf {
		n := &graphLeaf{
			from: make([]uint64, t.leafEntries),
			ptrs: make([]uint16, t.leafEntries),
		}
		for i := 0; i < int(p.records); i++ {
			n.from[i] = binary.LittleEndian.Uint64(buf[off:])
			off += 8
		}
		for i := 0; i < int(p.records); i++ {
			n.ptrs[i] = binary.LittleEndian.Uint16(buf[off:])
			off += 2
		}
		arcs := n.totalArcs(p.records)
		if off+arcs*(8+4) > int(t.pageSize) {
			return nil, fmt.Errorf("adjacency data for %d arcs runs past the page boundary: %w", arcs, common.ErrCorruptPage)
		}
		n.to = make([]uint64, arcs)
		n.weights = make([]float32, arcs)
		for i := 0; i < arcs; i++ {
			n.to[i] = binary.LittleEndian.Uint64(buf[off:])
			off += 8
		}
		for i := 0; i < arcs; i++ {
			n.weights[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
			off += 4
		}
		p.node = n
	} else {
		n := &graphInternal{
			ranges: make([]ObjectRange, t.internalEntries),
		}
		for i := 0; i < int(p.records); i++ {
			n.ranges[i].Start = binary.LittleEndian.Uint64(buf[off:])
			n.ranges[i].End = binary.LittleEndian.Uint64(buf[off+8:])
			off += 16
		}
		p.node = n
	}
	return p, nil
}
