// Copyright The crashsym authors
// SPDX-License-Identifier: Apache-2.0

package staticmap // import "github.com/crashsym/crashsym/staticmap"

import (
	"encoding/binary"
	"sort"
)

// ContainedRangeMap is a view over an ordered forest of ranges in which a
// range lying inside another is stored as its child. Lookups walk from the
// roots towards the leaves, so results are ordered outermost first.
//
// Region layout: the root container starts at offset 0. A container is a
// 4-byte entry count followed by entries of (end, start, childOff, valOff,
// valLen); childOff is the region-relative offset of the child container, or
// zero for a leaf.
type ContainedRangeMap struct {
	data []byte
}

// NewContainedRangeMap constructs a view over a serialized region.
func NewContainedRangeMap(data []byte) ContainedRangeMap {
	return ContainedRangeMap{data: data}
}

// Len returns the number of top-level ranges.
func (m ContainedRangeMap) Len() int {
	return m.count(0)
}

func (m ContainedRangeMap) count(container uint32) int {
	if int(container)+headerSize > len(m.data) {
		return 0
	}
	return int(binary.LittleEndian.Uint32(m.data[container:]))
}

func (m ContainedRangeMap) entry(container uint32, i int) (end, start uint64, child uint32, value []byte) {
	e := m.data[int(container)+headerSize+i*crmEntrySize:]
	end = binary.LittleEndian.Uint64(e)
	start = binary.LittleEndian.Uint64(e[8:])
	child = binary.LittleEndian.Uint32(e[16:])
	off := binary.LittleEndian.Uint32(e[20:])
	length := binary.LittleEndian.Uint32(e[24:])
	return end, start, child, m.data[off : off+length]
}

func (m ContainedRangeMap) find(container uint32, addr uint64) (child uint32, value []byte, ok bool) {
	n := m.count(container)
	i := sort.Search(n, func(i int) bool {
		e := m.data[int(container)+headerSize+i*crmEntrySize:]
		return binary.LittleEndian.Uint64(e) >= addr
	})
	if i >= n {
		return 0, nil, false
	}
	_, start, child, value := m.entry(container, i)
	if addr < start {
		return 0, nil, false
	}
	return child, value, true
}

// RetrieveRanges collects the records of every range containing addr, one
// per nesting depth, ordered outermost first (the innermost range is last).
func (m ContainedRangeMap) RetrieveRanges(addr uint64) [][]byte {
	var values [][]byte
	container := uint32(0)
	for {
		child, value, ok := m.find(container, addr)
		if !ok {
			return values
		}
		values = append(values, value)
		if child == 0 {
			return values
		}
		container = child
	}
}

// RetrieveRange returns the record of the innermost range containing addr.
func (m ContainedRangeMap) RetrieveRange(addr uint64) ([]byte, bool) {
	values := m.RetrieveRanges(addr)
	if len(values) == 0 {
		return nil, false
	}
	return values[len(values)-1], true
}

// crmNode is one mutable range node of a ContainedRangeMapBuilder forest.
// children is kept sorted by end key.
type crmNode struct {
	base, end uint64
	value     []byte
	children  []*crmNode
}

// ContainedRangeMapBuilder accumulates possibly-nested ranges and serializes
// them into the region format read by ContainedRangeMap. It also answers
// RetrieveRanges and RetrieveRange queries over the ranges stored so far,
// with the same contract as ContainedRangeMap.
type ContainedRangeMapBuilder struct {
	roots []*crmNode
}

func childIndex(children []*crmNode, addr uint64) int {
	return sort.Search(len(children), func(i int) bool {
		return children[i].end >= addr
	})
}

// StoreRange adds [base, base+size) with the given record bytes. A range
// equal to or contained in a stored one becomes its child; a range
// containing stored ones adopts them. Zero-size ranges and ranges partially
// overlapping a stored one are rejected.
func (b *ContainedRangeMapBuilder) StoreRange(base, size uint64, value []byte) bool {
	high := base + size - 1
	if size == 0 || high < base {
		return false
	}
	return storeRange(&b.roots, &crmNode{base: base, end: high, value: value})
}

func storeRange(children *[]*crmNode, node *crmNode) bool {
	lo := childIndex(*children, node.base)
	hi := childIndex(*children, node.end)

	if lo == hi {
		if lo < len(*children) && node.base >= (*children)[lo].base {
			// Entirely inside an existing range: descend.
			return storeRange(&(*children)[lo].children, node)
		}
		if lo < len(*children) && (*children)[lo].base <= node.end {
			// Straddles the start of an existing range.
			return false
		}
		*children = insertAt(*children, lo, node)
		return true
	}

	// The new range spans existing siblings [lo, hi); it must contain each
	// of them entirely, and must not cut into the one following them.
	if node.base > (*children)[lo].base {
		return false
	}
	adopted := hi
	if hi < len(*children) && (*children)[hi].base <= node.end {
		if (*children)[hi].end > node.end {
			return false
		}
		adopted = hi + 1
	}
	node.children = append(node.children, (*children)[lo:adopted]...)
	*children = append((*children)[:lo+1], (*children)[adopted:]...)
	(*children)[lo] = node
	return true
}

// RetrieveRanges collects the records of every stored range containing addr,
// ordered outermost first.
func (b *ContainedRangeMapBuilder) RetrieveRanges(addr uint64) [][]byte {
	var values [][]byte
	children := b.roots
	for {
		i := childIndex(children, addr)
		if i >= len(children) || addr < children[i].base {
			return values
		}
		values = append(values, children[i].value)
		children = children[i].children
	}
}

// RetrieveRange returns the record of the innermost stored range containing
// addr.
func (b *ContainedRangeMapBuilder) RetrieveRange(addr uint64) ([]byte, bool) {
	values := b.RetrieveRanges(addr)
	if len(values) == 0 {
		return nil, false
	}
	return values[len(values)-1], true
}

// Empty reports whether no ranges have been stored.
func (b *ContainedRangeMapBuilder) Empty() bool {
	return len(b.roots) == 0
}

// Serialize produces the byte region read by ContainedRangeMap.
func (b *ContainedRangeMapBuilder) Serialize() []byte {
	buf := make([]byte, 0, 256)
	emitContainer(&buf, b.roots)
	return buf
}

// emitContainer appends the container for children and returns its offset.
// Child containers and record bytes land after the container that references
// them, with entry fields patched in once their offsets are known.
func emitContainer(buf *[]byte, children []*crmNode) uint32 {
	off := uint32(len(*buf))
	*buf = append(*buf, make([]byte, headerSize+len(children)*crmEntrySize)...)
	binary.LittleEndian.PutUint32((*buf)[off:], uint32(len(children)))
	for i, c := range children {
		entryOff := int(off) + headerSize + i*crmEntrySize
		valOff := uint32(len(*buf))
		*buf = append(*buf, c.value...)
		var childOff uint32
		if len(c.children) > 0 {
			childOff = emitContainer(buf, c.children)
		}
		e := (*buf)[entryOff:]
		binary.LittleEndian.PutUint64(e, c.end)
		binary.LittleEndian.PutUint64(e[8:], c.base)
		binary.LittleEndian.PutUint32(e[16:], childOff)
		binary.LittleEndian.PutUint32(e[20:], valOff)
		binary.LittleEndian.PutUint32(e[24:], uint32(len(c.value)))
	}
	return off
}
