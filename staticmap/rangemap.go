// Copyright The crashsym authors
// SPDX-License-Identifier: Apache-2.0

package staticmap // import "github.com/crashsym/crashsym/staticmap"

import (
	"encoding/binary"
	"sort"
)

// RangeMap is a view over disjoint [start, end] ranges sorted by their
// inclusive end key.
type RangeMap struct {
	data []byte
}

// NewRangeMap constructs a view over a serialized range-map region.
func NewRangeMap(data []byte) RangeMap {
	return RangeMap{data: data}
}

// Len returns the number of ranges.
func (m RangeMap) Len() int {
	if len(m.data) < headerSize {
		return 0
	}
	return int(binary.LittleEndian.Uint32(m.data))
}

func (m RangeMap) entry(i int) (end, start uint64, value []byte) {
	e := m.data[headerSize+i*rangeEntrySize:]
	end = binary.LittleEndian.Uint64(e)
	start = binary.LittleEndian.Uint64(e[8:])
	off := binary.LittleEndian.Uint32(e[16:])
	length := binary.LittleEndian.Uint32(e[20:])
	return end, start, m.data[off : off+length]
}

func (m RangeMap) end(i int) uint64 {
	return binary.LittleEndian.Uint64(m.data[headerSize+i*rangeEntrySize:])
}

// RetrieveRange returns the range containing addr, as its record bytes plus
// the range's base address and size.
func (m RangeMap) RetrieveRange(addr uint64) (value []byte, base, size uint64, ok bool) {
	n := m.Len()
	i := sort.Search(n, func(i int) bool {
		return m.end(i) >= addr
	})
	if i >= n {
		return nil, 0, 0, false
	}
	end, start, val := m.entry(i)
	if addr < start {
		return nil, 0, 0, false
	}
	return val, start, end - start + 1, true
}

// RetrieveNearestRange returns the range containing addr or, failing that,
// the nearest range below it: the one with the greatest start <= addr. The
// caller is responsible for checking whether addr actually falls inside the
// returned range.
func (m RangeMap) RetrieveNearestRange(addr uint64) (value []byte, base, size uint64, ok bool) {
	if value, base, size, ok = m.RetrieveRange(addr); ok {
		return value, base, size, true
	}
	n := m.Len()
	i := sort.Search(n, func(i int) bool {
		return m.end(i) >= addr
	})
	if i == 0 {
		return nil, 0, 0, false
	}
	end, start, val := m.entry(i - 1)
	return val, start, end - start + 1, true
}

// RangeMapBuilder accumulates disjoint ranges and serializes them into the
// region format read by RangeMap.
type RangeMapBuilder struct {
	ends   []uint64
	starts []uint64
	values [][]byte
}

// StoreRange adds [base, base+size) with the given record bytes. Ranges of
// size zero and ranges overlapping a stored one are rejected.
func (b *RangeMapBuilder) StoreRange(base, size uint64, value []byte) bool {
	high := base + size - 1
	if size == 0 || high < base {
		return false
	}
	i := sort.Search(len(b.ends), func(i int) bool {
		return b.ends[i] >= base
	})
	if i < len(b.ends) && b.starts[i] <= high {
		return false
	}
	b.ends = insertAt(b.ends, i, high)
	b.starts = insertAt(b.starts, i, base)
	b.values = insertAt(b.values, i, value)
	return true
}

func insertAt[T any](s []T, i int, v T) []T {
	s = append(s, v)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

// Len returns the number of ranges stored so far.
func (b *RangeMapBuilder) Len() int {
	return len(b.ends)
}

// Serialize produces the byte region read by RangeMap.
func (b *RangeMapBuilder) Serialize() []byte {
	n := len(b.ends)
	size := headerSize + n*rangeEntrySize
	for _, v := range b.values {
		size += len(v)
	}
	buf := make([]byte, headerSize+n*rangeEntrySize, size)
	binary.LittleEndian.PutUint32(buf, uint32(n))
	valOff := uint32(len(buf))
	for i := 0; i < n; i++ {
		e := buf[headerSize+i*rangeEntrySize:]
		binary.LittleEndian.PutUint64(e, b.ends[i])
		binary.LittleEndian.PutUint64(e[8:], b.starts[i])
		binary.LittleEndian.PutUint32(e[16:], valOff)
		binary.LittleEndian.PutUint32(e[20:], uint32(len(b.values[i])))
		valOff += uint32(len(b.values[i]))
	}
	for _, v := range b.values {
		buf = append(buf, v...)
	}
	return buf
}
