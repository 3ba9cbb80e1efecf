// Copyright The crashsym authors
// SPDX-License-Identifier: Apache-2.0

// Package staticmap implements the binary-searchable containers used by
// serialized symbol modules. Each container is a zero-copy view over a byte
// region produced by the matching builder: a 4-byte entry count followed by
// fixed-stride entry descriptors, with variable-length record bytes stored
// at offsets relative to the region start.
//
// The views trust the region they are given; the serialized-module loader is
// responsible for validating the overall buffer size before constructing
// them.
package staticmap // import "github.com/crashsym/crashsym/staticmap"

import (
	"encoding/binary"
	"sort"
)

const (
	headerSize     = 4
	mapEntrySize   = 16 // key(8) valOff(4) valLen(4)
	rangeEntrySize = 24 // end(8) start(8) valOff(4) valLen(4)
	crmEntrySize   = 28 // end(8) start(8) childOff(4) valOff(4) valLen(4)
)

// Map is a sorted key/value view supporting exact lookup, lower-bound seek
// and ordered iteration. Duplicate keys are allowed; they retain the order
// the builder received them in.
type Map struct {
	data []byte
}

// NewMap constructs a view over a serialized map region.
func NewMap(data []byte) Map {
	return Map{data: data}
}

// Len returns the number of entries.
func (m Map) Len() int {
	if len(m.data) < headerSize {
		return 0
	}
	return int(binary.LittleEndian.Uint32(m.data))
}

func (m Map) key(i int) uint64 {
	return binary.LittleEndian.Uint64(m.data[headerSize+i*mapEntrySize:])
}

func (m Map) value(i int) []byte {
	e := m.data[headerSize+i*mapEntrySize:]
	off := binary.LittleEndian.Uint32(e[8:])
	length := binary.LittleEndian.Uint32(e[12:])
	return m.data[off : off+length]
}

// Find returns the value stored under key. With duplicate keys the first
// stored entry wins.
func (m Map) Find(key uint64) ([]byte, bool) {
	it := m.LowerBound(key)
	if !it.Valid() || it.Key() != key {
		return nil, false
	}
	return it.Value(), true
}

// LowerBound positions an iterator at the first entry whose key is >= key.
func (m Map) LowerBound(key uint64) MapIterator {
	n := m.Len()
	i := sort.Search(n, func(i int) bool {
		return m.key(i) >= key
	})
	return MapIterator{m: m, i: i}
}

// Iterate positions an iterator at the first entry.
func (m Map) Iterate() MapIterator {
	return MapIterator{m: m}
}

// MapIterator walks a Map in key order.
type MapIterator struct {
	m Map
	i int
}

// Valid reports whether the iterator points at an entry.
func (it MapIterator) Valid() bool {
	return it.i < it.m.Len()
}

// Key returns the current entry's key. Only valid while Valid() is true.
func (it MapIterator) Key() uint64 {
	return it.m.key(it.i)
}

// Value returns the current entry's record bytes.
func (it MapIterator) Value() []byte {
	return it.m.value(it.i)
}

// Next advances the iterator.
func (it *MapIterator) Next() {
	it.i++
}

// MapBuilder accumulates key/value pairs and serializes them into the region
// format read by Map. Insertion order is kept for duplicate keys.
type MapBuilder struct {
	keys   []uint64
	values [][]byte
}

// Add stores value under key. The value bytes are referenced, not copied.
func (b *MapBuilder) Add(key uint64, value []byte) {
	b.keys = append(b.keys, key)
	b.values = append(b.values, value)
}

// Len returns the number of entries added so far.
func (b *MapBuilder) Len() int {
	return len(b.keys)
}

// Serialize produces the byte region read by Map.
func (b *MapBuilder) Serialize() []byte {
	n := len(b.keys)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return b.keys[order[i]] < b.keys[order[j]]
	})

	size := headerSize + n*mapEntrySize
	for _, v := range b.values {
		size += len(v)
	}
	buf := make([]byte, headerSize+n*mapEntrySize, size)
	binary.LittleEndian.PutUint32(buf, uint32(n))
	valOff := uint32(len(buf))
	for i, idx := range order {
		e := buf[headerSize+i*mapEntrySize:]
		binary.LittleEndian.PutUint64(e, b.keys[idx])
		binary.LittleEndian.PutUint32(e[8:], valOff)
		binary.LittleEndian.PutUint32(e[12:], uint32(len(b.values[idx])))
		valOff += uint32(len(b.values[idx]))
	}
	for _, idx := range order {
		buf = append(buf, b.values[idx]...)
	}
	return buf
}
