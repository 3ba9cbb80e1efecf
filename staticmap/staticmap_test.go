// Copyright The crashsym authors
// SPDX-License-Identifier: Apache-2.0

package staticmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapFindAndIterate(t *testing.T) {
	var b MapBuilder
	b.Add(30, []byte("thirty"))
	b.Add(10, []byte("ten"))
	b.Add(20, []byte("twenty"))
	m := NewMap(b.Serialize())

	require.Equal(t, 3, m.Len())
	value, ok := m.Find(20)
	require.True(t, ok)
	assert.Equal(t, "twenty", string(value))
	_, ok = m.Find(15)
	assert.False(t, ok)

	it := m.LowerBound(15)
	require.True(t, it.Valid())
	assert.Equal(t, uint64(20), it.Key())
	it.Next()
	assert.Equal(t, uint64(30), it.Key())
	it.Next()
	assert.False(t, it.Valid())
}

func TestMapDuplicateKeysKeepOrder(t *testing.T) {
	var b MapBuilder
	b.Add(10, []byte("first"))
	b.Add(10, []byte("second"))
	m := NewMap(b.Serialize())

	var values []string
	for it := m.LowerBound(10); it.Valid(); it.Next() {
		values = append(values, string(it.Value()))
	}
	assert.Equal(t, []string{"first", "second"}, values)
}

func TestMapEmpty(t *testing.T) {
	var b MapBuilder
	m := NewMap(b.Serialize())
	assert.Equal(t, 0, m.Len())
	_, ok := m.Find(1)
	assert.False(t, ok)
}

func TestRangeMapRetrieve(t *testing.T) {
	var b RangeMapBuilder
	require.True(t, b.StoreRange(0x100, 0x20, []byte("f")))
	require.True(t, b.StoreRange(0x200, 0x10, []byte("g")))
	require.False(t, b.StoreRange(0x110, 0x20, []byte("overlap")))
	require.False(t, b.StoreRange(0x150, 0, []byte("empty")))
	m := NewRangeMap(b.Serialize())

	value, base, size, ok := m.RetrieveRange(0x100)
	require.True(t, ok)
	assert.Equal(t, "f", string(value))
	assert.Equal(t, uint64(0x100), base)
	assert.Equal(t, uint64(0x20), size)

	_, _, _, ok = m.RetrieveRange(0xff)
	assert.False(t, ok)
	_, _, _, ok = m.RetrieveRange(0x120)
	assert.False(t, ok)
	value, _, _, ok = m.RetrieveRange(0x11f)
	require.True(t, ok)
	assert.Equal(t, "f", string(value))

	// Between the ranges the nearest one below wins.
	value, base, _, ok = m.RetrieveNearestRange(0x180)
	require.True(t, ok)
	assert.Equal(t, "f", string(value))
	assert.Equal(t, uint64(0x100), base)

	_, _, _, ok = m.RetrieveNearestRange(0xff)
	assert.False(t, ok)
	value, _, _, ok = m.RetrieveNearestRange(0x1000)
	require.True(t, ok)
	assert.Equal(t, "g", string(value))
}

func TestRangeMapTopOfAddressSpace(t *testing.T) {
	var b RangeMapBuilder
	require.True(t, b.StoreRange(0xfffffffffffffff0, 0x10, []byte("top")))
	m := NewRangeMap(b.Serialize())

	_, _, _, ok := m.RetrieveRange(0xffffffffffffffef)
	assert.False(t, ok)
	value, _, _, ok := m.RetrieveRange(0xffffffffffffffff)
	require.True(t, ok)
	assert.Equal(t, "top", string(value))
}

func TestAddressMapRetrieve(t *testing.T) {
	var b AddressMapBuilder
	b.Add(0x100, []byte("p"))
	b.Add(0x200, []byte("q"))
	m := NewAddressMap(b.Serialize())

	_, _, ok := m.Retrieve(0xff)
	assert.False(t, ok)
	value, addr, ok := m.Retrieve(0x1ff)
	require.True(t, ok)
	assert.Equal(t, "p", string(value))
	assert.Equal(t, uint64(0x100), addr)
	value, addr, ok = m.Retrieve(0x5000)
	require.True(t, ok)
	assert.Equal(t, "q", string(value))
	assert.Equal(t, uint64(0x200), addr)
}

func retrieveStrings(m ContainedRangeMap, addr uint64) []string {
	var out []string
	for _, v := range m.RetrieveRanges(addr) {
		out = append(out, string(v))
	}
	return out
}

func TestContainedRangeMapNesting(t *testing.T) {
	var b ContainedRangeMapBuilder
	require.True(t, b.StoreRange(0x100, 0x100, []byte("outer")))
	require.True(t, b.StoreRange(0x120, 0x40, []byte("middle")))
	require.True(t, b.StoreRange(0x130, 0x10, []byte("inner")))
	require.True(t, b.StoreRange(0x300, 0x10, []byte("other")))
	m := NewContainedRangeMap(b.Serialize())

	// Walking root to leaf yields the innermost range last.
	assert.Equal(t, []string{"outer", "middle", "inner"}, retrieveStrings(m, 0x135))
	assert.Equal(t, []string{"outer", "middle"}, retrieveStrings(m, 0x121))
	assert.Equal(t, []string{"outer"}, retrieveStrings(m, 0x1f0))
	assert.Equal(t, []string{"other"}, retrieveStrings(m, 0x305))
	assert.Empty(t, retrieveStrings(m, 0x200))

	value, ok := m.RetrieveRange(0x135)
	require.True(t, ok)
	assert.Equal(t, "inner", string(value))
}

func TestContainedRangeMapAdoption(t *testing.T) {
	var b ContainedRangeMapBuilder
	// Children arrive before the parent that engulfs them.
	require.True(t, b.StoreRange(0x110, 0x10, []byte("a")))
	require.True(t, b.StoreRange(0x130, 0x10, []byte("b")))
	require.True(t, b.StoreRange(0x100, 0x100, []byte("parent")))
	m := NewContainedRangeMap(b.Serialize())

	assert.Equal(t, []string{"parent", "a"}, retrieveStrings(m, 0x115))
	assert.Equal(t, []string{"parent", "b"}, retrieveStrings(m, 0x135))
	assert.Equal(t, []string{"parent"}, retrieveStrings(m, 0x150))
}

func TestContainedRangeMapRejectsPartialOverlap(t *testing.T) {
	var b ContainedRangeMapBuilder
	require.True(t, b.StoreRange(0x100, 0x20, []byte("a")))
	assert.False(t, b.StoreRange(0x110, 0x20, []byte("straddles end")))
	assert.False(t, b.StoreRange(0xf0, 0x20, []byte("straddles start")))
	assert.False(t, b.StoreRange(0x100, 0, []byte("empty")))
}

func TestContainedRangeMapEqualRangeBecomesChild(t *testing.T) {
	var b ContainedRangeMapBuilder
	require.True(t, b.StoreRange(0x100, 0x20, []byte("first")))
	require.True(t, b.StoreRange(0x100, 0x20, []byte("second")))
	m := NewContainedRangeMap(b.Serialize())

	assert.Equal(t, []string{"first", "second"}, retrieveStrings(m, 0x108))
}
