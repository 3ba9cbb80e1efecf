// Copyright The crashsym authors
// SPDX-License-Identifier: Apache-2.0

package staticmap // import "github.com/crashsym/crashsym/staticmap"

import "sort"

// AddressMap is a Map keyed by record start addresses with no size notion:
// a lookup returns the record with the greatest address <= the query.
type AddressMap struct {
	Map
}

// NewAddressMap constructs a view over a serialized map region.
func NewAddressMap(data []byte) AddressMap {
	return AddressMap{Map: NewMap(data)}
}

// Retrieve returns the record with the greatest stored address <= addr,
// along with that address.
func (m AddressMap) Retrieve(addr uint64) (value []byte, entryAddr uint64, ok bool) {
	n := m.Len()
	i := sort.Search(n, func(i int) bool {
		return m.key(i) > addr
	})
	if i == 0 {
		return nil, 0, false
	}
	return m.value(i - 1), m.key(i - 1), true
}

// AddressMapBuilder accumulates records keyed by start address and
// serializes them into the region format read by AddressMap.
type AddressMapBuilder struct {
	MapBuilder
}
