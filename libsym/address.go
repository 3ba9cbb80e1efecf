// Copyright The crashsym authors
// SPDX-License-Identifier: Apache-2.0

// Package libsym holds the value types shared by the symbol-file parser, the
// serialized-module reader and the resolver facade.
package libsym // import "github.com/crashsym/crashsym/libsym"

// MemAddr is a 64-bit module-relative memory offset.
type MemAddr uint64

// ContainsAddress reports whether addr falls within [base, base+size).
// The comparison is written so that ranges near the top of the address
// space cannot wrap.
func ContainsAddress(base, size, addr MemAddr) bool {
	return addr >= base && addr-base < size
}
