// Copyright The crashsym authors
// SPDX-License-Identifier: Apache-2.0

// Package stringutil provides allocation-free helpers for splitting the
// line-oriented text formats handled by this repository.
package stringutil // import "github.com/crashsym/crashsym/stringutil"

import "unsafe"

var asciiSpace = [256]uint8{'\t': 1, '\n': 1, '\v': 1, '\f': 1, '\r': 1, ' ': 1}

// FieldsN splits s around runs of ASCII space characters, filling f with the
// substrings. If s holds more fields than len(f), the last element of f
// receives the unparsed remainder starting at its first non-space character.
// The number of filled elements is returned; f is left untouched for an empty
// or all-space s.
//
// FieldsN behaves like strings.Fields but never allocates.
func FieldsN(s string, f []string) int {
	n := len(f)
	si := 0
	for i := 0; i < n-1; i++ {
		for si < len(s) && asciiSpace[s[si]] != 0 {
			si++
		}
		fieldStart := si

		for si < len(s) && asciiSpace[s[si]] == 0 {
			si++
		}
		if fieldStart >= si {
			return i
		}

		f[i] = s[fieldStart:si]
	}

	for si < len(s) && asciiSpace[s[si]] != 0 {
		si++
	}

	if si < len(s) {
		f[n-1] = s[si:]
		return n
	}

	return n - 1
}

// ByteSlice2String converts a byte slice to a string without copying.
// The caller must guarantee that the underlying bytes do not change
// afterwards.
func ByteSlice2String(bs []byte) string {
	if len(bs) == 0 {
		return ""
	}
	return unsafe.String(unsafe.SliceData(bs), len(bs))
}
