// Copyright The crashsym authors
// SPDX-License-Identifier: Apache-2.0

package stringutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFieldsN(t *testing.T) {
	var f4 [4]string

	n := FieldsN("FUNC 100 20 4", f4[:])
	assert.Equal(t, 4, n)
	assert.Equal(t, [4]string{"FUNC", "100", "20", "4"}, f4)

	// The remainder lands in the last element.
	f4 = [4]string{}
	n = FieldsN("FUNC 100 20 some name with spaces", f4[:])
	assert.Equal(t, 4, n)
	assert.Equal(t, "some name with spaces", f4[3])

	// Tabs and runs of spaces separate fields too.
	f4 = [4]string{}
	n = FieldsN("a\tb  c", f4[:])
	assert.Equal(t, 3, n)
	assert.Equal(t, [4]string{"a", "b", "c", ""}, f4)

	f4 = [4]string{}
	assert.Equal(t, 0, FieldsN("   ", f4[:]))
	assert.Equal(t, 0, FieldsN("", f4[:]))

	var f2 [2]string
	n = FieldsN("one two three", f2[:])
	assert.Equal(t, 2, n)
	assert.Equal(t, "one", f2[0])
	assert.Equal(t, "two three", f2[1])
}

func TestByteSlice2String(t *testing.T) {
	assert.Equal(t, "", ByteSlice2String(nil))
	assert.Equal(t, "abc", ByteSlice2String([]byte{'a', 'b', 'c'}))
}
