// Copyright The crashsym authors
// SPDX-License-Identifier: Apache-2.0

package libsym

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDebugIdentifier(t *testing.T) {
	id, err := ParseDebugIdentifier("3C00FA86AE8E4A0ABB1D7A2E39F3B9A01")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), id.Age)
	assert.Equal(t, "3C00FA86AE8E4A0ABB1D7A2E39F3B9A01", id.String())

	id, err = ParseDebugIdentifier("3C00FA86AE8E4A0ABB1D7A2E39F3B9A0a2")
	require.NoError(t, err)
	assert.Equal(t, uint32(0xa2), id.Age)

	_, err = ParseDebugIdentifier("3C00FA86")
	assert.Error(t, err)
	_, err = ParseDebugIdentifier("ZZ00FA86AE8E4A0ABB1D7A2E39F3B9A01")
	assert.Error(t, err)
}

func TestModuleIDHash(t *testing.T) {
	a := ModuleID{CodeFile: "foo.dll", DebugID: "ABCD1"}
	b := ModuleID{CodeFile: "foo.dll", DebugID: "ABCD2"}
	assert.Equal(t, a.Hash32(), a.Hash32())
	assert.NotEqual(t, a.Hash32(), b.Hash32())
}
