// Copyright The crashsym authors
// SPDX-License-Identifier: Apache-2.0

package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crashsym/crashsym/libsym"
	"github.com/crashsym/crashsym/symfile"
)

const appSymbols = `MODULE windows x86 5A9832E5287241C1838ED98914E9B7FF1 app.pdb
FILE 1 app.cc
FUNC 1000 100 4 app_main
1000 100 12 1
PUBLIC 2000 0 app_entry
STACK CFI INIT 1000 100 .cfa: $esp 4 +
`

var appID = libsym.ModuleID{CodeFile: "app.pdb", DebugID: "5A9832E5287241C1838ED98914E9B7FF1"}

func TestLoadUnload(t *testing.T) {
	r := New()
	assert.False(t, r.HasModule(appID))

	require.NoError(t, r.LoadModule(appID, []byte(appSymbols)))
	assert.True(t, r.HasModule(appID))
	assert.False(t, r.IsModuleCorrupt(appID))

	assert.True(t, r.UnloadModule(appID))
	assert.False(t, r.HasModule(appID))
	assert.False(t, r.UnloadModule(appID))
}

func TestFillSourceLineInfo(t *testing.T) {
	r := New()
	require.NoError(t, r.LoadModule(appID, []byte(appSymbols)))

	frame := libsym.StackFrame{
		Instruction: 0x401080,
		ModuleBase:  0x400000,
		Module:      appID,
	}
	r.FillSourceLineInfo(&frame, nil)
	assert.Equal(t, "app_main", frame.FunctionName)
	assert.Equal(t, uint64(0x401000), frame.FunctionBase)
	assert.Equal(t, "app.cc", frame.SourceFileName)
	assert.Equal(t, 12, frame.SourceLine)

	cfi := r.FindCFIFrameInfo(&frame)
	require.NotNil(t, cfi)
	assert.Equal(t, "$esp 4 +", cfi.CFARule)

	wfi := r.FindWindowsFrameInfo(&frame)
	require.NotNil(t, wfi)
	assert.Equal(t, uint32(4), wfi.ParameterSize)
}

func TestUnknownModuleLeavesFrameUntouched(t *testing.T) {
	r := New()
	frame := libsym.StackFrame{
		Instruction: 0x401080,
		ModuleBase:  0x400000,
		Module:      libsym.ModuleID{CodeFile: "ghost.dll", DebugID: "0"},
	}
	r.FillSourceLineInfo(&frame, nil)
	assert.Empty(t, frame.FunctionName)
	assert.Zero(t, frame.FunctionBase)
	assert.Nil(t, r.FindWindowsFrameInfo(&frame))
	assert.Nil(t, r.FindCFIFrameInfo(&frame))
}

func TestLoadSerializedModule(t *testing.T) {
	buf, err := symfile.Compile([]byte(appSymbols))
	require.NoError(t, err)

	r := New()
	// LoadModule sniffs the format on its own.
	require.NoError(t, r.LoadModule(appID, buf))

	frame := libsym.StackFrame{Instruction: 0x1080, Module: appID}
	r.FillSourceLineInfo(&frame, nil)
	assert.Equal(t, "app_main", frame.FunctionName)

	assert.Error(t, r.LoadModule(appID, []byte("garbage")))
}

func TestLoadReplacesModule(t *testing.T) {
	r := New()
	require.NoError(t, r.LoadModule(appID, []byte(appSymbols)))
	require.NoError(t, r.LoadModule(appID, []byte(
		"MODULE windows x86 5A9832E5287241C1838ED98914E9B7FF1 app.pdb\nFUNC 1000 100 4 replaced\n")))

	frame := libsym.StackFrame{Instruction: 0x1080, Module: appID}
	r.FillSourceLineInfo(&frame, nil)
	assert.Equal(t, "replaced", frame.FunctionName)
}

func TestResolveFrame(t *testing.T) {
	r := New()
	require.NoError(t, r.LoadModule(appID, []byte(appSymbols)))

	modules := NewCodeModuleMap([]CodeModule{
		{BaseAddress: 0x400000, Size: 0x10000, CodeFile: "app.pdb",
			DebugID: "5A9832E5287241C1838ED98914E9B7FF1"},
		{BaseAddress: 0x7ff00000, Size: 0x1000, CodeFile: "other.dll", DebugID: "1"},
	})
	assert.Nil(t, modules.ModuleForAddress(0x300000))
	assert.Nil(t, modules.ModuleForAddress(0x410000))
	require.NotNil(t, modules.ModuleForAddress(0x400000))

	frame := libsym.StackFrame{Instruction: 0x401020}
	r.ResolveFrame(&frame, modules, nil)
	assert.Equal(t, appID, frame.Module)
	assert.Equal(t, "app_main", frame.FunctionName)

	// A frame in a module without symbols keeps its identity but gains
	// no symbol data.
	frame = libsym.StackFrame{Instruction: 0x7ff00010}
	r.ResolveFrame(&frame, modules, nil)
	assert.Equal(t, "other.dll", frame.Module.CodeFile)
	assert.Empty(t, frame.FunctionName)
}
