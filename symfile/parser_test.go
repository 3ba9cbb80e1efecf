// Copyright The crashsym authors
// SPDX-License-Identifier: Apache-2.0

package symfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crashsym/crashsym/libsym"
)

func parse(t *testing.T, text string) *Module {
	t.Helper()
	module, err := ParseModule([]byte(text))
	require.NoError(t, err)
	return module
}

func TestParseModuleHeader(t *testing.T) {
	m := parse(t, "MODULE windows x86 3C00FA86AE8E4A0ABB1D7A2E39F3B9A01 app with spaces.pdb\n")
	assert.Equal(t, "windows", m.OS())
	assert.Equal(t, "x86", m.CPU())
	assert.Equal(t, "3C00FA86AE8E4A0ABB1D7A2E39F3B9A01", m.DebugID())
	assert.Equal(t, "app with spaces.pdb", m.CodeFile())
	assert.False(t, m.IsCorrupt())

	_, err := ParseModule([]byte("FILE 1 a.c\n"))
	assert.ErrorIs(t, err, ErrMalformedHeader)
	_, err = ParseModule([]byte("MODULE windows x86\n"))
	assert.ErrorIs(t, err, ErrMalformedHeader)
	_, err = ParseModule(nil)
	assert.ErrorIs(t, err, ErrMalformedHeader)
}

func TestParseRecords(t *testing.T) {
	m := parse(t, `MODULE linux x86_64 ID libfoo.so
INFO CODE_ID 223CB104FB56
FILE 1 /src/a.c
FILE 2 /src/b.c
INLINE_ORIGIN 9 inner
FUNC 1000 100 8 outer_function(int, char*)
1000 10 11 1
1010 20 12 2
INLINE 0 42 1 9 1010 8
PUBLIC 2000 4 exported_entry
STACK WIN 4 1000 100 3 4 8 c 10 20 1 $T0 .raSearch =
STACK CFI INIT 1000 100 .cfa: $rsp 8 + .ra: .cfa -8 + ^
STACK CFI 1010 .cfa: $rsp 16 +
`)
	assert.Equal(t, "223CB104FB56", m.CodeID())
	assert.False(t, m.IsCorrupt())

	stats := m.Stats()
	assert.Equal(t, 2, stats.Files)
	assert.Equal(t, 1, stats.Functions)
	assert.Equal(t, 1, stats.PublicSymbols)
	assert.Equal(t, 1, stats.InlineOrigins)
	assert.Equal(t, 1, stats.WindowsFrames)
	assert.Equal(t, 1, stats.CFIInitRules)
	assert.Equal(t, 1, stats.CFIDeltaRules)

	fn := m.functions[0]
	assert.Equal(t, libsym.MemAddr(0x1000), fn.Address)
	assert.Equal(t, libsym.MemAddr(0x100), fn.Size)
	assert.Equal(t, uint32(8), fn.ParameterSize)
	assert.Equal(t, "outer_function(int, char*)", fn.Name)
	require.Len(t, fn.Lines, 2)
	assert.Equal(t, int32(11), fn.Lines[0].Line)
	assert.Equal(t, int32(1), fn.Lines[0].FileID)
	require.Len(t, fn.Inlines, 1)
	assert.Equal(t, int32(42), fn.Inlines[0].CallSiteLine)
	assert.Equal(t, int32(9), fn.Inlines[0].OriginID)

	wfi := m.windowsFrames[libsym.StackInfoFrameData][0]
	assert.Equal(t, libsym.MemAddr(0x1000), wfi.Address)
	assert.Equal(t, uint32(3), wfi.Info.PrologSize)
	assert.Equal(t, uint32(8), wfi.Info.ParameterSize)
	assert.Equal(t, "$T0 .raSearch =", wfi.Info.ProgramString)
	assert.Equal(t, libsym.WFIValidAll, wfi.Info.Valid)
}

func TestParseStackWinAllocatesBasePointer(t *testing.T) {
	m := parse(t, `MODULE windows x86 ID app.pdb
STACK WIN 0 1000 20 0 0 4 0 0 0 0 1
`)
	rec := m.windowsFrames[libsym.StackInfoFPO][0]
	assert.True(t, rec.Info.AllocatesBasePointer)
	assert.Empty(t, rec.Info.ProgramString)
}

func TestMalformedRecordsKeepParsing(t *testing.T) {
	m := parse(t, `MODULE windows x86 ID app.pdb
FILE one a.c
FUNC 1000 20 0 good
1000 20 7 1
FUNC zz 20 0 bad
PUBLIC 2000 0 entry
`)
	assert.True(t, m.IsCorrupt())
	assert.Equal(t, 2, m.MalformedRecords())
	assert.Len(t, m.functions, 1)
	assert.Len(t, m.publics, 1)
}

func TestSourceLineOutsideFunction(t *testing.T) {
	m := parse(t, `MODULE windows x86 ID app.pdb
1000 20 7 1
`)
	assert.True(t, m.IsCorrupt())
	assert.Empty(t, m.functions)
}

func TestUnknownRecordsIgnored(t *testing.T) {
	m := parse(t, `MODULE windows x86 ID app.pdb
FANCY_NEW_RECORD 1 2 3
INFO URL https://example.invalid
`)
	assert.False(t, m.IsCorrupt())
}

func TestDuplicateFunctionLastWins(t *testing.T) {
	m := parse(t, `MODULE windows x86 ID app.pdb
FUNC 100 20 4 first
FUNC 100 20 4 second
`)
	require.Len(t, m.functions, 1)
	assert.Equal(t, "second", m.functions[0].Name)
	assert.True(t, m.functions[0].IsMultiple)

	// A byte-identical duplicate vanishes without marking anything.
	m = parse(t, `MODULE windows x86 ID app.pdb
FUNC 100 20 4 same
FUNC 100 20 4 same
`)
	require.Len(t, m.functions, 1)
	assert.False(t, m.functions[0].IsMultiple)
}

func TestOverlappingFunctionLastWins(t *testing.T) {
	m := parse(t, `MODULE windows x86 ID app.pdb
FUNC 110 10 0 early_parsed
FUNC 100 30 0 late_parsed
`)
	require.Len(t, m.functions, 1)
	assert.Equal(t, "late_parsed", m.functions[0].Name)
	assert.True(t, m.functions[0].IsMultiple)
}

func TestDuplicateSentinel(t *testing.T) {
	m := parse(t, `MODULE windows x86 ID app.pdb
FUNC m 100 20 4 f
PUBLIC m 200 0 g
`)
	assert.True(t, m.functions[0].IsMultiple)
	assert.Equal(t, "f", m.functions[0].Name)
	assert.True(t, m.publics[0].IsMultiple)
	assert.Equal(t, "g", m.publics[0].Name)
}

func TestZeroSizeFunctionExtends(t *testing.T) {
	m := parse(t, `MODULE windows x86 ID app.pdb
FUNC 100 0 0 a
FUNC 200 10 0 b
`)
	require.Len(t, m.functions, 2)
	assert.Equal(t, libsym.MemAddr(0x100), m.functions[0].Size)

	frame := libsym.StackFrame{Instruction: 0x1ff}
	m.LookupAddress(&frame, nil)
	assert.Equal(t, "a", frame.FunctionName)
}

func TestCRLFAndBlankLines(t *testing.T) {
	m := parse(t, "MODULE windows x86 ID app.pdb\r\n\r\nFUNC 100 20 4 f\r\n100 20 7 1\r\n")
	assert.False(t, m.IsCorrupt())
	require.Len(t, m.functions, 1)
	require.Len(t, m.functions[0].Lines, 1)
}

func TestPublicAfterFuncEndsLineAttachment(t *testing.T) {
	m := parse(t, `MODULE windows x86 ID app.pdb
FUNC 100 20 4 f
PUBLIC 200 0 g
110 10 7 1
`)
	// The line record after PUBLIC has no function to attach to.
	assert.True(t, m.IsCorrupt())
	assert.Empty(t, m.functions[0].Lines)
}
