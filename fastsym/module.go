// Copyright The crashsym authors
// SPDX-License-Identifier: Apache-2.0

// Package fastsym answers symbol queries from a serialized module buffer
// without copying it. A Module borrows the buffer for its whole lifetime;
// strings returned from queries alias the buffer bytes.
package fastsym // import "github.com/crashsym/crashsym/fastsym"

import (
	"encoding/binary"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/crashsym/crashsym/libsym"
	"github.com/crashsym/crashsym/staticmap"
	"github.com/crashsym/crashsym/stringutil"
	"github.com/crashsym/crashsym/symfile"
)

// ErrBufferSizeMismatch is returned when a buffer's declared region sizes
// do not add up to its actual length. This means either corruption or a
// buffer written by a different revision of the serialized format.
var ErrBufferSizeMismatch = errors.New("serialized module buffer size mismatch")

const nameOmitted = "<name omitted>"

// Module is a frozen symbol module viewing a serialized buffer.
type Module struct {
	corrupt bool

	files         staticmap.Map
	functions     staticmap.RangeMap
	publics       staticmap.AddressMap
	windowsFrames [libsym.StackInfoLast]staticmap.ContainedRangeMap
	cfiInitRules  staticmap.RangeMap
	cfiDeltaRules staticmap.Map
	inlineOrigins staticmap.Map
}

// New validates buf and constructs container views over its regions. The
// buffer is borrowed, not copied; it must stay unchanged for the lifetime
// of the returned Module.
func New(buf []byte) (*Module, error) {
	headerSize := 1 + 8*symfile.NumberMaps
	if len(buf) < headerSize {
		return nil, ErrBufferSizeMismatch
	}

	var sizes [symfile.NumberMaps]uint64
	expected := uint64(headerSize) + 1
	for i := range sizes {
		sizes[i] = binary.LittleEndian.Uint64(buf[1+8*i:])
		expected += sizes[i]
	}
	// The format always ends in one NUL byte; tolerate a second.
	if expected != uint64(len(buf)) && expected+1 != uint64(len(buf)) {
		log.Errorf("serialized module buffer is corrupt or an unsupported version: "+
			"expected size %d, actual size %d", expected, len(buf))
		return nil, ErrBufferSizeMismatch
	}

	m := &Module{corrupt: buf[0] != 0}
	off := uint64(headerSize)
	region := func(i int) []byte {
		r := buf[off : off+sizes[i]]
		off += sizes[i]
		return r
	}
	m.files = staticmap.NewMap(region(0))
	m.functions = staticmap.NewRangeMap(region(1))
	m.publics = staticmap.NewAddressMap(region(2))
	for t := range m.windowsFrames {
		m.windowsFrames[t] = staticmap.NewContainedRangeMap(region(3 + t))
	}
	m.cfiInitRules = staticmap.NewRangeMap(region(symfile.NumberMaps - 3))
	m.cfiDeltaRules = staticmap.NewMap(region(symfile.NumberMaps - 2))
	m.inlineOrigins = staticmap.NewMap(region(symfile.NumberMaps - 1))
	return m, nil
}

// IsCorrupt reports whether the module was marked corrupt when serialized.
func (m *Module) IsCorrupt() bool { return m.corrupt }

// Stats returns record counts for reporting tools. Windows frame counts
// cover top-level records only; nested records are not walked.
func (m *Module) Stats() symfile.Stats {
	s := symfile.Stats{
		Files:         m.files.Len(),
		Functions:     m.functions.Len(),
		PublicSymbols: m.publics.Len(),
		InlineOrigins: m.inlineOrigins.Len(),
		CFIInitRules:  m.cfiInitRules.Len(),
		CFIDeltaRules: m.cfiDeltaRules.Len(),
	}
	for _, frames := range m.windowsFrames {
		s.WindowsFrames += frames.Len()
	}
	return s
}

// funcRecord decodes the fixed header of a serialized function.
type funcRecord struct {
	data []byte
}

func (f funcRecord) parameterSize() uint32 {
	return binary.LittleEndian.Uint32(f.data[16:])
}

func (f funcRecord) isMultiple() bool {
	return f.data[20] != 0
}

func (f funcRecord) name() string {
	linesOff := binary.LittleEndian.Uint32(f.data[21:])
	return stringutil.ByteSlice2String(f.data[29:linesOff])
}

func (f funcRecord) lines() staticmap.RangeMap {
	linesOff := binary.LittleEndian.Uint32(f.data[21:])
	inlinesOff := binary.LittleEndian.Uint32(f.data[25:])
	return staticmap.NewRangeMap(f.data[linesOff:inlinesOff])
}

func (f funcRecord) inlines() staticmap.ContainedRangeMap {
	inlinesOff := binary.LittleEndian.Uint32(f.data[25:])
	return staticmap.NewContainedRangeMap(f.data[inlinesOff:])
}

func (m *Module) fileName(fileID int32) string {
	if value, ok := m.files.Find(uint64(uint32(fileID))); ok {
		return stringutil.ByteSlice2String(value)
	}
	return ""
}

// LookupAddress resolves frame.Instruction against the module, filling the
// frame's function, source file and line fields. When inlined is non-nil,
// synthetic frames for inlined calls containing the address are appended to
// it, innermost first.
func (m *Module) LookupAddress(frame *libsym.StackFrame, inlined *[]*libsym.StackFrame) {
	addr := frame.Instruction - frame.ModuleBase

	// Look for a FUNC record covering addr with a nearest-range lookup, so
	// that a miss still bounds the extent of the public symbol tried below.
	funcValue, funcBase, funcSize, funcFound := m.functions.RetrieveNearestRange(addr)
	if funcFound && libsym.ContainsAddress(libsym.MemAddr(funcBase),
		libsym.MemAddr(funcSize), libsym.MemAddr(addr)) {
		fn := funcRecord{data: funcValue}
		frame.FunctionName = fn.name()
		frame.FunctionBase = frame.ModuleBase + funcBase
		frame.IsMultiple = fn.isMultiple()

		if lineValue, lineBase, _, ok := fn.lines().RetrieveRange(addr); ok {
			fileID := int32(binary.LittleEndian.Uint32(lineValue[16:]))
			frame.SourceFileName = m.fileName(fileID)
			frame.SourceLine = int(int32(binary.LittleEndian.Uint32(lineValue[20:])))
			frame.SourceLineBase = frame.ModuleBase + lineBase
		}
		if inlined != nil {
			m.constructInlineFrames(frame, addr, fn.inlines(), inlined)
		}
		return
	}

	if pubValue, pubAddr, ok := m.publics.Retrieve(addr); ok &&
		(!funcFound || pubAddr > funcBase) {
		frame.FunctionName = stringutil.ByteSlice2String(pubValue[13:])
		frame.FunctionBase = frame.ModuleBase + pubAddr
		frame.IsMultiple = pubValue[12] != 0
	}
}

// constructInlineFrames appends one synthetic frame per inlined call
// containing addr, innermost first, and rotates source coordinates so that
// each frame reports the call site of the frame above it while the parent
// frame reports the call site of the outermost inline.
func (m *Module) constructInlineFrames(frame *libsym.StackFrame, addr uint64,
	inlineMap staticmap.ContainedRangeMap, inlined *[]*libsym.StackFrame) {
	chain := inlineMap.RetrieveRanges(addr)
	if len(chain) == 0 {
		return
	}

	// chain is ordered outermost first; emit innermost first.
	for i := len(chain) - 1; i >= 0; i-- {
		value := chain[i]
		callLine := int32(binary.LittleEndian.Uint32(value[4:]))
		callFile := int32(binary.LittleEndian.Uint32(value[8:]))
		originID := binary.LittleEndian.Uint32(value[12:])
		numRanges := int(binary.LittleEndian.Uint32(value[16:]))

		newFrame := *frame
		if origin, ok := m.inlineOrigins.Find(uint64(originID)); ok {
			newFrame.FunctionName = stringutil.ByteSlice2String(origin[4:])
		} else {
			newFrame.FunctionName = nameOmitted
		}

		newFrame.SourceLine = int(callLine)
		newFrame.SourceFileName = m.fileName(callFile)

		// The inlined function's base is the start of whichever of its
		// ranges contains addr.
		newFrame.FunctionBase = frame.ModuleBase
		for r := 0; r < numRanges; r++ {
			base := binary.LittleEndian.Uint64(value[20+16*r:])
			size := binary.LittleEndian.Uint64(value[28+16*r:])
			if libsym.ContainsAddress(libsym.MemAddr(base), libsym.MemAddr(size),
				libsym.MemAddr(addr)) {
				newFrame.FunctionBase += base
				break
			}
		}
		newFrame.Trust = libsym.FrameTrustInline
		*inlined = append(*inlined, &newFrame)
	}

	rotateInlineSources(frame, *inlined)
}

// rotateInlineSources shifts source coordinates outward by one across the
// parent frame and its inline frames (ordered innermost first): the
// innermost frame receives the parent's physical source location and every
// other frame receives the call site of the frame one step inward.
func rotateInlineSources(frame *libsym.StackFrame, inlined []*libsym.StackFrame) {
	if len(inlined) == 0 {
		return
	}
	parentFile := frame.SourceFileName
	parentLine := frame.SourceLine
	outermost := inlined[len(inlined)-1]
	frame.SourceFileName = outermost.SourceFileName
	frame.SourceLine = outermost.SourceLine
	for _, inlinedFrame := range inlined {
		inlinedFrame.SourceFileName, parentFile = parentFile, inlinedFrame.SourceFileName
		inlinedFrame.SourceLine, parentLine = parentLine, inlinedFrame.SourceLine
	}
}

// FindWindowsFrameInfo returns the Windows frame info in effect at the
// frame's instruction. FRAME_DATA records are preferred over FPO records;
// without either, a record carrying only the parameter size of the
// enclosing function or nearest public symbol is synthesized. Nil if none
// apply.
func (m *Module) FindWindowsFrameInfo(frame *libsym.StackFrame) *libsym.WindowsFrameInfo {
	addr := frame.Instruction - frame.ModuleBase

	for _, infoType := range []libsym.StackInfoType{libsym.StackInfoFrameData, libsym.StackInfoFPO} {
		if value, ok := m.windowsFrames[infoType].RetrieveRange(addr); ok {
			return decodeWFI(value)
		}
	}

	funcValue, funcBase, funcSize, funcFound := m.functions.RetrieveNearestRange(addr)
	if funcFound && libsym.ContainsAddress(libsym.MemAddr(funcBase),
		libsym.MemAddr(funcSize), libsym.MemAddr(addr)) {
		return &libsym.WindowsFrameInfo{
			Type:          libsym.StackInfoUnknown,
			Valid:         libsym.WFIValidParameterSize,
			ParameterSize: funcRecord{data: funcValue}.parameterSize(),
		}
	}

	if pubValue, pubAddr, ok := m.publics.Retrieve(addr); ok &&
		(!funcFound || pubAddr > funcBase) {
		return &libsym.WindowsFrameInfo{
			Type:          libsym.StackInfoUnknown,
			Valid:         libsym.WFIValidParameterSize,
			ParameterSize: binary.LittleEndian.Uint32(pubValue[8:]),
		}
	}

	return nil
}

func decodeWFI(value []byte) *libsym.WindowsFrameInfo {
	return &libsym.WindowsFrameInfo{
		Type:                 libsym.StackInfoType(int32(binary.LittleEndian.Uint32(value))),
		Valid:                int(int32(binary.LittleEndian.Uint32(value[4:]))),
		PrologSize:           binary.LittleEndian.Uint32(value[8:]),
		EpilogSize:           binary.LittleEndian.Uint32(value[12:]),
		ParameterSize:        binary.LittleEndian.Uint32(value[16:]),
		SavedRegisterSize:    binary.LittleEndian.Uint32(value[20:]),
		LocalSize:            binary.LittleEndian.Uint32(value[24:]),
		MaxStackSize:         binary.LittleEndian.Uint32(value[28:]),
		AllocatesBasePointer: value[32] != 0,
		ProgramString:        stringutil.ByteSlice2String(value[33:]),
	}
}

// FindCFIFrameInfo returns the CFI register rules in effect at the frame's
// instruction: the covering STACK CFI INIT rules with all deltas up to and
// including the instruction address applied on top. Nil if the address is
// not covered or the rule text does not parse.
func (m *Module) FindCFIFrameInfo(frame *libsym.StackFrame) *libsym.CFIFrameInfo {
	addr := frame.Instruction - frame.ModuleBase

	initValue, initBase, _, ok := m.cfiInitRules.RetrieveRange(addr)
	if !ok {
		return nil
	}

	rules := &libsym.CFIFrameInfo{}
	if !libsym.ParseCFIRuleSet(stringutil.ByteSlice2String(initValue), rules) {
		return nil
	}

	// Walk the delta rules from the start of the initial range up to and
	// including addr, in ascending address order.
	for it := m.cfiDeltaRules.LowerBound(initBase); it.Valid() && it.Key() <= addr; it.Next() {
		libsym.ParseCFIRuleSet(stringutil.ByteSlice2String(it.Value()), rules)
	}
	return rules
}
