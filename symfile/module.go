// Copyright The crashsym authors
// SPDX-License-Identifier: Apache-2.0

// Package symfile parses text symbol files into mutable modules and
// serializes them into the self-contained binary form read by package
// fastsym. A parsed module answers the same query surface as a frozen one,
// so both can back the resolver facade interchangeably.
package symfile // import "github.com/crashsym/crashsym/symfile"

import (
	"sort"

	"github.com/crashsym/crashsym/libsym"
)

// nameOmitted substitutes for an inline origin whose id is missing from the
// module's origin table.
const nameOmitted = "<name omitted>"

// Line maps one address range to a source line.
type Line struct {
	Address libsym.MemAddr
	Size    libsym.MemAddr
	FileID  int32
	Line    int32

	seq int
}

// InlineRange is one contiguous code range covered by an inlined call.
type InlineRange struct {
	Address libsym.MemAddr
	Size    libsym.MemAddr
}

// Inline describes one inlined call instance within a function. Depth is
// the nesting level, 0 being calls made directly from the function.
type Inline struct {
	Depth          int32
	CallSiteLine   int32
	CallSiteFileID int32
	OriginID       int32
	Ranges         []InlineRange
}

// InlineOrigin names the callee of an inlined call.
type InlineOrigin struct {
	Name   string
	FileID int32
}

// Function is one FUNC record with its dependent line and inline records.
type Function struct {
	Address       libsym.MemAddr
	Size          libsym.MemAddr
	ParameterSize uint32
	Name          string
	IsMultiple    bool
	Lines         []Line
	Inlines       []Inline

	seq int
}

func (f *Function) contains(addr libsym.MemAddr) bool {
	return libsym.ContainsAddress(f.Address, f.Size, addr)
}

// PublicSymbol is one PUBLIC record. It has no size; its extent runs to the
// next record of any kind.
type PublicSymbol struct {
	Address       libsym.MemAddr
	ParameterSize uint32
	Name          string
	IsMultiple    bool

	seq int
}

// wfiRecord is one STACK WIN record together with its address range.
type wfiRecord struct {
	Address libsym.MemAddr
	Size    libsym.MemAddr
	Info    libsym.WindowsFrameInfo
}

// cfiInitRecord is one STACK CFI INIT record.
type cfiInitRecord struct {
	Address libsym.MemAddr
	Size    libsym.MemAddr
	Rules   string
}

// cfiDeltaRecord is one STACK CFI record.
type cfiDeltaRecord struct {
	Address libsym.MemAddr
	Rules   string

	seq int
}

// Module is the mutable symbol database built by the parser. After
// ParseModule returns it is immutable in practice and may be queried or serialized.
type Module struct {
	name    string
	os      string
	cpu     string
	debugID string

	codeID       string
	codeFileName string

	files         map[int32]string
	inlineOrigins map[int32]InlineOrigin
	functions     []*Function
	publics       []*PublicSymbol
	windowsFrames [libsym.StackInfoLast][]wfiRecord
	cfiInitRules  []cfiInitRecord
	cfiDeltaRules []cfiDeltaRecord

	corrupt          bool
	malformedRecords int
}

// ID returns the module identity recorded in the MODULE header.
func (m *Module) ID() libsym.ModuleID {
	return libsym.ModuleID{CodeFile: m.name, DebugID: m.debugID}
}

// CodeFile returns the code file named in the MODULE header.
func (m *Module) CodeFile() string { return m.name }

// OS returns the operating system named in the MODULE header.
func (m *Module) OS() string { return m.os }

// CPU returns the architecture named in the MODULE header.
func (m *Module) CPU() string { return m.cpu }

// DebugID returns the debug identifier named in the MODULE header.
func (m *Module) DebugID() string { return m.debugID }

// CodeID returns the native code id from an INFO CODE_ID record, if any.
func (m *Module) CodeID() string { return m.codeID }

// IsCorrupt reports whether any record failed to parse. A corrupt module
// still answers queries from the records that did parse.
func (m *Module) IsCorrupt() bool { return m.corrupt }

// MalformedRecords returns the number of records dropped during parsing.
func (m *Module) MalformedRecords() int { return m.malformedRecords }

// Stats summarizes the record population of a module.
type Stats struct {
	Files         int
	Functions     int
	PublicSymbols int
	InlineOrigins int
	WindowsFrames int
	CFIInitRules  int
	CFIDeltaRules int
}

// Stats returns record counts for reporting tools.
func (m *Module) Stats() Stats {
	s := Stats{
		Files:         len(m.files),
		Functions:     len(m.functions),
		PublicSymbols: len(m.publics),
		InlineOrigins: len(m.inlineOrigins),
		CFIInitRules:  len(m.cfiInitRules),
		CFIDeltaRules: len(m.cfiDeltaRules),
	}
	for _, recs := range m.windowsFrames {
		s.WindowsFrames += len(recs)
	}
	return s
}

// LookupAddress resolves frame.Instruction against the module, filling the
// frame's function, source file and line fields. When inlined is non-nil,
// synthetic frames for inlined calls containing the address are appended to
// it, innermost first.
func (m *Module) LookupAddress(frame *libsym.StackFrame, inlined *[]*libsym.StackFrame) {
	addr := libsym.MemAddr(frame.Instruction - frame.ModuleBase)

	fn, fnIdx := m.nearestFunction(addr)
	if fn != nil && fn.contains(addr) {
		frame.FunctionName = fn.Name
		frame.FunctionBase = frame.ModuleBase + uint64(fn.Address)
		frame.IsMultiple = fn.IsMultiple

		if line := findLine(fn.Lines, addr); line != nil {
			frame.SourceFileName = m.files[line.FileID]
			frame.SourceLine = int(line.Line)
			frame.SourceLineBase = frame.ModuleBase + uint64(line.Address)
		}
		if inlined != nil {
			m.constructInlineFrames(frame, addr, fn, inlined)
		}
		return
	}

	if pub := m.nearestPublic(addr); pub != nil &&
		(fnIdx < 0 || pub.Address > fn.Address) {
		frame.FunctionName = pub.Name
		frame.FunctionBase = frame.ModuleBase + uint64(pub.Address)
		frame.IsMultiple = pub.IsMultiple
	}
}

// constructInlineFrames appends one synthetic frame per inlined call
// containing addr, innermost first, and rotates source coordinates so that
// each frame reports the call site of the frame above it while the parent
// frame reports the call site of the outermost inline.
func (m *Module) constructInlineFrames(frame *libsym.StackFrame, addr libsym.MemAddr,
	fn *Function, inlined *[]*libsym.StackFrame) {
	chain := inlinesContaining(fn.Inlines, addr)
	if len(chain) == 0 {
		return
	}

	// chain is ordered outermost first; emit innermost first.
	for i := len(chain) - 1; i >= 0; i-- {
		in := chain[i]
		newFrame := *frame
		if origin, ok := m.inlineOrigins[in.OriginID]; ok {
			newFrame.FunctionName = origin.Name
		} else {
			newFrame.FunctionName = nameOmitted
		}

		newFrame.SourceLine = int(in.CallSiteLine)
		newFrame.SourceFileName = m.files[in.CallSiteFileID]

		newFrame.FunctionBase = frame.ModuleBase
		for _, r := range in.Ranges {
			if libsym.ContainsAddress(r.Address, r.Size, addr) {
				newFrame.FunctionBase += uint64(r.Address)
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
// frame's instruction: the innermost FRAME_DATA record, else the innermost
// FPO record, else a record synthesized from the parameter size of the
// enclosing function or nearest public symbol. Nil if none apply.
func (m *Module) FindWindowsFrameInfo(frame *libsym.StackFrame) *libsym.WindowsFrameInfo {
	addr := libsym.MemAddr(frame.Instruction - frame.ModuleBase)

	for _, infoType := range []libsym.StackInfoType{libsym.StackInfoFrameData, libsym.StackInfoFPO} {
		if rec := innermostWFI(m.windowsFrames[infoType], addr); rec != nil {
			info := rec.Info
			return &info
		}
	}

	fn, fnIdx := m.nearestFunction(addr)
	if fn != nil && fn.contains(addr) {
		return &libsym.WindowsFrameInfo{
			Type:          libsym.StackInfoUnknown,
			Valid:         libsym.WFIValidParameterSize,
			ParameterSize: fn.ParameterSize,
		}
	}

	if pub := m.nearestPublic(addr); pub != nil &&
		(fnIdx < 0 || pub.Address > fn.Address) {
		return &libsym.WindowsFrameInfo{
			Type:          libsym.StackInfoUnknown,
			Valid:         libsym.WFIValidParameterSize,
			ParameterSize: pub.ParameterSize,
		}
	}

	return nil
}

// FindCFIFrameInfo returns the CFI register rules in effect at the frame's
// instruction: the covering STACK CFI INIT rules with all deltas up to and
// including the instruction address applied on top. Nil if the address is
// not covered or the rule text does not parse.
func (m *Module) FindCFIFrameInfo(frame *libsym.StackFrame) *libsym.CFIFrameInfo {
	addr := libsym.MemAddr(frame.Instruction - frame.ModuleBase)

	init := findCFIInit(m.cfiInitRules, addr)
	if init == nil {
		return nil
	}

	rules := &libsym.CFIFrameInfo{}
	if !libsym.ParseCFIRuleSet(init.Rules, rules) {
		return nil
	}

	i := sort.Search(len(m.cfiDeltaRules), func(i int) bool {
		return m.cfiDeltaRules[i].Address >= init.Address
	})
	for ; i < len(m.cfiDeltaRules) && m.cfiDeltaRules[i].Address <= addr; i++ {
		libsym.ParseCFIRuleSet(m.cfiDeltaRules[i].Rules, rules)
	}
	return rules
}

// nearestFunction returns the function with the greatest start address <=
// addr, without checking that addr falls inside it. The index is -1 when no
// such function exists.
func (m *Module) nearestFunction(addr libsym.MemAddr) (*Function, int) {
	i := sort.Search(len(m.functions), func(i int) bool {
		return m.functions[i].Address > addr
	})
	if i == 0 {
		return nil, -1
	}
	return m.functions[i-1], i - 1
}

// nearestPublic returns the public symbol with the greatest address <= addr.
func (m *Module) nearestPublic(addr libsym.MemAddr) *PublicSymbol {
	i := sort.Search(len(m.publics), func(i int) bool {
		return m.publics[i].Address > addr
	})
	if i == 0 {
		return nil
	}
	return m.publics[i-1]
}

func findLine(lines []Line, addr libsym.MemAddr) *Line {
	i := sort.Search(len(lines), func(i int) bool {
		return lines[i].Address+lines[i].Size > addr
	})
	if i >= len(lines) || addr < lines[i].Address {
		return nil
	}
	return &lines[i]
}

// inlinesContaining returns the inlines with a range containing addr,
// ordered outermost (lowest depth) first.
func inlinesContaining(inlines []Inline, addr libsym.MemAddr) []*Inline {
	var chain []*Inline
	for i := range inlines {
		for _, r := range inlines[i].Ranges {
			if libsym.ContainsAddress(r.Address, r.Size, addr) {
				chain = append(chain, &inlines[i])
				break
			}
		}
	}
	sort.SliceStable(chain, func(i, j int) bool {
		return chain[i].Depth < chain[j].Depth
	})
	return chain
}

// innermostWFI returns the record with the smallest range containing addr.
// Among equal ranges the one stored last wins, matching the nesting rules of
// the serialized form.
func innermostWFI(records []wfiRecord, addr libsym.MemAddr) *wfiRecord {
	var best *wfiRecord
	for i := range records {
		r := &records[i]
		if !libsym.ContainsAddress(r.Address, r.Size, addr) {
			continue
		}
		if best == nil || r.Address > best.Address ||
			(r.Address == best.Address && r.Size <= best.Size) {
			best = r
		}
	}
	return best
}

func findCFIInit(inits []cfiInitRecord, addr libsym.MemAddr) *cfiInitRecord {
	i := sort.Search(len(inits), func(i int) bool {
		return inits[i].Address+inits[i].Size > addr
	})
	if i >= len(inits) || addr < inits[i].Address {
		return nil
	}
	return &inits[i]
}
