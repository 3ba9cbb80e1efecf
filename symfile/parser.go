// Copyright The crashsym authors
// SPDX-License-Identifier: Apache-2.0

package symfile // import "github.com/crashsym/crashsym/symfile"

import (
	"bufio"
	"bytes"
	"errors"
	"sort"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/crashsym/crashsym/libsym"
	"github.com/crashsym/crashsym/staticmap"
	"github.com/crashsym/crashsym/stringutil"
)

// ErrMalformedHeader is returned when the input does not begin with a valid
// MODULE record.
var ErrMalformedHeader = errors.New("symbol file has no valid MODULE record")

// maxLineLength bounds one symbol-file line. Program strings and mangled
// names are long, but not this long.
const maxLineLength = 1024 * 1024

// ParseModule parses a text symbol file into a Module. The MODULE header
// must parse or an error is returned; any later record that fails to parse
// is dropped, logged, and marks the module corrupt, so that partial
// symbolization remains possible.
func ParseModule(data []byte) (*Module, error) {
	p := parser{
		module: &Module{
			files:         make(map[int32]string),
			inlineOrigins: make(map[int32]InlineOrigin),
		},
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), maxLineLength)
	for scanner.Scan() {
		p.lineNum++
		line := strings.TrimSuffix(stringutil.ByteSlice2String(scanner.Bytes()), "\r")
		if line == "" {
			continue
		}
		if !p.sawHeader {
			if !p.parseModuleHeader(line) {
				return nil, ErrMalformedHeader
			}
			p.sawHeader = true
			continue
		}
		p.parseRecord(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !p.sawHeader {
		return nil, ErrMalformedHeader
	}

	p.module.finalize()
	return p.module, nil
}

type parser struct {
	module    *Module
	curFunc   *Function
	sawHeader bool
	lineNum   int
	seq       int
}

// malformed drops the current record: it is logged and counted, and the
// module is marked corrupt.
func (p *parser) malformed(what string) {
	log.Warnf("symbol file line %d: malformed %s record", p.lineNum, what)
	p.module.malformedRecords++
	p.module.corrupt = true
}

func (p *parser) nextSeq() int {
	p.seq++
	return p.seq
}

func (p *parser) parseModuleHeader(line string) bool {
	var f [5]string
	if stringutil.FieldsN(line, f[:]) != 5 || f[0] != "MODULE" {
		return false
	}
	m := p.module
	// The scanner reuses its buffer, so retained strings must be cloned.
	m.os = strings.Clone(f[1])
	m.cpu = strings.Clone(f[2])
	m.debugID = strings.Clone(f[3])
	m.name = strings.Clone(f[4])
	return true
}

func (p *parser) parseRecord(line string) {
	var tok [2]string
	if stringutil.FieldsN(line, tok[:]) < 1 {
		return
	}
	switch tok[0] {
	case "MODULE":
		// The header was already consumed; a second MODULE record is
		// invalid but everything after it is still usable.
		p.curFunc = nil
		p.malformed("MODULE")
	case "INFO":
		p.parseInfo(line)
	case "FILE":
		p.parseFile(line)
	case "INLINE_ORIGIN":
		p.parseInlineOrigin(line)
	case "FUNC":
		p.parseFunc(line)
	case "PUBLIC":
		p.curFunc = nil
		p.parsePublic(line)
	case "INLINE":
		p.parseInline(line)
	case "STACK":
		p.parseStack(line)
	default:
		if _, err := strconv.ParseUint(tok[0], 16, 64); err == nil {
			p.parseSourceLine(line)
		}
		// Anything else is an unknown record; skip it.
	}
}

func (p *parser) parseInfo(line string) {
	var f [4]string
	n := stringutil.FieldsN(line, f[:])
	if n < 2 {
		return
	}
	if f[1] != "CODE_ID" {
		// Other INFO records carry no data we use.
		return
	}
	if n < 3 {
		p.malformed("INFO CODE_ID")
		return
	}
	p.module.codeID = strings.Clone(f[2])
	if n >= 4 {
		p.module.codeFileName = strings.Clone(f[3])
	}
}

func (p *parser) parseFile(line string) {
	var f [3]string
	if stringutil.FieldsN(line, f[:]) != 3 {
		p.malformed("FILE")
		return
	}
	id, err := strconv.ParseUint(f[1], 10, 31)
	if err != nil {
		p.malformed("FILE")
		return
	}
	p.module.files[int32(id)] = strings.Clone(f[2])
}

func (p *parser) parseInlineOrigin(line string) {
	var f [3]string
	if stringutil.FieldsN(line, f[:]) != 3 {
		p.malformed("INLINE_ORIGIN")
		return
	}
	id, err := strconv.ParseUint(f[1], 10, 31)
	if err != nil {
		p.malformed("INLINE_ORIGIN")
		return
	}
	p.module.inlineOrigins[int32(id)] = InlineOrigin{Name: strings.Clone(f[2]), FileID: -1}
}

func (p *parser) parseFunc(line string) {
	p.curFunc = nil
	var f [4]string
	multiple, n := fieldsAfterToken(line, "FUNC", f[:])
	if n != 4 {
		p.malformed("FUNC")
		return
	}
	address, err1 := strconv.ParseUint(f[0], 16, 64)
	size, err2 := strconv.ParseUint(f[1], 16, 64)
	paramSize, err3 := strconv.ParseUint(f[2], 16, 32)
	if err1 != nil || err2 != nil || err3 != nil {
		p.malformed("FUNC")
		return
	}
	fn := &Function{
		Address:       libsym.MemAddr(address),
		Size:          libsym.MemAddr(size),
		ParameterSize: uint32(paramSize),
		Name:          strings.Clone(f[3]),
		IsMultiple:    multiple,
		seq:           p.nextSeq(),
	}
	p.module.functions = append(p.module.functions, fn)
	p.curFunc = fn
}

func (p *parser) parsePublic(line string) {
	var f [3]string
	multiple, n := fieldsAfterToken(line, "PUBLIC", f[:])
	if n != 3 {
		p.malformed("PUBLIC")
		return
	}
	address, err1 := strconv.ParseUint(f[0], 16, 64)
	paramSize, err2 := strconv.ParseUint(f[1], 16, 32)
	if err1 != nil || err2 != nil {
		p.malformed("PUBLIC")
		return
	}
	p.module.publics = append(p.module.publics, &PublicSymbol{
		Address:       libsym.MemAddr(address),
		ParameterSize: uint32(paramSize),
		Name:          strings.Clone(f[2]),
		IsMultiple:    multiple,
		seq:           p.nextSeq(),
	})
}

// fieldsAfterToken splits the fields of line following the record token,
// consuming the optional duplicate-symbol sentinel "m" first.
func fieldsAfterToken(line, token string, f []string) (multiple bool, n int) {
	rest := strings.TrimPrefix(line, token)
	rest = strings.TrimLeft(rest, " \t")
	if cut, ok := strings.CutPrefix(rest, "m "); ok {
		multiple = true
		rest = cut
	}
	return multiple, stringutil.FieldsN(rest, f)
}

func (p *parser) parseInline(line string) {
	if p.curFunc == nil {
		p.malformed("INLINE")
		return
	}
	f := strings.Fields(line)
	// INLINE depth call-line call-file origin (addr size)+
	if len(f) < 7 || len(f)%2 == 0 {
		p.malformed("INLINE")
		return
	}
	depth, err1 := strconv.ParseUint(f[1], 10, 31)
	callLine, err2 := strconv.ParseUint(f[2], 10, 31)
	callFile, err3 := strconv.ParseUint(f[3], 10, 31)
	origin, err4 := strconv.ParseUint(f[4], 10, 31)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		p.malformed("INLINE")
		return
	}
	in := Inline{
		Depth:          int32(depth),
		CallSiteLine:   int32(callLine),
		CallSiteFileID: int32(callFile),
		OriginID:       int32(origin),
	}
	for i := 5; i < len(f); i += 2 {
		address, err1 := strconv.ParseUint(f[i], 16, 64)
		size, err2 := strconv.ParseUint(f[i+1], 16, 64)
		if err1 != nil || err2 != nil {
			p.malformed("INLINE")
			return
		}
		in.Ranges = append(in.Ranges, InlineRange{
			Address: libsym.MemAddr(address),
			Size:    libsym.MemAddr(size),
		})
	}
	p.curFunc.Inlines = append(p.curFunc.Inlines, in)
}

func (p *parser) parseSourceLine(line string) {
	if p.curFunc == nil {
		p.malformed("source line")
		return
	}
	var f [4]string
	if stringutil.FieldsN(line, f[:]) != 4 {
		p.malformed("source line")
		return
	}
	address, err1 := strconv.ParseUint(f[0], 16, 64)
	size, err2 := strconv.ParseUint(f[1], 16, 64)
	lineNo, err3 := strconv.ParseUint(f[2], 10, 31)
	fileID, err4 := strconv.ParseUint(f[3], 10, 31)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		p.malformed("source line")
		return
	}
	p.curFunc.Lines = append(p.curFunc.Lines, Line{
		Address: libsym.MemAddr(address),
		Size:    libsym.MemAddr(size),
		FileID:  int32(fileID),
		Line:    int32(lineNo),
		seq:     p.nextSeq(),
	})
}

func (p *parser) parseStack(line string) {
	var f [3]string
	if stringutil.FieldsN(line, f[:]) < 2 {
		p.malformed("STACK")
		return
	}
	switch f[1] {
	case "WIN":
		p.parseStackWin(line)
	case "CFI":
		p.parseStackCFI(line)
	default:
		// Unknown STACK flavor; skip it.
	}
}

func (p *parser) parseStackWin(line string) {
	// STACK WIN type rva size prolog epilog params saved-regs locals
	//           max-stack has-program-string (program-string | alloc-bp)
	var f [13]string
	if stringutil.FieldsN(line, f[:]) != 13 {
		p.malformed("STACK WIN")
		return
	}
	var vals [9]uint64
	for i := range vals {
		v, err := strconv.ParseUint(f[2+i], 16, 64)
		if err != nil {
			p.malformed("STACK WIN")
			return
		}
		vals[i] = v
	}
	infoType := libsym.StackInfoType(vals[0])
	if infoType < 0 || infoType >= libsym.StackInfoLast {
		p.malformed("STACK WIN")
		return
	}
	hasProgram, err := strconv.ParseUint(f[11], 16, 64)
	if err != nil {
		p.malformed("STACK WIN")
		return
	}
	info := libsym.WindowsFrameInfo{
		Type:              infoType,
		Valid:             libsym.WFIValidAll,
		PrologSize:        uint32(vals[3]),
		EpilogSize:        uint32(vals[4]),
		ParameterSize:     uint32(vals[5]),
		SavedRegisterSize: uint32(vals[6]),
		LocalSize:         uint32(vals[7]),
		MaxStackSize:      uint32(vals[8]),
	}
	if hasProgram != 0 {
		info.ProgramString = strings.Clone(f[12])
	} else {
		allocBP, err := strconv.ParseUint(f[12], 16, 64)
		if err != nil {
			p.malformed("STACK WIN")
			return
		}
		info.AllocatesBasePointer = allocBP != 0
	}
	p.module.windowsFrames[infoType] = append(p.module.windowsFrames[infoType], wfiRecord{
		Address: libsym.MemAddr(vals[1]),
		Size:    libsym.MemAddr(vals[2]),
		Info:    info,
	})
}

func (p *parser) parseStackCFI(line string) {
	var head [3]string
	stringutil.FieldsN(line, head[:])
	if strings.HasPrefix(head[2], "INIT ") || head[2] == "INIT" {
		// STACK CFI INIT addr size rules
		var f [6]string
		if stringutil.FieldsN(line, f[:]) != 6 {
			p.malformed("STACK CFI INIT")
			return
		}
		address, err1 := strconv.ParseUint(f[3], 16, 64)
		size, err2 := strconv.ParseUint(f[4], 16, 64)
		if err1 != nil || err2 != nil {
			p.malformed("STACK CFI INIT")
			return
		}
		p.module.cfiInitRules = append(p.module.cfiInitRules, cfiInitRecord{
			Address: libsym.MemAddr(address),
			Size:    libsym.MemAddr(size),
			Rules:   strings.Clone(f[5]),
		})
		return
	}

	// STACK CFI addr rules
	var f [4]string
	if stringutil.FieldsN(line, f[:]) != 4 {
		p.malformed("STACK CFI")
		return
	}
	address, err := strconv.ParseUint(f[2], 16, 64)
	if err != nil {
		p.malformed("STACK CFI")
		return
	}
	p.module.cfiDeltaRules = append(p.module.cfiDeltaRules, cfiDeltaRecord{
		Address: libsym.MemAddr(address),
		Rules:   strings.Clone(f[3]),
		seq:     p.nextSeq(),
	})
}

// finalize sorts the parsed records, applies the duplicate policy (the
// record parsed last wins and is marked multiple; byte-identical duplicates
// vanish silently), extends zero-sized functions to the next range, and
// drops records whose ranges cannot nest.
func (m *Module) finalize() {
	m.functions = resolveFunctions(m.functions)
	m.publics = resolvePublics(m.publics)

	for _, fn := range m.functions {
		fn.Lines = resolveLines(fn.Lines)
		fn.Inlines = validateInlines(fn.Inlines)
	}

	for t := range m.windowsFrames {
		m.windowsFrames[t] = validateWFI(libsym.StackInfoType(t), m.windowsFrames[t])
	}

	m.cfiInitRules = validateCFIInits(m.cfiInitRules)
	sort.SliceStable(m.cfiInitRules, func(i, j int) bool {
		return m.cfiInitRules[i].Address < m.cfiInitRules[j].Address
	})
	sort.SliceStable(m.cfiDeltaRules, func(i, j int) bool {
		return m.cfiDeltaRules[i].Address < m.cfiDeltaRules[j].Address
	})
}

func resolveFunctions(funcs []*Function) []*Function {
	sort.SliceStable(funcs, func(i, j int) bool {
		return funcs[i].Address < funcs[j].Address
	})

	out := funcs[:0]
	for _, fn := range funcs {
		if len(out) == 0 {
			out = append(out, fn)
			continue
		}
		last := out[len(out)-1]
		if !rangesOverlap(last.Address, last.Size, fn.Address, fn.Size) {
			out = append(out, fn)
			continue
		}
		if last.Address == fn.Address && last.Size == fn.Size &&
			last.ParameterSize == fn.ParameterSize && last.Name == fn.Name {
			// Byte-identical duplicate.
			continue
		}
		if fn.seq > last.seq {
			out[len(out)-1] = fn
			fn.IsMultiple = true
		} else {
			last.IsMultiple = true
		}
	}

	// A zero-sized function extends to the start of the next one.
	for i, fn := range out {
		if fn.Size != 0 {
			continue
		}
		if i+1 < len(out) {
			fn.Size = out[i+1].Address - fn.Address
		} else {
			fn.Size = ^libsym.MemAddr(0) - fn.Address
		}
	}
	return out
}

func resolvePublics(publics []*PublicSymbol) []*PublicSymbol {
	sort.SliceStable(publics, func(i, j int) bool {
		return publics[i].Address < publics[j].Address
	})
	out := publics[:0]
	for _, pub := range publics {
		if len(out) == 0 || out[len(out)-1].Address != pub.Address {
			out = append(out, pub)
			continue
		}
		last := out[len(out)-1]
		if last.ParameterSize == pub.ParameterSize && last.Name == pub.Name {
			continue
		}
		if pub.seq > last.seq {
			out[len(out)-1] = pub
			pub.IsMultiple = true
		} else {
			last.IsMultiple = true
		}
	}
	return out
}

func resolveLines(lines []Line) []Line {
	sort.SliceStable(lines, func(i, j int) bool {
		return lines[i].Address < lines[j].Address
	})
	out := lines[:0]
	for _, line := range lines {
		if len(out) == 0 {
			out = append(out, line)
			continue
		}
		last := &out[len(out)-1]
		if !rangesOverlap(last.Address, last.Size, line.Address, line.Size) {
			out = append(out, line)
			continue
		}
		if line.Address == last.Address && line.Size == last.Size &&
			line.FileID == last.FileID && line.Line == last.Line {
			continue
		}
		if line.seq > last.seq {
			*last = line
		}
	}
	return out
}

// validateInlines drops inline ranges that cannot nest against the ranges
// already accepted, so that parsed and serialized modules agree on which
// inlines a lookup sees.
func validateInlines(inlines []Inline) []Inline {
	if len(inlines) == 0 {
		return inlines
	}
	var crm staticmap.ContainedRangeMapBuilder
	out := inlines[:0]
	for _, in := range inlines {
		ranges := in.Ranges[:0]
		for _, r := range in.Ranges {
			if crm.StoreRange(uint64(r.Address), uint64(r.Size), nil) {
				ranges = append(ranges, r)
			} else {
				log.Warnf("dropping non-nesting inline range %x+%x of origin %d",
					r.Address, r.Size, in.OriginID)
			}
		}
		in.Ranges = ranges
		if len(in.Ranges) > 0 {
			out = append(out, in)
		}
	}
	return out
}

func validateWFI(infoType libsym.StackInfoType, records []wfiRecord) []wfiRecord {
	if len(records) == 0 {
		return records
	}
	var crm staticmap.ContainedRangeMapBuilder
	out := records[:0]
	for _, rec := range records {
		if crm.StoreRange(uint64(rec.Address), uint64(rec.Size), nil) {
			out = append(out, rec)
		} else {
			log.Warnf("dropping conflicting STACK WIN type %d record at %x+%x",
				infoType, rec.Address, rec.Size)
		}
	}
	return out
}

// validateCFIInits drops STACK CFI INIT records whose range overlaps one
// stored earlier, the same policy the serialized range map applies.
func validateCFIInits(inits []cfiInitRecord) []cfiInitRecord {
	if len(inits) == 0 {
		return inits
	}
	var rm staticmap.RangeMapBuilder
	out := inits[:0]
	for _, init := range inits {
		if rm.StoreRange(uint64(init.Address), uint64(init.Size), nil) {
			out = append(out, init)
		} else {
			log.Warnf("dropping overlapping STACK CFI INIT record at %x+%x",
				init.Address, init.Size)
		}
	}
	return out
}

func rangesOverlap(aBase, aSize, bBase, bSize libsym.MemAddr) bool {
	if aBase == bBase {
		return true
	}
	if aBase > bBase {
		aBase, aSize, bBase, bSize = bBase, bSize, aBase, aSize
	}
	return aSize != 0 && bBase-aBase < aSize
}
