// Copyright The crashsym authors
// SPDX-License-Identifier: Apache-2.0

package symfile // import "github.com/crashsym/crashsym/symfile"

import (
	"encoding/binary"

	log "github.com/sirupsen/logrus"

	"github.com/crashsym/crashsym/libsym"
	"github.com/crashsym/crashsym/staticmap"
)

// SerializedFileExtension names the current revision of the serialized
// module format. Bump it whenever the layout below changes.
const SerializedFileExtension = ".symc"

// NumberMaps is the count of container regions in a serialized module:
// files, functions, public symbols, one map per Windows stack-info type,
// CFI initial rules, CFI delta rules, and inline origins.
const NumberMaps = 3 + int(libsym.StackInfoLast) + 3

// Serialized record layouts, all little-endian, strings unterminated with
// their extent given by the enclosing record or container entry:
//
//	function:  addr u64 | size u64 | paramSize u32 | multiple u8 |
//	           linesOff u32 | inlinesOff u32 | name | lines region |
//	           inlines region (offsets relative to the record start)
//	line:      addr u64 | size u64 | fileID i32 | line i32
//	inline:    depth i32 | callLine i32 | callFile i32 | origin i32 |
//	           numRanges u32 | (addr u64, size u64)...
//	public:    addr u64 | paramSize u32 | multiple u8 | name
//	origin:    fileID i32 | name
//	wfi:       type i32 | valid i32 | prolog u32 | epilog u32 | param u32 |
//	           savedRegs u32 | locals u32 | maxStack u32 | allocBP u8 |
//	           program string
//	file, CFI rules: the raw string
const (
	funcHeaderSize   = 29
	lineRecordSize   = 24
	publicHeaderSize = 13
	wfiHeaderSize    = 33
)

// Compile parses a text symbol file and serializes it in one step.
func Compile(data []byte) ([]byte, error) {
	m, err := ParseModule(data)
	if err != nil {
		return nil, err
	}
	return m.Serialize(), nil
}

// Serialize flattens the module into the self-contained buffer format read
// by package fastsym: an is-corrupt byte, NumberMaps uint64 region sizes,
// the regions themselves, and a trailing NUL.
func (m *Module) Serialize() []byte {
	var regions [NumberMaps][]byte
	regions[0] = m.serializeFiles()
	regions[1] = m.serializeFunctions()
	regions[2] = m.serializePublics()
	for t := range m.windowsFrames {
		regions[3+t] = serializeWFIRecords(m.windowsFrames[t])
	}
	regions[NumberMaps-3] = m.serializeCFIInits()
	regions[NumberMaps-2] = m.serializeCFIDeltas()
	regions[NumberMaps-1] = m.serializeInlineOrigins()

	total := 1 + 8*NumberMaps + 1
	for _, r := range regions {
		total += len(r)
	}
	buf := make([]byte, 0, total)
	if m.corrupt {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	for _, r := range regions {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(len(r)))
	}
	for _, r := range regions {
		buf = append(buf, r...)
	}
	return append(buf, 0)
}

func (m *Module) serializeFiles() []byte {
	var b staticmap.MapBuilder
	for id, path := range m.files {
		b.Add(uint64(uint32(id)), []byte(path))
	}
	return b.Serialize()
}

func (m *Module) serializeInlineOrigins() []byte {
	var b staticmap.MapBuilder
	for id, origin := range m.inlineOrigins {
		value := make([]byte, 0, 4+len(origin.Name))
		value = binary.LittleEndian.AppendUint32(value, uint32(origin.FileID))
		value = append(value, origin.Name...)
		b.Add(uint64(uint32(id)), value)
	}
	return b.Serialize()
}

func (m *Module) serializeFunctions() []byte {
	var b staticmap.RangeMapBuilder
	for _, fn := range m.functions {
		if !b.StoreRange(uint64(fn.Address), uint64(fn.Size), encodeFunction(fn)) {
			log.Warnf("serialize: function %q at %x+%x does not fit its range map",
				fn.Name, fn.Address, fn.Size)
		}
	}
	return b.Serialize()
}

func encodeFunction(fn *Function) []byte {
	lines := encodeLines(fn.Lines)
	inlines := encodeInlines(fn.Inlines)
	linesOff := funcHeaderSize + len(fn.Name)
	inlinesOff := linesOff + len(lines)

	buf := make([]byte, 0, inlinesOff+len(inlines))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(fn.Address))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(fn.Size))
	buf = binary.LittleEndian.AppendUint32(buf, fn.ParameterSize)
	buf = append(buf, boolByte(fn.IsMultiple))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(linesOff))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(inlinesOff))
	buf = append(buf, fn.Name...)
	buf = append(buf, lines...)
	return append(buf, inlines...)
}

func encodeLines(lines []Line) []byte {
	var b staticmap.RangeMapBuilder
	for _, line := range lines {
		value := make([]byte, 0, lineRecordSize)
		value = binary.LittleEndian.AppendUint64(value, uint64(line.Address))
		value = binary.LittleEndian.AppendUint64(value, uint64(line.Size))
		value = binary.LittleEndian.AppendUint32(value, uint32(line.FileID))
		value = binary.LittleEndian.AppendUint32(value, uint32(line.Line))
		b.StoreRange(uint64(line.Address), uint64(line.Size), value)
	}
	return b.Serialize()
}

func encodeInlines(inlines []Inline) []byte {
	var b staticmap.ContainedRangeMapBuilder
	for i := range inlines {
		in := &inlines[i]
		value := make([]byte, 0, 20+16*len(in.Ranges))
		value = binary.LittleEndian.AppendUint32(value, uint32(in.Depth))
		value = binary.LittleEndian.AppendUint32(value, uint32(in.CallSiteLine))
		value = binary.LittleEndian.AppendUint32(value, uint32(in.CallSiteFileID))
		value = binary.LittleEndian.AppendUint32(value, uint32(in.OriginID))
		value = binary.LittleEndian.AppendUint32(value, uint32(len(in.Ranges)))
		for _, r := range in.Ranges {
			value = binary.LittleEndian.AppendUint64(value, uint64(r.Address))
			value = binary.LittleEndian.AppendUint64(value, uint64(r.Size))
		}
		for _, r := range in.Ranges {
			b.StoreRange(uint64(r.Address), uint64(r.Size), value)
		}
	}
	return b.Serialize()
}

func (m *Module) serializePublics() []byte {
	var b staticmap.AddressMapBuilder
	for _, pub := range m.publics {
		value := make([]byte, 0, publicHeaderSize+len(pub.Name))
		value = binary.LittleEndian.AppendUint64(value, uint64(pub.Address))
		value = binary.LittleEndian.AppendUint32(value, pub.ParameterSize)
		value = append(value, boolByte(pub.IsMultiple))
		value = append(value, pub.Name...)
		b.Add(uint64(pub.Address), value)
	}
	return b.Serialize()
}

func serializeWFIRecords(records []wfiRecord) []byte {
	var b staticmap.ContainedRangeMapBuilder
	for i := range records {
		rec := &records[i]
		info := &rec.Info
		value := make([]byte, 0, wfiHeaderSize+len(info.ProgramString))
		value = binary.LittleEndian.AppendUint32(value, uint32(info.Type))
		value = binary.LittleEndian.AppendUint32(value, uint32(int32(info.Valid)))
		value = binary.LittleEndian.AppendUint32(value, info.PrologSize)
		value = binary.LittleEndian.AppendUint32(value, info.EpilogSize)
		value = binary.LittleEndian.AppendUint32(value, info.ParameterSize)
		value = binary.LittleEndian.AppendUint32(value, info.SavedRegisterSize)
		value = binary.LittleEndian.AppendUint32(value, info.LocalSize)
		value = binary.LittleEndian.AppendUint32(value, info.MaxStackSize)
		value = append(value, boolByte(info.AllocatesBasePointer))
		value = append(value, info.ProgramString...)
		b.StoreRange(uint64(rec.Address), uint64(rec.Size), value)
	}
	return b.Serialize()
}

func (m *Module) serializeCFIInits() []byte {
	var b staticmap.RangeMapBuilder
	for _, init := range m.cfiInitRules {
		b.StoreRange(uint64(init.Address), uint64(init.Size), []byte(init.Rules))
	}
	return b.Serialize()
}

func (m *Module) serializeCFIDeltas() []byte {
	var b staticmap.MapBuilder
	for _, delta := range m.cfiDeltaRules {
		b.Add(uint64(delta.Address), []byte(delta.Rules))
	}
	return b.Serialize()
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
