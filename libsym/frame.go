// Copyright The crashsym authors
// SPDX-License-Identifier: Apache-2.0

package libsym // import "github.com/crashsym/crashsym/libsym"

// FrameTrust measures how confident the stack walker is that the frame's
// instruction address is genuine. Ordered from least to most trusted.
type FrameTrust int

const (
	FrameTrustNone FrameTrust = iota
	FrameTrustScan
	FrameTrustCFIScan
	FrameTrustFP
	FrameTrustCFI
	FrameTrustPrewalked
	FrameTrustContext
	FrameTrustInline
)

func (t FrameTrust) String() string {
	switch t {
	case FrameTrustScan:
		return "stack scanning"
	case FrameTrustCFIScan:
		return "stack scanning with CFI validation"
	case FrameTrustFP:
		return "previous frame's frame pointer"
	case FrameTrustCFI:
		return "call frame info"
	case FrameTrustPrewalked:
		return "prewalked stack"
	case FrameTrustContext:
		return "given as instruction pointer in context"
	case FrameTrustInline:
		return "inline record"
	default:
		return "unknown"
	}
}

// StackFrame carries one unwound frame. Instruction, ModuleBase and Module
// are inputs to the resolver; the remaining fields are outputs that the
// resolver fills in.
type StackFrame struct {
	// Instruction is the absolute address being executed in this frame.
	Instruction uint64
	// ModuleBase is the load address of the module containing Instruction.
	ModuleBase uint64
	// Module identifies the symbol data for that module.
	Module ModuleID

	FunctionName   string
	FunctionBase   uint64
	SourceFileName string
	SourceLine     int
	SourceLineBase uint64
	IsMultiple     bool
	Trust          FrameTrust
}
