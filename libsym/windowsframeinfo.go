// Copyright The crashsym authors
// SPDX-License-Identifier: Apache-2.0

package libsym // import "github.com/crashsym/crashsym/libsym"

// StackInfoType indexes the per-type STACK WIN record maps. The values 0-4
// match the frame types emitted by the Windows toolchain; higher values up
// to StackInfoLast are accepted numerically so such records round-trip.
type StackInfoType int32

const (
	StackInfoUnknown StackInfoType = -1

	StackInfoFPO StackInfoType = iota - 1
	StackInfoTrap
	StackInfoTSS
	StackInfoStandard
	StackInfoFrameData

	// StackInfoLast is the number of per-type maps a module carries.
	StackInfoLast StackInfoType = 7
)

// Validity bits for WindowsFrameInfo fields.
const (
	WFIValidNone                 = 0
	WFIValidAll                  = -1
	WFIValidParameterSize        = 1
	WFIValidAllocatesBasePointer = 2
)

// WindowsFrameInfo holds the frame-layout parameters of one STACK WIN
// record. Valid is a bit mask naming which fields carry data; records built
// from a full STACK WIN line have all bits set, records synthesized from a
// function or public symbol only carry the parameter size.
type WindowsFrameInfo struct {
	Type  StackInfoType
	Valid int

	PrologSize           uint32
	EpilogSize           uint32
	ParameterSize        uint32
	SavedRegisterSize    uint32
	LocalSize            uint32
	MaxStackSize         uint32
	AllocatesBasePointer bool
	ProgramString        string
}
