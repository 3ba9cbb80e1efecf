// Copyright The crashsym authors
// SPDX-License-Identifier: Apache-2.0

package resolver // import "github.com/crashsym/crashsym/resolver"

import (
	"sort"

	"github.com/crashsym/crashsym/libsym"
)

// CodeModule describes one binary loaded in the crashed process.
type CodeModule struct {
	// BaseAddress is the load address of the module's first byte.
	BaseAddress uint64
	// Size is the extent of the module in the process's address space.
	Size uint64

	CodeFile string
	DebugID  string
	Version  string
}

// ID returns the module's symbol identity.
func (m *CodeModule) ID() libsym.ModuleID {
	return libsym.ModuleID{CodeFile: m.CodeFile, DebugID: m.DebugID}
}

// CodeModuleMap answers which module contains an instruction address.
type CodeModuleMap struct {
	modules []CodeModule
}

// NewCodeModuleMap builds a map over the given modules.
func NewCodeModuleMap(modules []CodeModule) *CodeModuleMap {
	sorted := make([]CodeModule, len(modules))
	copy(sorted, modules)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].BaseAddress < sorted[j].BaseAddress
	})
	return &CodeModuleMap{modules: sorted}
}

// ModuleForAddress returns the module whose range contains addr, or nil.
func (c *CodeModuleMap) ModuleForAddress(addr uint64) *CodeModule {
	i := sort.Search(len(c.modules), func(i int) bool {
		return c.modules[i].BaseAddress > addr
	})
	if i == 0 {
		return nil
	}
	m := &c.modules[i-1]
	if addr-m.BaseAddress >= m.Size {
		return nil
	}
	return m
}

// ResolveFrame routes the frame to its module using the code-module map and
// fills in its symbol information. Frames outside any known module are left
// unchanged; a frame in a module without loaded symbols receives the module's
// identity and base address but no symbol information.
func (r *Resolver) ResolveFrame(frame *libsym.StackFrame, modules *CodeModuleMap,
	inlined *[]*libsym.StackFrame) {
	module := modules.ModuleForAddress(frame.Instruction)
	if module == nil {
		return
	}
	frame.Module = module.ID()
	frame.ModuleBase = module.BaseAddress
	r.FillSourceLineInfo(frame, inlined)
}
