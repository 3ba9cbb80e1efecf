// Copyright The crashsym authors
// SPDX-License-Identifier: Apache-2.0

// Package resolver owns a set of loaded symbol modules keyed by module
// identity and routes stack-frame queries to them. It is the boundary
// consumed by the stack walker and the crash-report serializer.
package resolver // import "github.com/crashsym/crashsym/resolver"

import (
	"bytes"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/crashsym/crashsym/fastsym"
	"github.com/crashsym/crashsym/libsym"
	"github.com/crashsym/crashsym/libsym/xsync"
	"github.com/crashsym/crashsym/symfile"
)

// SourceModule is the query surface shared by parsed (symfile) and frozen
// (fastsym) symbol modules.
type SourceModule interface {
	// LookupAddress fills the frame's function and source fields from the
	// module, appending synthetic frames for inlined calls to inlined
	// (innermost first) when it is non-nil.
	LookupAddress(frame *libsym.StackFrame, inlined *[]*libsym.StackFrame)
	// FindWindowsFrameInfo returns the STACK WIN data in effect at the
	// frame's instruction, or nil.
	FindWindowsFrameInfo(frame *libsym.StackFrame) *libsym.WindowsFrameInfo
	// FindCFIFrameInfo returns the CFI register rules in effect at the
	// frame's instruction, or nil.
	FindCFIFrameInfo(frame *libsym.StackFrame) *libsym.CFIFrameInfo
	// IsCorrupt reports whether records were dropped when the module's
	// symbol file was parsed.
	IsCorrupt() bool
}

type loadedModule struct {
	module SourceModule
	// supplier is non-nil when the symbol bytes are owned by a symbol
	// supplier, which is told to release them on unload.
	supplier SymbolSupplier
}

// Resolver maps module identities to loaded symbol modules. Load and unload
// take the writer side of the table lock; queries share the reader side, so
// any number of them may run concurrently between table mutations.
type Resolver struct {
	modules xsync.RWMutex[map[libsym.ModuleID]*loadedModule]
}

// New returns an empty Resolver.
func New() *Resolver {
	return &Resolver{
		modules: xsync.NewRWMutex(make(map[libsym.ModuleID]*loadedModule)),
	}
}

// textSymbolMagic distinguishes text symbol files from serialized buffers:
// every text file starts with its MODULE header.
var textSymbolMagic = []byte("MODULE ")

// LoadModule installs symbol data for id, replacing any module already
// loaded under it. Text symbol files are parsed into a mutable module;
// anything else is treated as a serialized buffer and loaded zero-copy.
func (r *Resolver) LoadModule(id libsym.ModuleID, data []byte) error {
	if bytes.HasPrefix(data, textSymbolMagic) {
		return r.LoadSymbolFile(id, data)
	}
	return r.LoadSerializedModule(id, data)
}

// LoadSymbolFile parses a text symbol file and installs the resulting
// module under id. A corrupt module still loads; the records that parsed
// remain queryable.
func (r *Resolver) LoadSymbolFile(id libsym.ModuleID, data []byte) error {
	module, err := symfile.ParseModule(data)
	if err != nil {
		return fmt.Errorf("loading symbols for %v: %w", id, err)
	}
	if module.IsCorrupt() {
		log.Warnf("symbols for %v are corrupt: %d malformed records",
			id, module.MalformedRecords())
	}
	r.install(id, &loadedModule{module: module})
	return nil
}

// LoadSerializedModule installs a frozen view over a serialized buffer
// under id. The buffer is borrowed for as long as the module stays loaded.
func (r *Resolver) LoadSerializedModule(id libsym.ModuleID, buf []byte) error {
	module, err := fastsym.New(buf)
	if err != nil {
		return fmt.Errorf("loading serialized symbols for %v: %w", id, err)
	}
	r.install(id, &loadedModule{module: module})
	return nil
}

// LoadModuleUsingSupplier obtains symbol data for id from the supplier and
// loads it. The supplier keeps ownership of the returned bytes; it is told
// to release them when the module is unloaded.
func (r *Resolver) LoadModuleUsingSupplier(id libsym.ModuleID, info *SystemInfo,
	supplier SymbolSupplier) error {
	result, data := supplier.GetSymbols(id, info)
	switch result {
	case SymbolsNotFound:
		return fmt.Errorf("no symbols found for %v", id)
	case SymbolsInterrupt:
		return fmt.Errorf("symbol supplier interrupted for %v", id)
	}

	var entry loadedModule
	if bytes.HasPrefix(data, textSymbolMagic) {
		module, err := symfile.ParseModule(data)
		if err != nil {
			supplier.FreeSymbols(id)
			return fmt.Errorf("loading symbols for %v: %w", id, err)
		}
		entry.module = module
	} else {
		module, err := fastsym.New(data)
		if err != nil {
			supplier.FreeSymbols(id)
			return fmt.Errorf("loading serialized symbols for %v: %w", id, err)
		}
		entry.module = module
	}
	entry.supplier = supplier
	r.install(id, &entry)
	return nil
}

func (r *Resolver) install(id libsym.ModuleID, entry *loadedModule) {
	modules := r.modules.WLock()
	defer r.modules.WUnlock(&modules)
	if old, ok := (*modules)[id]; ok && old.supplier != nil {
		old.supplier.FreeSymbols(id)
	}
	(*modules)[id] = entry
	log.Debugf("loaded symbols for %v", id)
}

// UnloadModule removes the module loaded under id, releasing
// supplier-owned symbol data. It reports whether a module was loaded.
func (r *Resolver) UnloadModule(id libsym.ModuleID) bool {
	modules := r.modules.WLock()
	defer r.modules.WUnlock(&modules)
	entry, ok := (*modules)[id]
	if !ok {
		return false
	}
	if entry.supplier != nil {
		entry.supplier.FreeSymbols(id)
	}
	delete(*modules, id)
	return true
}

// HasModule reports whether a module is loaded under id.
func (r *Resolver) HasModule(id libsym.ModuleID) bool {
	modules := r.modules.RLock()
	defer r.modules.RUnlock(&modules)
	_, ok := (*modules)[id]
	return ok
}

// IsModuleCorrupt reports whether the module loaded under id parsed with
// dropped records. False when no module is loaded.
func (r *Resolver) IsModuleCorrupt(id libsym.ModuleID) bool {
	modules := r.modules.RLock()
	defer r.modules.RUnlock(&modules)
	entry, ok := (*modules)[id]
	return ok && entry.module.IsCorrupt()
}

func (r *Resolver) lookup(id libsym.ModuleID) SourceModule {
	modules := r.modules.RLock()
	defer r.modules.RUnlock(&modules)
	if entry, ok := (*modules)[id]; ok {
		return entry.module
	}
	return nil
}

// FillSourceLineInfo resolves the frame against the module named by
// frame.Module. The frame is left unchanged when that module is not loaded.
func (r *Resolver) FillSourceLineInfo(frame *libsym.StackFrame,
	inlined *[]*libsym.StackFrame) {
	if module := r.lookup(frame.Module); module != nil {
		module.LookupAddress(frame, inlined)
	}
}

// FindWindowsFrameInfo returns the STACK WIN data for the frame, or nil
// when its module is not loaded or carries none.
func (r *Resolver) FindWindowsFrameInfo(frame *libsym.StackFrame) *libsym.WindowsFrameInfo {
	if module := r.lookup(frame.Module); module != nil {
		return module.FindWindowsFrameInfo(frame)
	}
	return nil
}

// FindCFIFrameInfo returns the CFI register rules for the frame, or nil
// when its module is not loaded or carries none.
func (r *Resolver) FindCFIFrameInfo(frame *libsym.StackFrame) *libsym.CFIFrameInfo {
	if module := r.lookup(frame.Module); module != nil {
		return module.FindCFIFrameInfo(frame)
	}
	return nil
}
