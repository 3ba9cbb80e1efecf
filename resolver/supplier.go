// Copyright The crashsym authors
// SPDX-License-Identifier: Apache-2.0

package resolver // import "github.com/crashsym/crashsym/resolver"

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/elastic/go-freelru"
	"github.com/klauspost/compress/gzip"
	log "github.com/sirupsen/logrus"

	"github.com/crashsym/crashsym/libsym"
)

// SymbolResult tells the caller how a symbol lookup ended.
type SymbolResult int

const (
	// SymbolsFound means symbol data was located and returned.
	SymbolsFound SymbolResult = iota
	// SymbolsNotFound means no symbol data exists for the module.
	SymbolsNotFound
	// SymbolsInterrupt means the lookup was interrupted, for example by a
	// user cancelling a network fetch; the caller may retry later.
	SymbolsInterrupt
)

// SystemInfo describes the crashed process's platform, letting a supplier
// pick between per-platform symbol stores.
type SystemInfo struct {
	OS  string
	CPU string
}

// SymbolSupplier locates symbol data for modules. The supplier owns the
// returned bytes until FreeSymbols is called for the same identity, which
// the resolver does when the module is unloaded.
type SymbolSupplier interface {
	GetSymbols(id libsym.ModuleID, info *SystemInfo) (SymbolResult, []byte)
	FreeSymbols(id libsym.ModuleID)
}

// DiskSupplier serves symbol files from local symbol-store trees laid out
// as <root>/<debug file>/<debug id>/<debug file without .pdb>.sym, with
// gzip-compressed files inflated transparently. Loaded files are kept in an
// LRU so that repeated loads of the same module hit memory.
type DiskSupplier struct {
	roots []string
	cache *lru.LRU[libsym.ModuleID, []byte]
}

// NewDiskSupplier returns a supplier searching the given store roots in
// order, holding at most cacheSize symbol files in memory.
func NewDiskSupplier(roots []string, cacheSize uint32) (*DiskSupplier, error) {
	cache, err := lru.New[libsym.ModuleID, []byte](cacheSize,
		func(id libsym.ModuleID) uint32 { return id.Hash32() })
	if err != nil {
		return nil, err
	}
	return &DiskSupplier{roots: roots, cache: cache}, nil
}

// debugFileName reduces a code file path to the bare file name, accepting
// both path separator conventions since the path comes from the crashed
// process's operating system, not ours.
func debugFileName(codeFile string) string {
	if i := strings.LastIndexAny(codeFile, `/\`); i >= 0 {
		return codeFile[i+1:]
	}
	return codeFile
}

// GetSymbols looks id up in the store roots. The returned bytes stay owned
// by the supplier's cache until FreeSymbols is called.
func (s *DiskSupplier) GetSymbols(id libsym.ModuleID, _ *SystemInfo) (SymbolResult, []byte) {
	if data, ok := s.cache.Get(id); ok {
		return SymbolsFound, data
	}

	debugFile := debugFileName(id.CodeFile)
	symName := debugFile
	if strings.EqualFold(filepath.Ext(symName), ".pdb") {
		symName = symName[:len(symName)-len(".pdb")]
	}
	symName += ".sym"
	for _, root := range s.roots {
		base := filepath.Join(root, debugFile, id.DebugID, symName)
		for _, path := range []string{base, base + ".gz"} {
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			data, err = maybeInflate(data)
			if err != nil {
				log.Warnf("unreadable symbol file %s: %v", path, err)
				continue
			}
			log.Debugf("loaded symbol file %s for %v", path, id)
			s.cache.Add(id, data)
			return SymbolsFound, data
		}
	}
	return SymbolsNotFound, nil
}

// FreeSymbols releases the cached bytes for id.
func (s *DiskSupplier) FreeSymbols(id libsym.ModuleID) {
	s.cache.Remove(id)
}

var gzipMagic = []byte{0x1f, 0x8b}

// maybeInflate decompresses data when it is gzip-compressed and returns it
// unchanged otherwise.
func maybeInflate(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, gzipMagic) {
		return data, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
