// Copyright The crashsym authors
// SPDX-License-Identifier: Apache-2.0

package libsym // import "github.com/crashsym/crashsym/libsym"

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/zeebo/xxh3"
)

// ModuleID uniquely names one loaded binary: the code file path together
// with the debug identifier of its symbol data.
type ModuleID struct {
	CodeFile string
	DebugID  string
}

func (id ModuleID) String() string {
	return id.CodeFile + "|" + id.DebugID
}

// Hash32 returns a 32 bit hash of the identity. Its main purpose is to be
// used as key for caching.
func (id ModuleID) Hash32() uint32 {
	return uint32(xxh3.HashString(id.CodeFile) ^ xxh3.HashString(id.DebugID))
}

// DebugIdentifier is a parsed debug id: the GUID of the debug file followed
// by its age counter.
type DebugIdentifier struct {
	GUID uuid.UUID
	Age  uint32
}

// ParseDebugIdentifier parses the textual debug id used in MODULE records
// and symbol store paths: 32 hex digits of GUID followed by a hex age.
func ParseDebugIdentifier(s string) (DebugIdentifier, error) {
	if len(s) < 33 {
		return DebugIdentifier{}, fmt.Errorf("debug identifier too short: %q", s)
	}
	guid, err := uuid.Parse(s[:32])
	if err != nil {
		return DebugIdentifier{}, fmt.Errorf("invalid GUID in debug identifier %q: %v", s, err)
	}
	age, err := strconv.ParseUint(s[32:], 16, 32)
	if err != nil {
		return DebugIdentifier{}, fmt.Errorf("invalid age in debug identifier %q: %v", s, err)
	}
	return DebugIdentifier{GUID: guid, Age: uint32(age)}, nil
}

// String formats the identifier back into the canonical upper-case form used
// in symbol store paths.
func (d DebugIdentifier) String() string {
	guid := strings.ToUpper(strings.ReplaceAll(d.GUID.String(), "-", ""))
	return guid + strings.ToUpper(strconv.FormatUint(uint64(d.Age), 16))
}
