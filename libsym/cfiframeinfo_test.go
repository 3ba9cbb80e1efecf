// Copyright The crashsym authors
// SPDX-License-Identifier: Apache-2.0

package libsym

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// The rule grammar: space-separated "name:" tokens, each followed by an
// expression running to the next name token or the end of the string.
func TestParseCFIRuleSet(t *testing.T) {
	var info CFIFrameInfo
	ok := ParseCFIRuleSet(".cfa: $esp 4 + .ra: .cfa 4 - ^ $ebp: .cfa 8 - ^", &info)
	assert.True(t, ok)
	assert.Equal(t, "$esp 4 +", info.CFARule)
	assert.Equal(t, ".cfa 4 - ^", info.RARule)
	assert.Equal(t, map[string]string{"$ebp": ".cfa 8 - ^"}, info.RegisterRules)
}

func TestParseCFIRuleSetMerges(t *testing.T) {
	var info CFIFrameInfo
	assert.True(t, ParseCFIRuleSet(".cfa: $esp 4 + $ebx: $edi", &info))
	// A later set overrides name by name and leaves other rules alone.
	assert.True(t, ParseCFIRuleSet(".cfa: $esp 8 +", &info))
	assert.Equal(t, "$esp 8 +", info.CFARule)
	assert.Equal(t, "$edi", info.RegisterRules["$ebx"])
}

func TestParseCFIRuleSetRejects(t *testing.T) {
	for _, ruleSet := range []string{
		"",                 // empty
		"$esp 4 +",         // expression without a name
		".cfa:",            // name without an expression
		".cfa: .ra: $esp",  // first name's expression is empty
		"$eax $ebx: $ecx",  // leading expression token
	} {
		var info CFIFrameInfo
		assert.False(t, ParseCFIRuleSet(ruleSet, &info), "rule set %q", ruleSet)
	}
}
