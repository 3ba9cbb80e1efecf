// Copyright The crashsym authors
// SPDX-License-Identifier: Apache-2.0

package libsym // import "github.com/crashsym/crashsym/libsym"

import "strings"

// CFIFrameInfo is the set of register-recovery rules in effect at one
// instruction address. CFARule computes the canonical frame address, RARule
// the return address; RegisterRules holds the expressions for all other
// registers, keyed by register name.
type CFIFrameInfo struct {
	CFARule       string
	RARule        string
	RegisterRules map[string]string
}

// cfa and ra are the distinguished rule names of a CFI rule set.
const (
	cfiRuleCFA = ".cfa"
	cfiRuleRA  = ".ra"
)

func (c *CFIFrameInfo) setRule(name, expr string) {
	switch name {
	case cfiRuleCFA:
		c.CFARule = expr
	case cfiRuleRA:
		c.RARule = expr
	default:
		if c.RegisterRules == nil {
			c.RegisterRules = make(map[string]string)
		}
		c.RegisterRules[name] = expr
	}
}

// ParseCFIRuleSet parses rule text of the form "name: expr ..." into info,
// merging over any rules already present so that later rule sets override
// earlier ones name by name.
//
// The grammar: a rule set is a space-separated token sequence in which every
// token ending in ':' names a register and the tokens up to the next such
// name form its expression. The set must begin with a name token and every
// name must receive at least one expression token, otherwise false is
// returned and info is left in an unspecified partially-updated state.
func ParseCFIRuleSet(ruleSet string, info *CFIFrameInfo) bool {
	var name string
	var expr strings.Builder

	commit := func() bool {
		if name == "" || expr.Len() == 0 {
			return false
		}
		info.setRule(name, expr.String())
		return true
	}

	first := true
	for _, tok := range strings.Fields(ruleSet) {
		if strings.HasSuffix(tok, ":") {
			if !first && !commit() {
				return false
			}
			name = strings.TrimSuffix(tok, ":")
			expr.Reset()
			first = false
		} else {
			if first {
				// Expression before any register name.
				return false
			}
			if expr.Len() > 0 {
				expr.WriteByte(' ')
			}
			expr.WriteString(tok)
		}
	}
	return commit()
}
