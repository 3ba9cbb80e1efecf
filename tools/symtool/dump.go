// Copyright The crashsym authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/peterbourgon/ff/v3/ffcli"
	"github.com/zeebo/xxh3"

	"github.com/crashsym/crashsym/fastsym"
	"github.com/crashsym/crashsym/symfile"
)

func newDumpCmd() *ffcli.Command {
	return &ffcli.Command{
		Name:       "dump",
		Exec:       execDump,
		ShortUsage: "symtool dump <file>",
		ShortHelp:  "Summarize a text or compiled symbol file",
	}
}

func execDump(_ context.Context, args []string) error {
	if len(args) != 1 {
		return flag.ErrHelp
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	var stats symfile.Stats
	corrupt := false
	if module, err := symfile.ParseModule(data); err == nil {
		fmt.Printf("module:   %s %s %s %s\n",
			module.OS(), module.CPU(), module.DebugID(), module.CodeFile())
		if module.CodeID() != "" {
			fmt.Printf("code id:  %s\n", module.CodeID())
		}
		stats = module.Stats()
		corrupt = module.IsCorrupt()
	} else {
		module, err := fastsym.New(data)
		if err != nil {
			return fmt.Errorf("%s is neither a symbol file nor a serialized module: %w",
				args[0], err)
		}
		stats = module.Stats()
		corrupt = module.IsCorrupt()
	}

	fmt.Printf("checksum: %016x\n", xxh3.Hash(data))
	fmt.Printf("corrupt:  %v\n", corrupt)
	fmt.Printf("files: %d  functions: %d  publics: %d  origins: %d\n",
		stats.Files, stats.Functions, stats.PublicSymbols, stats.InlineOrigins)
	fmt.Printf("windows frames: %d  cfi inits: %d  cfi deltas: %d\n",
		stats.WindowsFrames, stats.CFIInitRules, stats.CFIDeltaRules)
	return nil
}
