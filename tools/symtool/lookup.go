// Copyright The crashsym authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/crashsym/crashsym/libsym"
	"github.com/crashsym/crashsym/resolver"
)

type lookupCmd struct {
	symPath    string
	moduleBase uint64
}

func newLookupCmd() *ffcli.Command {
	cmd := lookupCmd{}
	set := flag.NewFlagSet("lookup", flag.ExitOnError)
	set.StringVar(&cmd.symPath, "sym", "", "symbol file (text or compiled)")
	set.Uint64Var(&cmd.moduleBase, "base", 0, "module load address")

	return &ffcli.Command{
		Name:       "lookup",
		Exec:       cmd.exec,
		ShortUsage: "symtool lookup -sym <file> [flags] <hex-address>...",
		ShortHelp:  "Resolve instruction addresses against a symbol file",
		FlagSet:    set,
	}
}

func (cmd *lookupCmd) exec(_ context.Context, args []string) error {
	if cmd.symPath == "" || len(args) == 0 {
		return flag.ErrHelp
	}
	data, err := os.ReadFile(cmd.symPath)
	if err != nil {
		return err
	}

	id := libsym.ModuleID{CodeFile: cmd.symPath}
	res := resolver.New()
	if err := res.LoadModule(id, data); err != nil {
		return err
	}

	for _, arg := range args {
		addr, err := strconv.ParseUint(arg, 16, 64)
		if err != nil {
			return fmt.Errorf("invalid address %q: %v", arg, err)
		}

		frame := libsym.StackFrame{
			Instruction: addr,
			ModuleBase:  cmd.moduleBase,
			Module:      id,
		}
		var inlined []*libsym.StackFrame
		res.FillSourceLineInfo(&frame, &inlined)

		printFrame(addr, &frame)
		for _, inl := range inlined {
			fmt.Printf("    inlined into %s (%s:%d)\n",
				inl.FunctionName, inl.SourceFileName, inl.SourceLine)
		}
		if wfi := res.FindWindowsFrameInfo(&frame); wfi != nil {
			fmt.Printf("    windows frame info: type=%d params=%d program=%q\n",
				wfi.Type, wfi.ParameterSize, wfi.ProgramString)
		}
		if cfi := res.FindCFIFrameInfo(&frame); cfi != nil {
			fmt.Printf("    cfi: .cfa=%q .ra=%q registers=%d\n",
				cfi.CFARule, cfi.RARule, len(cfi.RegisterRules))
		}
	}
	return nil
}

func printFrame(addr uint64, frame *libsym.StackFrame) {
	if frame.FunctionName == "" {
		fmt.Printf("%x: <unknown>\n", addr)
		return
	}
	fmt.Printf("%x: %s + %#x", addr, frame.FunctionName, addr-frame.FunctionBase)
	if frame.SourceFileName != "" || frame.SourceLine != 0 {
		fmt.Printf(" (%s:%d)", frame.SourceFileName, frame.SourceLine)
	}
	if frame.IsMultiple {
		fmt.Printf(" [multiple]")
	}
	fmt.Println()
}
