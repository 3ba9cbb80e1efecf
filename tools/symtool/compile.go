// Copyright The crashsym authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/peterbourgon/ff/v3/ffcli"
	log "github.com/sirupsen/logrus"

	"github.com/crashsym/crashsym/symfile"
)

type compileCmd struct {
	output string
}

func newCompileCmd() *ffcli.Command {
	cmd := compileCmd{}
	set := flag.NewFlagSet("compile", flag.ExitOnError)
	set.StringVar(&cmd.output, "o", "", "output path (default: input with any .sym suffix "+
		"replaced by "+symfile.SerializedFileExtension+")")

	return &ffcli.Command{
		Name:       "compile",
		Exec:       cmd.exec,
		ShortUsage: "symtool compile [flags] <file.sym>",
		ShortHelp:  "Compile a text symbol file into its serialized form",
		FlagSet:    set,
	}
}

func (cmd *compileCmd) exec(_ context.Context, args []string) error {
	if len(args) != 1 {
		return flag.ErrHelp
	}
	input := args[0]
	data, err := os.ReadFile(input)
	if err != nil {
		return err
	}

	module, err := symfile.ParseModule(data)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", input, err)
	}
	if module.IsCorrupt() {
		log.Warnf("%s: %d malformed records dropped", input, module.MalformedRecords())
	}

	output := cmd.output
	if output == "" {
		output = strings.TrimSuffix(input, ".sym") + symfile.SerializedFileExtension
	}
	buf := module.Serialize()
	if err := os.WriteFile(output, buf, 0o644); err != nil {
		return err
	}
	log.Infof("wrote %s (%d bytes) for module %s %s",
		output, len(buf), module.CodeFile(), module.DebugID())
	return nil
}
