// Copyright The crashsym authors
// SPDX-License-Identifier: Apache-2.0

// symtool compiles text symbol files into the serialized module format and
// answers address queries against either form.
package main

import (
	"context"
	"errors"
	"flag"
	"os"

	"github.com/peterbourgon/ff/v3/ffcli"
	log "github.com/sirupsen/logrus"
)

func main() {
	log.SetReportCaller(false)
	log.SetFormatter(&log.TextFormatter{})

	root := ffcli.Command{
		Name:       "symtool",
		ShortUsage: "symtool <subcommand> [flags]",
		ShortHelp:  "Tool for compiling and querying symbol files",
		Subcommands: []*ffcli.Command{
			newCompileCmd(),
			newLookupCmd(),
			newDumpCmd(),
		},
		Exec: func(context.Context, []string) error {
			return flag.ErrHelp
		},
	}

	if err := root.ParseAndRun(context.Background(), os.Args[1:]); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			log.Fatalf("%v", err)
		}
	}
}
