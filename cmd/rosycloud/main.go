// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Command rosycloud is the operator-facing entry point: it watches a
// directory, mirrors every change onto one or more configured cloud
// backends, and offers the inspection/maintenance subcommands spec.md §6
// describes (ls, xtr, tag, fsck) plus the long-running start daemon.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	_ "github.com/rosycloud/rosycloud/backend/azureblob"
	_ "github.com/rosycloud/rosycloud/backend/gdrive"
	_ "github.com/rosycloud/rosycloud/backend/local"
	_ "github.com/rosycloud/rosycloud/backend/s3"
)

// Exit codes, per spec.md §6.
const (
	exitMissingGlobalConfig = -1
	exitMissingCloudConfig  = -2
	exitNotFound            = -3
	exitTargetExists        = -4
	exitBadCLI              = -5
	exitInvariantViolation  = -6
	exitFileNotFound        = -7
)

// cli is the top-level flag/subcommand surface, parsed by kong the way the
// rest of the pack's CLI tools are (see SPEC_FULL.md's DOMAIN STACK note on
// alecthomas/kong, in place of the original's hand-rolled sys.argv parsing
// in rosycloud.py's main()).
type cli struct {
	Config string `help:"Path to the global key=value configuration file." default:"rosycloud.conf"`

	Ls    lsCmd    `cmd:"" help:"List all versions of a path across configured backends."`
	Xtr   xtrCmd   `cmd:"" help:"Extract a specific snapshot/path to the working directory."`
	Tag   tagCmd   `cmd:"" help:"Manage named snapshot pointers."`
	Fsck  fsckCmd  `cmd:"" help:"Run garbage collection against every configured backend."`
	Start startCmd `cmd:"" help:"Watch SRC_DIR and keep it synced to every configured backend."`
}

type tagCmd struct {
	Add    tagAddCmd    `cmd:"" help:"Tag the current snapshot at a path."`
	Delete tagDeleteCmd `cmd:"" help:"Remove a named tag."`
}

func main() {
	var c cli
	parser, err := kong.New(&c, kong.Name("rosycloud"), kong.Exit(func(int) {}))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitBadCLI)
	}

	kctx, err := parser.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitBadCLI)
	}

	a, err := buildApp(c.Config)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
	defer a.Close()

	if err := kctx.Run(a); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps a returned error onto spec.md §6's exit code table.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case isMissingGlobalConfig(err):
		return exitMissingGlobalConfig
	case isMissingCloudConfig(err):
		return exitMissingCloudConfig
	case isNotFound(err):
		return exitNotFound
	case isTargetExists(err):
		return exitTargetExists
	case isInvariantViolation(err):
		return exitInvariantViolation
	case isFileNotFound(err):
		return exitFileNotFound
	case errors.As(err, new(*badCLIError)):
		return exitBadCLI
	default:
		return 1
	}
}
