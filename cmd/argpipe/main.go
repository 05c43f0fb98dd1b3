// Package main provides the argpipe CLI entrypoint.
//
// argpipe relays framed RPC call bodies between two byte streams,
// reassembling the three argument streams and re-emitting them as
// minimal, correctly ordered frames.
//
// Usage:
//
//	argpipe <command> [options]
//
// Exit codes for `relay`:
//   - 0: call relayed (or idle input)
//   - 1: protocol violation in the argument streams
//   - 2: wire stream error
//   - 3: canceled
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/cychenyin/tchannel/types"
)

// commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "argpipe",
		Usage:          "RPC argument-frame relay CLI",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			relayCommand(),
			versionCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already handled the exit for cli.ExitCoder errors.
		// This branch handles unexpected errors that weren't wrapped.
		os.Exit(1)
	}
}

// exitErrHandler handles errors from the CLI, preserving exit codes from
// cli.Exit() so relay outcomes map onto process exit codes.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()

		// cli.Exit("", N).Error() returns "exit status N", so skip those
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// versionCommand returns the version command.
func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version information",
		Action: func(c *cli.Context) error {
			fmt.Fprintf(c.App.Writer, "argpipe %s (commit: %s)\n", types.Version, commit)
			return nil
		},
	}
}
