// Command fragctl is a demo harness for the priority fragmentation
// engine: send/recv drive it over a real TCP loopback from two separate
// invocations, and selftest exercises both directions in one process.
//
// Usage:
//
//	fragctl <command> [options]
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:           "fragctl",
		Usage:          "Priority fragmentation engine demo CLI",
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			sendCommand(),
			recvCommand(),
			selftestCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
