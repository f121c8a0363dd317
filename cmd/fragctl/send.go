package main

import (
	"bufio"
	"fmt"
	"net"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/smnsjas/go-fragengine/engine"
	"github.com/smnsjas/go-fragengine/enginelog"
	"github.com/smnsjas/go-fragengine/fragment"
	"github.com/smnsjas/go-fragengine/recvqueue"
)

// sendCommand dials addr and fragments each line of stdin into the
// engine, tagged with the requested priority.
func sendCommand() *cli.Command {
	return &cli.Command{
		Name:  "send",
		Usage: "Fragment stdin, one object per line, and send it to a listening fragctl recv",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "Address to dial", Value: "127.0.0.1:9191"},
			&cli.IntFlag{Name: "fragment-size", Usage: "Maximum wire size of one fragment", Value: 64},
			&cli.StringFlag{Name: "priority", Usage: "PromptResponse or Default", Value: "Default"},
			&cli.BoolFlag{Name: "verbose", Usage: "Log engine diagnostics to stderr (individual fragments are not logged)"},
		},
		Action: sendAction,
	}
}

func sendAction(c *cli.Context) error {
	priority, err := parsePriority(c.String("priority"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	conn, err := net.Dial("tcp", c.String("addr"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("fragctl: dial %s: %v", c.String("addr"), err), 1)
	}
	defer conn.Close()

	var logger enginelog.Logger = enginelog.Noop()
	if c.Bool("verbose") {
		logger = enginelog.New(os.Stderr, "send")
	}

	e, err := engine.New(conn, recvqueue.DeserializerFunc(noopDeserialize), engine.Options{
		FragmentSize: c.Int("fragment-size"),
		Logger:       logger,
	})
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Bytes()
		if err := e.Send(line, priority); err != nil {
			return cli.Exit(fmt.Sprintf("fragctl: send: %v", err), 1)
		}
		for {
			wrote, err := e.PumpOnce(nil)
			if err != nil {
				return cli.Exit(fmt.Sprintf("fragctl: pump: %v", err), 1)
			}
			if !wrote {
				break
			}
		}
	}
	return scanner.Err()
}

func parsePriority(s string) (fragment.Priority, error) {
	switch s {
	case "PromptResponse":
		return fragment.PromptResponse, nil
	case "Default", "":
		return fragment.Default, nil
	default:
		return 0, fmt.Errorf("fragctl: unknown priority %q (want PromptResponse or Default)", s)
	}
}

func noopDeserialize(blob []byte) (interface{}, error) {
	return blob, nil
}
