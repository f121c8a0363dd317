package main

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/smnsjas/go-fragengine/engine"
	"github.com/smnsjas/go-fragengine/enginelog"
	"github.com/smnsjas/go-fragengine/fragment"
	"github.com/smnsjas/go-fragengine/recvqueue"
)

// recvCommand listens on addr and prints each reassembled object it
// receives from a fragctl send peer, one line per object.
func recvCommand() *cli.Command {
	return &cli.Command{
		Name:  "recv",
		Usage: "Listen for a fragctl send peer and print reassembled objects",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "Address to listen on", Value: "127.0.0.1:9191"},
			&cli.IntFlag{Name: "max-object-size", Usage: "Reject objects larger than this many bytes (0 = unbounded)"},
			&cli.BoolFlag{Name: "verbose", Usage: "Log engine diagnostics to stderr (individual fragments are not logged)"},
		},
		Action: recvAction,
	}
}

func recvAction(c *cli.Context) error {
	ln, err := net.Listen("tcp", c.String("addr"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("fragctl: listen %s: %v", c.String("addr"), err), 1)
	}
	defer ln.Close()

	fmt.Fprintf(os.Stderr, "fragctl: listening on %s\n", ln.Addr())
	conn, err := ln.Accept()
	if err != nil {
		return cli.Exit(fmt.Sprintf("fragctl: accept: %v", err), 1)
	}
	defer conn.Close()

	var logger enginelog.Logger = enginelog.Noop()
	if c.Bool("verbose") {
		logger = enginelog.New(os.Stderr, "recv")
	}

	e, err := engine.New(conn, recvqueue.DeserializerFunc(noopDeserialize), engine.Options{
		FragmentSize:              4096,
		MaximumReceivedObjectSize: c.Int("max-object-size"),
		Logger:                    logger,
	})
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	for {
		err := e.ReceiveOnce(fragment.Default, func(obj interface{}) error {
			fmt.Println(string(obj.([]byte)))
			return nil
		})
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return cli.Exit(fmt.Sprintf("fragctl: receive: %v", err), 1)
		}
	}
}
