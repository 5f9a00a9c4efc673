package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "relay",
		Usage: "Relay messages from Kafka topics to a destination topic",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run the relay",
				Flags:  runFlags(),
				Action: run,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
