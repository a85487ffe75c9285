package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:   "pumpspy",
		Usage:  "poll a Pumpspy sump or well pump monitor and publish its state",
		Action: serveCommand,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "poll the device and serve the host API",
				Action: serveCommand,
			},
			{
				Name:   "setup",
				Usage:  "pick a location and device for an account",
				Action: setupCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "username",
						EnvVars: []string{"PUMPSPY_USERNAME"},
					},
					&cli.StringFlag{
						Name:    "password",
						EnvVars: []string{"PUMPSPY_PASSWORD"},
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
