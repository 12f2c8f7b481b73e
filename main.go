package main

import (
	"os"

	"github.com/urfave/cli/v2"

	"github.com/zkceremony/tau-sequencer/logger"
)

func main() {
	app := &cli.App{
		Name:      "tau-sequencer",
		Usage:     "coordinate and audit a powers-of-tau trusted-setup ceremony",
		UsageText: "tau-sequencer command [arguments...]",
		Commands: []*cli.Command{
			{
				Name:        "init",
				Aliases:     []string{"i"},
				Usage:       "init <g1-powers> <g2-powers> <transcript>",
				Description: "create a new transcript file holding the sequence-0 parameters",
				Action:      initTranscript,
			},
			{
				Name:        "challenge",
				Usage:       "challenge <transcript> <output>",
				Description: "export the current snapshot as a challenge file for the next contributor",
				Action:      exportChallenge,
			},
			{
				Name:        "contribute",
				Aliases:     []string{"c"},
				Usage:       "contribute <challenge> <response>",
				Description: "sample a fresh secret and compute a contribution against a challenge file",
				Action:      contribute,
			},
			{
				Name:        "accept",
				Usage:       "accept <transcript> <response>",
				Description: "verify a response file against the transcript head and append it",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Usage: "contributor identity", Required: true},
				},
				Action: accept,
			},
			{
				Name:        "audit",
				Aliases:     []string{"a"},
				Usage:       "audit <transcript>",
				Description: "replay and re-verify every contribution in the transcript",
				Action:      audit,
			},
			{
				Name:   "status",
				Usage:  "status <transcript>",
				Action: status,
			},
			{
				Name:        "seal",
				Usage:       "seal <transcript>",
				Description: "transition the transcript to read-only",
				Action:      seal,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log := logger.Logger()
		log.Fatal().Err(err).Msg("command failed")
	}
}
