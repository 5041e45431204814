// Package main provides alacdump, a command-line tool that decodes an
// ALAC track inside an MP4/M4A file to WAV or raw PCM.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	ctx := context.Background()

	app := &cli.Command{
		Name:      "alacdump",
		Usage:     "Decode an ALAC (Apple Lossless) track to WAV or raw PCM",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Value:   "-",
				Usage:   "output file path (- for stdout)",
			},
			&cli.BoolFlag{
				Name:  "raw",
				Usage: "write raw interleaved PCM instead of WAV",
			},
			&cli.BoolFlag{
				Name:    "info",
				Aliases: []string{"i"},
				Usage:   "print stream info and exit without decoding",
			},
		},
		Action: runDecode,
	}

	if err := app.Run(ctx, os.Args); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)

		os.Exit(1)
	}
}
