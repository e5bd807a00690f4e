// Package main is the lpcrender command line.
package main

import (
	"log"
	"os"

	"github.com/alex-tdrn/lpc-renderer/cli"
)

func main() {
	app := cli.NewApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
