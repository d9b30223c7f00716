package main

import (
	"os"

	icatapp "github.com/icatools/icat/app"
)

func main() {
	icatapp.App.Reader = os.Stdin
	icatapp.App.Writer = os.Stdout
	icatapp.App.ErrWriter = os.Stderr
	if err := icatapp.App.Run(os.Args); err != nil {
		os.Exit(1)
	}
}
