package main

import (
	"errors"
	"os"

	"github.com/alecthomas/kong"

	"treadctl/internal/cli"
	"treadctl/internal/treadmill"
)

func main() {
	var c cli.CLI
	ctx := kong.Parse(&c,
		kong.Name("treadctl"),
		kong.Description("Find a BLE treadmill and send it speed commands"),
		kong.UsageOnError(),
	)
	err := ctx.Run(&c)
	if errors.Is(err, treadmill.ErrNotFound) {
		// Already reported to stderr.
		os.Exit(1)
	}
	ctx.FatalIfErrorf(err)
}
