// Command mxdemo runs the mutex package's end-to-end scenarios against a
// simulated scheduler and prints the observed trace of ownership, boost and
// wakeup events for each one.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(new(runCommand), "")
	subcommands.Register(new(listCommand), "")

	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}
