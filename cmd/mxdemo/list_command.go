package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"
)

// listCommand prints the names accepted by run's -scenario flag.
type listCommand struct{}

func (*listCommand) Name() string           { return "list" }
func (*listCommand) Synopsis() string       { return "list available scenarios" }
func (*listCommand) Usage() string          { return "list\n\nPrints the names 'run -scenario' accepts.\n" }
func (*listCommand) SetFlags(*flag.FlagSet) {}

func (*listCommand) Execute(context.Context, *flag.FlagSet, ...any) subcommands.ExitStatus {
	for _, name := range scenarioNames() {
		fmt.Println(name)
	}
	return subcommands.ExitSuccess
}
