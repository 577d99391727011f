package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/wellrun/micro-os-plus-iii/pkg/log"
)

// runCommand is the subcommands.Command that drives one or all of the
// registered scenarios and prints the resulting trace.
type runCommand struct {
	name    string
	verbose bool
}

func (*runCommand) Name() string     { return "run" }
func (*runCommand) Synopsis() string { return "run a mutex scenario and print its trace" }
func (*runCommand) Usage() string {
	return "run [-scenario name] [-v]\n\nRuns one scenario (or all, if -scenario is omitted) and prints the\nobserved ownership/boost/wakeup trace. See 'mxdemo list' for names.\n"
}

func (r *runCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.name, "scenario", "", "scenario to run (default: run all)")
	f.BoolVar(&r.verbose, "v", false, "also print the mutex package's own debug/info log lines")
}

func (r *runCommand) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	level := log.Warning
	if r.verbose {
		level = log.Debug
	}
	log.SetTarget(log.New(level))

	names := []string{r.name}
	if r.name == "" {
		names = scenarioNames()
	}

	failed := false
	for _, name := range names {
		run, ok := scenarios[name]
		if !ok {
			fmt.Printf("unknown scenario %q; see 'mxdemo list'\n", name)
			return subcommands.ExitFailure
		}

		fmt.Printf("=== %s ===\n", name)
		var buf bytes.Buffer
		if err := run(&buf); err != nil {
			fmt.Print(buf.String())
			fmt.Printf("FAILED: %v\n\n", err)
			failed = true
			continue
		}
		fmt.Print(buf.String())
		fmt.Printf("ok\n\n")
	}

	if failed {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
