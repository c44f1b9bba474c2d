package main

import (
	"context"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"plugin"

	"github.com/symexec/symtest"
)

// RunCommand represents a command for exploring a target's tests.
type RunCommand struct{}

// NewRunCommand returns a new instance of RunCommand.
func NewRunCommand() *RunCommand {
	return &RunCommand{}
}

// Run executes the "run" subcommand.
func (cmd *RunCommand) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("symtest-run", flag.ContinueOnError)
	enginePath := fs.String("engine", "", "engine backend plugin (.so)")
	workers := fs.Int("workers", symtest.DefaultWorkers, "concurrent test explorations")
	timeout := fs.Duration("timeout", symtest.DefaultTestTimeout, "per-test exploration budget")
	verbose := fs.Bool("v", false, "verbose")
	fs.Usage = cmd.usage
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() == 0 {
		return fmt.Errorf("target required")
	} else if fs.NArg() > 1 {
		return fmt.Errorf("too many targets specified")
	} else if *enginePath == "" {
		return fmt.Errorf("engine plugin required")
	}

	log.SetFlags(0)
	if !*verbose {
		log.SetOutput(ioutil.Discard)
	}

	eng, err := openEngine(*enginePath, fs.Arg(0))
	if err != nil {
		return err
	}

	runner := symtest.NewRunner(eng)
	runner.Workers = *workers
	runner.TestTimeout = *timeout
	runner.Verbose = *verbose

	report, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	if *verbose {
		log.Print(report.Dump())
	}

	fmt.Print(report)
	if code := report.ExitCode(); code != 0 {
		os.Exit(code)
	}
	return nil
}

// openEngine loads an engine backend from a Go plugin. The plugin must
// export Open(target string) (symtest.Engine, error).
func openEngine(path, target string) (symtest.Engine, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot load engine plugin: %w", err)
	}
	sym, err := p.Lookup("Open")
	if err != nil {
		return nil, fmt.Errorf("engine plugin does not export Open: %w", err)
	}
	open, ok := sym.(func(string) (symtest.Engine, error))
	if !ok {
		return nil, fmt.Errorf("engine plugin Open has wrong signature: %T", sym)
	}
	return open(target)
}

func (cmd *RunCommand) usage() {
	fmt.Fprintln(os.Stderr, `
Explore every registered test of an instrumented target and report a
verdict for each terminated path.

Usage:

	symtest run -engine plugin.so [arguments] target

Arguments:

	-engine PATH
	    Engine backend plugin. Must export Open(target) (Engine, error).

	-workers N
	    Number of tests explored concurrently. Defaults to 1.

	-timeout D
	    Exploration budget per test. Defaults to 60s.

	-v
	    Enable verbose logging.
`[1:])
}
