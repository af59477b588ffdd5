// Package main implements the keelson command line tool: it inspects the
// bundled tag registry and schemas, parses topics, encloses and uncovers
// envelopes, and listens to a bus.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

const appName = "keelson"

var version = "dev"

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, env *environment, args []string) error
}

// environment carries the streams a command reads and writes.
type environment struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

var commands = []command{
	{"tags", "List the well-known tags", runTags},
	{"descriptor-set", "Write the descriptor set of a schema type", runDescriptorSet},
	{"topic", "Parse a topic into its fields", runTopic},
	{"enclose", "Wrap a payload in an envelope", runEnclose},
	{"uncover", "Unwrap an envelope and decode its payload", runUncover},
	{"listen", "Print samples received on a topic", runListen},
	{"version", "Print the version", runVersion},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := &environment{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	if err := run(ctx, env, os.Args[1:]); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			_, _ = fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, env *environment, args []string) error {
	if len(args) == 0 {
		printUsage(env.stderr)
		return flag.ErrHelp
	}

	name := args[0]
	if name == "help" || name == "-h" || name == "--help" {
		printUsage(env.stdout)
		return nil
	}
	for _, cmd := range commands {
		if cmd.name == name {
			return cmd.run(ctx, env, args[1:])
		}
	}
	printUsage(env.stderr)
	return fmt.Errorf("unknown command %q", name)
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintf(w, "Usage: %s <command> [options]\n\nCommands:\n", appName)
	for _, cmd := range commands {
		_, _ = fmt.Fprintf(w, "  %-16s %s\n", cmd.name, cmd.summary)
	}
	_, _ = fmt.Fprintf(w, "\nRun '%s <command> -h' for command options.\n", appName)
}

func newFlagSet(env *environment, name, usage string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(env.stderr)
	fs.Usage = func() {
		_, _ = fmt.Fprintf(env.stderr, "Usage: %s %s %s\n", appName, name, usage)
		fs.PrintDefaults()
	}
	return fs
}

func runVersion(_ context.Context, env *environment, _ []string) error {
	_, err := fmt.Fprintf(env.stdout, "%s %s\n", appName, version)
	return err
}
