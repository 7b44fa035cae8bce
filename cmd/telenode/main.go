package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
	"github.com/temoto/telenode/cmd/telenode/node"
	"github.com/temoto/telenode/cmd/telenode/subcmd"
	"github.com/temoto/telenode/cmd/telenode/verify"
	"github.com/temoto/telenode/log2"
	"github.com/temoto/telenode/state"
)

var modules = []subcmd.Mod{
	node.RunMod,
	node.ScanMod,
	node.PublishMod,
	verify.Mod,
}

func main() {
	flagConfig := flag.String("config", "telenode.hcl", "config file, .hcl or .yaml")
	flagDebug := flag.Bool("debug", false, "debug log for all components")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [command]\n\nCommands (default run):\n%s\nFlags:\n",
			os.Args[0], subcmd.Help(modules))
		flag.PrintDefaults()
	}
	flag.Parse()

	level := log2.Level(log2.LInfo)
	if *flagDebug {
		level = log2.LDebug
	}
	log := log2.NewStderr(level)
	if subcmd.SdNotify("start") {
		// we're under systemd, assume systemd journal logging, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	} else if isatty.IsTerminal(os.Stderr.Fd()) {
		log.SetFlags(log2.LInteractiveFlags)
	} else {
		log.SetFlags(log2.LStdFlags)
	}

	command := flag.Arg(0)
	if command == "" {
		command = node.RunMod.Name
	}
	mod, err := subcmd.Parse(command, modules)
	if err != nil {
		flag.Usage()
		log.Fatal(err)
	}

	config := state.MustReadConfig(log, state.NewOsFullReader("."), *flagConfig)
	ctx, g := state.NewContext(log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infof("signal=%s stopping", sig.String())
		g.Stop()
	}()

	if err := mod.Main(ctx, config); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
}
