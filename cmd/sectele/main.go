package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bitdoglab/sectele/cmd/sectele/broker"
	"github.com/bitdoglab/sectele/cmd/sectele/controller"
	"github.com/bitdoglab/sectele/cmd/sectele/frame"
	"github.com/bitdoglab/sectele/cmd/sectele/subcmd"
	"github.com/bitdoglab/sectele/internal/state"
	"github.com/bitdoglab/sectele/log2"
	"github.com/juju/errors"
)

var log = log2.NewStderr(log2.LDebug)
var BuildVersion string = "unknown" // set by ldflags -X

var modules = []subcmd.Mod{
	controller.PublisherMod,
	controller.SubscriberMod,
	broker.Mod,
	frame.Mod,
	{Name: "version", Main: func(ctx context.Context, config *state.Config) error {
		fmt.Printf("sectele %s\n", BuildVersion)
		return nil
	}},
}

func main() {
	if subcmd.SdNotify("start") {
		// under systemd assume journal logging, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LInteractiveFlags)
	}

	cmdline := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	flagConfig := cmdline.String("config", "sectele.hcl", "")
	flagDebug := cmdline.Bool("debug", false, "log debug level")
	cmdline.Usage = func() {
		fmt.Fprintf(cmdline.Output(), "Usage: %s [option...] command\n\nOptions:\n", os.Args[0])
		cmdline.PrintDefaults()
		fmt.Fprintf(cmdline.Output(), "\nCommands:\n")
		for _, m := range modules {
			fmt.Fprintf(cmdline.Output(), "  %s\n", m.Name)
		}
	}
	_ = cmdline.Parse(os.Args[1:])
	if !*flagDebug {
		log.SetLevel(log2.LInfo)
	}

	mod, err := subcmd.Parse(cmdline.Arg(0), modules)
	if err != nil {
		cmdline.Usage()
		log.Fatal(err)
	}

	ctx, g := state.NewContext(log, nil)
	g.BuildVersion = BuildVersion
	config := state.MustReadConfig(log, state.NewOsFullReader("."), *flagConfig)

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigch
		log.Infof("signal=%v stopping", sig)
		g.Stop()
	}()

	if err := mod.Main(ctx, config); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
}
