package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"grantfed/internal/configuration"
	"grantfed/internal/logging"

	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var opts options

	flagSet := pflag.NewFlagSet("grantfed", pflag.ContinueOnError)
	flagSet.StringVar(&opts.role, "role", roleAll, "process role: broker, agency, university, researcher, console or all")
	flagSet.StringSliceVar(&opts.researchers, "id", []string{"1", "2", "3"}, "researcher ids to run (researcher and all roles)")
	flagSet.StringVar(&opts.configDir, "config-dir", configuration.DefaultDir, "directory holding application.yml")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if err := opts.validate(); err != nil {
		return err
	}

	cfg, err := configuration.Load(opts.configDir)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logging.Init(cfg.Application.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	slog.Info("starting", "role", opts.role, "profile", cfg.Application.Profile)

	a := newApp(cfg, opts)
	if err := a.run(ctx); err != nil {
		slog.Error("stopped with error", "role", opts.role, "error", err)
		return err
	}

	slog.Info("shut down", "role", opts.role)
	return nil
}
