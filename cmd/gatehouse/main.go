package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/platinummonkey/gatehouse/pkg/bootstrap"
	"github.com/platinummonkey/gatehouse/pkg/cli"
	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Configuration is loaded only once a command needs the database, so
	// usage output works without any environment.
	open := func(ctx context.Context) (*bootstrap.App, error) {
		cfg, err := config.LoadConfig()
		if err != nil {
			return nil, err
		}
		logger := observability.NewLogger(cfg.Observability.Level(), os.Stderr)
		return bootstrap.New(ctx, cfg, logger)
	}

	if err := cli.NewRootCommand(open, os.Stdout).Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
