package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/apex/log"
	"github.com/spf13/cobra"

	"github.com/turku/storage-agent/config"
	"github.com/turku/storage-agent/daemon"
	"github.com/turku/storage-agent/remote"
)

func newServeCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "serve",
		Short: "Run update-config on a schedule instead of exiting after one pass.",
		PreRun: func(cmd *cobra.Command, args []string) {
			initConfig(true)
		},
		RunE: serveCmdRun,
	}
	return command
}

func serveCmdRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Get()
	client := remote.NewFromConfig(cfg)

	log.Info("serve: daemon starting")
	return daemon.Run(ctx, cfg, client)
}
