package cmd

import (
	"context"
	"os"

	"github.com/apex/log"
	"github.com/spf13/cobra"

	"github.com/turku/storage-agent/config"
	"github.com/turku/storage-agent/session"
)

func newPingCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "ping <machine-uuid>",
		Short: "Run one backup session for a machine, reading its handshake from stdin.",
		Args:  cobra.ExactArgs(1),
		PreRun: func(cmd *cobra.Command, args []string) {
			initConfig(false)
		},
		RunE: pingCmdRun,
	}
	return command
}

func pingCmdRun(cmd *cobra.Command, args []string) error {
	machineUUID := args[0]
	engine := session.NewEngine(config.Get())

	if err := engine.Run(context.Background(), machineUUID, os.Stdin); err != nil {
		log.WithField("uuid", machineUUID).WithError(err).Error("ping: session failed")
		return err
	}
	return nil
}
