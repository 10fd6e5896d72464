package cmd

import (
	"context"
	"math/rand"
	"time"

	"github.com/apex/log"
	"github.com/spf13/cobra"

	"github.com/turku/storage-agent/config"
	"github.com/turku/storage-agent/refresh"
	"github.com/turku/storage-agent/remote"
)

var updateConfigArgs struct {
	WaitSeconds   int
	ApiAuthName   string
	ApiAuthSecret string
	Debug         bool
}

func newUpdateConfigCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "update-config",
		Short: "Scan volumes, register with the API server, and render the authorized_keys file.",
		PreRun: func(cmd *cobra.Command, args []string) {
			if updateConfigArgs.Debug {
				rootArgs.Verbose = true
			}
			initConfig(true)
		},
		RunE: updateConfigCmdRun,
	}

	command.Flags().IntVarP(&updateConfigArgs.WaitSeconds, "wait", "w", 0, "sleep a uniform random [0, WAIT_SEC] before starting, to spread load across a fleet")
	command.Flags().StringVar(&updateConfigArgs.ApiAuthName, "api-auth-name", "", "override api_auth_name for this run")
	command.Flags().StringVar(&updateConfigArgs.ApiAuthSecret, "api-auth-secret", "", "override api_auth_secret for this run")
	command.Flags().BoolVar(&updateConfigArgs.Debug, "debug", false, "log at info level regardless of --verbose")

	return command
}

func updateConfigCmdRun(cmd *cobra.Command, args []string) error {
	if updateConfigArgs.WaitSeconds > 0 {
		delay := time.Duration(rand.Intn(updateConfigArgs.WaitSeconds*1000)) * time.Millisecond
		log.WithField("delay", delay).Info("update-config: sleeping before starting")
		select {
		case <-time.After(delay):
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		}
	}

	cfg := config.Get()
	if updateConfigArgs.ApiAuthName != "" {
		cfg.ApiAuthName = updateConfigArgs.ApiAuthName
	}
	if updateConfigArgs.ApiAuthSecret != "" {
		cfg.ApiAuthSecret = updateConfigArgs.ApiAuthSecret
	}

	client := remote.NewFromConfig(cfg)

	if err := refresh.Cycle(context.Background(), cfg, client); err != nil {
		log.WithError(err).Error("update-config: refresh cycle failed")
		return err
	}
	return nil
}
