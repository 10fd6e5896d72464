package cmd

import (
	"fmt"
	"os"

	"github.com/apex/log"
	"github.com/apex/log/handlers/level"
	"github.com/apex/log/handlers/multi"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/turku/storage-agent/config"
	"github.com/turku/storage-agent/logging"
)

var rootArgs struct {
	ConfigDir string
	Verbose   bool
}

// sessionID tags every log line emitted by this process, so interleaved
// output from a cron-run ping and a concurrently running serve daemon can
// be told apart in a shared log file.
var sessionID = uuid.NewString()

// NewRootCommand builds the storage-agent command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "turku-storage",
		Short:         "Backup storage agent: receives, retains, and reports on machine snapshots.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&rootArgs.ConfigDir, "config-dir", "c", config.GetDefaultConfigLocation(), "directory containing config.d fragments")
	root.PersistentFlags().BoolVar(&rootArgs.Verbose, "verbose", false, "log at info level to the console instead of error level")

	root.AddCommand(
		newPingCommand(),
		newUpdateConfigCommand(),
		newServeCommand(),
		newDiagnosticsCommand(),
	)

	return root
}

// initConfig loads the merged configuration into the process-wide
// singleton and installs the logging stack. It's the shared PreRun every
// subcommand uses, matching the teacher's own initConfig convention.
//
// writable controls whether a missing name/secret pair is generated and
// persisted back to config.d. ping never passes true: backups before
// registration don't make sense, so a ping session must fail rather than
// silently bootstrap an identity.
func initConfig(writable bool) {
	cfg, err := config.Load(rootArgs.ConfigDir, writable)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load configuration:", err)
		os.Exit(1)
	}
	config.Set(cfg)

	log.SetLevel(log.DebugLevel)

	consoleHandler := level.New(logging.NewConsoleHandler(), logging.LevelFromVerbose(rootArgs.Verbose))
	handlers := []log.Handler{consoleHandler}

	if cfg.LogFile != "" {
		fileHandler, err := logging.NewFileHandler(cfg.LogFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, "failed to open log file, continuing with console only:", err)
		} else {
			handlers = append(handlers, level.New(fileHandler, log.DebugLevel))
		}
	}

	combined := multi.New(handlers...)
	log.SetHandler(logging.NewWithDefaultFields(combined, log.Fields{"session": sessionID, "pid": os.Getpid()}))
}
