package cmd

import (
	"fmt"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/turku/storage-agent/config"
	"github.com/turku/storage-agent/internal/diagnostics"
)

const DefaultLogLines = 200

var diagnosticsArgs struct {
	IncludeIdentity bool
	IncludeLogs     bool
	ReviewReport    bool
	OutputDir       string
	LogLines        int
}

func newDiagnosticsCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "diagnostics",
		Short: "Collect a local support bundle with this storage's configuration, volume usage, and recent logs.",
		PreRun: func(cmd *cobra.Command, args []string) {
			initConfig(false)
		},
		Run: diagnosticsCmdRun,
	}

	command.Flags().StringVar(&diagnosticsArgs.OutputDir, "output-dir", "", "directory to write the report bundle to (defaults to var_dir)")
	command.Flags().IntVar(&diagnosticsArgs.LogLines, "log-lines", DefaultLogLines, "the number of log lines to include in the report")

	return command
}

// diagnosticsCmdRun collects a support bundle and writes it to a local
// gzip file. Nothing here is ever transmitted automatically: the operator
// decides what to do with the bundle afterward.
func diagnosticsCmdRun(*cobra.Command, []string) {
	defaultTrueConfirmAccessor := func() huh.Accessor[bool] {
		accessor := huh.EmbeddedAccessor[bool]{}
		accessor.Set(true)
		return &accessor
	}
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Do you want to include identifying information (name, api_url)?").
				Value(&diagnosticsArgs.IncludeIdentity),
			huh.NewConfirm().
				Title("Do you want to include the latest logs?").
				Accessor(defaultTrueConfirmAccessor()).
				Value(&diagnosticsArgs.IncludeLogs),
			huh.NewConfirm().
				Title("Do you want to review the collected report before it's written to disk?").
				Description("The report, especially the logs, might contain sensitive information.").
				Accessor(defaultTrueConfirmAccessor()).
				Value(&diagnosticsArgs.ReviewReport),
		),
	)
	if err := form.Run(); err != nil {
		if err == huh.ErrUserAborted {
			return
		}
		panic(err)
	}

	report, err := diagnostics.GenerateDiagnosticsReport(
		diagnosticsArgs.IncludeIdentity,
		diagnosticsArgs.IncludeLogs,
		diagnosticsArgs.LogLines,
	)
	if err != nil {
		fmt.Println("Error generating report:", err)
		return
	}

	if diagnosticsArgs.ReviewReport {
		fmt.Println("\n---------------  generated report  ---------------")
		fmt.Println(report)
		fmt.Print("---------------   end of report    ---------------\n\n")

		proceed := false
		huh.NewConfirm().Title("Write this report to disk?").Value(&proceed).Run()
		if !proceed {
			return
		}
	}

	outputDir := diagnosticsArgs.OutputDir
	if outputDir == "" {
		outputDir = config.Get().VarDir
	}

	path, err := diagnostics.WriteReportBundle(outputDir, time.Now().UTC().Format("20060102T150405Z"), report)
	if err != nil {
		fmt.Println("Failed to write report bundle:", err)
		return
	}

	fmt.Println("Report written to:", path)
}
