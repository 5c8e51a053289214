package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/twinfra/tracetwin/internal/observability"
)

// errNoCommand makes a bare invocation fail, so scripts notice when they
// forgot the subcommand.
var errNoCommand = errors.New("no subcommand given")

var (
	verbosity int
	logDir    string
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "tracetwin",
		Short: "Digital twin for traced distributed applications",
		Long: `tracetwin ingests distributed application traces, derives per-component
performance models from them, and simulates deployment scenarios.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := "info"
			switch {
			case verbosity == 1:
				level = "debug"
			case verbosity >= 2:
				level = "trace"
			}
			observability.InitLogger(level, "")
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Help()
			return errNoCommand
		},
	}

	root.PersistentFlags().CountVarP(&verbosity, "verbose", "v",
		"increase logging verbosity (repeatable)")
	root.PersistentFlags().StringVar(&logDir, "log-dir", "",
		"directory for message and data dumps (disabled when empty)")

	root.AddCommand(
		newImportTracesCommand(),
		newAnalyzeTracesCommand(),
		newImportDeploymentCommand(),
		newImportCalibrationCommand(),
		newServeCommand(),
		newSimulateCommand(),
	)
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		if !errors.Is(err, errNoCommand) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
